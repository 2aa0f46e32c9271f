package dilemma

import (
	"fmt"
	"sync"
	"time"
)

// State 会话阶段
type State byte

const (
	StateNotStarted State = 0
	StateInProgress State = 1
	StateCompleted  State = 2
)

var StateDictionary = map[State]string{
	StateNotStarted: "not_started",
	StateInProgress: "in_progress",
	StateCompleted:  "completed",
}

func (s State) String() string {
	if name, ok := StateDictionary[s]; ok {
		return name
	}
	return "unknown"
}

// Opponent produces the non-participant decision each round, given the
// participant's full move history in play order.
type Opponent interface {
	Decide(history []Decision) Decision
	Name() string
}

// RecordStore is the durable sink for round and result records. AppendRound
// must be idempotent per (sessionID, round): the terminal transition may retry
// an append after a failed result write.
type RecordStore interface {
	AppendRound(sessionID string, rec RoundRecord) error
	PersistResult(participantID, experimentID int64, res Result) error
	MarkParticipantComplete(participantID int64, completedAt time.Time) error
}

// Session drives one participant through a multi-round game. All state is
// owned by the session and guarded by its mutex, so two concurrent submissions
// cannot both observe the non-terminal round and double-persist the result.
type Session struct {
	ID            string
	ParticipantID int64
	ExperimentID  int64

	mu sync.Mutex

	cfg      Config
	opponent Opponent
	store    RecordStore

	state   State
	round   int // next round to play, 1-indexed
	history []RoundRecord
	result  *Result
}

// NewSession builds a session in the NotStarted state. The opponent policy and
// record store are injected; the session never reaches for globals.
func NewSession(id string, participantID, experimentID int64, cfg Config, opponent Opponent, store RecordStore) (*Session, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if opponent == nil {
		return nil, fmt.Errorf("opponent must not be nil")
	}
	if store == nil {
		return nil, fmt.Errorf("record store must not be nil")
	}
	return &Session{
		ID:            id,
		ParticipantID: participantID,
		ExperimentID:  experimentID,
		cfg:           cfg,
		opponent:      opponent,
		store:         store,
	}, nil
}

// Start transitions NotStarted -> InProgress.
func (s *Session) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateNotStarted {
		return ErrAlreadyStarted
	}
	s.state = StateInProgress
	s.round = 1
	s.history = make([]RoundRecord, 0, s.cfg.TotalRounds)
	return nil
}

// SubmitDecision plays one round: derives the opponent move, computes payoffs,
// durably appends the round record, then advances. The terminal round persists
// the aggregate result and flips the session to Completed under the same
// critical section; a failed write aborts the transition without advancing the
// in-memory counter past what storage holds.
func (s *Session) SubmitDecision(participant Decision) (RoundRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case StateNotStarted:
		return RoundRecord{}, false, ErrNotStarted
	case StateCompleted:
		return RoundRecord{}, false, ErrSessionComplete
	}
	if !participant.Valid() {
		return RoundRecord{}, false, ErrInvalidDecision
	}
	if len(s.history) != s.round-1 {
		return RoundRecord{}, false, ErrInvalidState(fmt.Sprintf("history length %d at round %d", len(s.history), s.round))
	}

	opponent := s.opponent.Decide(s.participantMoves())
	payout, err := s.cfg.Matrix.Payoff(participant, opponent)
	if err != nil {
		return RoundRecord{}, false, err
	}

	rec := RoundRecord{
		Round:            s.round,
		Participant:      participant,
		Opponent:         opponent,
		ParticipantScore: payout.Participant,
		OpponentScore:    payout.Opponent,
	}

	if err := s.store.AppendRound(s.ID, rec); err != nil {
		return RoundRecord{}, false, fmt.Errorf("append round %d: %w", rec.Round, err)
	}

	final := s.round >= s.cfg.TotalRounds
	if final {
		// Persist everything before mutating: a retry after a failed result
		// write replays this round against the idempotent append.
		res := buildResult(append(append([]RoundRecord{}, s.history...), rec))
		if err := s.store.PersistResult(s.ParticipantID, s.ExperimentID, res); err != nil {
			return RoundRecord{}, false, fmt.Errorf("persist result: %w", err)
		}
		if err := s.store.MarkParticipantComplete(s.ParticipantID, time.Now().UTC()); err != nil {
			return RoundRecord{}, false, fmt.Errorf("mark participant complete: %w", err)
		}
		s.history = append(s.history, rec)
		s.result = &res
		s.state = StateCompleted
		return rec, true, nil
	}

	s.history = append(s.history, rec)
	s.round++
	return rec, false, nil
}

func (s *Session) participantMoves() []Decision {
	moves := make([]Decision, len(s.history))
	for i, rec := range s.history {
		moves[i] = rec.Participant
	}
	return moves
}

// Result returns the terminal aggregate, available only once Completed.
func (s *Session) Result() (Result, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.result == nil {
		return Result{}, false
	}
	return *s.result, true
}

// Snapshot is a read-only copy of the session for rendering progress.
type Snapshot struct {
	ID               string        `json:"id"`
	State            string        `json:"state"`
	Round            int           `json:"round"`
	TotalRounds      int           `json:"total_rounds"`
	History          []RoundRecord `json:"history"`
	ParticipantTotal int64         `json:"participant_total"`
	OpponentTotal    int64         `json:"opponent_total"`
}

func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{
		ID:          s.ID,
		State:       s.state.String(),
		Round:       s.round,
		TotalRounds: s.cfg.TotalRounds,
		History:     append([]RoundRecord{}, s.history...),
	}
	for _, rec := range s.history {
		snap.ParticipantTotal += rec.ParticipantScore
		snap.OpponentTotal += rec.OpponentScore
	}
	return snap
}
