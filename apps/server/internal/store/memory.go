package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"explab/dilemma"
)

// MemoryService keeps all records in process memory. It backs tests and demo
// deployments, and doubles as the reference implementation for the sql
// backends' semantics.
type MemoryService struct {
	mu sync.Mutex

	nextExperimentID  int64
	nextParticipantID int64

	experiments  map[int64]*Experiment
	participants map[int64]*Participant
	rounds       map[string][]dilemma.RoundRecord // sessionID -> ordered rounds
	results      map[string]*ResultItem           // sessionID -> terminal result
}

func NewMemoryService() *MemoryService {
	return &MemoryService{
		experiments:  make(map[int64]*Experiment),
		participants: make(map[int64]*Participant),
		rounds:       make(map[string][]dilemma.RoundRecord),
		results:      make(map[string]*ResultItem),
	}
}

func (s *MemoryService) Close() error { return nil }

func (s *MemoryService) CreateExperiment(_ context.Context, exp Experiment) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextExperimentID++
	exp.ID = s.nextExperimentID
	if exp.CreatedAt.IsZero() {
		exp.CreatedAt = time.Now().UTC()
	}
	s.experiments[exp.ID] = &exp
	return exp.ID, nil
}

func (s *MemoryService) GetExperiment(_ context.Context, id int64) (Experiment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	exp, ok := s.experiments[id]
	if !ok {
		return Experiment{}, ErrExperimentNotFound
	}
	return *exp, nil
}

func (s *MemoryService) ListExperiments(_ context.Context) ([]Experiment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Experiment, 0, len(s.experiments))
	for _, exp := range s.experiments {
		out = append(out, *exp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

func (s *MemoryService) SetExperimentActive(_ context.Context, id int64, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	exp, ok := s.experiments[id]
	if !ok {
		return ErrExperimentNotFound
	}
	exp.Active = active
	return nil
}

func (s *MemoryService) CreateParticipant(_ context.Context, keyID, experimentID int64, joinedAt time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.experiments[experimentID]; !ok {
		return 0, ErrExperimentNotFound
	}
	s.nextParticipantID++
	s.participants[s.nextParticipantID] = &Participant{
		ID:           s.nextParticipantID,
		KeyID:        keyID,
		ExperimentID: experimentID,
		JoinedAt:     joinedAt.UTC(),
	}
	return s.nextParticipantID, nil
}

func (s *MemoryService) GetParticipant(_ context.Context, id int64) (Participant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.participants[id]
	if !ok {
		return Participant{}, ErrParticipantNotFound
	}
	return *p, nil
}

func (s *MemoryService) MarkParticipantComplete(_ context.Context, id int64, completedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.participants[id]
	if !ok {
		return ErrParticipantNotFound
	}
	if p.CompletedAt == nil {
		t := completedAt.UTC()
		p.CompletedAt = &t
	}
	return nil
}

func (s *MemoryService) CountParticipants(_ context.Context, experimentID int64) (int, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var total, completed int
	for _, p := range s.participants {
		if p.ExperimentID != experimentID {
			continue
		}
		total++
		if p.CompletedAt != nil {
			completed++
		}
	}
	return total, completed, nil
}

func (s *MemoryService) AppendRound(_ context.Context, sessionID string, _, _ int64, rec dilemma.RoundRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.rounds[sessionID] {
		if existing.Round == rec.Round {
			return nil // idempotent replay
		}
	}
	s.rounds[sessionID] = append(s.rounds[sessionID], rec)
	return nil
}

func (s *MemoryService) ListRounds(_ context.Context, sessionID string) ([]dilemma.RoundRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]dilemma.RoundRecord{}, s.rounds[sessionID]...), nil
}

func (s *MemoryService) PersistResult(_ context.Context, sessionID string, participantID, experimentID int64, res dilemma.Result) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.results[sessionID]; exists {
		return nil // at most once per session
	}
	s.results[sessionID] = &ResultItem{
		SessionID:     sessionID,
		ParticipantID: participantID,
		ExperimentID:  experimentID,
		Result:        res,
		RecordedAt:    time.Now().UTC(),
	}
	return nil
}

func (s *MemoryService) GetResult(_ context.Context, sessionID string) (ResultItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.results[sessionID]
	if !ok {
		return ResultItem{}, ErrResultNotFound
	}
	return *item, nil
}

func (s *MemoryService) ListResults(_ context.Context, experimentID int64) ([]ResultItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []ResultItem
	for _, item := range s.results {
		if item.ExperimentID == experimentID {
			out = append(out, *item)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RecordedAt.After(out[j].RecordedAt) })
	return out, nil
}
