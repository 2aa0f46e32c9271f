// Package lab runs live experiment sessions: it resolves an experiment's
// configuration, instantiates the opponent policy, and owns the mapping from
// participants to their in-flight sessions.
package lab

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"

	"explab/apps/server/internal/store"
	"explab/dilemma"
	"explab/dilemma/strategy"
)

var (
	ErrNoSession          = errors.New("no active session")
	ErrSessionExists      = errors.New("session already exists")
	ErrExperimentInactive = errors.New("experiment is not accepting participants")
)

// storeTimeout bounds each durable write made from inside a session's
// critical section.
const storeTimeout = 5 * time.Second

// Event is pushed to the monitor feed on every session transition.
type Event struct {
	Type          string    `json:"type"` // session_started | round_played | session_completed
	SessionID     string    `json:"session_id"`
	ExperimentID  int64     `json:"experiment_id"`
	ParticipantID int64     `json:"participant_id"`
	Round         int       `json:"round,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}

type Manager struct {
	mu sync.Mutex

	store    store.Service
	registry *strategy.Registry
	configs  *lru.Cache[int64, dilemma.Config]
	sessions map[int64]*dilemma.Session // participantID -> session

	broadcast func(Event)
}

// New builds a manager. broadcast may be nil when no monitor feed is attached.
func New(recordStore store.Service, registry *strategy.Registry, cacheSize int, broadcast func(Event)) (*Manager, error) {
	if cacheSize <= 0 {
		cacheSize = 128
	}
	cache, err := lru.New[int64, dilemma.Config](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("config cache: %w", err)
	}
	return &Manager{
		store:     recordStore,
		registry:  registry,
		configs:   cache,
		sessions:  make(map[int64]*dilemma.Session),
		broadcast: broadcast,
	}, nil
}

// StartSession resolves the experiment configuration, builds the opponent, and
// starts a fresh session for the participant. An unknown strategy identifier
// fails here, before the participant plays a single round.
func (m *Manager) StartSession(ctx context.Context, participantID, experimentID int64) (dilemma.Snapshot, error) {
	m.mu.Lock()
	if _, ok := m.sessions[participantID]; ok {
		m.mu.Unlock()
		return dilemma.Snapshot{}, ErrSessionExists
	}
	m.mu.Unlock()

	cfg, err := m.experimentConfig(ctx, experimentID)
	if err != nil {
		return dilemma.Snapshot{}, err
	}

	opponent, err := m.registry.New(cfg.Strategy, strategy.Options{Initial: cfg.OpponentInitial})
	if err != nil {
		return dilemma.Snapshot{}, err
	}

	sessionID := uuid.NewString()
	session, err := dilemma.NewSession(sessionID, participantID, experimentID, cfg, opponent, &storeAdapter{
		store:         m.store,
		sessionID:     sessionID,
		participantID: participantID,
		experimentID:  experimentID,
	})
	if err != nil {
		return dilemma.Snapshot{}, err
	}
	if err := session.Start(); err != nil {
		return dilemma.Snapshot{}, err
	}

	m.mu.Lock()
	if _, ok := m.sessions[participantID]; ok {
		m.mu.Unlock()
		return dilemma.Snapshot{}, ErrSessionExists
	}
	m.sessions[participantID] = session
	m.mu.Unlock()

	log.Printf("[Lab] session %s started: participant=%d experiment=%d strategy=%s rounds=%d",
		sessionID, participantID, experimentID, cfg.Strategy, cfg.TotalRounds)
	m.emit(Event{
		Type:          "session_started",
		SessionID:     sessionID,
		ExperimentID:  experimentID,
		ParticipantID: participantID,
		Timestamp:     time.Now().UTC(),
	})
	return session.Snapshot(), nil
}

// SubmitDecision plays one round of the participant's session.
func (m *Manager) SubmitDecision(_ context.Context, participantID int64, d dilemma.Decision) (dilemma.RoundRecord, dilemma.Snapshot, error) {
	m.mu.Lock()
	session, ok := m.sessions[participantID]
	m.mu.Unlock()
	if !ok {
		return dilemma.RoundRecord{}, dilemma.Snapshot{}, ErrNoSession
	}

	rec, final, err := session.SubmitDecision(d)
	if err != nil {
		return dilemma.RoundRecord{}, session.Snapshot(), err
	}

	eventType := "round_played"
	if final {
		eventType = "session_completed"
		log.Printf("[Lab] session %s completed: participant=%d rounds=%d", session.ID, participantID, rec.Round)
	}
	m.emit(Event{
		Type:          eventType,
		SessionID:     session.ID,
		ExperimentID:  session.ExperimentID,
		ParticipantID: participantID,
		Round:         rec.Round,
		Timestamp:     time.Now().UTC(),
	})
	return rec, session.Snapshot(), nil
}

// Progress reports the participant's session state. Completed sessions stay
// resident so a participant can refresh the final screen.
func (m *Manager) Progress(participantID int64) (dilemma.Snapshot, error) {
	m.mu.Lock()
	session, ok := m.sessions[participantID]
	m.mu.Unlock()
	if !ok {
		return dilemma.Snapshot{}, ErrNoSession
	}
	return session.Snapshot(), nil
}

// SessionID returns the participant's session identifier.
func (m *Manager) SessionID(participantID int64) (string, error) {
	m.mu.Lock()
	session, ok := m.sessions[participantID]
	m.mu.Unlock()
	if !ok {
		return "", ErrNoSession
	}
	return session.ID, nil
}

func (m *Manager) experimentConfig(ctx context.Context, experimentID int64) (dilemma.Config, error) {
	if cfg, ok := m.configs.Get(experimentID); ok {
		return cfg, nil
	}
	exp, err := m.store.GetExperiment(ctx, experimentID)
	if err != nil {
		return dilemma.Config{}, err
	}
	if !exp.Active {
		return dilemma.Config{}, ErrExperimentInactive
	}
	m.configs.Add(experimentID, exp.Config)
	return exp.Config, nil
}

// InvalidateConfig drops a cached experiment configuration, for when the
// admin deactivates or edits an experiment.
func (m *Manager) InvalidateConfig(experimentID int64) {
	m.configs.Remove(experimentID)
}

func (m *Manager) emit(ev Event) {
	if m.broadcast != nil {
		m.broadcast(ev)
	}
}

// storeAdapter binds one session's identity to the record store and gives each
// durable write its own deadline. It deliberately ignores the request context:
// a participant disconnecting mid-write must not abort a terminal transition.
type storeAdapter struct {
	store         store.Service
	sessionID     string
	participantID int64
	experimentID  int64
}

func (a *storeAdapter) AppendRound(sessionID string, rec dilemma.RoundRecord) error {
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()
	return a.store.AppendRound(ctx, sessionID, a.participantID, a.experimentID, rec)
}

func (a *storeAdapter) PersistResult(participantID, experimentID int64, res dilemma.Result) error {
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()
	return a.store.PersistResult(ctx, a.sessionID, participantID, experimentID, res)
}

func (a *storeAdapter) MarkParticipantComplete(participantID int64, completedAt time.Time) error {
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()
	return a.store.MarkParticipantComplete(ctx, participantID, completedAt)
}
