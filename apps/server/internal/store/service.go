// Package store is the durable record store: experiment configurations,
// participant records, the append-only round stream, and terminal results.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"explab/apps/server/internal/config"
	"explab/apps/server/internal/dbutil"
	"explab/dilemma"
)

var (
	ErrExperimentNotFound  = errors.New("experiment not found")
	ErrParticipantNotFound = errors.New("participant not found")
	ErrResultNotFound      = errors.New("result not found")
)

// Experiment is one configured experiment as the admin created it.
type Experiment struct {
	ID          int64          `json:"id"`
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Config      dilemma.Config `json:"-"`
	Active      bool           `json:"active"`
	CreatedAt   time.Time      `json:"created_at"`
}

// Participant is one redeemed key's player record.
type Participant struct {
	ID           int64      `json:"id"`
	KeyID        int64      `json:"key_id"`
	ExperimentID int64      `json:"experiment_id"`
	JoinedAt     time.Time  `json:"joined_at"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
}

// ResultItem is a persisted terminal result with its identifiers.
type ResultItem struct {
	SessionID     string         `json:"session_id"`
	ParticipantID int64          `json:"participant_id"`
	ExperimentID  int64          `json:"experiment_id"`
	Result        dilemma.Result `json:"result"`
	RecordedAt    time.Time      `json:"recorded_at"`
}

type Service interface {
	Close() error

	CreateExperiment(ctx context.Context, exp Experiment) (int64, error)
	GetExperiment(ctx context.Context, id int64) (Experiment, error)
	ListExperiments(ctx context.Context) ([]Experiment, error)
	SetExperimentActive(ctx context.Context, id int64, active bool) error

	CreateParticipant(ctx context.Context, keyID, experimentID int64, joinedAt time.Time) (int64, error)
	GetParticipant(ctx context.Context, id int64) (Participant, error)
	MarkParticipantComplete(ctx context.Context, id int64, completedAt time.Time) error
	CountParticipants(ctx context.Context, experimentID int64) (total, completed int, err error)

	// AppendRound is idempotent per (sessionID, round): replaying an already
	// appended round is a no-op, which lets the session layer retry a failed
	// terminal transition safely.
	AppendRound(ctx context.Context, sessionID string, participantID, experimentID int64, rec dilemma.RoundRecord) error
	ListRounds(ctx context.Context, sessionID string) ([]dilemma.RoundRecord, error)

	// PersistResult writes the terminal aggregate at most once per session.
	PersistResult(ctx context.Context, sessionID string, participantID, experimentID int64, res dilemma.Result) error
	GetResult(ctx context.Context, sessionID string) (ResultItem, error)
	ListResults(ctx context.Context, experimentID int64) ([]ResultItem, error)
}

// NewService builds the record store selected by cfg.StorageMode.
func NewService(cfg config.Config) (Service, error) {
	switch cfg.StorageMode {
	case config.ModeMemory:
		return NewMemoryService(), nil
	case config.ModeSQLite:
		dbPath, err := dbutil.SQLitePath(cfg.DatabasePath)
		if err != nil {
			return nil, err
		}
		return NewSQLiteService(dbPath)
	case config.ModePostgres:
		return NewPostgresService(cfg.PostgresDSN)
	default:
		return nil, fmt.Errorf("invalid storage mode %q", cfg.StorageMode)
	}
}

// experimentParams is the JSON shape of an experiment's parameters column,
// with decisions spelled out for hand-editing and offline analysis.
type experimentParams struct {
	TotalRounds     int            `json:"total_rounds"`
	Matrix          dilemma.Matrix `json:"payoff_matrix"`
	Strategy        string         `json:"opponent_strategy"`
	OpponentInitial string         `json:"opponent_initial"`
}

func encodeParams(cfg dilemma.Config) (string, error) {
	raw, err := json.Marshal(experimentParams{
		TotalRounds:     cfg.TotalRounds,
		Matrix:          cfg.Matrix,
		Strategy:        cfg.Strategy,
		OpponentInitial: cfg.OpponentInitial.String(),
	})
	if err != nil {
		return "", fmt.Errorf("encode experiment parameters: %w", err)
	}
	return string(raw), nil
}

func decodeParams(raw string) (dilemma.Config, error) {
	var p experimentParams
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return dilemma.Config{}, fmt.Errorf("decode experiment parameters: %w", err)
	}
	initial, err := dilemma.ParseDecision(p.OpponentInitial)
	if err != nil {
		return dilemma.Config{}, fmt.Errorf("decode opponent_initial %q: %w", p.OpponentInitial, err)
	}
	return dilemma.Config{
		TotalRounds:     p.TotalRounds,
		Matrix:          p.Matrix,
		Strategy:        p.Strategy,
		OpponentInitial: initial,
	}, nil
}
