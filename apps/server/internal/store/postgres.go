package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"explab/apps/server/internal/dbutil"
	"explab/dilemma"
)

type PostgresService struct {
	db *sql.DB
}

func NewPostgresService(dsn string) (*PostgresService, error) {
	db, err := dbutil.OpenPostgres(dsn)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := dbutil.EnsureSchema(ctx, db, postgresStoreSchema); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &PostgresService{db: db}, nil
}

var postgresStoreSchema = []string{
	`
CREATE TABLE IF NOT EXISTS experiments (
    id BIGSERIAL PRIMARY KEY,
    name TEXT NOT NULL,
    description TEXT NOT NULL DEFAULT '',
    parameters TEXT NOT NULL,
    active BOOLEAN NOT NULL DEFAULT TRUE,
    created_at_ms BIGINT NOT NULL
)`,
	`
CREATE TABLE IF NOT EXISTS participants (
    id BIGSERIAL PRIMARY KEY,
    key_id BIGINT NOT NULL,
    experiment_id BIGINT NOT NULL REFERENCES experiments(id) ON DELETE CASCADE,
    joined_at_ms BIGINT NOT NULL,
    completed_at_ms BIGINT
)`,
	`CREATE INDEX IF NOT EXISTS idx_participants_experiment ON participants(experiment_id)`,
	`
CREATE TABLE IF NOT EXISTS session_rounds (
    session_id TEXT NOT NULL,
    participant_id BIGINT NOT NULL,
    experiment_id BIGINT NOT NULL,
    round BIGINT NOT NULL,
    participant_move TEXT NOT NULL,
    opponent_move TEXT NOT NULL,
    participant_score BIGINT NOT NULL,
    opponent_score BIGINT NOT NULL,
    created_at_ms BIGINT NOT NULL,
    PRIMARY KEY (session_id, round)
)`,
	`
CREATE TABLE IF NOT EXISTS session_results (
    session_id TEXT PRIMARY KEY,
    participant_id BIGINT NOT NULL,
    experiment_id BIGINT NOT NULL,
    result_json TEXT NOT NULL,
    recorded_at_ms BIGINT NOT NULL
)`,
	`CREATE INDEX IF NOT EXISTS idx_session_results_experiment ON session_results(experiment_id, recorded_at_ms DESC)`,
}

func (s *PostgresService) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *PostgresService) CreateExperiment(ctx context.Context, exp Experiment) (int64, error) {
	params, err := encodeParams(exp.Config)
	if err != nil {
		return 0, err
	}
	createdAt := exp.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	var id int64
	err = s.db.QueryRowContext(ctx, `
INSERT INTO experiments (name, description, parameters, active, created_at_ms)
VALUES ($1, $2, $3, $4, $5)
RETURNING id
`, exp.Name, exp.Description, params, exp.Active, createdAt.UnixMilli()).Scan(&id)
	if err != nil {
		return 0, err
	}
	return id, nil
}

func (s *PostgresService) GetExperiment(ctx context.Context, id int64) (Experiment, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT id, name, description, parameters, active, created_at_ms
FROM experiments
WHERE id = $1
`, id)
	return scanExperimentPG(row)
}

func (s *PostgresService) ListExperiments(ctx context.Context) ([]Experiment, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT id, name, description, parameters, active, created_at_ms
FROM experiments
ORDER BY id DESC
`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Experiment
	for rows.Next() {
		exp, err := scanExperimentPG(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, exp)
	}
	return out, rows.Err()
}

func (s *PostgresService) SetExperimentActive(ctx context.Context, id int64, active bool) error {
	res, err := s.db.ExecContext(ctx, `
UPDATE experiments SET active = $1 WHERE id = $2
`, active, id)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrExperimentNotFound
	}
	return nil
}

func (s *PostgresService) CreateParticipant(ctx context.Context, keyID, experimentID int64, joinedAt time.Time) (int64, error) {
	var id int64
	err := s.db.QueryRowContext(ctx, `
INSERT INTO participants (key_id, experiment_id, joined_at_ms)
VALUES ($1, $2, $3)
RETURNING id
`, keyID, experimentID, joinedAt.UTC().UnixMilli()).Scan(&id)
	if err != nil {
		return 0, err
	}
	return id, nil
}

func (s *PostgresService) GetParticipant(ctx context.Context, id int64) (Participant, error) {
	var p Participant
	var joinedMs int64
	var completedMs sql.NullInt64
	err := s.db.QueryRowContext(ctx, `
SELECT id, key_id, experiment_id, joined_at_ms, completed_at_ms
FROM participants
WHERE id = $1
`, id).Scan(&p.ID, &p.KeyID, &p.ExperimentID, &joinedMs, &completedMs)
	if errors.Is(err, sql.ErrNoRows) {
		return Participant{}, ErrParticipantNotFound
	}
	if err != nil {
		return Participant{}, err
	}
	p.JoinedAt = time.UnixMilli(joinedMs).UTC()
	if completedMs.Valid {
		t := time.UnixMilli(completedMs.Int64).UTC()
		p.CompletedAt = &t
	}
	return p, nil
}

func (s *PostgresService) MarkParticipantComplete(ctx context.Context, id int64, completedAt time.Time) error {
	if _, err := s.db.ExecContext(ctx, `
UPDATE participants
SET completed_at_ms = $1
WHERE id = $2 AND completed_at_ms IS NULL
`, completedAt.UTC().UnixMilli(), id); err != nil {
		return err
	}
	var exists int
	if err := s.db.QueryRowContext(ctx, `SELECT 1 FROM participants WHERE id = $1`, id).Scan(&exists); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrParticipantNotFound
		}
		return err
	}
	return nil
}

func (s *PostgresService) CountParticipants(ctx context.Context, experimentID int64) (int, int, error) {
	var total, completed int
	err := s.db.QueryRowContext(ctx, `
SELECT COUNT(*), COUNT(completed_at_ms)
FROM participants
WHERE experiment_id = $1
`, experimentID).Scan(&total, &completed)
	if err != nil {
		return 0, 0, err
	}
	return total, completed, nil
}

func (s *PostgresService) AppendRound(ctx context.Context, sessionID string, participantID, experimentID int64, rec dilemma.RoundRecord) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO session_rounds (
    session_id, participant_id, experiment_id, round,
    participant_move, opponent_move, participant_score, opponent_score, created_at_ms
)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
ON CONFLICT (session_id, round) DO NOTHING
`, sessionID, participantID, experimentID, rec.Round,
		rec.Participant.String(), rec.Opponent.String(),
		rec.ParticipantScore, rec.OpponentScore,
		time.Now().UTC().UnixMilli())
	return err
}

func (s *PostgresService) ListRounds(ctx context.Context, sessionID string) ([]dilemma.RoundRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT round, participant_move, opponent_move, participant_score, opponent_score
FROM session_rounds
WHERE session_id = $1
ORDER BY round ASC
`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []dilemma.RoundRecord
	for rows.Next() {
		var rec dilemma.RoundRecord
		var mine, theirs string
		if err := rows.Scan(&rec.Round, &mine, &theirs, &rec.ParticipantScore, &rec.OpponentScore); err != nil {
			return nil, err
		}
		if rec.Participant, err = dilemma.ParseDecision(mine); err != nil {
			return nil, fmt.Errorf("round %d participant move %q: %w", rec.Round, mine, err)
		}
		if rec.Opponent, err = dilemma.ParseDecision(theirs); err != nil {
			return nil, fmt.Errorf("round %d opponent move %q: %w", rec.Round, theirs, err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *PostgresService) PersistResult(ctx context.Context, sessionID string, participantID, experimentID int64, res dilemma.Result) error {
	raw, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
INSERT INTO session_results (session_id, participant_id, experiment_id, result_json, recorded_at_ms)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (session_id) DO NOTHING
`, sessionID, participantID, experimentID, string(raw), time.Now().UTC().UnixMilli())
	return err
}

func (s *PostgresService) GetResult(ctx context.Context, sessionID string) (ResultItem, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT session_id, participant_id, experiment_id, result_json, recorded_at_ms
FROM session_results
WHERE session_id = $1
`, sessionID)
	return scanResult(row)
}

func (s *PostgresService) ListResults(ctx context.Context, experimentID int64) ([]ResultItem, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT session_id, participant_id, experiment_id, result_json, recorded_at_ms
FROM session_results
WHERE experiment_id = $1
ORDER BY recorded_at_ms DESC
`, experimentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ResultItem
	for rows.Next() {
		item, err := scanResult(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	return out, rows.Err()
}

// scanExperimentPG differs from the sqlite scanner only in the BOOLEAN column.
func scanExperimentPG(row rowScanner) (Experiment, error) {
	var exp Experiment
	var params string
	var createdMs int64
	err := row.Scan(&exp.ID, &exp.Name, &exp.Description, &params, &exp.Active, &createdMs)
	if errors.Is(err, sql.ErrNoRows) {
		return Experiment{}, ErrExperimentNotFound
	}
	if err != nil {
		return Experiment{}, err
	}
	exp.CreatedAt = time.UnixMilli(createdMs).UTC()
	if exp.Config, err = decodeParams(params); err != nil {
		return Experiment{}, err
	}
	return exp, nil
}
