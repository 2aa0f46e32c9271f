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

type SQLiteService struct {
	db *sql.DB
}

func NewSQLiteService(dbPath string) (*SQLiteService, error) {
	db, err := dbutil.OpenSQLite(dbPath)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := dbutil.EnsureSchema(ctx, db, sqliteStoreSchema); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &SQLiteService{db: db}, nil
}

var sqliteStoreSchema = []string{
	`
CREATE TABLE IF NOT EXISTS experiments (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    name TEXT NOT NULL,
    description TEXT NOT NULL DEFAULT '',
    parameters TEXT NOT NULL,
    active INTEGER NOT NULL DEFAULT 1,
    created_at_ms INTEGER NOT NULL
)`,
	`
CREATE TABLE IF NOT EXISTS participants (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    key_id INTEGER NOT NULL,
    experiment_id INTEGER NOT NULL,
    joined_at_ms INTEGER NOT NULL,
    completed_at_ms INTEGER,
    FOREIGN KEY(experiment_id) REFERENCES experiments(id) ON DELETE CASCADE
)`,
	`CREATE INDEX IF NOT EXISTS idx_participants_experiment ON participants(experiment_id)`,
	`
CREATE TABLE IF NOT EXISTS session_rounds (
    session_id TEXT NOT NULL,
    participant_id INTEGER NOT NULL,
    experiment_id INTEGER NOT NULL,
    round INTEGER NOT NULL,
    participant_move TEXT NOT NULL,
    opponent_move TEXT NOT NULL,
    participant_score INTEGER NOT NULL,
    opponent_score INTEGER NOT NULL,
    created_at_ms INTEGER NOT NULL,
    PRIMARY KEY (session_id, round)
)`,
	`
CREATE TABLE IF NOT EXISTS session_results (
    session_id TEXT PRIMARY KEY,
    participant_id INTEGER NOT NULL,
    experiment_id INTEGER NOT NULL,
    result_json TEXT NOT NULL,
    recorded_at_ms INTEGER NOT NULL
)`,
	`CREATE INDEX IF NOT EXISTS idx_session_results_experiment ON session_results(experiment_id, recorded_at_ms DESC)`,
}

func (s *SQLiteService) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteService) CreateExperiment(ctx context.Context, exp Experiment) (int64, error) {
	params, err := encodeParams(exp.Config)
	if err != nil {
		return 0, err
	}
	createdAt := exp.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	res, err := s.db.ExecContext(ctx, `
INSERT INTO experiments (name, description, parameters, active, created_at_ms)
VALUES (?, ?, ?, ?, ?)
`, exp.Name, exp.Description, params, boolToInt(exp.Active), createdAt.UnixMilli())
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (s *SQLiteService) GetExperiment(ctx context.Context, id int64) (Experiment, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT id, name, description, parameters, active, created_at_ms
FROM experiments
WHERE id = ?
`, id)
	return scanExperiment(row)
}

func (s *SQLiteService) ListExperiments(ctx context.Context) ([]Experiment, error) {
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
		exp, err := scanExperiment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, exp)
	}
	return out, rows.Err()
}

func (s *SQLiteService) SetExperimentActive(ctx context.Context, id int64, active bool) error {
	res, err := s.db.ExecContext(ctx, `
UPDATE experiments SET active = ? WHERE id = ?
`, boolToInt(active), id)
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

func (s *SQLiteService) CreateParticipant(ctx context.Context, keyID, experimentID int64, joinedAt time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
INSERT INTO participants (key_id, experiment_id, joined_at_ms)
VALUES (?, ?, ?)
`, keyID, experimentID, joinedAt.UTC().UnixMilli())
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (s *SQLiteService) GetParticipant(ctx context.Context, id int64) (Participant, error) {
	var p Participant
	var joinedMs int64
	var completedMs sql.NullInt64
	err := s.db.QueryRowContext(ctx, `
SELECT id, key_id, experiment_id, joined_at_ms, completed_at_ms
FROM participants
WHERE id = ?
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

func (s *SQLiteService) MarkParticipantComplete(ctx context.Context, id int64, completedAt time.Time) error {
	res, err := s.db.ExecContext(ctx, `
UPDATE participants
SET completed_at_ms = ?
WHERE id = ? AND completed_at_ms IS NULL
`, completedAt.UTC().UnixMilli(), id)
	if err != nil {
		return err
	}
	if _, err := res.RowsAffected(); err != nil {
		return err
	}
	// A second mark is a no-op; only a missing row is an error.
	var exists int
	if err := s.db.QueryRowContext(ctx, `SELECT 1 FROM participants WHERE id = ?`, id).Scan(&exists); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrParticipantNotFound
		}
		return err
	}
	return nil
}

func (s *SQLiteService) CountParticipants(ctx context.Context, experimentID int64) (int, int, error) {
	var total, completed int
	err := s.db.QueryRowContext(ctx, `
SELECT COUNT(*), COUNT(completed_at_ms)
FROM participants
WHERE experiment_id = ?
`, experimentID).Scan(&total, &completed)
	if err != nil {
		return 0, 0, err
	}
	return total, completed, nil
}

func (s *SQLiteService) AppendRound(ctx context.Context, sessionID string, participantID, experimentID int64, rec dilemma.RoundRecord) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO session_rounds (
    session_id, participant_id, experiment_id, round,
    participant_move, opponent_move, participant_score, opponent_score, created_at_ms
)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (session_id, round) DO NOTHING
`, sessionID, participantID, experimentID, rec.Round,
		rec.Participant.String(), rec.Opponent.String(),
		rec.ParticipantScore, rec.OpponentScore,
		time.Now().UTC().UnixMilli())
	return err
}

func (s *SQLiteService) ListRounds(ctx context.Context, sessionID string) ([]dilemma.RoundRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT round, participant_move, opponent_move, participant_score, opponent_score
FROM session_rounds
WHERE session_id = ?
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

func (s *SQLiteService) PersistResult(ctx context.Context, sessionID string, participantID, experimentID int64, res dilemma.Result) error {
	raw, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
INSERT INTO session_results (session_id, participant_id, experiment_id, result_json, recorded_at_ms)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT (session_id) DO NOTHING
`, sessionID, participantID, experimentID, string(raw), time.Now().UTC().UnixMilli())
	return err
}

func (s *SQLiteService) GetResult(ctx context.Context, sessionID string) (ResultItem, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT session_id, participant_id, experiment_id, result_json, recorded_at_ms
FROM session_results
WHERE session_id = ?
`, sessionID)
	return scanResult(row)
}

func (s *SQLiteService) ListResults(ctx context.Context, experimentID int64) ([]ResultItem, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT session_id, participant_id, experiment_id, result_json, recorded_at_ms
FROM session_results
WHERE experiment_id = ?
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

type rowScanner interface {
	Scan(dest ...any) error
}

func scanExperiment(row rowScanner) (Experiment, error) {
	var exp Experiment
	var params string
	var active int
	var createdMs int64
	err := row.Scan(&exp.ID, &exp.Name, &exp.Description, &params, &active, &createdMs)
	if errors.Is(err, sql.ErrNoRows) {
		return Experiment{}, ErrExperimentNotFound
	}
	if err != nil {
		return Experiment{}, err
	}
	exp.Active = active != 0
	exp.CreatedAt = time.UnixMilli(createdMs).UTC()
	if exp.Config, err = decodeParams(params); err != nil {
		return Experiment{}, err
	}
	return exp, nil
}

func scanResult(row rowScanner) (ResultItem, error) {
	var item ResultItem
	var raw string
	var recordedMs int64
	err := row.Scan(&item.SessionID, &item.ParticipantID, &item.ExperimentID, &raw, &recordedMs)
	if errors.Is(err, sql.ErrNoRows) {
		return ResultItem{}, ErrResultNotFound
	}
	if err != nil {
		return ResultItem{}, err
	}
	if err := json.Unmarshal([]byte(raw), &item.Result); err != nil {
		return ResultItem{}, fmt.Errorf("decode result for session %s: %w", item.SessionID, err)
	}
	item.RecordedAt = time.UnixMilli(recordedMs).UTC()
	return item, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
