package keys

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"explab/apps/server/internal/dbutil"
)

type SQLiteService struct {
	db       *sql.DB
	keyBytes int
}

func NewSQLiteService(dbPath string, keyBytes int) (*SQLiteService, error) {
	db, err := dbutil.OpenSQLite(dbPath)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := dbutil.EnsureSchema(ctx, db, sqliteKeysSchema); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &SQLiteService{db: db, keyBytes: keyBytes}, nil
}

var sqliteKeysSchema = []string{
	`
CREATE TABLE IF NOT EXISTS participant_keys (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    experiment_id INTEGER NOT NULL,
    key_value TEXT NOT NULL,
    status TEXT NOT NULL DEFAULT 'unused',
    created_at_ms INTEGER NOT NULL,
    used_at_ms INTEGER,
    revoked_at_ms INTEGER
)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS uq_participant_keys_value ON participant_keys(key_value)`,
	`CREATE INDEX IF NOT EXISTS idx_participant_keys_experiment ON participant_keys(experiment_id, id DESC)`,
}

func (s *SQLiteService) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteService) Mint(ctx context.Context, experimentID int64, count int) ([]string, error) {
	values := make([]string, 0, count)
	nowMs := time.Now().UTC().UnixMilli()
	for len(values) < count {
		value := generateKeyValue(s.keyBytes)
		_, err := s.db.ExecContext(ctx, `
INSERT INTO participant_keys (experiment_id, key_value, status, created_at_ms)
VALUES (?, ?, 'unused', ?)
`, experimentID, value, nowMs)
		if err != nil {
			if dbutil.IsUniqueViolation(err) {
				continue // collision, roll again
			}
			return values, err
		}
		values = append(values, value)
	}
	return values, nil
}

func (s *SQLiteService) Validate(ctx context.Context, value string) (Key, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT id, experiment_id, key_value, status, created_at_ms, used_at_ms, revoked_at_ms
FROM participant_keys
WHERE key_value = ?
`, value)
	k, err := scanKey(row)
	if err != nil {
		return Key{}, err
	}
	if err := statusError(k.Status); err != nil {
		return Key{}, err
	}
	return k, nil
}

func (s *SQLiteService) Consume(ctx context.Context, keyID int64, usedAt time.Time) error {
	res, err := s.db.ExecContext(ctx, `
UPDATE participant_keys
SET status = 'used', used_at_ms = ?
WHERE id = ? AND status = 'unused'
`, usedAt.UTC().UnixMilli(), keyID)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrKeyUsed
	}
	return nil
}

func (s *SQLiteService) Revoke(ctx context.Context, value string) error {
	res, err := s.db.ExecContext(ctx, `
UPDATE participant_keys
SET status = 'revoked', revoked_at_ms = ?
WHERE key_value = ? AND status = 'unused'
`, time.Now().UTC().UnixMilli(), value)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		// Distinguish missing from already-consumed.
		var status string
		err := s.db.QueryRowContext(ctx, `
SELECT status FROM participant_keys WHERE key_value = ?
`, value).Scan(&status)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrKeyNotFound
		}
		if err != nil {
			return err
		}
		if status == StatusUsed {
			return ErrKeyUsed
		}
	}
	return nil
}

func (s *SQLiteService) ListForExperiment(ctx context.Context, experimentID int64) ([]Key, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT id, experiment_id, key_value, status, created_at_ms, used_at_ms, revoked_at_ms
FROM participant_keys
WHERE experiment_id = ?
ORDER BY id DESC
`, experimentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Key
	for rows.Next() {
		k, err := scanKey(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, k)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanKey(row rowScanner) (Key, error) {
	var k Key
	var createdMs int64
	var usedMs, revokedMs sql.NullInt64
	err := row.Scan(&k.ID, &k.ExperimentID, &k.Value, &k.Status, &createdMs, &usedMs, &revokedMs)
	if errors.Is(err, sql.ErrNoRows) {
		return Key{}, ErrKeyNotFound
	}
	if err != nil {
		return Key{}, err
	}
	k.CreatedAt = time.UnixMilli(createdMs).UTC()
	if usedMs.Valid {
		t := time.UnixMilli(usedMs.Int64).UTC()
		k.UsedAt = &t
	}
	if revokedMs.Valid {
		t := time.UnixMilli(revokedMs.Int64).UTC()
		k.RevokedAt = &t
	}
	return k, nil
}
