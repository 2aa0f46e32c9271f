package keys

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"explab/apps/server/internal/dbutil"
)

type PostgresService struct {
	db       *sql.DB
	keyBytes int
}

func NewPostgresService(dsn string, keyBytes int) (*PostgresService, error) {
	db, err := dbutil.OpenPostgres(dsn)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := dbutil.EnsureSchema(ctx, db, postgresKeysSchema); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &PostgresService{db: db, keyBytes: keyBytes}, nil
}

var postgresKeysSchema = []string{
	`
CREATE TABLE IF NOT EXISTS participant_keys (
    id BIGSERIAL PRIMARY KEY,
    experiment_id BIGINT NOT NULL,
    key_value TEXT NOT NULL,
    status TEXT NOT NULL DEFAULT 'unused',
    created_at_ms BIGINT NOT NULL,
    used_at_ms BIGINT,
    revoked_at_ms BIGINT
)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS uq_participant_keys_value ON participant_keys(key_value)`,
	`CREATE INDEX IF NOT EXISTS idx_participant_keys_experiment ON participant_keys(experiment_id, id DESC)`,
}

func (s *PostgresService) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *PostgresService) Mint(ctx context.Context, experimentID int64, count int) ([]string, error) {
	values := make([]string, 0, count)
	nowMs := time.Now().UTC().UnixMilli()
	for len(values) < count {
		value := generateKeyValue(s.keyBytes)
		_, err := s.db.ExecContext(ctx, `
INSERT INTO participant_keys (experiment_id, key_value, status, created_at_ms)
VALUES ($1, $2, 'unused', $3)
`, experimentID, value, nowMs)
		if err != nil {
			if dbutil.IsUniqueViolation(err) {
				continue
			}
			return values, err
		}
		values = append(values, value)
	}
	return values, nil
}

func (s *PostgresService) Validate(ctx context.Context, value string) (Key, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT id, experiment_id, key_value, status, created_at_ms, used_at_ms, revoked_at_ms
FROM participant_keys
WHERE key_value = $1
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

func (s *PostgresService) Consume(ctx context.Context, keyID int64, usedAt time.Time) error {
	res, err := s.db.ExecContext(ctx, `
UPDATE participant_keys
SET status = 'used', used_at_ms = $1
WHERE id = $2 AND status = 'unused'
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

func (s *PostgresService) Revoke(ctx context.Context, value string) error {
	res, err := s.db.ExecContext(ctx, `
UPDATE participant_keys
SET status = 'revoked', revoked_at_ms = $1
WHERE key_value = $2 AND status = 'unused'
`, time.Now().UTC().UnixMilli(), value)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		var status string
		err := s.db.QueryRowContext(ctx, `
SELECT status FROM participant_keys WHERE key_value = $1
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

func (s *PostgresService) ListForExperiment(ctx context.Context, experimentID int64) ([]Key, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT id, experiment_id, key_value, status, created_at_ms, used_at_ms, revoked_at_ms
FROM participant_keys
WHERE experiment_id = $1
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
