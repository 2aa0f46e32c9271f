package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"explab/apps/server/internal/dbutil"
)

type PostgresManager struct {
	db         *sql.DB
	sessionTTL time.Duration
}

func NewPostgresManager(dsn string, sessionTTL time.Duration) (*PostgresManager, error) {
	db, err := dbutil.OpenPostgres(dsn)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := dbutil.EnsureSchema(ctx, db, postgresAuthSchema); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &PostgresManager{db: db, sessionTTL: sessionTTL}, nil
}

var postgresAuthSchema = []string{
	`
CREATE TABLE IF NOT EXISTS admins (
    id BIGSERIAL PRIMARY KEY,
    username TEXT NOT NULL,
    password_hash TEXT NOT NULL,
    created_at_ms BIGINT NOT NULL,
    last_login_at_ms BIGINT
)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS uq_admins_username_ci ON admins(lower(username))`,
	`
CREATE TABLE IF NOT EXISTS admin_sessions (
    token TEXT PRIMARY KEY,
    admin_id BIGINT NOT NULL REFERENCES admins(id) ON DELETE CASCADE,
    issued_at_ms BIGINT NOT NULL,
    expires_at_ms BIGINT NOT NULL,
    revoked_at_ms BIGINT
)`,
	`CREATE INDEX IF NOT EXISTS idx_admin_sessions_admin ON admin_sessions(admin_id, expires_at_ms DESC)`,
}

func (m *PostgresManager) Close() error {
	if m == nil || m.db == nil {
		return nil
	}
	return m.db.Close()
}

func (m *PostgresManager) CreateAdmin(username, password string) (int64, error) {
	if err := validateUsername(username); err != nil {
		return 0, err
	}
	if err := validatePassword(password); err != nil {
		return 0, err
	}

	normalized := normalizeUsername(username)
	passwordHash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return 0, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	nowMs := time.Now().UTC().UnixMilli()

	var adminID int64
	err = m.db.QueryRowContext(ctx, `
INSERT INTO admins (username, password_hash, created_at_ms)
VALUES ($1, $2, $3)
RETURNING id
`, normalized, string(passwordHash), nowMs).Scan(&adminID)
	if err != nil {
		if dbutil.IsUniqueViolation(err) {
			return 0, ErrUsernameTaken
		}
		return 0, err
	}
	return adminID, nil
}

func (m *PostgresManager) Login(username, password string) (int64, string, error) {
	normalized := normalizeUsername(username)
	if normalized == "" || password == "" {
		return 0, "", ErrInvalidCredentials
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var adminID int64
	var passwordHash string
	err := m.db.QueryRowContext(ctx, `
SELECT id, password_hash FROM admins WHERE username = $1
`, normalized).Scan(&adminID, &passwordHash)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, "", ErrInvalidCredentials
		}
		return 0, "", err
	}
	if bcrypt.CompareHashAndPassword([]byte(passwordHash), []byte(password)) != nil {
		return 0, "", ErrInvalidCredentials
	}

	nowMs := time.Now().UTC().UnixMilli()
	if _, err := m.db.ExecContext(ctx, `
UPDATE admins SET last_login_at_ms = $1 WHERE id = $2
`, nowMs, adminID); err != nil {
		return 0, "", err
	}

	token, err := m.issueSession(ctx, adminID, nowMs)
	if err != nil {
		return 0, "", err
	}
	return adminID, token, nil
}

func (m *PostgresManager) ResolveSession(token string) (int64, string, bool) {
	token = strings.TrimSpace(token)
	if token == "" {
		return 0, "", false
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	nowMs := time.Now().UTC().UnixMilli()
	expiresAtMs := nowMs + m.sessionTTL.Milliseconds()

	var adminID int64
	var username string
	err := m.db.QueryRowContext(ctx, `
UPDATE admin_sessions AS s
SET expires_at_ms = $1
FROM admins AS a
WHERE s.token = $2
  AND s.revoked_at_ms IS NULL
  AND s.expires_at_ms > $3
  AND a.id = s.admin_id
RETURNING s.admin_id, a.username
`, expiresAtMs, token, nowMs).Scan(&adminID, &username)
	if err != nil {
		return 0, "", false
	}
	return adminID, username, true
}

func (m *PostgresManager) Logout(token string) {
	token = strings.TrimSpace(token)
	if token == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	nowMs := time.Now().UTC().UnixMilli()
	_, _ = m.db.ExecContext(ctx, `
UPDATE admin_sessions
SET revoked_at_ms = $1
WHERE token = $2
  AND revoked_at_ms IS NULL
`, nowMs, token)
}

func (m *PostgresManager) issueSession(ctx context.Context, adminID int64, nowMs int64) (string, error) {
	expiresAtMs := nowMs + m.sessionTTL.Milliseconds()
	for i := 0; i < 5; i++ {
		token := mustToken()
		if _, err := m.db.ExecContext(ctx, `
INSERT INTO admin_sessions (token, admin_id, issued_at_ms, expires_at_ms)
VALUES ($1, $2, $3, $4)
`, token, adminID, nowMs, expiresAtMs); err != nil {
			if dbutil.IsUniqueViolation(err) {
				continue
			}
			return "", err
		}
		return token, nil
	}
	return "", fmt.Errorf("failed to generate unique session token")
}
