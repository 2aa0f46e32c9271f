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

type SQLiteManager struct {
	db         *sql.DB
	sessionTTL time.Duration
}

func NewSQLiteManager(dbPath string, sessionTTL time.Duration) (*SQLiteManager, error) {
	db, err := dbutil.OpenSQLite(dbPath)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := dbutil.EnsureSchema(ctx, db, sqliteAuthSchema); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &SQLiteManager{db: db, sessionTTL: sessionTTL}, nil
}

var sqliteAuthSchema = []string{
	`
CREATE TABLE IF NOT EXISTS admins (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    username TEXT NOT NULL,
    password_hash TEXT NOT NULL,
    created_at_ms INTEGER NOT NULL,
    last_login_at_ms INTEGER
)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS uq_admins_username_ci ON admins(lower(username))`,
	`
CREATE TABLE IF NOT EXISTS admin_sessions (
    token TEXT PRIMARY KEY,
    admin_id INTEGER NOT NULL,
    issued_at_ms INTEGER NOT NULL,
    expires_at_ms INTEGER NOT NULL,
    revoked_at_ms INTEGER,
    FOREIGN KEY(admin_id) REFERENCES admins(id) ON DELETE CASCADE
)`,
	`CREATE INDEX IF NOT EXISTS idx_admin_sessions_admin ON admin_sessions(admin_id, expires_at_ms DESC)`,
}

func (m *SQLiteManager) Close() error {
	if m == nil || m.db == nil {
		return nil
	}
	return m.db.Close()
}

func (m *SQLiteManager) CreateAdmin(username, password string) (int64, error) {
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
	res, err := m.db.ExecContext(ctx, `
INSERT INTO admins (username, password_hash, created_at_ms)
VALUES (?, ?, ?)
`, normalized, string(passwordHash), nowMs)
	if err != nil {
		if dbutil.IsUniqueViolation(err) {
			return 0, ErrUsernameTaken
		}
		return 0, err
	}
	return res.LastInsertId()
}

func (m *SQLiteManager) Login(username, password string) (int64, string, error) {
	normalized := normalizeUsername(username)
	if normalized == "" || password == "" {
		return 0, "", ErrInvalidCredentials
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var adminID int64
	var passwordHash string
	err := m.db.QueryRowContext(ctx, `
SELECT id, password_hash FROM admins WHERE username = ?
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
UPDATE admins SET last_login_at_ms = ? WHERE id = ?
`, nowMs, adminID); err != nil {
		return 0, "", err
	}

	token, err := m.issueSession(ctx, adminID, nowMs)
	if err != nil {
		return 0, "", err
	}
	return adminID, token, nil
}

func (m *SQLiteManager) ResolveSession(token string) (int64, string, bool) {
	token = strings.TrimSpace(token)
	if token == "" {
		return 0, "", false
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	nowMs := time.Now().UTC().UnixMilli()
	expiresAtMs := nowMs + m.sessionTTL.Milliseconds()

	res, err := m.db.ExecContext(ctx, `
UPDATE admin_sessions
SET expires_at_ms = ?
WHERE token = ?
  AND revoked_at_ms IS NULL
  AND expires_at_ms > ?
`, expiresAtMs, token, nowMs)
	if err != nil {
		return 0, "", false
	}
	if affected, err := res.RowsAffected(); err != nil || affected == 0 {
		return 0, "", false
	}

	var adminID int64
	var username string
	err = m.db.QueryRowContext(ctx, `
SELECT s.admin_id, a.username
FROM admin_sessions AS s
JOIN admins AS a ON a.id = s.admin_id
WHERE s.token = ?
`, token).Scan(&adminID, &username)
	if err != nil {
		return 0, "", false
	}
	return adminID, username, true
}

func (m *SQLiteManager) Logout(token string) {
	token = strings.TrimSpace(token)
	if token == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	nowMs := time.Now().UTC().UnixMilli()
	_, _ = m.db.ExecContext(ctx, `
UPDATE admin_sessions
SET revoked_at_ms = ?
WHERE token = ?
  AND revoked_at_ms IS NULL
`, nowMs, token)
}

func (m *SQLiteManager) issueSession(ctx context.Context, adminID int64, nowMs int64) (string, error) {
	expiresAtMs := nowMs + m.sessionTTL.Milliseconds()
	for i := 0; i < 5; i++ {
		token := mustToken()
		if _, err := m.db.ExecContext(ctx, `
INSERT INTO admin_sessions (token, admin_id, issued_at_ms, expires_at_ms)
VALUES (?, ?, ?, ?)
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
