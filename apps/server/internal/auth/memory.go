package auth

import (
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"
)

// Manager provides in-memory admin accounts for single-binary deployments and
// tests. It can be swapped for persistent storage without changing callers.
type Manager struct {
	mu sync.Mutex

	nextAdminID int64
	sessionTTL  time.Duration
	sessions    map[string]sessionRecord
	adminsByID  map[int64]adminRecord
	adminsByKey map[string]int64 // normalized username -> admin
}

type sessionRecord struct {
	AdminID   int64
	ExpiresAt time.Time
}

type adminRecord struct {
	AdminID       int64
	Username      string
	PasswordHash  []byte
	LastLoginTime time.Time
}

func NewManager(sessionTTL time.Duration) *Manager {
	return &Manager{
		nextAdminID: 1000, // start from a readable non-trivial range
		sessionTTL:  sessionTTL,
		sessions:    make(map[string]sessionRecord),
		adminsByID:  make(map[int64]adminRecord),
		adminsByKey: make(map[string]int64),
	}
}

func (m *Manager) Close() error { return nil }

// CreateAdmin registers a new administrator account.
func (m *Manager) CreateAdmin(username, password string) (int64, error) {
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

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.adminsByKey[normalized]; exists {
		return 0, ErrUsernameTaken
	}

	m.nextAdminID++
	adminID := m.nextAdminID
	m.adminsByID[adminID] = adminRecord{
		AdminID:      adminID,
		Username:     normalized,
		PasswordHash: passwordHash,
	}
	m.adminsByKey[normalized] = adminID
	return adminID, nil
}

// Login validates credentials and returns a fresh session token.
func (m *Manager) Login(username, password string) (int64, string, error) {
	normalized := normalizeUsername(username)
	if normalized == "" || password == "" {
		return 0, "", ErrInvalidCredentials
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	adminID, exists := m.adminsByKey[normalized]
	if !exists {
		return 0, "", ErrInvalidCredentials
	}
	profile := m.adminsByID[adminID]
	if bcrypt.CompareHashAndPassword(profile.PasswordHash, []byte(password)) != nil {
		return 0, "", ErrInvalidCredentials
	}

	now := time.Now()
	profile.LastLoginTime = now
	m.adminsByID[adminID] = profile

	token := mustToken()
	m.sessions[token] = sessionRecord{AdminID: adminID, ExpiresAt: now.Add(m.sessionTTL)}
	return adminID, token, nil
}

// ResolveSession validates and refreshes a session token.
func (m *Manager) ResolveSession(token string) (int64, string, bool) {
	if token == "" {
		return 0, "", false
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	rec, exists := m.sessions[token]
	if !exists {
		return 0, "", false
	}
	if !now.Before(rec.ExpiresAt) {
		delete(m.sessions, token)
		return 0, "", false
	}
	rec.ExpiresAt = now.Add(m.sessionTTL)
	m.sessions[token] = rec

	profile := m.adminsByID[rec.AdminID]
	return rec.AdminID, profile.Username, true
}

// Logout invalidates a session token.
func (m *Manager) Logout(token string) {
	if token == "" {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, token)
}
