// Package keys manages single-use participant access keys: an administrator
// mints a batch for an experiment, a participant redeems exactly one, and
// unused keys can be revoked.
package keys

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"explab/apps/server/internal/config"
	"explab/apps/server/internal/dbutil"
)

// Key statuses as stored.
const (
	StatusUnused  = "unused"
	StatusUsed    = "used"
	StatusRevoked = "revoked"
)

var (
	ErrKeyNotFound = errors.New("key not found")
	ErrKeyUsed     = errors.New("key already used")
	ErrKeyRevoked  = errors.New("key revoked")
)

// Key is one participant access key with its lifecycle timestamps.
type Key struct {
	ID           int64      `json:"id"`
	ExperimentID int64      `json:"experiment_id"`
	Value        string     `json:"key"`
	Status       string     `json:"status"`
	CreatedAt    time.Time  `json:"created_at"`
	UsedAt       *time.Time `json:"used_at,omitempty"`
	RevokedAt    *time.Time `json:"revoked_at,omitempty"`
}

type Service interface {
	Close() error

	// Mint generates count fresh keys for an experiment.
	Mint(ctx context.Context, experimentID int64, count int) ([]string, error)

	// Validate resolves a key value without consuming it. A used or revoked
	// key fails with the matching sentinel.
	Validate(ctx context.Context, value string) (Key, error)

	// Consume flips an unused key to used. Exactly one caller wins; the rest
	// fail with ErrKeyUsed.
	Consume(ctx context.Context, keyID int64, usedAt time.Time) error

	// Revoke marks a key so it can no longer be redeemed.
	Revoke(ctx context.Context, value string) error

	// ListForExperiment returns every key of an experiment, newest first.
	ListForExperiment(ctx context.Context, experimentID int64) ([]Key, error)
}

// NewService builds the key backend selected by cfg.StorageMode.
func NewService(cfg config.Config) (Service, error) {
	switch cfg.StorageMode {
	case config.ModeMemory:
		return NewMemoryService(cfg.KeyBytes), nil
	case config.ModeSQLite:
		dbPath, err := dbutil.SQLitePath(cfg.DatabasePath)
		if err != nil {
			return nil, err
		}
		return NewSQLiteService(dbPath, cfg.KeyBytes)
	case config.ModePostgres:
		return NewPostgresService(cfg.PostgresDSN, cfg.KeyBytes)
	default:
		return nil, fmt.Errorf("invalid storage mode %q", cfg.StorageMode)
	}
}

func generateKeyValue(keyBytes int) string {
	buf := make([]byte, keyBytes)
	if _, err := rand.Read(buf); err != nil {
		panic(err)
	}
	return hex.EncodeToString(buf)
}

func statusError(status string) error {
	switch status {
	case StatusUsed:
		return ErrKeyUsed
	case StatusRevoked:
		return ErrKeyRevoked
	default:
		return nil
	}
}
