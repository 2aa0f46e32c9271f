package auth

import (
	"fmt"

	"explab/apps/server/internal/config"
	"explab/apps/server/internal/dbutil"
)

// NewService builds the admin auth backend selected by cfg.StorageMode.
func NewService(cfg config.Config) (Service, error) {
	switch cfg.StorageMode {
	case config.ModeMemory:
		return NewManager(cfg.AdminSessionTTL), nil
	case config.ModeSQLite:
		dbPath, err := dbutil.SQLitePath(cfg.DatabasePath)
		if err != nil {
			return nil, err
		}
		return NewSQLiteManager(dbPath, cfg.AdminSessionTTL)
	case config.ModePostgres:
		return NewPostgresManager(cfg.PostgresDSN, cfg.AdminSessionTTL)
	default:
		return nil, fmt.Errorf("invalid storage mode %q", cfg.StorageMode)
	}
}
