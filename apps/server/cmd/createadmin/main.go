// createadmin provisions an administrator account against the configured
// storage backend. Run it once before first login:
//
//	STORAGE_MODE=sqlite go run ./cmd/createadmin -username lab -password <secret>
package main

import (
	"flag"
	"log"

	"explab/apps/server/internal/auth"
	"explab/apps/server/internal/config"
)

func main() {
	username := flag.String("username", "", "admin username")
	password := flag.String("password", "", "admin password (8-72 characters)")
	flag.Parse()

	if *username == "" || *password == "" {
		flag.Usage()
		log.Fatal("[CreateAdmin] -username and -password are required")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("[CreateAdmin] Failed to load config: %v", err)
	}
	if cfg.StorageMode == config.ModeMemory {
		log.Fatal("[CreateAdmin] STORAGE_MODE=memory cannot persist accounts; use sqlite or postgres")
	}

	authService, err := auth.NewService(cfg)
	if err != nil {
		log.Fatalf("[CreateAdmin] Failed to init auth service: %v", err)
	}
	defer authService.Close()

	adminID, err := authService.CreateAdmin(*username, *password)
	if err != nil {
		log.Fatalf("[CreateAdmin] Failed to create admin: %v", err)
	}
	log.Printf("[CreateAdmin] Created admin %q (id=%d, storage=%s)", *username, adminID, cfg.StorageMode)
}
