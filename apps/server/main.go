package main

import (
	"log"
	"net/http"

	"explab/apps/server/internal/auth"
	"explab/apps/server/internal/config"
	"explab/apps/server/internal/httpapi"
	"explab/apps/server/internal/keys"
	"explab/apps/server/internal/lab"
	"explab/apps/server/internal/monitor"
	"explab/apps/server/internal/store"
	"explab/dilemma/strategy"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("[Server] Failed to load config: %v", err)
	}

	authService, err := auth.NewService(cfg)
	if err != nil {
		log.Fatalf("[Server] Failed to init auth service: %v", err)
	}
	defer authService.Close()

	keyService, err := keys.NewService(cfg)
	if err != nil {
		log.Fatalf("[Server] Failed to init key service: %v", err)
	}
	defer keyService.Close()

	recordStore, err := store.NewService(cfg)
	if err != nil {
		log.Fatalf("[Server] Failed to init record store: %v", err)
	}
	defer recordStore.Close()

	registry := strategy.NewRegistry()
	hub := monitor.New(authService)
	manager, err := lab.New(recordStore, registry, cfg.ConfigCacheSize, func(ev lab.Event) {
		hub.BroadcastJSON(ev)
	})
	if err != nil {
		log.Fatalf("[Server] Failed to init session manager: %v", err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/ws/monitor", hub.HandleWebSocket)
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	httpapi.NewHandler(authService, keyService, recordStore, manager, registry).RegisterRoutes(mux)

	log.Printf("[Server] Storage mode: %s", cfg.StorageMode)
	log.Printf("[Server] Strategies: %v", registry.IDs())
	log.Printf("[Server] Listening on %s", cfg.Addr)
	if err := http.ListenAndServe(cfg.Addr, mux); err != nil {
		log.Fatalf("[Server] Failed to start: %v", err)
	}
}
