// Package httpapi exposes the participant and administrator JSON APIs.
package httpapi

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"strings"
	"sync"

	"explab/apps/server/internal/auth"
	"explab/apps/server/internal/keys"
	"explab/apps/server/internal/lab"
	"explab/apps/server/internal/store"
	"explab/dilemma/strategy"
)

type Handler struct {
	auth     auth.Service
	keys     keys.Service
	store    store.Service
	lab      *lab.Manager
	registry *strategy.Registry

	mu                sync.Mutex
	participantTokens map[string]int64 // bearer token -> participantID
}

type errorResponse struct {
	Error string `json:"error"`
}

func NewHandler(authService auth.Service, keyService keys.Service, recordStore store.Service, manager *lab.Manager, registry *strategy.Registry) *Handler {
	return &Handler{
		auth:              authService,
		keys:              keyService,
		store:             recordStore,
		lab:               manager,
		registry:          registry,
		participantTokens: make(map[string]int64),
	}
}

func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/keys/redeem", h.handleRedeem)
	mux.HandleFunc("/api/session", h.handleSession)
	mux.HandleFunc("/api/session/decision", h.handleDecision)

	mux.HandleFunc("/api/admin/login", h.handleLogin)
	mux.HandleFunc("/api/admin/logout", h.handleLogout)
	mux.HandleFunc("/api/admin/strategies", h.handleStrategies)
	mux.HandleFunc("/api/admin/experiments", h.handleExperiments)
	mux.HandleFunc("/api/admin/experiments/", h.handleExperimentSubtree)
	mux.HandleFunc("/api/admin/keys/revoke", h.handleRevokeKey)
	mux.HandleFunc("/api/admin/sessions/", h.handleSessionSubtree)
}

// issueParticipantToken binds a fresh bearer token to a participant. Tokens
// live for the process lifetime; a participant who loses one re-enters
// through support, not through key reuse.
func (h *Handler) issueParticipantToken(participantID int64) string {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		panic(err)
	}
	token := base64.RawURLEncoding.EncodeToString(buf)

	h.mu.Lock()
	h.participantTokens[token] = participantID
	h.mu.Unlock()
	return token
}

func (h *Handler) resolveParticipant(r *http.Request) (int64, bool) {
	token := bearerToken(r.Header.Get("Authorization"))
	if token == "" {
		return 0, false
	}
	h.mu.Lock()
	id, ok := h.participantTokens[token]
	h.mu.Unlock()
	return id, ok
}

func (h *Handler) resolveAdmin(r *http.Request) (int64, bool) {
	token := bearerToken(r.Header.Get("Authorization"))
	if token == "" {
		return 0, false
	}
	adminID, _, ok := h.auth.ResolveSession(token)
	return adminID, ok
}

func bearerToken(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	if !strings.HasPrefix(raw, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(raw, "Bearer "))
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}
