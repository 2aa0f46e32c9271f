package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"explab/apps/server/internal/auth"
	"explab/apps/server/internal/store"
	"explab/dilemma"
	"explab/dilemma/strategy"
	"explab/transcript"
)

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type createExperimentRequest struct {
	Name            string          `json:"name"`
	Description     string          `json:"description"`
	TotalRounds     int             `json:"total_rounds"`
	PayoffMatrix    *dilemma.Matrix `json:"payoff_matrix"`
	Strategy        string          `json:"opponent_strategy"`
	OpponentInitial string          `json:"opponent_initial"`
	KeyCount        int             `json:"key_count"`
}

type mintKeysRequest struct {
	Count int `json:"count"`
}

type setActiveRequest struct {
	Active bool `json:"active"`
}

type revokeKeyRequest struct {
	Key string `json:"key"`
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req loginRequest
	if !decodeBody(w, r, &req) {
		return
	}
	adminID, token, err := h.auth.Login(req.Username, req.Password)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			writeError(w, http.StatusUnauthorized, "invalid credentials")
			return
		}
		writeError(w, http.StatusInternalServerError, "login failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"admin_id": adminID,
		"token":    token,
	})
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	token := bearerToken(r.Header.Get("Authorization"))
	if token != "" {
		h.auth.Logout(token)
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (h *Handler) handleStrategies(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if _, ok := h.resolveAdmin(r); !ok {
		writeError(w, http.StatusUnauthorized, "invalid session token")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"strategies": h.registry.IDs()})
}

func (h *Handler) handleExperiments(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.resolveAdmin(r); !ok {
		writeError(w, http.StatusUnauthorized, "invalid session token")
		return
	}
	switch r.Method {
	case http.MethodGet:
		h.handleListExperiments(w, r)
	case http.MethodPost:
		h.handleCreateExperiment(w, r)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (h *Handler) handleListExperiments(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	items, err := h.store.ListExperiments(ctx)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "list experiments failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (h *Handler) handleCreateExperiment(w http.ResponseWriter, r *http.Request) {
	var req createExperimentRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		writeError(w, http.StatusBadRequest, "missing name")
		return
	}
	if req.TotalRounds <= 0 {
		writeError(w, http.StatusBadRequest, "total_rounds must be > 0")
		return
	}

	cfg := dilemma.Config{
		TotalRounds: req.TotalRounds,
		Matrix:      dilemma.ClassicMatrix(),
		Strategy:    req.Strategy,
	}
	if req.PayoffMatrix != nil {
		cfg.Matrix = *req.PayoffMatrix
	}
	if req.OpponentInitial != "" {
		initial, err := dilemma.ParseDecision(req.OpponentInitial)
		if err != nil {
			writeError(w, http.StatusBadRequest, "opponent_initial must be cooperate or defect")
			return
		}
		cfg.OpponentInitial = initial
	}
	// Reject unknown strategies here rather than at the first redemption.
	if _, err := h.registry.New(cfg.Strategy, strategy.Options{Initial: cfg.OpponentInitial}); err != nil {
		writeError(w, http.StatusBadRequest, "unknown opponent strategy")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 8*time.Second)
	defer cancel()
	expID, err := h.store.CreateExperiment(ctx, store.Experiment{
		Name:        strings.TrimSpace(req.Name),
		Description: strings.TrimSpace(req.Description),
		Config:      cfg,
		Active:      true,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "create experiment failed")
		return
	}

	var minted []string
	if req.KeyCount > 0 {
		minted, err = h.keys.Mint(ctx, expID, req.KeyCount)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "mint keys failed")
			return
		}
	}

	exp, err := h.store.GetExperiment(ctx, expID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "create experiment failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"experiment": exp,
		"keys":       minted,
	})
}

func (h *Handler) handleExperimentSubtree(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.resolveAdmin(r); !ok {
		writeError(w, http.StatusUnauthorized, "invalid session token")
		return
	}

	path := strings.TrimPrefix(r.URL.Path, "/api/admin/experiments/")
	parts := strings.Split(strings.TrimSpace(path), "/")
	if len(parts) == 0 || parts[0] == "" {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	expID, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid experiment id")
		return
	}

	if len(parts) == 1 {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		h.handleExperimentDetail(w, r, expID)
		return
	}

	if len(parts) == 2 {
		switch parts[1] {
		case "keys":
			if r.Method != http.MethodPost {
				writeError(w, http.StatusMethodNotAllowed, "method not allowed")
				return
			}
			h.handleMintKeys(w, r, expID)
			return
		case "results":
			if r.Method != http.MethodGet {
				writeError(w, http.StatusMethodNotAllowed, "method not allowed")
				return
			}
			h.handleResults(w, r, expID)
			return
		case "active":
			if r.Method != http.MethodPost {
				writeError(w, http.StatusMethodNotAllowed, "method not allowed")
				return
			}
			h.handleSetActive(w, r, expID)
			return
		}
	}

	writeError(w, http.StatusNotFound, "not found")
}

func (h *Handler) handleExperimentDetail(w http.ResponseWriter, r *http.Request, expID int64) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	exp, err := h.store.GetExperiment(ctx, expID)
	if err != nil {
		if errors.Is(err, store.ErrExperimentNotFound) {
			writeError(w, http.StatusNotFound, "experiment not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "query experiment failed")
		return
	}
	expKeys, err := h.keys.ListForExperiment(ctx, expID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "query keys failed")
		return
	}
	total, completed, err := h.store.CountParticipants(ctx, expID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "count participants failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"experiment": exp,
		"config": map[string]any{
			"total_rounds":      exp.Config.TotalRounds,
			"payoff_matrix":     exp.Config.Matrix,
			"opponent_strategy": exp.Config.Strategy,
			"opponent_initial":  exp.Config.OpponentInitial.String(),
		},
		"keys": expKeys,
		"participants": map[string]int{
			"total":     total,
			"completed": completed,
		},
	})
}

func (h *Handler) handleMintKeys(w http.ResponseWriter, r *http.Request, expID int64) {
	var req mintKeysRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Count <= 0 || req.Count > 1000 {
		writeError(w, http.StatusBadRequest, "count must be between 1 and 1000")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 8*time.Second)
	defer cancel()
	if _, err := h.store.GetExperiment(ctx, expID); err != nil {
		if errors.Is(err, store.ErrExperimentNotFound) {
			writeError(w, http.StatusNotFound, "experiment not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "query experiment failed")
		return
	}
	minted, err := h.keys.Mint(ctx, expID, req.Count)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "mint keys failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"keys": minted})
}

func (h *Handler) handleResults(w http.ResponseWriter, r *http.Request, expID int64) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	items, err := h.store.ListResults(ctx, expID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "list results failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (h *Handler) handleSetActive(w http.ResponseWriter, r *http.Request, expID int64) {
	var req setActiveRequest
	if !decodeBody(w, r, &req) {
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	if err := h.store.SetExperimentActive(ctx, expID, req.Active); err != nil {
		if errors.Is(err, store.ErrExperimentNotFound) {
			writeError(w, http.StatusNotFound, "experiment not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "update experiment failed")
		return
	}
	h.lab.InvalidateConfig(expID)
	writeJSON(w, http.StatusOK, map[string]any{"id": expID, "active": req.Active})
}

func (h *Handler) handleRevokeKey(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if _, ok := h.resolveAdmin(r); !ok {
		writeError(w, http.StatusUnauthorized, "invalid session token")
		return
	}
	var req revokeKeyRequest
	if !decodeBody(w, r, &req) {
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	if err := h.keys.Revoke(ctx, req.Key); err != nil {
		writeKeyError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (h *Handler) handleSessionSubtree(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.resolveAdmin(r); !ok {
		writeError(w, http.StatusUnauthorized, "invalid session token")
		return
	}

	path := strings.TrimPrefix(r.URL.Path, "/api/admin/sessions/")
	parts := strings.Split(strings.TrimSpace(path), "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] != "transcript" {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	h.handleTranscript(w, r, parts[0])
}

func (h *Handler) handleTranscript(w http.ResponseWriter, r *http.Request, sessionID string) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	item, err := h.store.GetResult(ctx, sessionID)
	if err != nil {
		if errors.Is(err, store.ErrResultNotFound) {
			writeError(w, http.StatusNotFound, "session not found or not completed")
			return
		}
		writeError(w, http.StatusInternalServerError, "query result failed")
		return
	}
	exp, err := h.store.GetExperiment(ctx, item.ExperimentID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "query experiment failed")
		return
	}

	t, err := transcript.Generate(transcript.Meta{
		SessionID:     item.SessionID,
		ExperimentID:  item.ExperimentID,
		ParticipantID: item.ParticipantID,
		Strategy:      exp.Config.Strategy,
	}, item.Result)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "session record is corrupt")
		return
	}
	data, err := transcript.Encode(t)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "encode transcript failed")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Disposition", `attachment; filename="`+sessionID+`.json"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}
