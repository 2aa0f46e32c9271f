package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"explab/apps/server/internal/keys"
	"explab/apps/server/internal/lab"
	"explab/dilemma"
	"explab/dilemma/strategy"
)

type redeemRequest struct {
	Key string `json:"key"`
}

type decisionRequest struct {
	Decision string `json:"decision"`
}

// handleRedeem consumes a single-use access key, registers the participant,
// and starts their session in one shot.
func (h *Handler) handleRedeem(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req redeemRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Key == "" {
		writeError(w, http.StatusBadRequest, "missing key")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 8*time.Second)
	defer cancel()

	key, err := h.keys.Validate(ctx, req.Key)
	if err != nil {
		writeKeyError(w, err)
		return
	}
	now := time.Now().UTC()
	if err := h.keys.Consume(ctx, key.ID, now); err != nil {
		writeKeyError(w, err)
		return
	}

	participantID, err := h.store.CreateParticipant(ctx, key.ID, key.ExperimentID, now)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "register participant failed")
		return
	}

	snap, err := h.lab.StartSession(ctx, participantID, key.ExperimentID)
	if err != nil {
		switch {
		case errors.Is(err, lab.ErrExperimentInactive):
			writeError(w, http.StatusConflict, "experiment is closed")
		case errors.Is(err, strategy.ErrUnknownStrategy):
			writeError(w, http.StatusInternalServerError, "experiment is misconfigured")
		default:
			writeError(w, http.StatusInternalServerError, "start session failed")
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"token":   h.issueParticipantToken(participantID),
		"session": snap,
	})
}

// handleSession reports the caller's session progress.
func (h *Handler) handleSession(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	participantID, ok := h.resolveParticipant(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "invalid participant token")
		return
	}
	snap, err := h.lab.Progress(participantID)
	if err != nil {
		writeError(w, http.StatusNotFound, "no active session")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"session": snap})
}

// handleDecision plays one round.
func (h *Handler) handleDecision(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	participantID, ok := h.resolveParticipant(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "invalid participant token")
		return
	}
	var req decisionRequest
	if !decodeBody(w, r, &req) {
		return
	}
	decision, err := dilemma.ParseDecision(req.Decision)
	if err != nil {
		writeError(w, http.StatusBadRequest, "decision must be cooperate or defect")
		return
	}

	rec, snap, err := h.lab.SubmitDecision(r.Context(), participantID, decision)
	if err != nil {
		switch {
		case errors.Is(err, lab.ErrNoSession):
			writeError(w, http.StatusNotFound, "no active session")
		case errors.Is(err, dilemma.ErrSessionComplete):
			writeError(w, http.StatusConflict, "session already complete")
		case errors.Is(err, dilemma.ErrNotStarted):
			writeError(w, http.StatusConflict, "session not started")
		case errors.Is(err, dilemma.ErrInvalidDecision):
			writeError(w, http.StatusBadRequest, "decision must be cooperate or defect")
		default:
			writeError(w, http.StatusInternalServerError, "record round failed")
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"round":   rec,
		"session": snap,
	})
}

func writeKeyError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, keys.ErrKeyNotFound):
		writeError(w, http.StatusNotFound, "unknown key")
	case errors.Is(err, keys.ErrKeyUsed):
		writeError(w, http.StatusConflict, "key already used")
	case errors.Is(err, keys.ErrKeyRevoked):
		writeError(w, http.StatusConflict, "key revoked")
	default:
		writeError(w, http.StatusInternalServerError, "key lookup failed")
	}
}
