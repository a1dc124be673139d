package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"wafflebrain/internal/auth"
	"wafflebrain/internal/services"
)

const starterTimeout = 30 * time.Second

// StarterHandler serves conversation-starter suggestions for a group.
type StarterHandler struct {
	starters *services.StarterService
}

func NewStarterHandler(starters *services.StarterService) *StarterHandler {
	return &StarterHandler{starters: starters}
}

// HandleConvoStarter is POST /ai/convo-starter.
func (h *StarterHandler) HandleConvoStarter(w http.ResponseWriter, r *http.Request) {
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing identity")
		return
	}

	var req services.StarterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.GroupID == "" {
		writeError(w, http.StatusBadRequest, "group_id is required")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), starterTimeout)
	defer cancel()

	suggestions, err := h.starters.Suggest(ctx, identity.UserID, req)
	switch {
	case errors.Is(err, services.ErrIdentityMismatch), errors.Is(err, services.ErrNotGroupMember):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, services.ErrThrottled):
		writeError(w, http.StatusTooManyRequests, err.Error())
	case err != nil:
		slog.Error("starter suggestion failed", "user_id", identity.UserID, "group_id", req.GroupID, "error", err)
		writeError(w, http.StatusInternalServerError, "suggestion generation failed")
	default:
		writeJSON(w, http.StatusOK, map[string][]string{"suggestions": suggestions})
	}
}
