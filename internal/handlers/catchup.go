package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"wafflebrain/internal/auth"
	"wafflebrain/internal/services"
)

const catchupTimeout = 30 * time.Second

// CatchupHandler serves the what-did-I-miss summary for a group.
type CatchupHandler struct {
	catchup *services.CatchupService
}

func NewCatchupHandler(catchup *services.CatchupService) *CatchupHandler {
	return &CatchupHandler{catchup: catchup}
}

// HandleCatchup is GET /api/catchup/{groupId}?days=N.
func (h *CatchupHandler) HandleCatchup(w http.ResponseWriter, r *http.Request) {
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing identity")
		return
	}

	groupID := mux.Vars(r)["groupId"]

	days := 0
	if raw := r.URL.Query().Get("days"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "days must be a number")
			return
		}
		days = parsed
	}

	ctx, cancel := context.WithTimeout(context.Background(), catchupTimeout)
	defer cancel()

	resp, err := h.catchup.CatchUp(ctx, identity.UserID, groupID, days)
	if err != nil {
		slog.Error("catchup failed", "user_id", identity.UserID, "group_id", groupID, "error", err)
		writeError(w, http.StatusInternalServerError, "catch-up generation failed")
		return
	}

	writeJSON(w, http.StatusOK, resp)
}
