package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"wafflebrain/internal/auth"
	"wafflebrain/internal/services"
)

const searchTimeout = 30 * time.Second

// SearchHandler serves the synchronous search phase and the answer stream
// that follows it.
type SearchHandler struct {
	search *services.SearchService
	broker *services.AnswerBroker
}

func NewSearchHandler(search *services.SearchService, broker *services.AnswerBroker) *SearchHandler {
	return &SearchHandler{search: search, broker: broker}
}

// HandleSearch is POST /api/search/waffles.
func (h *SearchHandler) HandleSearch(w http.ResponseWriter, r *http.Request) {
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing identity")
		return
	}

	var req services.SearchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), searchTimeout)
	defer cancel()

	resp, err := h.search.Search(ctx, identity.UserID, req)
	if errors.Is(err, services.ErrQueryTooShort) {
		writeError(w, http.StatusBadRequest, services.ErrQueryTooShort.Error())
		return
	}
	if err != nil {
		slog.Error("search failed", "user_id", identity.UserID, "error", err)
		writeError(w, http.StatusInternalServerError, "search failed")
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// HandleAnswerStream is GET /api/search/ai-stream/{searchId}. Events are
// pushed as SSE data frames, each carrying the cumulative answer so far; the
// connection closes after the terminal event. A disconnecting client detaches
// from the task without touching generation or other subscribers.
func (h *SearchHandler) HandleAnswerStream(w http.ResponseWriter, r *http.Request) {
	searchID := mux.Vars(r)["searchId"]

	events, cancel, err := h.broker.Subscribe(searchID)
	if errors.Is(err, services.ErrUnknownSearch) {
		writeError(w, http.StatusNotFound, "unknown search id")
		return
	}
	if err != nil {
		slog.Error("failed to open answer stream", "search_id", searchID, "error", err)
		writeError(w, http.StatusInternalServerError, "could not open stream")
		return
	}
	defer cancel()

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case ev, open := <-events:
			if !open {
				return
			}
			data, err := json.Marshal(ev)
			if err != nil {
				slog.Error("failed to marshal answer event", "search_id", searchID, "error", err)
				continue
			}
			fmt.Fprintf(w, "data: %s\n\n", data)
			flusher.Flush()
		}
	}
}
