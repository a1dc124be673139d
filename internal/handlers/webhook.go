package handlers

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"wafflebrain/internal/ingest"
	"wafflebrain/internal/media"
)

// pipelineTimeout bounds one full ingestion. The storage collaborator retries
// on failure, so timing out is safe.
const pipelineTimeout = 10 * time.Minute

// StorageEventPayload is the storage collaborator's object-finalize
// notification.
type StorageEventPayload struct {
	Bucket      string `json:"bucket"`
	Name        string `json:"name"`
	ContentType string `json:"contentType,omitempty"`
}

// VideoProcessor runs the ingestion pipeline for one storage object.
type VideoProcessor interface {
	Process(ctx context.Context, object string) (*ingest.Result, error)
}

// WebhookHandler receives storage-change notifications and drives ingestion.
// Requests are trusted via an HMAC body signature rather than a user token.
type WebhookHandler struct {
	webhookSecret string
	mediaBucket   string
	processor     VideoProcessor
}

func NewWebhookHandler(webhookSecret, mediaBucket string, processor VideoProcessor) *WebhookHandler {
	return &WebhookHandler{
		webhookSecret: webhookSecret,
		mediaBucket:   mediaBucket,
		processor:     processor,
	}
}

// HandleStorageEvent is POST /process-full-video. Non-video objects and our
// own generated thumbnails are acknowledged without work so the sender does
// not retry them.
func (h *WebhookHandler) HandleStorageEvent(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "could not read request body")
		return
	}
	defer r.Body.Close()

	signature := r.Header.Get("X-Storage-Signature")
	if !h.verifyHMAC(body, signature) {
		slog.Warn("rejected storage webhook with invalid signature")
		writeError(w, http.StatusUnauthorized, "invalid signature")
		return
	}

	var payload StorageEventPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	if payload.Name == "" {
		writeError(w, http.StatusBadRequest, "payload must name a storage object")
		return
	}

	if payload.Bucket != "" && payload.Bucket != h.mediaBucket {
		writeJSON(w, http.StatusOK, map[string]string{"message": "object outside media bucket ignored"})
		return
	}
	if media.IsThumbnailPath(payload.Name) {
		writeJSON(w, http.StatusOK, map[string]string{"message": "thumbnail object ignored"})
		return
	}
	if !media.IsVideoPath(payload.Name, payload.ContentType) {
		writeJSON(w, http.StatusOK, map[string]string{"message": "non-video object ignored"})
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), pipelineTimeout)
	defer cancel()

	if _, err := h.processor.Process(ctx, payload.Name); err != nil {
		slog.Error("video ingestion failed", "object", payload.Name, "error", err)
		writeError(w, http.StatusInternalServerError, "video processing failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"message": "video processed"})
}

// verifyHMAC checks the request body against the shared-secret signature.
// Some senders prefix the hex digest with "sha256="; both forms are accepted.
func (h *WebhookHandler) verifyHMAC(body []byte, signature string) bool {
	if h.webhookSecret == "" || signature == "" {
		return false
	}
	signature = strings.TrimPrefix(signature, "sha256=")

	mac := hmac.New(sha256.New, []byte(h.webhookSecret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))

	return hmac.Equal([]byte(signature), []byte(expected))
}
