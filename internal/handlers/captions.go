package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"wafflebrain/internal/auth"
	"wafflebrain/internal/services"
)

const (
	maxUploadBytes = 64 << 20
	captionTimeout = 2 * time.Minute
)

// CaptionHandler serves caption suggestions for an in-progress recording.
type CaptionHandler struct {
	captions *services.CaptionService
	workDir  string
}

func NewCaptionHandler(captions *services.CaptionService, workDir string) *CaptionHandler {
	return &CaptionHandler{captions: captions, workDir: workDir}
}

// HandleGenerateCaptions is POST /generate-captions. The client uploads a
// multipart chunk under videoChunk or audioChunk, optionally with a
// styleCaptions JSON array and a group_id.
func (h *CaptionHandler) HandleGenerateCaptions(w http.ResponseWriter, r *http.Request) {
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing identity")
		return
	}

	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart body")
		return
	}

	file, header, isVideo, err := chunkFile(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	defer file.Close()

	var style []string
	if raw := r.FormValue("styleCaptions"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &style); err != nil {
			writeError(w, http.StatusBadRequest, "styleCaptions must be a JSON string array")
			return
		}
	}

	dir, err := os.MkdirTemp(h.workDir, "captions-*")
	if err != nil {
		slog.Error("failed to create caption work dir", "error", err)
		writeError(w, http.StatusInternalServerError, "caption generation failed")
		return
	}
	defer func() {
		if err := os.RemoveAll(dir); err != nil {
			slog.Warn("failed to remove caption work dir", "dir", dir, "error", err)
		}
	}()

	mediaPath := filepath.Join(dir, "chunk"+chunkExt(header.Filename, isVideo))
	if err := saveUpload(file, mediaPath); err != nil {
		slog.Error("failed to save uploaded chunk", "error", err)
		writeError(w, http.StatusInternalServerError, "caption generation failed")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), captionTimeout)
	defer cancel()

	suggestions, err := h.captions.Suggest(ctx, services.CaptionRequest{
		MediaPath:     mediaPath,
		IsVideo:       isVideo,
		StyleCaptions: style,
		GroupID:       r.FormValue("group_id"),
		UserID:        identity.UserID,
	})
	if err != nil {
		slog.Error("caption suggestion failed", "user_id", identity.UserID, "error", err)
		writeError(w, http.StatusInternalServerError, "caption generation failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string][]string{"suggestions": suggestions})
}

// chunkFile picks whichever chunk field the client sent. Video chunks go
// through audio extraction before transcription.
func chunkFile(r *http.Request) (multipart.File, *multipart.FileHeader, bool, error) {
	if file, header, err := r.FormFile("videoChunk"); err == nil {
		return file, header, true, nil
	}
	if file, header, err := r.FormFile("audioChunk"); err == nil {
		return file, header, false, nil
	}
	return nil, nil, false, errors.New("missing videoChunk or audioChunk file field")
}

// chunkExt keeps only the uploaded filename's extension; the rest of the name
// is untrusted.
func chunkExt(filename string, isVideo bool) string {
	if ext := filepath.Ext(filepath.Base(filename)); ext != "" && ext != "." {
		return ext
	}
	if isVideo {
		return ".mp4"
	}
	return ".wav"
}

func saveUpload(src io.Reader, destPath string) error {
	out, err := os.Create(destPath)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, src); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
