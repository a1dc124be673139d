package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"wafflebrain/internal/services"
)

type failingTranscriber struct{}

func (failingTranscriber) Transcribe(context.Context, string) (string, error) {
	return "", errors.New("whisper unavailable")
}

func newTestCaptionHandler(t *testing.T, extractor *stubExtractor, transcriber services.Transcriber) *CaptionHandler {
	t.Helper()
	svc := services.NewCaptionService(
		&mockStore{},
		extractor,
		transcriber,
		stubEmbedder{},
		stubCompleter{content: `["Pancake day", "Flip city", "Brunch o'clock"]`},
	)
	return NewCaptionHandler(svc, t.TempDir())
}

func multipartBody(t *testing.T, field, filename, content string, fields map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if field != "" {
		fw, err := mw.CreateFormFile(field, filename)
		if err != nil {
			t.Fatalf("CreateFormFile: %v", err)
		}
		if _, err := io.WriteString(fw, content); err != nil {
			t.Fatalf("writing file part: %v", err)
		}
	}
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			t.Fatalf("WriteField(%s): %v", k, err)
		}
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("closing multipart writer: %v", err)
	}
	return &buf, mw.FormDataContentType()
}

func TestHandleGenerateCaptionsRequiresIdentity(t *testing.T) {
	h := newTestCaptionHandler(t, &stubExtractor{}, stubTranscriber{text: "pancakes"})

	body, contentType := multipartBody(t, "audioChunk", "chunk.wav", "audio-bytes", nil)
	req := httptest.NewRequest(http.MethodPost, "/generate-captions", body)
	req.Header.Set("Content-Type", contentType)
	rr := httptest.NewRecorder()

	h.HandleGenerateCaptions(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rr.Code)
	}
}

func TestHandleGenerateCaptionsRejectsNonMultipart(t *testing.T) {
	h := newTestCaptionHandler(t, &stubExtractor{}, stubTranscriber{text: "pancakes"})

	req := authed(httptest.NewRequest(http.MethodPost, "/generate-captions", strings.NewReader(`{"not":"multipart"}`)), "user-1")
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()

	h.HandleGenerateCaptions(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "invalid multipart body") {
		t.Errorf("body = %s, want invalid multipart body", rr.Body.String())
	}
}

func TestHandleGenerateCaptionsMissingChunk(t *testing.T) {
	h := newTestCaptionHandler(t, &stubExtractor{}, stubTranscriber{text: "pancakes"})

	body, contentType := multipartBody(t, "", "", "", map[string]string{"group_id": "g1"})
	req := authed(httptest.NewRequest(http.MethodPost, "/generate-captions", body), "user-1")
	req.Header.Set("Content-Type", contentType)
	rr := httptest.NewRecorder()

	h.HandleGenerateCaptions(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "missing videoChunk or audioChunk file field") {
		t.Errorf("body = %s, want missing chunk message", rr.Body.String())
	}
}

func TestHandleGenerateCaptionsRejectsBadStyleCaptions(t *testing.T) {
	h := newTestCaptionHandler(t, &stubExtractor{}, stubTranscriber{text: "pancakes"})

	body, contentType := multipartBody(t, "audioChunk", "chunk.wav", "audio-bytes", map[string]string{
		"styleCaptions": "not a json array",
	})
	req := authed(httptest.NewRequest(http.MethodPost, "/generate-captions", body), "user-1")
	req.Header.Set("Content-Type", contentType)
	rr := httptest.NewRecorder()

	h.HandleGenerateCaptions(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "styleCaptions must be a JSON string array") {
		t.Errorf("body = %s, want styleCaptions message", rr.Body.String())
	}
}

func TestHandleGenerateCaptionsAudioChunk(t *testing.T) {
	extractor := &stubExtractor{}
	h := newTestCaptionHandler(t, extractor, stubTranscriber{text: "pancake sunday with the crew"})

	body, contentType := multipartBody(t, "audioChunk", "chunk.wav", "audio-bytes", map[string]string{"group_id": "g1"})
	req := authed(httptest.NewRequest(http.MethodPost, "/generate-captions", body), "user-1")
	req.Header.Set("Content-Type", contentType)
	rr := httptest.NewRecorder()

	h.HandleGenerateCaptions(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (body %s)", rr.Code, rr.Body.String())
	}

	var resp map[string][]string
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(resp["suggestions"]) != 3 {
		t.Errorf("suggestions = %v, want 3 entries", resp["suggestions"])
	}
	if extractor.videoPath != "" {
		t.Errorf("Expected no audio extraction for an audio chunk, got %q", extractor.videoPath)
	}

	// The per-request work dir must be gone once the handler returns.
	entries, err := os.ReadDir(h.workDir)
	if err != nil {
		t.Fatalf("reading work dir: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("work dir entries = %d, want 0", len(entries))
	}
}

func TestHandleGenerateCaptionsVideoChunkExtractsAudio(t *testing.T) {
	extractor := &stubExtractor{}
	h := newTestCaptionHandler(t, extractor, stubTranscriber{text: "ridge sunrise crew"})

	body, contentType := multipartBody(t, "videoChunk", "clip.mov", "video-bytes", nil)
	req := authed(httptest.NewRequest(http.MethodPost, "/generate-captions", body), "user-1")
	req.Header.Set("Content-Type", contentType)
	rr := httptest.NewRecorder()

	h.HandleGenerateCaptions(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (body %s)", rr.Code, rr.Body.String())
	}
	if !strings.HasSuffix(extractor.videoPath, "chunk.mov") {
		t.Errorf("extractor video path = %q, want the saved chunk.mov", extractor.videoPath)
	}
}

func TestHandleGenerateCaptionsServiceFailure(t *testing.T) {
	h := newTestCaptionHandler(t, &stubExtractor{}, failingTranscriber{})

	body, contentType := multipartBody(t, "audioChunk", "chunk.wav", "audio-bytes", nil)
	req := authed(httptest.NewRequest(http.MethodPost, "/generate-captions", body), "user-1")
	req.Header.Set("Content-Type", contentType)
	rr := httptest.NewRecorder()

	h.HandleGenerateCaptions(rr, req)

	if rr.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "caption generation failed") {
		t.Errorf("body = %s, want caption generation failed", rr.Body.String())
	}
}
