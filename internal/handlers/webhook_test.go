package handlers

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"wafflebrain/internal/ingest"
)

type mockProcessor struct {
	processFunc func(ctx context.Context, object string) (*ingest.Result, error)
	objects     []string
}

func (m *mockProcessor) Process(ctx context.Context, object string) (*ingest.Result, error) {
	m.objects = append(m.objects, object)
	if m.processFunc != nil {
		return m.processFunc(ctx, object)
	}
	return &ingest.Result{Object: object}, nil
}

func signBody(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func TestVerifyHMAC(t *testing.T) {
	body := []byte(`{"name":"videos/a.mp4"}`)
	valid := signBody("webhook-secret", body)

	tests := []struct {
		name      string
		secret    string
		signature string
		want      bool
	}{
		{"valid hex digest", "webhook-secret", valid, true},
		{"sha256 prefix accepted", "webhook-secret", "sha256=" + valid, true},
		{"tampered digest", "webhook-secret", signBody("webhook-secret", []byte("other body")), false},
		{"empty signature", "webhook-secret", "", false},
		{"no secret configured", "", valid, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewWebhookHandler(tt.secret, "media", nil)
			if got := h.verifyHMAC(body, tt.signature); got != tt.want {
				t.Errorf("verifyHMAC() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestHandleStorageEvent(t *testing.T) {
	const secret = "webhook-secret"

	tests := []struct {
		name        string
		body        string
		signature   string // empty means sign the body correctly
		wantStatus  int
		wantProcess bool
	}{
		{
			name:       "invalid signature",
			body:       `{"bucket":"media","name":"videos/a.mp4","contentType":"video/mp4"}`,
			signature:  "deadbeef",
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "malformed payload",
			body:       `{"bucket":`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "missing object name",
			body:       `{"bucket":"media","contentType":"video/mp4"}`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "foreign bucket acknowledged",
			body:       `{"bucket":"someone-elses-bucket","name":"videos/a.mp4","contentType":"video/mp4"}`,
			wantStatus: http.StatusOK,
		},
		{
			name:       "own thumbnail acknowledged",
			body:       `{"bucket":"media","name":"videos/a_thumb.jpg","contentType":"image/jpeg"}`,
			wantStatus: http.StatusOK,
		},
		{
			name:       "non-video acknowledged",
			body:       `{"bucket":"media","name":"notes/readme.txt","contentType":"text/plain"}`,
			wantStatus: http.StatusOK,
		},
		{
			name:        "video processed",
			body:        `{"bucket":"media","name":"videos/a.mp4","contentType":"video/mp4"}`,
			wantStatus:  http.StatusOK,
			wantProcess: true,
		},
		{
			name:        "missing bucket still processed",
			body:        `{"name":"videos/b.mp4","contentType":"video/mp4"}`,
			wantStatus:  http.StatusOK,
			wantProcess: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			processor := &mockProcessor{}
			h := NewWebhookHandler(secret, "media", processor)

			signature := tt.signature
			if signature == "" {
				signature = signBody(secret, []byte(tt.body))
			}
			req := httptest.NewRequest(http.MethodPost, "/process-full-video", strings.NewReader(tt.body))
			req.Header.Set("X-Storage-Signature", signature)
			rr := httptest.NewRecorder()

			h.HandleStorageEvent(rr, req)

			if rr.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d (body %s)", rr.Code, tt.wantStatus, rr.Body.String())
			}
			if tt.wantProcess && len(processor.objects) != 1 {
				t.Errorf("processor calls = %v, want exactly one", processor.objects)
			}
			if !tt.wantProcess && len(processor.objects) != 0 {
				t.Errorf("processor calls = %v, want none", processor.objects)
			}
		})
	}
}

func TestHandleStorageEventPassesObjectName(t *testing.T) {
	processor := &mockProcessor{}
	h := NewWebhookHandler("webhook-secret", "media", processor)

	body := `{"bucket":"media","name":"videos/clip.mp4","contentType":"video/mp4"}`
	req := httptest.NewRequest(http.MethodPost, "/process-full-video", strings.NewReader(body))
	req.Header.Set("X-Storage-Signature", signBody("webhook-secret", []byte(body)))
	rr := httptest.NewRecorder()

	h.HandleStorageEvent(rr, req)

	if len(processor.objects) != 1 || processor.objects[0] != "videos/clip.mp4" {
		t.Errorf("processor objects = %v, want [videos/clip.mp4]", processor.objects)
	}
}

func TestHandleStorageEventProcessorFailure(t *testing.T) {
	processor := &mockProcessor{
		processFunc: func(context.Context, string) (*ingest.Result, error) {
			return nil, errors.New("transcription failed")
		},
	}
	h := NewWebhookHandler("webhook-secret", "media", processor)

	body := `{"bucket":"media","name":"videos/clip.mp4","contentType":"video/mp4"}`
	req := httptest.NewRequest(http.MethodPost, "/process-full-video", strings.NewReader(body))
	req.Header.Set("X-Storage-Signature", signBody("webhook-secret", []byte(body)))
	rr := httptest.NewRecorder()

	h.HandleStorageEvent(rr, req)

	if rr.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rr.Code)
	}
}
