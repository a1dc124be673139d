package services

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"

	"wafflebrain/internal/storage"
)

func TestStarterSuggestIdentityMismatch(t *testing.T) {
	store := &mockStore{
		isGroupMemberFunc: func(context.Context, string, string) (bool, error) {
			t.Error("membership should not be checked on identity mismatch")
			return false, nil
		},
	}
	svc := NewStarterService(store, &mockCompleter{}, 0)

	_, err := svc.Suggest(context.Background(), "user-1", StarterRequest{GroupID: "group-1", UserUID: "user-2"})
	if !errors.Is(err, ErrIdentityMismatch) {
		t.Errorf("Suggest() error = %v, want ErrIdentityMismatch", err)
	}
}

func TestStarterSuggestNonMember(t *testing.T) {
	store := &mockStore{
		isGroupMemberFunc: func(context.Context, string, string) (bool, error) {
			return false, nil
		},
	}
	svc := NewStarterService(store, &mockCompleter{}, 0)

	_, err := svc.Suggest(context.Background(), "user-1", StarterRequest{GroupID: "group-1", UserUID: "user-1"})
	if !errors.Is(err, ErrNotGroupMember) {
		t.Errorf("Suggest() error = %v, want ErrNotGroupMember", err)
	}
}

func TestStarterSuggestMembershipCheckFailure(t *testing.T) {
	store := &mockStore{
		isGroupMemberFunc: func(context.Context, string, string) (bool, error) {
			return false, errors.New("db down")
		},
	}
	svc := NewStarterService(store, &mockCompleter{}, 0)

	_, err := svc.Suggest(context.Background(), "user-1", StarterRequest{GroupID: "group-1", UserUID: "user-1"})
	if err == nil || errors.Is(err, ErrNotGroupMember) {
		t.Errorf("Suggest() error = %v, want a wrapped store failure", err)
	}
}

func TestStarterSuggestEmptyHistoryFallback(t *testing.T) {
	completer := &mockCompleter{
		completeFunc: func(context.Context, string, string, int) (string, error) {
			t.Error("generation should not run without any transcripts")
			return "", nil
		},
	}
	svc := NewStarterService(&mockStore{}, completer, 0)

	got, err := svc.Suggest(context.Background(), "user-1", StarterRequest{GroupID: "group-1", UserUID: "user-1"})
	if err != nil {
		t.Fatalf("Suggest() unexpected error: %v", err)
	}
	if !reflect.DeepEqual(got, fallbackStarters[:]) {
		t.Errorf("Suggest() = %v, want the fallback pair", got)
	}
}

func TestStarterSuggestRetrievalFailureFallback(t *testing.T) {
	store := &mockStore{
		recentGroupTranscriptsFunc: func(context.Context, string, string, bool, int) ([]storage.TranscriptSample, error) {
			return nil, errors.New("db down")
		},
	}
	svc := NewStarterService(store, &mockCompleter{}, 0)

	got, err := svc.Suggest(context.Background(), "user-1", StarterRequest{GroupID: "group-1", UserUID: "user-1"})
	if err != nil {
		t.Fatalf("Suggest() should degrade on retrieval failure, got %v", err)
	}
	if !reflect.DeepEqual(got, fallbackStarters[:]) {
		t.Errorf("Suggest() = %v, want the fallback pair", got)
	}
}

func TestStarterSuggestGenerationFailureFallback(t *testing.T) {
	store := &mockStore{
		recentGroupTranscriptsFunc: func(context.Context, string, string, bool, int) ([]storage.TranscriptSample, error) {
			return []storage.TranscriptSample{{UserName: "Priya", Transcript: "I baked bread"}}, nil
		},
	}
	completer := &mockCompleter{
		completeFunc: func(context.Context, string, string, int) (string, error) {
			return "", errors.New("rate limited")
		},
	}
	svc := NewStarterService(store, completer, 0)

	got, err := svc.Suggest(context.Background(), "user-1", StarterRequest{GroupID: "group-1", UserUID: "user-1"})
	if err != nil {
		t.Fatalf("Suggest() should degrade on generation failure, got %v", err)
	}
	if !reflect.DeepEqual(got, fallbackStarters[:]) {
		t.Errorf("Suggest() = %v, want the fallback pair", got)
	}
}

func TestStarterSuggestTooFewQuestionsFallback(t *testing.T) {
	store := &mockStore{
		recentGroupTranscriptsFunc: func(context.Context, string, string, bool, int) ([]storage.TranscriptSample, error) {
			return []storage.TranscriptSample{{Transcript: "I baked bread"}}, nil
		},
	}
	completer := &mockCompleter{
		completeFunc: func(context.Context, string, string, int) (string, error) {
			return `["Only one question?"]`, nil
		},
	}
	svc := NewStarterService(store, completer, 0)

	got, err := svc.Suggest(context.Background(), "user-1", StarterRequest{GroupID: "group-1", UserUID: "user-1"})
	if err != nil {
		t.Fatalf("Suggest() unexpected error: %v", err)
	}
	if !reflect.DeepEqual(got, fallbackStarters[:]) {
		t.Errorf("Suggest() = %v, want the fallback pair", got)
	}
}

func TestStarterSuggestReturnsExactlyTwo(t *testing.T) {
	store := &mockStore{
		recentGroupTranscriptsFunc: func(context.Context, string, string, bool, int) ([]storage.TranscriptSample, error) {
			return []storage.TranscriptSample{{UserName: "Priya", Transcript: "I baked bread"}}, nil
		},
	}
	completer := &mockCompleter{
		completeFunc: func(context.Context, string, string, int) (string, error) {
			return `["What did everyone bake this week?", "Best bite so far?", "A third question"]`, nil
		},
	}
	svc := NewStarterService(store, completer, 0)

	got, err := svc.Suggest(context.Background(), "user-1", StarterRequest{GroupID: "group-1", UserUID: "user-1"})
	if err != nil {
		t.Fatalf("Suggest() unexpected error: %v", err)
	}
	want := []string{"What did everyone bake this week?", "Best bite so far?"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Suggest() = %v, want %v", got, want)
	}
}

func TestStarterSuggestSampleLimits(t *testing.T) {
	tests := []struct {
		name       string
		limitUser  int
		limitGroup int
		wantOwn    int
		wantGroup  int
	}{
		{"defaults", 0, 0, 3, 5},
		{"clamped to max", 99, 2, 10, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			limits := map[bool]int{}
			store := &mockStore{
				recentGroupTranscriptsFunc: func(_ context.Context, _ string, _ string, own bool, limit int) ([]storage.TranscriptSample, error) {
					limits[own] = limit
					return nil, nil
				},
			}
			svc := NewStarterService(store, &mockCompleter{}, 0)

			if _, err := svc.Suggest(context.Background(), "user-1", StarterRequest{
				GroupID:    "group-1",
				UserUID:    "user-1",
				LimitUser:  tt.limitUser,
				LimitGroup: tt.limitGroup,
			}); err != nil {
				t.Fatalf("Suggest() unexpected error: %v", err)
			}

			if limits[true] != tt.wantOwn {
				t.Errorf("own transcript limit = %d, want %d", limits[true], tt.wantOwn)
			}
			if limits[false] != tt.wantGroup {
				t.Errorf("group transcript limit = %d, want %d", limits[false], tt.wantGroup)
			}
		})
	}
}

func TestStarterSuggestThrottle(t *testing.T) {
	svc := NewStarterService(&mockStore{}, &mockCompleter{}, time.Minute)
	req := StarterRequest{GroupID: "group-1", UserUID: "user-1"}

	if _, err := svc.Suggest(context.Background(), "user-1", req); err != nil {
		t.Fatalf("first Suggest() unexpected error: %v", err)
	}
	if _, err := svc.Suggest(context.Background(), "user-1", req); !errors.Is(err, ErrThrottled) {
		t.Errorf("second Suggest() error = %v, want ErrThrottled", err)
	}

	// The throttle is keyed per user and group.
	other := StarterRequest{GroupID: "group-2", UserUID: "user-1"}
	if _, err := svc.Suggest(context.Background(), "user-1", other); err != nil {
		t.Errorf("Suggest() for another group unexpected error: %v", err)
	}
}

func TestStarterSuggestThrottleDisabled(t *testing.T) {
	svc := NewStarterService(&mockStore{}, &mockCompleter{}, 0)
	req := StarterRequest{GroupID: "group-1", UserUID: "user-1"}

	for i := 0; i < 2; i++ {
		if _, err := svc.Suggest(context.Background(), "user-1", req); err != nil {
			t.Fatalf("Suggest() call %d unexpected error: %v", i+1, err)
		}
	}
}

func TestClampSampleLimit(t *testing.T) {
	tests := []struct {
		in       int
		fallback int
		want     int
	}{
		{0, 3, 3},
		{-1, 5, 5},
		{11, 3, 10},
		{4, 3, 4},
	}
	for _, tt := range tests {
		if got := clampSampleLimit(tt.in, tt.fallback); got != tt.want {
			t.Errorf("clampSampleLimit(%d, %d) = %d, want %d", tt.in, tt.fallback, got, tt.want)
		}
	}
}

func TestBuildStarterPrompt(t *testing.T) {
	own := []storage.TranscriptSample{{UserName: "Priya", Transcript: "I baked bread"}}
	others := []storage.TranscriptSample{{UserName: "", Transcript: strings.Repeat("k", 250)}}

	prompt := buildStarterPrompt(own, others)

	if !strings.Contains(prompt, "The requesting user's recent posts:") {
		t.Errorf("prompt missing own-posts section:\n%s", prompt)
	}
	if !strings.Contains(prompt, "- I baked bread") {
		t.Errorf("prompt missing own transcript:\n%s", prompt)
	}
	if !strings.Contains(prompt, "- A member: ") {
		t.Errorf("prompt missing name fallback:\n%s", prompt)
	}
	if !strings.Contains(prompt, strings.Repeat("k", 200)+"...") {
		t.Errorf("long transcripts should be truncated at 200 runes:\n%s", prompt)
	}
}
