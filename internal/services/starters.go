package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"wafflebrain/internal/storage"
)

var (
	// ErrNotGroupMember maps to 403.
	ErrNotGroupMember = errors.New("user is not a member of the group")
	// ErrThrottled maps to 429.
	ErrThrottled = errors.New("conversation starters requested too recently")
	// ErrIdentityMismatch maps to 403.
	ErrIdentityMismatch = errors.New("request user does not match the authenticated user")
)

const (
	defaultStarterOwnLimit   = 3
	defaultStarterGroupLimit = 5
	maxStarterSampleLimit    = 10
	starterCount             = 2
	starterMaxTokens         = 150
)

const starterSystemPrompt = `You spark conversation in a friends' video diary group. Based on what members have been posting, suggest questions that would get people recording again. Reply with a JSON array of exactly 2 short question strings and nothing else.`

var fallbackStarters = [starterCount]string{
	"What was the highlight of everyone's week?",
	"Any plans you are looking forward to? Share a waffle about it!",
}

type StarterRequest struct {
	GroupID    string `json:"group_id"`
	UserUID    string `json:"user_uid"`
	LimitUser  int    `json:"limit_user,omitempty"`
	LimitGroup int    `json:"limit_group,omitempty"`
}

// StarterService suggests two conversation-starter questions for a group.
type StarterService struct {
	store     storage.Store
	completer Completer
	throttle  *gocache.Cache // nil when throttling is disabled
}

// NewStarterService builds the service. A zero throttleTTL disables
// per-user-per-group throttling entirely.
func NewStarterService(store storage.Store, completer Completer, throttleTTL time.Duration) *StarterService {
	s := &StarterService{store: store, completer: completer}
	if throttleTTL > 0 {
		s.throttle = gocache.New(throttleTTL, 10*time.Minute)
	}
	return s
}

func clampSampleLimit(n, fallback int) int {
	if n <= 0 {
		return fallback
	}
	if n > maxStarterSampleLimit {
		return maxStarterSampleLimit
	}
	return n
}

// Suggest returns exactly 2 starter questions. Retrieval or generation
// trouble degrades to a fixed pair; only authorization problems error.
func (s *StarterService) Suggest(ctx context.Context, callerID string, req StarterRequest) ([]string, error) {
	if req.UserUID != callerID {
		return nil, ErrIdentityMismatch
	}

	member, err := s.store.IsGroupMember(ctx, req.GroupID, callerID)
	if err != nil {
		return nil, fmt.Errorf("failed to check group membership: %w", err)
	}
	if !member {
		return nil, ErrNotGroupMember
	}

	if s.throttle != nil {
		key := callerID + "|" + req.GroupID
		if _, found := s.throttle.Get(key); found {
			return nil, ErrThrottled
		}
		s.throttle.SetDefault(key, time.Now())
	}

	ownLimit := clampSampleLimit(req.LimitUser, defaultStarterOwnLimit)
	groupLimit := clampSampleLimit(req.LimitGroup, defaultStarterGroupLimit)

	own, err := s.store.RecentGroupTranscripts(ctx, req.GroupID, callerID, true, ownLimit)
	if err != nil {
		slog.Warn("own transcript lookup failed", "group_id", req.GroupID, "error", err)
	}
	others, err := s.store.RecentGroupTranscripts(ctx, req.GroupID, callerID, false, groupLimit)
	if err != nil {
		slog.Warn("group transcript lookup failed", "group_id", req.GroupID, "error", err)
	}

	if len(own) == 0 && len(others) == 0 {
		return fallbackStarters[:], nil
	}

	content, err := s.completer.Complete(ctx, starterSystemPrompt, buildStarterPrompt(own, others), starterMaxTokens)
	if err != nil {
		slog.Warn("starter generation failed", "group_id", req.GroupID, "error", err)
		return fallbackStarters[:], nil
	}

	starters := extractStringArray(content)
	if len(starters) < starterCount {
		return fallbackStarters[:], nil
	}
	return starters[:starterCount], nil
}

func buildStarterPrompt(own, others []storage.TranscriptSample) string {
	var sb strings.Builder
	if len(own) > 0 {
		sb.WriteString("The requesting user's recent posts:\n")
		for _, t := range own {
			fmt.Fprintf(&sb, "- %s\n", truncateRunes(t.Transcript, 200))
		}
	}
	if len(others) > 0 {
		sb.WriteString("\nOther members' recent posts:\n")
		for _, t := range others {
			name := t.UserName
			if name == "" {
				name = "A member"
			}
			fmt.Fprintf(&sb, "- %s: %s\n", name, truncateRunes(t.Transcript, 200))
		}
	}
	sb.WriteString("\nReply with the JSON array of 2 questions now.")
	return sb.String()
}
