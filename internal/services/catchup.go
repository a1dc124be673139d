package services

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"wafflebrain/internal/metrics"
	"wafflebrain/internal/storage"
)

const (
	minCatchupDays     = 1
	maxCatchupDays     = 30
	defaultCatchupDays = 10

	catchupActivityLimit = 100
	catchupTextRunes     = 200
	catchupMaxTokens     = 350
)

const catchupSystemPrompt = `You summarize recent activity in a friend group's video diary. Write a warm, conversational summary of 4 to 6 sentences that refers to members by name and highlights what they shared. Do not invent details that are not in the posts.`

type CatchupResponse struct {
	Summary     string `json:"summary"`
	Cached      bool   `json:"cached"`
	WaffleCount int    `json:"waffleCount"`
	Days        int    `json:"days"`
}

type cachedCatchup struct {
	summary     string
	waffleCount int
}

// CatchupService produces a what-you-missed summary per (group, window),
// cached for hours because group history only grows slowly.
type CatchupService struct {
	store     storage.Store
	completer Completer
	cache     *gocache.Cache
	now       func() time.Time
}

func NewCatchupService(store storage.Store, completer Completer, ttl time.Duration) *CatchupService {
	return &CatchupService{
		store:     store,
		completer: completer,
		cache:     gocache.New(ttl, 30*time.Minute),
		now:       time.Now,
	}
}

func clampDays(days int) int {
	if days == 0 {
		return defaultCatchupDays
	}
	if days < minCatchupDays {
		return minCatchupDays
	}
	if days > maxCatchupDays {
		return maxCatchupDays
	}
	return days
}

func noActivityMessage(days int) string {
	return fmt.Sprintf("No new waffles in the last %d days. Time to break the silence!", days)
}

func fallbackSummary(count, days int) string {
	return fmt.Sprintf("Your group shared %d waffles in the last %d days. Jump back in to see what everyone has been up to!", count, days)
}

// CatchUp returns the summary for a group window. Membership is checked
// before the cache is touched: non-members get the no-activity response and
// never read or write cache entries.
func (s *CatchupService) CatchUp(ctx context.Context, callerID, groupID string, days int) (*CatchupResponse, error) {
	days = clampDays(days)

	member, err := s.store.IsGroupMember(ctx, groupID, callerID)
	if err != nil {
		return nil, fmt.Errorf("failed to check group membership: %w", err)
	}
	if !member {
		return &CatchupResponse{
			Summary:     noActivityMessage(days),
			Cached:      false,
			WaffleCount: 0,
			Days:        days,
		}, nil
	}

	key := fmt.Sprintf("%s|%d", groupID, days)
	if cached, ok := s.cache.Get(key); ok {
		metrics.CacheLookups.WithLabelValues("catchup", "hit").Inc()
		entry := cached.(cachedCatchup)
		return &CatchupResponse{
			Summary:     entry.summary,
			Cached:      true,
			WaffleCount: entry.waffleCount,
			Days:        days,
		}, nil
	}
	metrics.CacheLookups.WithLabelValues("catchup", "miss").Inc()

	since := s.now().AddDate(0, 0, -days)
	items, err := s.store.GroupActivity(ctx, groupID, since, catchupActivityLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch group activity: %w", err)
	}

	if len(items) == 0 {
		summary := noActivityMessage(days)
		s.cache.Set(key, cachedCatchup{summary: summary}, gocache.DefaultExpiration)
		return &CatchupResponse{
			Summary:     summary,
			Cached:      false,
			WaffleCount: 0,
			Days:        days,
		}, nil
	}

	summary, err := s.completer.Complete(ctx, catchupSystemPrompt, buildCatchupPrompt(items, days), catchupMaxTokens)
	if err != nil {
		// Degrade to a deterministic summary and leave the cache empty so the
		// next request retries generation.
		slog.Warn("catchup generation failed", "group_id", groupID, "error", err)
		return &CatchupResponse{
			Summary:     fallbackSummary(len(items), days),
			Cached:      false,
			WaffleCount: len(items),
			Days:        days,
		}, nil
	}
	summary = strings.TrimSpace(summary)

	s.cache.Set(key, cachedCatchup{summary: summary, waffleCount: len(items)}, gocache.DefaultExpiration)
	return &CatchupResponse{
		Summary:     summary,
		Cached:      false,
		WaffleCount: len(items),
		Days:        days,
	}, nil
}

func buildCatchupPrompt(items []storage.ActivityItem, days int) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Posts from the last %d days:\n\n", days)
	for _, item := range items {
		name := item.UserName
		if name == "" {
			name = "Someone"
		}
		text := shortestNonEmpty(item.Caption, item.AIRecap, item.Transcript)
		if text == "" {
			text = "shared a waffle"
		}
		fmt.Fprintf(&sb, "- %s (%s): %s\n", name, item.CreatedAt.Format("Jan 2"), truncateRunes(text, catchupTextRunes))
	}
	sb.WriteString("\nWrite the catch-up summary now.")
	return sb.String()
}
