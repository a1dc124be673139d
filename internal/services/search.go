package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"wafflebrain/internal/metrics"
	"wafflebrain/internal/storage"
)

// ErrQueryTooShort rejects queries under two characters.
var ErrQueryTooShort = errors.New("query must be at least 2 characters")

const (
	// similarityThreshold is a cosine distance ceiling. Out-of-range values
	// are clamped, never rejected.
	minSimilarityThreshold     = 0.10
	maxSimilarityThreshold     = 1.00
	defaultSimilarityThreshold = 0.80

	defaultSearchLimit = 20
	maxSearchLimit     = 50
	maxSuggestions     = 3

	// Display defaults for rows whose best-effort ingestion steps failed.
	placeholderThumbnail   = "https://storage.googleapis.com/waffle-media-assets/defaults/video_thumb.png"
	defaultDisplayDuration = 30

	excerptRunes = 200
)

// Processing status distinguishes why a result page is empty.
const (
	ProcessingCompleted         = "completed"
	ProcessingNoVideos          = "no_videos"
	ProcessingThresholdFiltered = "threshold_filtered"
)

type SearchRequest struct {
	Query               string         `json:"query"`
	Filters             *SearchFilters `json:"filters,omitempty"`
	Limit               int            `json:"limit,omitempty"`
	Offset              int            `json:"offset,omitempty"`
	SimilarityThreshold float64        `json:"similarityThreshold,omitempty"`
}

type SearchFilters struct {
	GroupIDs  []string   `json:"groupIds,omitempty"`
	UserIDs   []string   `json:"userIds,omitempty"`
	DateRange *DateRange `json:"dateRange,omitempty"`
	Kind      string     `json:"kind,omitempty"`
}

type DateRange struct {
	From *time.Time `json:"from,omitempty"`
	To   *time.Time `json:"to,omitempty"`
}

type SearchResponse struct {
	Results          []WaffleResult `json:"results"`
	TotalCount       int            `json:"totalCount"`
	Suggestions      []string       `json:"suggestions"`
	ProcessingStatus string         `json:"processingStatus"`
	SearchID         string         `json:"searchId"`
	AIAnswer         AIAnswerState  `json:"aiAnswer"`
}

type AIAnswerState struct {
	Status string `json:"status"`
	Text   string `json:"text,omitempty"`
}

type WaffleResult struct {
	WaffleID        string    `json:"waffleId"`
	UserID          string    `json:"userId"`
	UserName        string    `json:"userName"`
	GroupID         string    `json:"groupId"`
	GroupName       string    `json:"groupName"`
	ContentURL      string    `json:"contentUrl"`
	Caption         string    `json:"caption,omitempty"`
	ContentKind     string    `json:"contentKind"`
	Excerpt         string    `json:"excerpt"`
	AIRecap         string    `json:"aiRecap,omitempty"`
	ThumbnailURL    string    `json:"thumbnailUrl"`
	DurationSeconds int       `json:"durationSeconds"`
	CreatedAt       time.Time `json:"createdAt"`
	Similarity      float64   `json:"similarity"`
}

// Ordered by specificity: "last 3 days" must win before "last week" style
// phrases get a chance to shadow it.
var temporalPatterns = []struct {
	re   *regexp.Regexp
	days int // 0 means read the capture group
}{
	{re: regexp.MustCompile(`(?i)\b(?:last|past)\s+(\d{1,3})\s+days?\b`), days: 0},
	{re: regexp.MustCompile(`(?i)\btoday\b`), days: 1},
	{re: regexp.MustCompile(`(?i)\byesterday\b`), days: 2},
	{re: regexp.MustCompile(`(?i)\b(?:last|past|this)\s+week\b`), days: 7},
	{re: regexp.MustCompile(`(?i)\b(?:last|past|this)\s+month\b`), days: 30},
}

// extractTemporalWindow strips the first temporal phrase from the query and
// converts it into a lookback in days. ok is false when no phrase matched.
func extractTemporalWindow(query string) (cleaned string, days int, ok bool) {
	for _, p := range temporalPatterns {
		loc := p.re.FindStringSubmatchIndex(query)
		if loc == nil {
			continue
		}
		days = p.days
		if days == 0 {
			n, err := strconv.Atoi(query[loc[2]:loc[3]])
			if err != nil || n <= 0 {
				continue
			}
			days = n
		}
		cleaned = strings.Join(strings.Fields(query[:loc[0]]+" "+query[loc[1]:]), " ")
		return cleaned, days, true
	}
	return query, 0, false
}

func clampThreshold(t float64) float64 {
	if t == 0 {
		return defaultSimilarityThreshold
	}
	if t < minSimilarityThreshold {
		return minSimilarityThreshold
	}
	if t > maxSimilarityThreshold {
		return maxSimilarityThreshold
	}
	return t
}

func clampLimit(l int) int {
	if l <= 0 {
		return defaultSearchLimit
	}
	if l > maxSearchLimit {
		return maxSearchLimit
	}
	return l
}

// SearchService runs the synchronous phase of a search and hands the result
// set to the answer broker.
type SearchService struct {
	store    storage.Store
	embedder Embedder
	broker   *AnswerBroker
	now      func() time.Time
}

func NewSearchService(store storage.Store, embedder Embedder, broker *AnswerBroker) *SearchService {
	return &SearchService{
		store:    store,
		embedder: embedder,
		broker:   broker,
		now:      time.Now,
	}
}

func (s *SearchService) Search(ctx context.Context, callerID string, req SearchRequest) (*SearchResponse, error) {
	start := time.Now()
	resp, err := s.search(ctx, callerID, req)

	status := "success"
	if err != nil {
		status = "error"
	}
	metrics.SearchesTotal.WithLabelValues(status).Inc()
	metrics.SearchDuration.Observe(time.Since(start).Seconds())

	return resp, err
}

func (s *SearchService) search(ctx context.Context, callerID string, req SearchRequest) (*SearchResponse, error) {
	query := strings.TrimSpace(req.Query)
	if len([]rune(query)) < 2 {
		return nil, ErrQueryTooShort
	}

	cleaned, lookbackDays, hasWindow := extractTemporalWindow(query)
	embedText := cleaned
	if strings.TrimSpace(embedText) == "" {
		// The query was nothing but a temporal phrase; embed it as written.
		embedText = query
		cleaned = query
	}

	sq := storage.SearchQuery{
		CallerID:  callerID,
		Threshold: clampThreshold(req.SimilarityThreshold),
		Limit:     clampLimit(req.Limit),
	}
	if req.Offset > 0 {
		sq.Offset = req.Offset
	}
	if req.Filters != nil {
		sq.GroupIDs = req.Filters.GroupIDs
		sq.UserIDs = req.Filters.UserIDs
		if req.Filters.Kind != "" {
			sq.Kinds = []string{req.Filters.Kind}
		}
		if req.Filters.DateRange != nil {
			sq.From = req.Filters.DateRange.From
			sq.To = req.Filters.DateRange.To
		}
	}
	if hasWindow {
		// Intersect with an explicit dateRange: the tighter lower bound wins.
		windowStart := s.now().AddDate(0, 0, -lookbackDays)
		if sq.From == nil || windowStart.After(*sq.From) {
			sq.From = &windowStart
		}
	}

	embedding, err := s.embedder.Embed(ctx, embedText)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}
	sq.Embedding = embedding

	rows, err := s.store.SearchWaffles(ctx, sq)
	if err != nil {
		return nil, fmt.Errorf("search query failed: %w", err)
	}

	totalCount, err := s.store.CountSearchMatches(ctx, sq)
	if err != nil {
		slog.Warn("search count failed, falling back to page length", "error", err)
		totalCount = len(rows)
	}

	processingStatus := ProcessingCompleted
	if len(rows) == 0 {
		corpus, err := s.store.CountScopedVideos(ctx, sq)
		switch {
		case err != nil:
			slog.Warn("corpus count failed", "error", err)
			processingStatus = ProcessingNoVideos
		case corpus > 0:
			processingStatus = ProcessingThresholdFiltered
		default:
			processingStatus = ProcessingNoVideos
		}
	}

	results := make([]WaffleResult, 0, len(rows))
	for _, r := range rows {
		results = append(results, enrichResult(r))
	}

	suggestions := make([]string, 0, maxSuggestions)
	names, err := s.store.GroupNames(ctx, callerID, maxSuggestions)
	if err != nil {
		slog.Warn("suggestion lookup failed", "error", err)
	} else {
		for _, name := range names {
			suggestions = append(suggestions, fmt.Sprintf("%s in %s", cleaned, name))
		}
	}

	if err := s.store.LogSearch(ctx, callerID, query, len(rows)); err != nil {
		slog.Warn("failed to log search history", "error", err)
	}

	searchID := uuid.New().String()
	s.broker.StartTask(searchID, cleaned, rows)

	return &SearchResponse{
		Results:          results,
		TotalCount:       totalCount,
		Suggestions:      suggestions,
		ProcessingStatus: processingStatus,
		SearchID:         searchID,
		AIAnswer:         AIAnswerState{Status: string(StatusPending)},
	}, nil
}

func enrichResult(r storage.SearchResult) WaffleResult {
	thumbnail := r.ThumbnailLocator
	if thumbnail == "" {
		thumbnail = placeholderThumbnail
	}
	duration := r.DurationSeconds
	if duration == 0 {
		duration = defaultDisplayDuration
	}

	return WaffleResult{
		WaffleID:        r.WaffleID,
		UserID:          r.UserID,
		UserName:        r.UserName,
		GroupID:         r.GroupID,
		GroupName:       r.GroupName,
		ContentURL:      r.ContentLocator,
		Caption:         r.Caption,
		ContentKind:     r.ContentKind,
		Excerpt:         truncateRunes(r.Transcript, excerptRunes),
		AIRecap:         r.AIRecap,
		ThumbnailURL:    thumbnail,
		DurationSeconds: duration,
		CreatedAt:       r.CreatedAt,
		Similarity:      1 - r.Distance,
	}
}
