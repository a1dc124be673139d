package storage

import (
	"context"
	"time"
)

// VideoMetadata is the per-video intelligence row, keyed by content locator.
// Created and updated only by the ingestion pipeline; everything else reads.
// WaffleID is the explicit link to the owning post, resolved during
// ingestion; joins prefer it over locator string equality, which breaks when
// locators get re-signed.
type VideoMetadata struct {
	ContentLocator   string
	WaffleID         *string
	Transcript       string
	Embedding        []float32
	AIRecap          *string
	ThumbnailLocator *string
	DurationSeconds  *int
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Waffle is a shared post. The rows are owned by the main app; this service
// reads them and only touches thumbnail_url/duration_seconds after a
// successful thumbnail upload.
type Waffle struct {
	ID              string
	UserID          string
	GroupID         string
	ContentLocator  string
	Caption         string
	ContentKind     string
	ThumbnailURL    string
	DurationSeconds int
	CreatedAt       time.Time
}

// SearchQuery carries everything the filtered vector query needs. Threshold
// is a cosine distance ceiling; rows at or beyond it are excluded.
type SearchQuery struct {
	CallerID  string
	Embedding []float32
	GroupIDs  []string
	UserIDs   []string
	From      *time.Time
	To        *time.Time
	Kinds     []string
	Threshold float64
	Limit     int
	Offset    int
}

// SearchResult is one raw row from the vector query, pre-enrichment.
// Optional columns are coalesced to zero values; the search service fills in
// display defaults.
type SearchResult struct {
	WaffleID         string
	UserID           string
	UserName         string
	GroupID          string
	GroupName        string
	ContentLocator   string
	Caption          string
	ContentKind      string
	Transcript       string
	AIRecap          string
	ThumbnailLocator string
	DurationSeconds  int
	CreatedAt        time.Time
	Distance         float64
}

// CaptionScope bounds the nearest-transcript retrieval for caption
// suggestions: a whole group's posts, or just the caller's own.
type CaptionScope struct {
	GroupID string
	UserID  string
}

// CaptionNeighbor is a nearby transcript and the caption its author chose.
type CaptionNeighbor struct {
	Transcript string
	Caption    string
	Distance   float64
}

// TranscriptSample is a recent transcript with its author's display name.
type TranscriptSample struct {
	UserName   string
	Transcript string
	CreatedAt  time.Time
}

// ActivityItem is one post inside a catch-up window. Text columns are
// coalesced to empty strings; the caller picks whichever is usable.
type ActivityItem struct {
	UserName   string
	Caption    string
	AIRecap    string
	Transcript string
	CreatedAt  time.Time
}

// MetadataStats feeds the periodic gauges.
type MetadataStats struct {
	TotalRows        int
	MissingRecap     int
	MissingThumbnail int
}

// Store is the persistence surface for the service.
type Store interface {
	// Ingestion.
	UpsertVideoMetadata(ctx context.Context, meta *VideoMetadata) error
	GetVideoMetadata(ctx context.Context, contentLocator string) (*VideoMetadata, error)
	FindWaffleByLocator(ctx context.Context, locator string) (*Waffle, error)
	UpdateWaffleMedia(ctx context.Context, waffleID, thumbnailURL string, durationSeconds int) error

	// Membership and reference data.
	IsGroupMember(ctx context.Context, groupID, userID string) (bool, error)
	GroupNames(ctx context.Context, userID string, limit int) ([]string, error)

	// Search.
	SearchWaffles(ctx context.Context, q SearchQuery) ([]SearchResult, error)
	CountSearchMatches(ctx context.Context, q SearchQuery) (int, error)
	CountScopedVideos(ctx context.Context, q SearchQuery) (int, error)
	LogSearch(ctx context.Context, userID, query string, resultCount int) error

	// Retrieval for the generation mini-pipelines.
	RecentCaptions(ctx context.Context, userID, groupID string, limit int) ([]string, error)
	NearestCaptioned(ctx context.Context, embedding []float32, scope CaptionScope, k int) ([]CaptionNeighbor, error)
	RecentGroupTranscripts(ctx context.Context, groupID, userID string, own bool, limit int) ([]TranscriptSample, error)
	GroupActivity(ctx context.Context, groupID string, since time.Time, limit int) ([]ActivityItem, error)

	// Operational.
	MetadataStats(ctx context.Context) (*MetadataStats, error)
	Ping(ctx context.Context) error
	Close() error
}
