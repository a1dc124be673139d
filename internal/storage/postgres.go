package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/lib/pq"
	pgvector "github.com/pgvector/pgvector-go"

	"wafflebrain/internal/metrics"
)

// PostgresStore implements Store over Postgres with the pgvector extension.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore opens the pool and bootstraps the schema. Tables are
// created IF NOT EXISTS so running against an existing app database is a
// no-op for collaborator-owned tables.
func NewPostgresStore(databaseURL string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	store := &PostgresStore{db: db}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

func (s *PostgresStore) initSchema() error {
	statements := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		`CREATE TABLE IF NOT EXISTS video_metadata (
			content_locator TEXT PRIMARY KEY,
			waffle_id TEXT,
			transcript TEXT NOT NULL,
			embedding vector(1536),
			ai_recap TEXT,
			thumbnail_locator TEXT,
			duration_seconds INTEGER,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS waffles (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			group_id TEXT NOT NULL,
			content_locator TEXT,
			caption TEXT,
			content_kind TEXT NOT NULL DEFAULT 'video',
			thumbnail_url TEXT,
			duration_seconds INTEGER,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS groups (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE TABLE IF NOT EXISTS users (
			id TEXT PRIMARY KEY,
			display_name TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE TABLE IF NOT EXISTS group_members (
			group_id TEXT NOT NULL,
			user_id TEXT NOT NULL,
			joined_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			PRIMARY KEY (group_id, user_id)
		)`,
		`CREATE TABLE IF NOT EXISTS search_history (
			id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			user_id TEXT NOT NULL,
			query TEXT NOT NULL,
			result_count INTEGER NOT NULL DEFAULT 0,
			searched_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
	}

	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("schema statement failed: %w", err)
		}
	}

	// Databases bootstrapped before the waffle_id column existed still work;
	// the column is added in place and backfilled by re-ingestion.
	if _, err := s.db.Exec(`ALTER TABLE video_metadata ADD COLUMN IF NOT EXISTS waffle_id TEXT`); err != nil {
		slog.Warn("failed to add waffle_id column", "error", err)
	}

	// Index creation is best-effort: ivfflat needs data to build well and can
	// fail on fresh databases or restricted roles.
	indexes := []string{
		`CREATE INDEX IF NOT EXISTS idx_video_metadata_embedding ON video_metadata
			USING ivfflat (embedding vector_cosine_ops) WITH (lists = 100)`,
		`CREATE INDEX IF NOT EXISTS idx_video_metadata_waffle ON video_metadata (waffle_id)`,
		`CREATE INDEX IF NOT EXISTS idx_waffles_locator ON waffles (content_locator)`,
		`CREATE INDEX IF NOT EXISTS idx_waffles_group_created ON waffles (group_id, created_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_waffles_user_created ON waffles (user_id, created_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_group_members_user ON group_members (user_id)`,
		`CREATE INDEX IF NOT EXISTS idx_search_history_user ON search_history (user_id, searched_at DESC)`,
	}

	for _, idx := range indexes {
		if _, err := s.db.Exec(idx); err != nil {
			slog.Warn("failed to create index", "error", err)
		}
	}

	return nil
}

// UpsertVideoMetadata inserts or fully replaces the row for a content
// locator. Re-ingestion overwrites; there is never more than one row per
// locator.
func (s *PostgresStore) UpsertVideoMetadata(ctx context.Context, meta *VideoMetadata) error {
	// COALESCE keeps an established waffle link when a re-ingestion could not
	// resolve the owning post.
	query := `
		INSERT INTO video_metadata
			(content_locator, waffle_id, transcript, embedding, ai_recap, thumbnail_locator, duration_seconds, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW(), NOW())
		ON CONFLICT (content_locator) DO UPDATE SET
			waffle_id = COALESCE(EXCLUDED.waffle_id, video_metadata.waffle_id),
			transcript = EXCLUDED.transcript,
			embedding = EXCLUDED.embedding,
			ai_recap = EXCLUDED.ai_recap,
			thumbnail_locator = EXCLUDED.thumbnail_locator,
			duration_seconds = EXCLUDED.duration_seconds,
			updated_at = NOW()`

	_, err := s.db.ExecContext(ctx, query,
		meta.ContentLocator,
		meta.WaffleID,
		meta.Transcript,
		pgvector.NewVector(meta.Embedding),
		meta.AIRecap,
		meta.ThumbnailLocator,
		meta.DurationSeconds,
	)
	if err != nil {
		metrics.DatabaseOperations.WithLabelValues("upsert_video_metadata", "error").Inc()
		return fmt.Errorf("failed to upsert video metadata: %w", err)
	}

	metrics.DatabaseOperations.WithLabelValues("upsert_video_metadata", "success").Inc()
	return nil
}

// GetVideoMetadata returns the row for a locator, or nil if absent.
func (s *PostgresStore) GetVideoMetadata(ctx context.Context, contentLocator string) (*VideoMetadata, error) {
	query := `
		SELECT content_locator, waffle_id, transcript, embedding, ai_recap, thumbnail_locator, duration_seconds, created_at, updated_at
		FROM video_metadata
		WHERE content_locator = $1`

	var (
		meta VideoMetadata
		vec  pgvector.Vector
	)
	err := s.db.QueryRowContext(ctx, query, contentLocator).Scan(
		&meta.ContentLocator,
		&meta.WaffleID,
		&meta.Transcript,
		&vec,
		&meta.AIRecap,
		&meta.ThumbnailLocator,
		&meta.DurationSeconds,
		&meta.CreatedAt,
		&meta.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		metrics.DatabaseOperations.WithLabelValues("get_video_metadata", "error").Inc()
		return nil, fmt.Errorf("failed to get video metadata: %w", err)
	}

	meta.Embedding = vec.Slice()
	metrics.DatabaseOperations.WithLabelValues("get_video_metadata", "success").Inc()
	return &meta, nil
}

const waffleColumns = `w.id, w.user_id, w.group_id, COALESCE(w.content_locator, ''),
	COALESCE(w.caption, ''), COALESCE(w.content_kind, ''), COALESCE(w.thumbnail_url, ''),
	COALESCE(w.duration_seconds, 0), w.created_at`

func scanWaffle(row *sql.Row) (*Waffle, error) {
	var w Waffle
	err := row.Scan(
		&w.ID,
		&w.UserID,
		&w.GroupID,
		&w.ContentLocator,
		&w.Caption,
		&w.ContentKind,
		&w.ThumbnailURL,
		&w.DurationSeconds,
		&w.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &w, nil
}

// FindWaffleByLocator resolves the post that owns a storage path. The app
// stores locators in more than one format (bare path, full URL, signed URL),
// so an exact match is tried first and a containment match second. Returns
// nil when no post references the path.
func (s *PostgresStore) FindWaffleByLocator(ctx context.Context, locator string) (*Waffle, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+waffleColumns+` FROM waffles w WHERE w.content_locator = $1 ORDER BY w.created_at DESC LIMIT 1`,
		locator)
	w, err := scanWaffle(row)
	if err == nil {
		metrics.DatabaseOperations.WithLabelValues("find_waffle", "success").Inc()
		return w, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		metrics.DatabaseOperations.WithLabelValues("find_waffle", "error").Inc()
		return nil, fmt.Errorf("failed to find waffle by locator: %w", err)
	}

	row = s.db.QueryRowContext(ctx,
		`SELECT `+waffleColumns+` FROM waffles w WHERE w.content_locator LIKE '%' || $1 || '%' ORDER BY w.created_at DESC LIMIT 1`,
		locator)
	w, err = scanWaffle(row)
	if errors.Is(err, sql.ErrNoRows) {
		metrics.DatabaseOperations.WithLabelValues("find_waffle", "success").Inc()
		return nil, nil
	}
	if err != nil {
		metrics.DatabaseOperations.WithLabelValues("find_waffle", "error").Inc()
		return nil, fmt.Errorf("failed to find waffle by locator: %w", err)
	}

	metrics.DatabaseOperations.WithLabelValues("find_waffle", "success").Inc()
	return w, nil
}

// UpdateWaffleMedia sets the display thumbnail and duration after a
// successful thumbnail upload.
func (s *PostgresStore) UpdateWaffleMedia(ctx context.Context, waffleID, thumbnailURL string, durationSeconds int) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE waffles SET thumbnail_url = $2, duration_seconds = $3 WHERE id = $1`,
		waffleID, thumbnailURL, durationSeconds)
	if err != nil {
		metrics.DatabaseOperations.WithLabelValues("update_waffle_media", "error").Inc()
		return fmt.Errorf("failed to update waffle media: %w", err)
	}

	metrics.DatabaseOperations.WithLabelValues("update_waffle_media", "success").Inc()
	return nil
}

func (s *PostgresStore) IsGroupMember(ctx context.Context, groupID, userID string) (bool, error) {
	var member bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM group_members WHERE group_id = $1 AND user_id = $2)`,
		groupID, userID).Scan(&member)
	if err != nil {
		metrics.DatabaseOperations.WithLabelValues("is_group_member", "error").Inc()
		return false, fmt.Errorf("failed to check group membership: %w", err)
	}

	metrics.DatabaseOperations.WithLabelValues("is_group_member", "success").Inc()
	return member, nil
}

// GroupNames lists the names of the caller's groups, most recently joined
// first.
func (s *PostgresStore) GroupNames(ctx context.Context, userID string, limit int) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT g.name
		FROM groups g
		JOIN group_members m ON m.group_id = g.id
		WHERE m.user_id = $1 AND g.name <> ''
		ORDER BY m.joined_at DESC
		LIMIT $2`, userID, limit)
	if err != nil {
		metrics.DatabaseOperations.WithLabelValues("group_names", "error").Inc()
		return nil, fmt.Errorf("failed to list group names: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			metrics.DatabaseOperations.WithLabelValues("group_names", "error").Inc()
			return nil, fmt.Errorf("failed to scan group name: %w", err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		metrics.DatabaseOperations.WithLabelValues("group_names", "error").Inc()
		return nil, fmt.Errorf("failed to list group names: %w", err)
	}

	metrics.DatabaseOperations.WithLabelValues("group_names", "success").Inc()
	return names, nil
}

// metadataJoin links posts to their intelligence rows. The waffle_id set at
// ingestion is authoritative; locator equality only covers rows ingested
// before their post row existed, or before the column was introduced.
const metadataJoin = `(vm.waffle_id = w.id OR (vm.waffle_id IS NULL AND vm.content_locator = w.content_locator))`

const searchJoins = `
	FROM waffles w
	JOIN group_members m ON m.group_id = w.group_id AND m.user_id = $%d
	JOIN video_metadata vm ON ` + metadataJoin

// appendFilters adds the optional waffle-side predicates, returning the
// updated condition list, args, and next placeholder index.
func appendFilters(q SearchQuery, conds []string, args []interface{}, idx int) ([]string, []interface{}, int) {
	if len(q.GroupIDs) > 0 {
		conds = append(conds, fmt.Sprintf("w.group_id = ANY($%d)", idx))
		args = append(args, pq.Array(q.GroupIDs))
		idx++
	}
	if len(q.UserIDs) > 0 {
		conds = append(conds, fmt.Sprintf("w.user_id = ANY($%d)", idx))
		args = append(args, pq.Array(q.UserIDs))
		idx++
	}
	if q.From != nil {
		conds = append(conds, fmt.Sprintf("w.created_at >= $%d", idx))
		args = append(args, *q.From)
		idx++
	}
	if q.To != nil {
		conds = append(conds, fmt.Sprintf("w.created_at <= $%d", idx))
		args = append(args, *q.To)
		idx++
	}
	if len(q.Kinds) > 0 {
		conds = append(conds, fmt.Sprintf("w.content_kind = ANY($%d)", idx))
		args = append(args, pq.Array(q.Kinds))
		idx++
	}
	return conds, args, idx
}

// buildSearchSQL assembles the ranked vector query. $1 is always the query
// embedding and $2 the caller ID; everything after is filter-dependent.
func buildSearchSQL(q SearchQuery) (string, []interface{}) {
	conds := []string{"vm.embedding IS NOT NULL"}
	args := []interface{}{pgvector.NewVector(q.Embedding), q.CallerID}
	conds, args, idx := appendFilters(q, conds, args, 3)

	conds = append(conds, fmt.Sprintf("(vm.embedding <=> $1) < $%d", idx))
	args = append(args, q.Threshold)
	idx++

	query := `
	SELECT w.id, w.user_id, COALESCE(u.display_name, ''), w.group_id, COALESCE(g.name, ''),
		COALESCE(w.content_locator, ''), COALESCE(w.caption, ''), COALESCE(w.content_kind, ''),
		vm.transcript, COALESCE(vm.ai_recap, ''), COALESCE(vm.thumbnail_locator, ''),
		COALESCE(vm.duration_seconds, 0), w.created_at, (vm.embedding <=> $1) AS distance` +
		fmt.Sprintf(searchJoins, 2) + `
	LEFT JOIN users u ON u.id = w.user_id
	LEFT JOIN groups g ON g.id = w.group_id
	WHERE ` + strings.Join(conds, " AND ") +
		fmt.Sprintf(" ORDER BY distance ASC LIMIT $%d OFFSET $%d", idx, idx+1)

	args = append(args, q.Limit, q.Offset)
	return query, args
}

// buildCountSQL counts rows matching the same predicates as buildSearchSQL.
func buildCountSQL(q SearchQuery) (string, []interface{}) {
	conds := []string{"vm.embedding IS NOT NULL"}
	args := []interface{}{pgvector.NewVector(q.Embedding), q.CallerID}
	conds, args, idx := appendFilters(q, conds, args, 3)

	conds = append(conds, fmt.Sprintf("(vm.embedding <=> $1) < $%d", idx))
	args = append(args, q.Threshold)

	query := `SELECT COUNT(*)` + fmt.Sprintf(searchJoins, 2) + ` WHERE ` + strings.Join(conds, " AND ")
	return query, args
}

// buildCorpusCountSQL counts scoped videos ignoring the similarity threshold,
// which distinguishes an empty corpus from an over-strict threshold.
func buildCorpusCountSQL(q SearchQuery) (string, []interface{}) {
	conds := []string{"vm.embedding IS NOT NULL"}
	args := []interface{}{q.CallerID}
	conds, args, _ = appendFilters(q, conds, args, 2)

	query := `SELECT COUNT(*)` + fmt.Sprintf(searchJoins, 1) + ` WHERE ` + strings.Join(conds, " AND ")
	return query, args
}

// SearchWaffles runs the membership-scoped vector query and returns raw rows
// ordered by ascending cosine distance.
func (s *PostgresStore) SearchWaffles(ctx context.Context, q SearchQuery) ([]SearchResult, error) {
	query, args := buildSearchSQL(q)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		metrics.DatabaseOperations.WithLabelValues("search_waffles", "error").Inc()
		return nil, fmt.Errorf("failed to search waffles: %w", err)
	}
	defer rows.Close()

	var results []SearchResult
	for rows.Next() {
		var r SearchResult
		if err := rows.Scan(
			&r.WaffleID,
			&r.UserID,
			&r.UserName,
			&r.GroupID,
			&r.GroupName,
			&r.ContentLocator,
			&r.Caption,
			&r.ContentKind,
			&r.Transcript,
			&r.AIRecap,
			&r.ThumbnailLocator,
			&r.DurationSeconds,
			&r.CreatedAt,
			&r.Distance,
		); err != nil {
			metrics.DatabaseOperations.WithLabelValues("search_waffles", "error").Inc()
			return nil, fmt.Errorf("failed to scan search result: %w", err)
		}
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		metrics.DatabaseOperations.WithLabelValues("search_waffles", "error").Inc()
		return nil, fmt.Errorf("failed to search waffles: %w", err)
	}

	metrics.DatabaseOperations.WithLabelValues("search_waffles", "success").Inc()
	return results, nil
}

// CountSearchMatches returns the total match count for pagination.
func (s *PostgresStore) CountSearchMatches(ctx context.Context, q SearchQuery) (int, error) {
	query, args := buildCountSQL(q)

	var count int
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		metrics.DatabaseOperations.WithLabelValues("count_search_matches", "error").Inc()
		return 0, fmt.Errorf("failed to count search matches: %w", err)
	}

	metrics.DatabaseOperations.WithLabelValues("count_search_matches", "success").Inc()
	return count, nil
}

// CountScopedVideos returns how many embedded videos exist inside the
// caller's scope and filters, regardless of similarity.
func (s *PostgresStore) CountScopedVideos(ctx context.Context, q SearchQuery) (int, error) {
	query, args := buildCorpusCountSQL(q)

	var count int
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		metrics.DatabaseOperations.WithLabelValues("count_scoped_videos", "error").Inc()
		return 0, fmt.Errorf("failed to count scoped videos: %w", err)
	}

	metrics.DatabaseOperations.WithLabelValues("count_scoped_videos", "success").Inc()
	return count, nil
}

// LogSearch records a query in search_history.
func (s *PostgresStore) LogSearch(ctx context.Context, userID, query string, resultCount int) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO search_history (user_id, query, result_count) VALUES ($1, $2, $3)`,
		userID, query, resultCount)
	if err != nil {
		metrics.DatabaseOperations.WithLabelValues("log_search", "error").Inc()
		return fmt.Errorf("failed to log search: %w", err)
	}

	metrics.DatabaseOperations.WithLabelValues("log_search", "success").Inc()
	return nil
}

// RecentCaptions returns the user's most recent non-empty captions, scoped to
// one group when groupID is non-empty.
func (s *PostgresStore) RecentCaptions(ctx context.Context, userID, groupID string, limit int) ([]string, error) {
	query := `
		SELECT w.caption FROM waffles w
		WHERE w.user_id = $1 AND w.caption IS NOT NULL AND w.caption <> ''`
	args := []interface{}{userID}
	if groupID != "" {
		query += ` AND w.group_id = $2 ORDER BY w.created_at DESC LIMIT $3`
		args = append(args, groupID, limit)
	} else {
		query += ` ORDER BY w.created_at DESC LIMIT $2`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		metrics.DatabaseOperations.WithLabelValues("recent_captions", "error").Inc()
		return nil, fmt.Errorf("failed to fetch recent captions: %w", err)
	}
	defer rows.Close()

	var captions []string
	for rows.Next() {
		var c string
		if err := rows.Scan(&c); err != nil {
			metrics.DatabaseOperations.WithLabelValues("recent_captions", "error").Inc()
			return nil, fmt.Errorf("failed to scan caption: %w", err)
		}
		captions = append(captions, c)
	}
	if err := rows.Err(); err != nil {
		metrics.DatabaseOperations.WithLabelValues("recent_captions", "error").Inc()
		return nil, fmt.Errorf("failed to fetch recent captions: %w", err)
	}

	metrics.DatabaseOperations.WithLabelValues("recent_captions", "success").Inc()
	return captions, nil
}

// NearestCaptioned returns the k transcripts nearest to the embedding inside
// the scope, with the captions their authors chose.
func (s *PostgresStore) NearestCaptioned(ctx context.Context, embedding []float32, scope CaptionScope, k int) ([]CaptionNeighbor, error) {
	scopeCond := "w.user_id = $2"
	scopeVal := scope.UserID
	if scope.GroupID != "" {
		scopeCond = "w.group_id = $2"
		scopeVal = scope.GroupID
	}

	query := fmt.Sprintf(`
		SELECT vm.transcript, COALESCE(w.caption, ''), (vm.embedding <=> $1) AS distance
		FROM video_metadata vm
		JOIN waffles w ON `+metadataJoin+`
		WHERE vm.embedding IS NOT NULL AND %s
		ORDER BY distance ASC
		LIMIT $3`, scopeCond)

	rows, err := s.db.QueryContext(ctx, query, pgvector.NewVector(embedding), scopeVal, k)
	if err != nil {
		metrics.DatabaseOperations.WithLabelValues("nearest_captioned", "error").Inc()
		return nil, fmt.Errorf("failed to fetch nearest transcripts: %w", err)
	}
	defer rows.Close()

	var neighbors []CaptionNeighbor
	for rows.Next() {
		var n CaptionNeighbor
		if err := rows.Scan(&n.Transcript, &n.Caption, &n.Distance); err != nil {
			metrics.DatabaseOperations.WithLabelValues("nearest_captioned", "error").Inc()
			return nil, fmt.Errorf("failed to scan neighbor: %w", err)
		}
		neighbors = append(neighbors, n)
	}
	if err := rows.Err(); err != nil {
		metrics.DatabaseOperations.WithLabelValues("nearest_captioned", "error").Inc()
		return nil, fmt.Errorf("failed to fetch nearest transcripts: %w", err)
	}

	metrics.DatabaseOperations.WithLabelValues("nearest_captioned", "success").Inc()
	return neighbors, nil
}

// RecentGroupTranscripts returns recent transcripts inside a group, either
// the given user's own posts or everyone else's.
func (s *PostgresStore) RecentGroupTranscripts(ctx context.Context, groupID, userID string, own bool, limit int) ([]TranscriptSample, error) {
	op := "="
	if !own {
		op = "<>"
	}

	query := fmt.Sprintf(`
		SELECT COALESCE(u.display_name, ''), vm.transcript, w.created_at
		FROM waffles w
		JOIN video_metadata vm ON `+metadataJoin+`
		LEFT JOIN users u ON u.id = w.user_id
		WHERE w.group_id = $1 AND w.user_id %s $2 AND vm.transcript <> ''
		ORDER BY w.created_at DESC
		LIMIT $3`, op)

	rows, err := s.db.QueryContext(ctx, query, groupID, userID, limit)
	if err != nil {
		metrics.DatabaseOperations.WithLabelValues("recent_group_transcripts", "error").Inc()
		return nil, fmt.Errorf("failed to fetch group transcripts: %w", err)
	}
	defer rows.Close()

	var samples []TranscriptSample
	for rows.Next() {
		var t TranscriptSample
		if err := rows.Scan(&t.UserName, &t.Transcript, &t.CreatedAt); err != nil {
			metrics.DatabaseOperations.WithLabelValues("recent_group_transcripts", "error").Inc()
			return nil, fmt.Errorf("failed to scan transcript sample: %w", err)
		}
		samples = append(samples, t)
	}
	if err := rows.Err(); err != nil {
		metrics.DatabaseOperations.WithLabelValues("recent_group_transcripts", "error").Inc()
		return nil, fmt.Errorf("failed to fetch group transcripts: %w", err)
	}

	metrics.DatabaseOperations.WithLabelValues("recent_group_transcripts", "success").Inc()
	return samples, nil
}

// GroupActivity returns the group's posts since the given time in
// chronological order, including photo/text posts that have no metadata row.
func (s *PostgresStore) GroupActivity(ctx context.Context, groupID string, since time.Time, limit int) ([]ActivityItem, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT COALESCE(u.display_name, ''), COALESCE(w.caption, ''),
			COALESCE(vm.ai_recap, ''), COALESCE(vm.transcript, ''), w.created_at
		FROM waffles w
		LEFT JOIN video_metadata vm ON `+metadataJoin+`
		LEFT JOIN users u ON u.id = w.user_id
		WHERE w.group_id = $1 AND w.created_at >= $2
		ORDER BY w.created_at ASC
		LIMIT $3`, groupID, since, limit)
	if err != nil {
		metrics.DatabaseOperations.WithLabelValues("group_activity", "error").Inc()
		return nil, fmt.Errorf("failed to fetch group activity: %w", err)
	}
	defer rows.Close()

	var items []ActivityItem
	for rows.Next() {
		var it ActivityItem
		if err := rows.Scan(&it.UserName, &it.Caption, &it.AIRecap, &it.Transcript, &it.CreatedAt); err != nil {
			metrics.DatabaseOperations.WithLabelValues("group_activity", "error").Inc()
			return nil, fmt.Errorf("failed to scan activity item: %w", err)
		}
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		metrics.DatabaseOperations.WithLabelValues("group_activity", "error").Inc()
		return nil, fmt.Errorf("failed to fetch group activity: %w", err)
	}

	metrics.DatabaseOperations.WithLabelValues("group_activity", "success").Inc()
	return items, nil
}

// MetadataStats returns counts for the periodic gauges.
func (s *PostgresStore) MetadataStats(ctx context.Context) (*MetadataStats, error) {
	var st MetadataStats
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
			COUNT(*) FILTER (WHERE ai_recap IS NULL OR ai_recap = ''),
			COUNT(*) FILTER (WHERE thumbnail_locator IS NULL OR thumbnail_locator = '')
		FROM video_metadata`).Scan(&st.TotalRows, &st.MissingRecap, &st.MissingThumbnail)
	if err != nil {
		metrics.DatabaseOperations.WithLabelValues("metadata_stats", "error").Inc()
		return nil, fmt.Errorf("failed to fetch metadata stats: %w", err)
	}

	metrics.DatabaseOperations.WithLabelValues("metadata_stats", "success").Inc()
	return &st, nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}
