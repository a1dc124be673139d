package services

import (
	"context"
	"io"
	"time"

	"wafflebrain/internal/storage"
)

// mockStore implements storage.Store with one function field per method. Nil
// fields fall back to harmless defaults; membership defaults to true so most
// tests only script the methods they exercise.
type mockStore struct {
	upsertVideoMetadataFunc    func(ctx context.Context, meta *storage.VideoMetadata) error
	getVideoMetadataFunc       func(ctx context.Context, contentLocator string) (*storage.VideoMetadata, error)
	findWaffleByLocatorFunc    func(ctx context.Context, locator string) (*storage.Waffle, error)
	updateWaffleMediaFunc      func(ctx context.Context, waffleID, thumbnailURL string, durationSeconds int) error
	isGroupMemberFunc          func(ctx context.Context, groupID, userID string) (bool, error)
	groupNamesFunc             func(ctx context.Context, userID string, limit int) ([]string, error)
	searchWafflesFunc          func(ctx context.Context, q storage.SearchQuery) ([]storage.SearchResult, error)
	countSearchMatchesFunc     func(ctx context.Context, q storage.SearchQuery) (int, error)
	countScopedVideosFunc      func(ctx context.Context, q storage.SearchQuery) (int, error)
	logSearchFunc              func(ctx context.Context, userID, query string, resultCount int) error
	recentCaptionsFunc         func(ctx context.Context, userID, groupID string, limit int) ([]string, error)
	nearestCaptionedFunc       func(ctx context.Context, embedding []float32, scope storage.CaptionScope, k int) ([]storage.CaptionNeighbor, error)
	recentGroupTranscriptsFunc func(ctx context.Context, groupID, userID string, own bool, limit int) ([]storage.TranscriptSample, error)
	groupActivityFunc          func(ctx context.Context, groupID string, since time.Time, limit int) ([]storage.ActivityItem, error)
	metadataStatsFunc          func(ctx context.Context) (*storage.MetadataStats, error)
}

func (m *mockStore) UpsertVideoMetadata(ctx context.Context, meta *storage.VideoMetadata) error {
	if m.upsertVideoMetadataFunc != nil {
		return m.upsertVideoMetadataFunc(ctx, meta)
	}
	return nil
}

func (m *mockStore) GetVideoMetadata(ctx context.Context, contentLocator string) (*storage.VideoMetadata, error) {
	if m.getVideoMetadataFunc != nil {
		return m.getVideoMetadataFunc(ctx, contentLocator)
	}
	return nil, nil
}

func (m *mockStore) FindWaffleByLocator(ctx context.Context, locator string) (*storage.Waffle, error) {
	if m.findWaffleByLocatorFunc != nil {
		return m.findWaffleByLocatorFunc(ctx, locator)
	}
	return nil, nil
}

func (m *mockStore) UpdateWaffleMedia(ctx context.Context, waffleID, thumbnailURL string, durationSeconds int) error {
	if m.updateWaffleMediaFunc != nil {
		return m.updateWaffleMediaFunc(ctx, waffleID, thumbnailURL, durationSeconds)
	}
	return nil
}

func (m *mockStore) IsGroupMember(ctx context.Context, groupID, userID string) (bool, error) {
	if m.isGroupMemberFunc != nil {
		return m.isGroupMemberFunc(ctx, groupID, userID)
	}
	return true, nil
}

func (m *mockStore) GroupNames(ctx context.Context, userID string, limit int) ([]string, error) {
	if m.groupNamesFunc != nil {
		return m.groupNamesFunc(ctx, userID, limit)
	}
	return nil, nil
}

func (m *mockStore) SearchWaffles(ctx context.Context, q storage.SearchQuery) ([]storage.SearchResult, error) {
	if m.searchWafflesFunc != nil {
		return m.searchWafflesFunc(ctx, q)
	}
	return nil, nil
}

func (m *mockStore) CountSearchMatches(ctx context.Context, q storage.SearchQuery) (int, error) {
	if m.countSearchMatchesFunc != nil {
		return m.countSearchMatchesFunc(ctx, q)
	}
	return 0, nil
}

func (m *mockStore) CountScopedVideos(ctx context.Context, q storage.SearchQuery) (int, error) {
	if m.countScopedVideosFunc != nil {
		return m.countScopedVideosFunc(ctx, q)
	}
	return 0, nil
}

func (m *mockStore) LogSearch(ctx context.Context, userID, query string, resultCount int) error {
	if m.logSearchFunc != nil {
		return m.logSearchFunc(ctx, userID, query, resultCount)
	}
	return nil
}

func (m *mockStore) RecentCaptions(ctx context.Context, userID, groupID string, limit int) ([]string, error) {
	if m.recentCaptionsFunc != nil {
		return m.recentCaptionsFunc(ctx, userID, groupID, limit)
	}
	return nil, nil
}

func (m *mockStore) NearestCaptioned(ctx context.Context, embedding []float32, scope storage.CaptionScope, k int) ([]storage.CaptionNeighbor, error) {
	if m.nearestCaptionedFunc != nil {
		return m.nearestCaptionedFunc(ctx, embedding, scope, k)
	}
	return nil, nil
}

func (m *mockStore) RecentGroupTranscripts(ctx context.Context, groupID, userID string, own bool, limit int) ([]storage.TranscriptSample, error) {
	if m.recentGroupTranscriptsFunc != nil {
		return m.recentGroupTranscriptsFunc(ctx, groupID, userID, own, limit)
	}
	return nil, nil
}

func (m *mockStore) GroupActivity(ctx context.Context, groupID string, since time.Time, limit int) ([]storage.ActivityItem, error) {
	if m.groupActivityFunc != nil {
		return m.groupActivityFunc(ctx, groupID, since, limit)
	}
	return nil, nil
}

func (m *mockStore) MetadataStats(ctx context.Context) (*storage.MetadataStats, error) {
	if m.metadataStatsFunc != nil {
		return m.metadataStatsFunc(ctx)
	}
	return &storage.MetadataStats{}, nil
}

func (m *mockStore) Ping(ctx context.Context) error { return nil }

func (m *mockStore) Close() error { return nil }

type mockEmbedder struct {
	embedFunc func(ctx context.Context, text string) ([]float32, error)
	calls     int
	lastText  string
}

func (m *mockEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	m.calls++
	m.lastText = text
	if m.embedFunc != nil {
		return m.embedFunc(ctx, text)
	}
	return make([]float32, 1536), nil
}

type mockCompleter struct {
	completeFunc func(ctx context.Context, system, user string, maxTokens int) (string, error)
	calls        int
	lastSystem   string
	lastUser     string
}

func (m *mockCompleter) Complete(ctx context.Context, system, user string, maxTokens int) (string, error) {
	m.calls++
	m.lastSystem = system
	m.lastUser = user
	if m.completeFunc != nil {
		return m.completeFunc(ctx, system, user, maxTokens)
	}
	return "", nil
}

type mockTranscriber struct {
	transcribeFunc func(ctx context.Context, audioPath string) (string, error)
}

func (m *mockTranscriber) Transcribe(ctx context.Context, audioPath string) (string, error) {
	if m.transcribeFunc != nil {
		return m.transcribeFunc(ctx, audioPath)
	}
	return "", nil
}

type mockExtractor struct {
	extractAudioFunc func(ctx context.Context, videoPath, audioPath string) error
	calls            int
	videoPath        string
	audioPath        string
}

func (m *mockExtractor) ExtractAudio(ctx context.Context, videoPath, audioPath string) error {
	m.calls++
	m.videoPath = videoPath
	m.audioPath = audioPath
	if m.extractAudioFunc != nil {
		return m.extractAudioFunc(ctx, videoPath, audioPath)
	}
	return nil
}

type mockStreamCompleter struct {
	completeStreamFunc func(ctx context.Context, system, user string, maxTokens int) (CompletionStream, error)
}

func (m *mockStreamCompleter) CompleteStream(ctx context.Context, system, user string, maxTokens int) (CompletionStream, error) {
	if m.completeStreamFunc != nil {
		return m.completeStreamFunc(ctx, system, user, maxTokens)
	}
	return &scriptedStream{}, nil
}

// scriptedStream replays deltas one Recv at a time. When gate is non-nil,
// every Recv first waits for one tick, letting a test interleave subscriber
// attachment with generation progress. After the deltas run out it returns
// err when set, io.EOF otherwise.
type scriptedStream struct {
	deltas []string
	err    error
	gate   chan struct{}
	next   int
}

func (s *scriptedStream) Recv() (string, error) {
	if s.gate != nil {
		<-s.gate
	}
	if s.next < len(s.deltas) {
		d := s.deltas[s.next]
		s.next++
		return d, nil
	}
	if s.err != nil {
		return "", s.err
	}
	return "", io.EOF
}

func (s *scriptedStream) Close() error { return nil }
