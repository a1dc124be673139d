package handlers

import (
	"context"
	"io"
	"net/http"
	"time"

	"wafflebrain/internal/auth"
	"wafflebrain/internal/services"
	"wafflebrain/internal/storage"
)

// mockStore implements storage.Store for handler tests that drive real
// services. Only the methods those flows touch are scriptable; everything
// else returns zero values, and membership defaults to true.
type mockStore struct {
	searchWafflesFunc          func(ctx context.Context, q storage.SearchQuery) ([]storage.SearchResult, error)
	countSearchMatchesFunc     func(ctx context.Context, q storage.SearchQuery) (int, error)
	countScopedVideosFunc      func(ctx context.Context, q storage.SearchQuery) (int, error)
	isGroupMemberFunc          func(ctx context.Context, groupID, userID string) (bool, error)
	recentGroupTranscriptsFunc func(ctx context.Context, groupID, userID string, own bool, limit int) ([]storage.TranscriptSample, error)
	groupActivityFunc          func(ctx context.Context, groupID string, since time.Time, limit int) ([]storage.ActivityItem, error)
}

func (m *mockStore) UpsertVideoMetadata(context.Context, *storage.VideoMetadata) error { return nil }

func (m *mockStore) GetVideoMetadata(context.Context, string) (*storage.VideoMetadata, error) {
	return nil, nil
}

func (m *mockStore) FindWaffleByLocator(context.Context, string) (*storage.Waffle, error) {
	return nil, nil
}

func (m *mockStore) UpdateWaffleMedia(context.Context, string, string, int) error { return nil }

func (m *mockStore) IsGroupMember(ctx context.Context, groupID, userID string) (bool, error) {
	if m.isGroupMemberFunc != nil {
		return m.isGroupMemberFunc(ctx, groupID, userID)
	}
	return true, nil
}

func (m *mockStore) GroupNames(context.Context, string, int) ([]string, error) { return nil, nil }

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

func (m *mockStore) LogSearch(context.Context, string, string, int) error { return nil }

func (m *mockStore) RecentCaptions(context.Context, string, string, int) ([]string, error) {
	return nil, nil
}

func (m *mockStore) NearestCaptioned(context.Context, []float32, storage.CaptionScope, int) ([]storage.CaptionNeighbor, error) {
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

func (m *mockStore) MetadataStats(context.Context) (*storage.MetadataStats, error) {
	return &storage.MetadataStats{}, nil
}

func (m *mockStore) Ping(context.Context) error { return nil }

func (m *mockStore) Close() error { return nil }

type stubEmbedder struct{}

func (stubEmbedder) Embed(context.Context, string) ([]float32, error) {
	return make([]float32, 8), nil
}

type stubTranscriber struct {
	text string
}

func (s stubTranscriber) Transcribe(context.Context, string) (string, error) {
	return s.text, nil
}

type stubExtractor struct {
	videoPath string
}

func (s *stubExtractor) ExtractAudio(_ context.Context, videoPath, _ string) error {
	s.videoPath = videoPath
	return nil
}

type stubCompleter struct {
	content string
	err     error
}

func (s stubCompleter) Complete(context.Context, string, string, int) (string, error) {
	return s.content, s.err
}

type stubStream struct {
	deltas []string
	next   int
}

func (s *stubStream) Recv() (string, error) {
	if s.next < len(s.deltas) {
		d := s.deltas[s.next]
		s.next++
		return d, nil
	}
	return "", io.EOF
}

func (s *stubStream) Close() error { return nil }

type stubStreamCompleter struct {
	deltas []string
}

func (s stubStreamCompleter) CompleteStream(context.Context, string, string, int) (services.CompletionStream, error) {
	return &stubStream{deltas: s.deltas}, nil
}

// authed attaches a verified identity the way the auth middleware would.
func authed(r *http.Request, userID string) *http.Request {
	return r.WithContext(auth.WithIdentity(r.Context(), &auth.Identity{UserID: userID, Name: "Test User"}))
}
