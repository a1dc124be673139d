package services

import (
	"context"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"wafflebrain/internal/metrics"
)

// EmbeddingService fronts an Embedder with a TTL cache keyed by normalized
// query text. Search queries repeat a lot; transcripts never do, so only the
// search path should go through this wrapper.
type EmbeddingService struct {
	embedder Embedder
	cache    *gocache.Cache
}

func NewEmbeddingService(embedder Embedder, ttl time.Duration) *EmbeddingService {
	return &EmbeddingService{
		embedder: embedder,
		cache:    gocache.New(ttl, 10*time.Minute),
	}
}

// normalizeQuery collapses whitespace and lowercases so trivially different
// spellings share a cache entry.
func normalizeQuery(text string) string {
	return strings.ToLower(strings.Join(strings.Fields(text), " "))
}

func (s *EmbeddingService) Embed(ctx context.Context, text string) ([]float32, error) {
	key := normalizeQuery(text)

	if cached, ok := s.cache.Get(key); ok {
		metrics.CacheLookups.WithLabelValues("embedding", "hit").Inc()
		return cached.([]float32), nil
	}
	metrics.CacheLookups.WithLabelValues("embedding", "miss").Inc()

	embedding, err := s.embedder.Embed(ctx, text)
	if err != nil {
		return nil, err
	}

	s.cache.Set(key, embedding, gocache.DefaultExpiration)
	return embedding, nil
}
