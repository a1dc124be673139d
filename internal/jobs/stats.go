package jobs

import (
	"context"
	"log/slog"
	"time"

	"wafflebrain/internal/metrics"
	"wafflebrain/internal/storage"
)

const (
	statsInterval       = time.Minute
	statsRefreshTimeout = 10 * time.Second
)

// StatsSource is the slice of storage the collector reads.
type StatsSource interface {
	MetadataStats(ctx context.Context) (*storage.MetadataStats, error)
}

// StatsCollector periodically refreshes the corpus gauges so dashboards can
// watch growth and how often the best-effort ingestion steps left gaps.
type StatsCollector struct {
	store    StatsSource
	interval time.Duration
	done     chan struct{}
}

func NewStatsCollector(store StatsSource) *StatsCollector {
	return &StatsCollector{
		store:    store,
		interval: statsInterval,
		done:     make(chan struct{}),
	}
}

// Start blocks, refreshing gauges until the context is cancelled or Stop is
// called. Run it in its own goroutine.
func (c *StatsCollector) Start(ctx context.Context) {
	slog.Info("Starting stats collector", slog.Duration("interval", c.interval))

	c.refresh(ctx)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("Stats collector stopped due to context cancellation")
			return
		case <-c.done:
			slog.Info("Stats collector stopped")
			return
		case <-ticker.C:
			c.refresh(ctx)
		}
	}
}

// Stop stops the collector.
func (c *StatsCollector) Stop() {
	close(c.done)
}

func (c *StatsCollector) refresh(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, statsRefreshTimeout)
	defer cancel()

	stats, err := c.store.MetadataStats(ctx)
	if err != nil {
		slog.Error("Failed to refresh metadata stats", "error", err)
		return
	}

	metrics.VideoMetadataRows.Set(float64(stats.TotalRows))
	metrics.VideoMetadataMissingRecap.Set(float64(stats.MissingRecap))
	metrics.VideoMetadataMissingThumbnail.Set(float64(stats.MissingThumbnail))
}
