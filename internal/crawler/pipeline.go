package crawler

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/quizbowl-topic-catalog/internal/catalog"
	"github.com/JakeFAU/quizbowl-topic-catalog/internal/metrics"
)

// ListingSource yields the ordered categories and topic links to crawl.
type ListingSource interface {
	Fetch(ctx context.Context) catalog.Listing
}

// Pipeline builds a full snapshot: listing first, then the batch crawl.
type Pipeline struct {
	listing ListingSource
	crawler *BatchCrawler
	clock   catalog.Clock
	logger  *zap.Logger
}

// NewPipeline assembles a Pipeline.
func NewPipeline(listing ListingSource, crawler *BatchCrawler, clock catalog.Clock, logger *zap.Logger) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{listing: listing, crawler: crawler, clock: clock, logger: logger}
}

// Build crawls the catalog. An unreachable listing yields an empty snapshot.
// If ctx ends before the crawl completes, the partial result is discarded
// and the context error returned.
func (p *Pipeline) Build(ctx context.Context) (catalog.Snapshot, error) {
	start := p.clock.Now()
	listing := p.listing.Fetch(ctx)
	if err := ctx.Err(); err != nil {
		return catalog.Snapshot{}, fmt.Errorf("fetch listing: %w", err)
	}

	topics, stats := p.crawler.Crawl(ctx, listing.Links)
	if err := ctx.Err(); err != nil {
		p.logger.Warn("catalog build abandoned",
			zap.Int("links", stats.Links),
			zap.Int("kept", stats.Kept),
			zap.Int("batches", stats.Batches),
		)
		return catalog.Snapshot{}, fmt.Errorf("crawl topics: %w", err)
	}
	snapshot := catalog.Snapshot{Categories: listing.Categories, Topics: topics}.Normalize()

	finished := p.clock.Now()
	metrics.ObserveRefresh(len(snapshot.Topics), finished)
	p.logger.Info("catalog built",
		zap.Int("categories", len(snapshot.Categories)),
		zap.Int("links", stats.Links),
		zap.Int("kept", stats.Kept),
		zap.Int("dropped", stats.Dropped),
		zap.Int("batches", stats.Batches),
		zap.Duration("elapsed", finished.Sub(start).Round(time.Millisecond)),
	)
	return snapshot, nil
}
