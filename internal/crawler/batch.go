package crawler

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/quizbowl-topic-catalog/internal/catalog"
	"github.com/JakeFAU/quizbowl-topic-catalog/internal/metrics"
)

// Batch defaults keep the origin from rate limiting the crawl.
const (
	DefaultBatchSize  = 5
	DefaultBatchDelay = 2 * time.Second
)

// ContentScraper produces clue content for one topic link.
type ContentScraper interface {
	Scrape(ctx context.Context, link catalog.TopicLink) (string, error)
}

// BatchConfig controls batch partitioning and spacing.
type BatchConfig struct {
	Size  int
	Delay time.Duration
}

// Stats summarizes one crawl.
type Stats struct {
	Links   int
	Kept    int
	Dropped int
	Batches int
}

// BatchCrawler scrapes links concurrently within a batch and sequentially
// across batches.
type BatchCrawler struct {
	cfg     BatchConfig
	scraper ContentScraper
	pauser  catalog.Pauser
	logger  *zap.Logger
}

// NewBatchCrawler builds a BatchCrawler, applying defaults to cfg.
func NewBatchCrawler(cfg BatchConfig, scraper ContentScraper, pauser catalog.Pauser, logger *zap.Logger) *BatchCrawler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Size <= 0 {
		cfg.Size = DefaultBatchSize
	}
	if cfg.Delay < 0 {
		cfg.Delay = 0
	}
	return &BatchCrawler{cfg: cfg, scraper: scraper, pauser: pauser, logger: logger}
}

// Crawl returns topics in batch order, then input order within a batch.
// Links that fail or yield no content are dropped. A canceled ctx stops
// the crawl after the current batch and returns what was collected.
func (b *BatchCrawler) Crawl(ctx context.Context, links []catalog.TopicLink) ([]catalog.Topic, Stats) {
	stats := Stats{Links: len(links)}
	topics := make([]catalog.Topic, 0, len(links))

	for start := 0; start < len(links); start += b.cfg.Size {
		if start > 0 {
			b.pauser.Pause(ctx, b.cfg.Delay)
		}
		if ctx.Err() != nil {
			b.logger.Warn("crawl canceled", zap.Int("remaining", len(links)-start))
			break
		}

		end := min(start+b.cfg.Size, len(links))
		results := b.runBatch(ctx, links[start:end])
		stats.Batches++
		metrics.ObserveBatch()

		for _, topic := range results {
			if topic == nil {
				stats.Dropped++
				metrics.ObserveTopic(metrics.TopicDropped)
				continue
			}
			stats.Kept++
			metrics.ObserveTopic(metrics.TopicKept)
			topics = append(topics, *topic)
		}
		b.logger.Info("batch complete",
			zap.Int("batch", stats.Batches),
			zap.Int("processed", end),
			zap.Int("total", len(links)),
		)
	}
	return topics, stats
}

func (b *BatchCrawler) runBatch(ctx context.Context, batch []catalog.TopicLink) []*catalog.Topic {
	results := make([]*catalog.Topic, len(batch))
	var wg sync.WaitGroup
	for i, link := range batch {
		wg.Add(1)
		go func() {
			defer wg.Done()
			content, err := b.scraper.Scrape(ctx, link)
			if err != nil || content == "" {
				b.logger.Warn("dropping topic",
					zap.String("title", link.Title),
					zap.String("url", link.URL),
					zap.Error(err),
				)
				return
			}
			results[i] = &catalog.Topic{Title: link.Title, Content: content, Category: link.Category}
		}()
	}
	wg.Wait()
	return results
}
