package crawler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/quizbowl-topic-catalog/internal/catalog"
	"github.com/JakeFAU/quizbowl-topic-catalog/internal/extract"
	"github.com/JakeFAU/quizbowl-topic-catalog/internal/htmldoc"
	"github.com/JakeFAU/quizbowl-topic-catalog/internal/retry"
)

// DefaultDetailTimeout bounds a single detail page request.
const DefaultDetailTimeout = 15 * time.Second

// ErrNoClues reports a detail page with no qualifying clue items.
var ErrNoClues = errors.New("no qualifying clues")

// ScraperConfig controls detail page requests.
type ScraperConfig struct {
	Timeout time.Duration
	// Referer is sent with every detail request, normally the listing URL.
	Referer string
	Headers http.Header
}

// Scraper fetches one topic page and extracts its clues.
type Scraper struct {
	cfg       ScraperConfig
	fetcher   catalog.Fetcher
	retry     *retry.Controller
	extractor *extract.Extractor
	logger    *zap.Logger
}

// NewScraper wires a fetcher, retry controller and extractor together.
func NewScraper(
	cfg ScraperConfig,
	fetcher catalog.Fetcher,
	controller *retry.Controller,
	extractor *extract.Extractor,
	logger *zap.Logger,
) *Scraper {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultDetailTimeout
	}
	if extractor == nil {
		extractor = extract.New(extract.Options{})
	}
	return &Scraper{
		cfg:       cfg,
		fetcher:   fetcher,
		retry:     controller,
		extractor: extractor,
		logger:    logger,
	}
}

// Scrape returns the joined clue content for link. The fetch is retried per
// the controller's policy; an exhausted budget or an empty extraction is an
// error and the caller drops the topic.
func (s *Scraper) Scrape(ctx context.Context, link catalog.TopicLink) (string, error) {
	resp, err := retry.Do(ctx, s.retry, link.URL, func(ctx context.Context) (catalog.FetchResponse, error) {
		return s.fetcher.Fetch(ctx, catalog.FetchRequest{
			URL:     link.URL,
			Headers: s.headers(),
			Timeout: s.cfg.Timeout,
		})
	})
	if err != nil {
		return "", fmt.Errorf("fetch %s: %w", link.URL, err)
	}

	doc, err := htmldoc.Parse(resp.Body, resp.ContentType)
	if err != nil {
		return "", fmt.Errorf("parse %s: %w", link.URL, err)
	}
	clues := s.extractor.Clues(doc)
	if len(clues) == 0 {
		return "", fmt.Errorf("%s: %w", link.URL, ErrNoClues)
	}
	s.logger.Debug("extracted clues",
		zap.String("title", link.Title),
		zap.Int("clues", len(clues)),
	)
	return extract.Join(clues), nil
}

func (s *Scraper) headers() http.Header {
	h := s.cfg.Headers.Clone()
	if h == nil {
		h = http.Header{}
	}
	if s.cfg.Referer != "" {
		h.Set("Referer", s.cfg.Referer)
	}
	return h
}
