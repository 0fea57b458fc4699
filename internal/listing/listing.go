// Package listing turns the by-category topic index into ordered topic links.
package listing

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"
	"unicode"

	"go.uber.org/zap"

	"github.com/JakeFAU/quizbowl-topic-catalog/internal/catalog"
	"github.com/JakeFAU/quizbowl-topic-catalog/internal/htmldoc"
)

// Defaults for the NAQT "You Gotta Know" index.
const (
	DefaultURL             = "https://www.naqt.com/you-gotta-know/by-category.jsp"
	DefaultHeadingSelector = "h2"
	DefaultAnchorSelector  = "ul li a"
	DefaultTopicPattern    = `/you-gotta-know/.*\.html`
	DefaultTimeout         = 30 * time.Second
)

// DefaultExcludedCategories are index sections that re-list topics by date.
var DefaultExcludedCategories = []string{"By Publication Date"}

var (
	titlePrefix = regexp.MustCompile(`(?i)You Gotta Know(?:…|\.\.\.)\s*these\s+(.+)`)
	wordRe      = regexp.MustCompile(`\S+`)
)

// Config describes where the index lives and how to read it.
type Config struct {
	URL                string
	HeadingSelector    string
	AnchorSelector     string
	TopicPattern       string
	ExcludedCategories []string
	Timeout            time.Duration
	Headers            http.Header
}

// Fetcher downloads and parses the listing page.
type Fetcher struct {
	cfg      Config
	base     *url.URL
	pattern  *regexp.Regexp
	excluded map[string]struct{}
	fetcher  catalog.Fetcher
	logger   *zap.Logger
}

// New validates cfg and builds a Fetcher.
func New(cfg Config, fetcher catalog.Fetcher, logger *zap.Logger) (*Fetcher, error) {
	if fetcher == nil {
		return nil, fmt.Errorf("listing: fetcher is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.URL == "" {
		cfg.URL = DefaultURL
	}
	if cfg.HeadingSelector == "" {
		cfg.HeadingSelector = DefaultHeadingSelector
	}
	if cfg.AnchorSelector == "" {
		cfg.AnchorSelector = DefaultAnchorSelector
	}
	if cfg.TopicPattern == "" {
		cfg.TopicPattern = DefaultTopicPattern
	}
	if cfg.ExcludedCategories == nil {
		cfg.ExcludedCategories = DefaultExcludedCategories
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}

	base, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("listing: parse url %q: %w", cfg.URL, err)
	}
	pattern, err := regexp.Compile(cfg.TopicPattern)
	if err != nil {
		return nil, fmt.Errorf("listing: compile topic pattern: %w", err)
	}
	excluded := make(map[string]struct{}, len(cfg.ExcludedCategories))
	for _, name := range cfg.ExcludedCategories {
		excluded[strings.ToLower(strings.TrimSpace(name))] = struct{}{}
	}

	return &Fetcher{
		cfg:      cfg,
		base:     base,
		pattern:  pattern,
		excluded: excluded,
		fetcher:  fetcher,
		logger:   logger,
	}, nil
}

// URL returns the listing page address; detail requests send it as Referer.
func (f *Fetcher) URL() string {
	return f.cfg.URL
}

// Fetch downloads the index. Failures are logged and yield an empty listing.
func (f *Fetcher) Fetch(ctx context.Context) catalog.Listing {
	resp, err := f.fetcher.Fetch(ctx, catalog.FetchRequest{
		URL:     f.cfg.URL,
		Headers: f.cfg.Headers,
		Timeout: f.cfg.Timeout,
	})
	if err != nil {
		f.logger.Error("listing fetch failed", zap.String("url", f.cfg.URL), zap.Error(err))
		return emptyListing()
	}

	doc, err := htmldoc.Parse(resp.Body, resp.ContentType)
	if err != nil {
		f.logger.Error("listing parse failed", zap.String("url", f.cfg.URL), zap.Error(err))
		return emptyListing()
	}

	listing := f.Parse(doc)
	f.logger.Info("listing parsed",
		zap.Int("categories", len(listing.Categories)),
		zap.Int("links", len(listing.Links)),
	)
	return listing
}

// Parse walks headings and anchors in document order. Each non-empty heading
// opens a category; anchors matching the topic pattern join the open one.
func (f *Fetcher) Parse(doc *htmldoc.Document) catalog.Listing {
	out := emptyListing()
	seen := make(map[string]struct{})
	current := ""

	nodes := doc.Walk(htmldoc.Selectors{
		Heading: f.cfg.HeadingSelector,
		Anchor:  f.cfg.AnchorSelector,
	})
	for _, node := range nodes {
		switch node.Kind {
		case htmldoc.KindHeading:
			name := strings.TrimSpace(node.Text)
			if name == "" {
				continue
			}
			if _, skip := f.excluded[strings.ToLower(name)]; skip {
				current = ""
				continue
			}
			current = name
			if _, ok := seen[name]; !ok {
				seen[name] = struct{}{}
				out.Categories = append(out.Categories, name)
			}
		case htmldoc.KindAnchor:
			if current == "" || !f.pattern.MatchString(node.Href) {
				continue
			}
			title := DeriveTitle(node.Text)
			if title == "" {
				continue
			}
			out.Links = append(out.Links, catalog.TopicLink{
				Title:    title,
				URL:      f.resolve(node.Href),
				Category: current,
			})
		}
	}
	return out
}

func (f *Fetcher) resolve(href string) string {
	ref, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return href
	}
	return f.base.ResolveReference(ref).String()
}

// DeriveTitle strips the "You Gotta Know…these" lead-in when present and
// title-cases the remainder.
func DeriveTitle(text string) string {
	text = strings.TrimSpace(text)
	if m := titlePrefix.FindStringSubmatch(text); m != nil {
		text = strings.TrimSpace(m[1])
	}
	return TitleCase(text)
}

// TitleCase upper-cases the first letter or digit of each whitespace-separated
// word and lower-cases the rest, so "'tis" becomes "'Tis".
func TitleCase(s string) string {
	return wordRe.ReplaceAllStringFunc(s, func(word string) string {
		runes := []rune(strings.ToLower(word))
		for i, r := range runes {
			if unicode.IsLetter(r) || unicode.IsDigit(r) {
				runes[i] = unicode.ToUpper(r)
				break
			}
		}
		return string(runes)
	})
}

func emptyListing() catalog.Listing {
	return catalog.Listing{Categories: []string{}, Links: []catalog.TopicLink{}}
}
