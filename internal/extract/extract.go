// Package extract pulls clue entries out of topic detail pages.
package extract

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/JakeFAU/quizbowl-topic-catalog/internal/catalog"
	"github.com/JakeFAU/quizbowl-topic-catalog/internal/htmldoc"
)

// Defaults mirror the origin's clue markup.
const (
	DefaultMinLength = 100
	DefaultMarker    = "label"
	listItemSelector = "li"
)

var (
	spaceBeforePunct = regexp.MustCompile(`[\s\p{Z}]+([.,;:!?)])`)
	whitespaceRe     = regexp.MustCompile(`[\s\p{Z}]+`)
)

// Options tunes which list items qualify as clues.
type Options struct {
	// MinLength is exclusive: normalized text must be longer than this.
	MinLength int
	// Marker must appear in the item's raw inner HTML.
	Marker string
}

// Extractor selects qualifying list items from a detail page.
type Extractor struct {
	minLength int
	marker    string
}

// New builds an Extractor, filling unset options with defaults.
func New(opts Options) *Extractor {
	if opts.MinLength <= 0 {
		opts.MinLength = DefaultMinLength
	}
	if opts.Marker == "" {
		opts.Marker = DefaultMarker
	}
	return &Extractor{minLength: opts.MinLength, marker: opts.Marker}
}

// Clues returns the normalized text of every qualifying list item in
// document order. The result is empty when nothing qualifies.
func (e *Extractor) Clues(doc *htmldoc.Document) []string {
	var clues []string
	for _, node := range doc.Walk(htmldoc.Selectors{ListItem: listItemSelector}) {
		if node.Kind != htmldoc.KindListItem {
			continue
		}
		text := Normalize(node.Text)
		if utf8.RuneCountInString(text) <= e.minLength {
			continue
		}
		if !strings.Contains(node.InnerHTML, e.marker) {
			continue
		}
		clues = append(clues, text)
	}
	return clues
}

// Normalize drops whitespace in front of closing punctuation and collapses
// all remaining whitespace runs to a single space.
func Normalize(text string) string {
	text = spaceBeforePunct.ReplaceAllString(text, "$1")
	text = whitespaceRe.ReplaceAllString(text, " ")
	return strings.TrimSpace(text)
}

// Join concatenates clues with catalog.ClueSeparator.
func Join(clues []string) string {
	return strings.Join(clues, catalog.ClueSeparator)
}

// Split reverses Join, skipping blank entries.
func Split(content string) []string {
	parts := strings.Split(content, catalog.ClueSeparator)
	out := parts[:0]
	for _, p := range parts {
		if strings.TrimSpace(p) != "" {
			out = append(out, p)
		}
	}
	return out
}
