// Package htmldoc parses fetched pages into a typed, document-ordered node
// sequence that the listing and content parsers walk.
package htmldoc

import (
	"bytes"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html/charset"
)

// Kind identifies which selector a Node matched.
type Kind int

// Node kinds recognised by Walk.
const (
	KindHeading Kind = iota + 1
	KindAnchor
	KindListItem
)

func (k Kind) String() string {
	switch k {
	case KindHeading:
		return "heading"
	case KindAnchor:
		return "anchor"
	case KindListItem:
		return "list_item"
	default:
		return "unknown"
	}
}

// Node is one matched element. Href is populated for anchors and InnerHTML
// for list items.
type Node struct {
	Kind      Kind
	Text      string
	Href      string
	InnerHTML string
}

// Selectors configures which CSS selectors map to which node kind. Empty
// selectors are not matched.
type Selectors struct {
	Heading  string
	Anchor   string
	ListItem string
}

// Document wraps a parsed HTML page.
type Document struct {
	doc *goquery.Document
}

// Parse decodes body to UTF-8 using the content type and any in-document
// charset hints, then builds the DOM.
func Parse(body []byte, contentType string) (*Document, error) {
	data := body
	// DetermineEncoding only sniffs the first 1KiB; an uncertain guess must
	// not mangle a body that is valid UTF-8 throughout.
	enc, _, certain := charset.DetermineEncoding(body, contentType)
	if certain || !utf8.Valid(body) {
		decoded, err := enc.NewDecoder().Bytes(body)
		if err != nil {
			return nil, fmt.Errorf("decode document: %w", err)
		}
		data = decoded
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("parse document: %w", err)
	}
	return &Document{doc: doc}, nil
}

// Walk returns every element matching any of the selectors, in document order.
func (d *Document) Walk(sel Selectors) []Node {
	if d == nil || d.doc == nil {
		return nil
	}
	group := joinSelectors(sel.Heading, sel.Anchor, sel.ListItem)
	if group == "" {
		return nil
	}

	var nodes []Node
	d.doc.Find(group).Each(func(_ int, s *goquery.Selection) {
		switch {
		case sel.Heading != "" && s.Is(sel.Heading):
			nodes = append(nodes, Node{Kind: KindHeading, Text: s.Text()})
		case sel.Anchor != "" && s.Is(sel.Anchor):
			nodes = append(nodes, Node{Kind: KindAnchor, Text: s.Text(), Href: s.AttrOr("href", "")})
		case sel.ListItem != "" && s.Is(sel.ListItem):
			inner, err := s.Html()
			if err != nil {
				inner = ""
			}
			nodes = append(nodes, Node{Kind: KindListItem, Text: s.Text(), InnerHTML: inner})
		}
	})
	return nodes
}

func joinSelectors(parts ...string) string {
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, ", ")
}
