// Package catalog defines the topic catalog model shared across subsystems.
package catalog

import (
	"errors"
	"net/http"
	"time"
)

// ClueSeparator joins clue items inside Topic.Content so consumers can re-split them.
const ClueSeparator = "\n\n"

// ErrNotFound is returned by stores when no snapshot artifact exists yet.
var ErrNotFound = errors.New("catalog snapshot not found")

// TopicLink is a listing entry waiting to be crawled.
type TopicLink struct {
	Title    string
	URL      string
	Category string
}

// Topic is a crawled subject with its clue content.
type Topic struct {
	Title    string `json:"title" yaml:"title"`
	Content  string `json:"content" yaml:"content"`
	Category string `json:"category" yaml:"category"`
}

// Snapshot is the aggregate output of one crawl run.
type Snapshot struct {
	Categories []string `json:"categories" yaml:"categories"`
	Topics     []Topic  `json:"topics" yaml:"topics"`
}

// Listing is the parsed category page.
type Listing struct {
	Categories []string
	Links      []TopicLink
}

// Empty returns a snapshot with non-nil, zero-length collections so it
// serializes as {"categories":[],"topics":[]}.
func Empty() Snapshot {
	return Snapshot{Categories: []string{}, Topics: []Topic{}}
}

// Normalize replaces nil collections with empty ones.
func (s Snapshot) Normalize() Snapshot {
	if s.Categories == nil {
		s.Categories = []string{}
	}
	if s.Topics == nil {
		s.Topics = []Topic{}
	}
	return s
}

// FetchRequest captures everything needed to fetch one page.
type FetchRequest struct {
	URL     string
	Headers http.Header
	Timeout time.Duration
}

// FetchResponse is the result returned by a Fetcher implementation.
type FetchResponse struct {
	URL         string
	StatusCode  int
	ContentType string
	Body        []byte
	Duration    time.Duration
}
