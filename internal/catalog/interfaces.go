package catalog

import (
	"context"
	"time"
)

// Fetcher retrieves a page. Implementations return an error for transport
// failures, timeouts, and non-2xx responses.
type Fetcher interface {
	Fetch(ctx context.Context, request FetchRequest) (FetchResponse, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// Pauser suspends the caller for a duration or until the context finishes.
type Pauser interface {
	Pause(ctx context.Context, d time.Duration)
}

// Publisher pushes catalog events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}
