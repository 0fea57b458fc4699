// Package memory keeps the snapshot artifact in process memory for
// development and tests.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/JakeFAU/quizbowl-topic-catalog/internal/catalog"
)

// Store holds the most recent artifact and the time it was written.
type Store struct {
	mu       sync.RWMutex
	clock    catalog.Clock
	data     []byte
	modified time.Time
	writes   int
}

// New returns an empty Store stamped by clock.
func New(clock catalog.Clock) *Store {
	return &Store{clock: clock}
}

// ModTime returns when the artifact was last written.
func (s *Store) ModTime(_ context.Context) (time.Time, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.data == nil {
		return time.Time{}, catalog.ErrNotFound
	}
	return s.modified, nil
}

// Read returns a copy of the artifact.
func (s *Store) Read(_ context.Context) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.data == nil {
		return nil, catalog.ErrNotFound
	}
	return append([]byte(nil), s.data...), nil
}

// Write replaces the artifact.
func (s *Store) Write(_ context.Context, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data = append([]byte{}, data...)
	s.modified = s.clock.Now()
	s.writes++
	return nil
}

// Writes reports how many times Write succeeded.
func (s *Store) Writes() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.writes
}
