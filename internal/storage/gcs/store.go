// Package gcs persists the snapshot artifact as a Google Cloud Storage object.
package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"cloud.google.com/go/storage"

	"github.com/JakeFAU/quizbowl-topic-catalog/internal/catalog"
)

const contentType = "application/json"

// Config captures the object location.
type Config struct {
	Bucket string `mapstructure:"bucket"`
	Object string `mapstructure:"object"`
}

// object is the subset of *storage.ObjectHandle the store needs.
type object interface {
	Attrs(ctx context.Context) (*storage.ObjectAttrs, error)
	NewReader(ctx context.Context) (io.ReadCloser, error)
	NewWriter(ctx context.Context) io.WriteCloser
}

// Store keeps the artifact in one GCS object.
type Store struct {
	obj  object
	name string
}

// New creates a GCS-backed store.
func New(client *storage.Client, cfg Config) (*Store, error) {
	if client == nil {
		return nil, fmt.Errorf("storage client is required")
	}
	if strings.TrimSpace(cfg.Bucket) == "" {
		return nil, fmt.Errorf("bucket name is required")
	}
	if strings.TrimSpace(cfg.Object) == "" {
		return nil, fmt.Errorf("object name is required")
	}
	return &Store{
		obj:  handle{client.Bucket(cfg.Bucket).Object(cfg.Object)},
		name: fmt.Sprintf("gs://%s/%s", cfg.Bucket, cfg.Object),
	}, nil
}

// URI returns the gs:// location of the artifact.
func (s *Store) URI() string {
	return s.name
}

// ModTime returns the object's last update time.
func (s *Store) ModTime(ctx context.Context) (time.Time, error) {
	attrs, err := s.obj.Attrs(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return time.Time{}, catalog.ErrNotFound
		}
		return time.Time{}, fmt.Errorf("stat %s: %w", s.name, err)
	}
	return attrs.Updated, nil
}

// Read downloads the object.
func (s *Store) Read(ctx context.Context) ([]byte, error) {
	r, err := s.obj.NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, catalog.ErrNotFound
		}
		return nil, fmt.Errorf("open %s: %w", s.name, err)
	}
	data, err := io.ReadAll(r)
	closeErr := r.Close()
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", s.name, err)
	}
	if closeErr != nil {
		return nil, fmt.Errorf("close reader %s: %w", s.name, closeErr)
	}
	return data, nil
}

// Write uploads data, replacing the object.
func (s *Store) Write(ctx context.Context, data []byte) error {
	w := s.obj.NewWriter(ctx)
	if _, err := w.Write(data); err != nil {
		if closeErr := w.Close(); closeErr != nil {
			return fmt.Errorf("write %s: %w (close writer: %v)", s.name, err, closeErr)
		}
		return fmt.Errorf("write %s: %w", s.name, err)
	}
	// Close finalizes the upload.
	if err := w.Close(); err != nil {
		return fmt.Errorf("close writer %s: %w", s.name, err)
	}
	return nil
}

type handle struct {
	*storage.ObjectHandle
}

func (h handle) NewReader(ctx context.Context) (io.ReadCloser, error) {
	r, err := h.ObjectHandle.NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("new reader: %w", err)
	}
	return r, nil
}

func (h handle) NewWriter(ctx context.Context) io.WriteCloser {
	w := h.ObjectHandle.NewWriter(ctx)
	w.ContentType = contentType
	return w
}
