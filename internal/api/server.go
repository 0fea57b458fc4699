package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/quizbowl-topic-catalog/internal/catalog"
	"github.com/JakeFAU/quizbowl-topic-catalog/internal/hash/sha256"
	"github.com/JakeFAU/quizbowl-topic-catalog/internal/metrics"
)

// DefaultRequestTimeout bounds a request when Options.RequestTimeout is unset.
// A cold catalog build crawls every topic page, so this is generous.
const DefaultRequestTimeout = 10 * time.Minute

const fetchFailedMessage = "Failed to fetch topics"

// Catalog is the cached snapshot source behind the HTTP routes.
type Catalog interface {
	Get(ctx context.Context) (catalog.Snapshot, error)
	Refresh(ctx context.Context) (catalog.Snapshot, error)
	Fresh(ctx context.Context) bool
}

// IDGenerator mints request identifiers.
type IDGenerator interface {
	NewID() (string, error)
}

// Options configures the server.
type Options struct {
	RequestTimeout time.Duration
	// APIKey guards the refresh route when non-empty.
	APIKey string
}

// Server wires HTTP handlers to the catalog cache.
type Server struct {
	router  chi.Router
	catalog Catalog
	hasher  *sha256.Hasher
	logger  *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(cat Catalog, ids IDGenerator, opts Options, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = DefaultRequestTimeout
	}
	s := &Server{
		catalog: cat,
		hasher:  sha256.New(),
		logger:  logger,
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware(ids))
	r.Use(traceMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(metrics.Middleware)

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/api/topics", func(r chi.Router) {
		r.Use(timeoutMiddleware(opts.RequestTimeout))
		r.Get("/", s.getTopics)
		r.Group(func(r chi.Router) {
			if opts.APIKey != "" {
				r.Use(apiKeyMiddleware(opts.APIKey, logger))
			}
			r.Post("/refresh", s.refreshTopics)
		})
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, s.logger, http.StatusOK, map[string]string{"status": "ok"})
}

// readyz always reports ready: a stale or missing artifact is rebuilt on demand.
func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.logger, http.StatusOK, map[string]any{
		"status": "ready",
		"fresh":  s.catalog.Fresh(r.Context()),
	})
}

func (s *Server) getTopics(w http.ResponseWriter, r *http.Request) {
	snapshot, err := s.catalog.Get(r.Context())
	if err != nil {
		s.logger.Error("catalog lookup failed", zap.Error(err))
		writeError(w, s.logger, http.StatusInternalServerError, fetchFailedMessage)
		return
	}
	s.writeSnapshot(w, r, snapshot)
}

func (s *Server) refreshTopics(w http.ResponseWriter, r *http.Request) {
	snapshot, err := s.catalog.Refresh(r.Context())
	if err != nil {
		s.logger.Error("catalog refresh failed", zap.Error(err))
		writeError(w, s.logger, http.StatusInternalServerError, fetchFailedMessage)
		return
	}
	s.writeSnapshot(w, r, snapshot)
}

func (s *Server) writeSnapshot(w http.ResponseWriter, r *http.Request, snapshot catalog.Snapshot) {
	body, err := json.Marshal(snapshot.Normalize())
	if err != nil {
		s.logger.Error("encode snapshot failed", zap.Error(err))
		writeError(w, s.logger, http.StatusInternalServerError, fetchFailedMessage)
		return
	}
	etag := s.hasher.ETag(body)
	w.Header().Set("ETag", etag)
	if match := r.Header.Get("If-None-Match"); match != "" && etagMatches(match, etag) {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(body); err != nil {
		s.logger.Warn("write snapshot failed", zap.Error(err))
	}
}

func etagMatches(header, etag string) bool {
	for _, candidate := range strings.Split(header, ",") {
		candidate = strings.TrimSpace(candidate)
		if candidate == "*" || strings.TrimPrefix(candidate, "W/") == etag {
			return true
		}
	}
	return false
}

func writeJSON(w http.ResponseWriter, logger *zap.Logger, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logger.Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, logger *zap.Logger, status int, msg string) {
	writeJSON(w, logger, status, map[string]string{"error": msg})
}
