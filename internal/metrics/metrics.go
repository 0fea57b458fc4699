// Package metrics exposes Prometheus collectors for the catalog service.
package metrics

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Fetch attempt outcomes.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// Topic crawl outcomes.
const (
	TopicKept    = "kept"
	TopicDropped = "dropped"
)

// Cache lookup results.
const (
	CacheHit   = "hit"
	CacheMiss  = "miss"
	CacheStale = "stale"
)

var (
	crawlerPagesTotal             *prometheus.CounterVec
	crawlerBytesTotal             *prometheus.CounterVec
	crawlerFetchAttemptsTotal     *prometheus.CounterVec
	crawlerTopicsTotal            *prometheus.CounterVec
	crawlerBatchesTotal           prometheus.Counter
	crawlerRateLimitDelaysSeconds *prometheus.HistogramVec
	cacheLookupsTotal             *prometheus.CounterVec
	catalogTopics                 prometheus.Gauge
	catalogLastRefreshSeconds     prometheus.Gauge
	httpRequestsTotal             *prometheus.CounterVec
	httpRequestDurationSeconds    *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		crawlerPagesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_pages_total",
				Help: "Total number of pages fetched, labeled by site and status.",
			},
			[]string{"site", "status"},
		)

		crawlerBytesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_bytes_total",
				Help: "Total number of bytes fetched, labeled by site.",
			},
			[]string{"site"},
		)

		crawlerFetchAttemptsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_fetch_attempts_total",
				Help: "Detail page fetch attempts, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		crawlerTopicsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_topics_total",
				Help: "Topic links processed, labeled by whether they were kept or dropped.",
			},
			[]string{"status"},
		)

		crawlerBatchesTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "crawler_batches_total",
				Help: "Total number of detail page batches executed.",
			},
		)

		crawlerRateLimitDelaysSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "crawler_rate_limit_delays_seconds",
				Help:    "Histogram of rate limit wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"domain"},
		)

		cacheLookupsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "catalog_cache_lookups_total",
				Help: "Catalog cache lookups, labeled by result.",
			},
			[]string{"result"},
		)

		catalogTopics = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "catalog_topics",
				Help: "Number of topics in the most recently built snapshot.",
			},
		)

		catalogLastRefreshSeconds = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "catalog_last_refresh_timestamp_seconds",
				Help: "Unix time of the most recent successful catalog build.",
			},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 30, 120},
			},
			[]string{"method", "route"},
		)
	})
}

// SanitizeSite sanitizes a URL to extract a lowercase hostname.
// It returns "unknown" if the URL is invalid.
func SanitizeSite(rawURL string) string {
	if !strings.HasPrefix(rawURL, "http") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObservePage records one fetched page.
func ObservePage(site string, status string, bytesFetched int) {
	Init()
	sanitizedSite := SanitizeSite(site)
	crawlerPagesTotal.WithLabelValues(sanitizedSite, status).Inc()
	if bytesFetched > 0 {
		crawlerBytesTotal.WithLabelValues(sanitizedSite).Add(float64(bytesFetched))
	}
}

// ObserveFetchAttempt counts one retry-controlled attempt.
func ObserveFetchAttempt(outcome string) {
	Init()
	crawlerFetchAttemptsTotal.WithLabelValues(outcome).Inc()
}

// ObserveTopic counts a topic link as kept or dropped.
func ObserveTopic(status string) {
	Init()
	crawlerTopicsTotal.WithLabelValues(status).Inc()
}

// ObserveBatch counts one completed batch.
func ObserveBatch() {
	Init()
	crawlerBatchesTotal.Inc()
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(domain string, duration time.Duration) {
	Init()
	crawlerRateLimitDelaysSeconds.WithLabelValues(domain).Observe(duration.Seconds())
}

// ObserveCacheLookup counts a cache lookup by result.
func ObserveCacheLookup(result string) {
	Init()
	cacheLookupsTotal.WithLabelValues(result).Inc()
}

// ObserveRefresh records a freshly built snapshot.
func ObserveRefresh(topics int, at time.Time) {
	Init()
	catalogTopics.Set(float64(topics))
	catalogLastRefreshSeconds.Set(float64(at.Unix()))
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
