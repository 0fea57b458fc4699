// Package api hosts the HTTP server and middleware for the topic catalog.
// Routes:
//   - GET /api/topics returns the cached snapshot, crawling on a miss.
//   - POST /api/topics/refresh forces a rebuild (API key guarded when set).
//   - GET /healthz and /readyz for probes.
//   - GET /metrics for Prometheus scraping.
package api
