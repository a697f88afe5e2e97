// Package api hosts the dashboard HTTP server, middleware, and handlers.
// Notable routes:
//   - POST /api/crawl relays crawl requests to the backend.
//   - GET /api/images/download returns a zip of the images matching a keyword.
//   - GET /api/dashboard, /api/crawl-jobs and /api/images return view snapshots.
//   - GET /api/stream/{view} pushes a fresh snapshot over SSE on every change.
//   - GET /healthz, /readyz and /metrics for probes and Prometheus scraping.
package api
