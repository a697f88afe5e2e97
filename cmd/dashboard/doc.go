// Package main hosts the image crawl dashboard entrypoint.
//
// Architecture overview:
//   - HTTP API: internal/api.Server relays crawl requests to the backend, serves dashboard, crawler and gallery
//     snapshots, bundles matching images into a zip, and streams live view updates over SSE.
//   - Catalog: the shared Postgres database (internal/storage/postgres) or an in-process store for local runs.
//     Table triggers emit pg_notify payloads that the listener republishes into the realtime hub.
//   - Realtime: internal/realtime.Hub fans change events out to live views; each event causes exactly one reload of
//     every view subscribed to that table. A Google Cloud Pub/Sub subscription can feed the same hub.
//   - Image sources: http(s) through Colly, gs:// through Cloud Storage, s3:// through the AWS SDK and file:// from a
//     local directory, optionally cached in Redis.
//   - Configuration & plumbing: Viper populates config from env (DASHBOARD_*), a .env file and an optional config
//     file; zap provides structured logging; Prometheus metrics are exported on /metrics.
//
// Quick checklist:
//   - Required: DASHBOARD_DATABASE_URL and DASHBOARD_DATABASE_KEY. The process refuses to start without them.
//   - Optional: DASHBOARD_BACKEND_BASE_URL, DASHBOARD_DOWNLOAD_MODE=local|proxy, DASHBOARD_STORAGE_LOCAL_DIR,
//     DASHBOARD_STORAGE_GCS_ENABLED, DASHBOARD_STORAGE_S3_ENABLED, DASHBOARD_CACHE_REDIS_ADDR,
//     DASHBOARD_REALTIME_PUBSUB_PROJECT with DASHBOARD_REALTIME_PUBSUB_SUBSCRIPTION.
//   - Run locally: go run ./cmd/dashboard -config config.yaml (or rely solely on env overrides).
package main
