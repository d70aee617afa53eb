// Package main hosts the media scraper service entrypoint.
//
// Architecture overview:
//   - HTTP API: internal/api.Server validates scrape submissions, enqueues them and serves job status, the
//     paginated media listing, health, a JSON monitor snapshot and Prometheus metrics.
//   - Queue & workers: jobs live in an in-memory queue (single process) or a Redis-backed asynq queue (shared by
//     any number of 'worker' processes). Each job is processed by internal/worker in chunks of URLs scraped
//     concurrently, with progress and partial results reported after every chunk.
//   - Scrape pipeline: a Colly static fetch, a heuristic render decision, an optional chromedp render in a shared
//     headless Chrome, goquery extraction, and a merge of the video URLs the browser observed on the wire.
//   - Persistence: pages and media go to Postgres (pgx) or an in-memory store; media inserts skip duplicates.
//   - Configuration & plumbing: Viper populates config from env/files after godotenv loads .env; zap provides
//     structured logging; progress events are batched by a hub and fanned out to log, Prometheus and Redis sinks.
//
// Quick checklist:
//   - Run everything in one process: go run ./cmd/mediascraper serve
//   - Split API and workers: MEDIASCRAPER_QUEUE_BACKEND=redis, then 'serve --no-workers' and 'worker'.
//   - Persist to Postgres: MEDIASCRAPER_DB_BACKEND=postgres MEDIASCRAPER_DB_DSN=postgres://...
//   - One-off run: go run ./cmd/mediascraper scrape https://example.com
package main
