// Package api hosts the HTTP server, middleware, and REST handlers. Notable
// routes:
//   - POST /api/scrape and GET /api/scrape/{id} to submit and follow jobs.
//   - GET /api/media for the paginated media listing.
//   - GET /api/monitor for the JSON runtime snapshot.
//   - GET /health for database and Redis connectivity.
//   - GET /metrics for Prometheus scraping.
package api
