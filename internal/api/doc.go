// Package api hosts the ops HTTP server, middleware, and REST handlers.
// Notable routes:
//   - GET /healthz and /readyz for liveness and readiness checks.
//   - GET /metrics for Prometheus scraping.
//   - POST /v1/queue and POST /v1/queue/{item_id}/cancel for manual queue control.
//   - GET /v1/queue/stats, /v1/series/{series_id}/stats and /v1/reports/latest
//     for inspecting queue health, crawl history and the last cycle report.
package api
