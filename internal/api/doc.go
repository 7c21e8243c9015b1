// Package api hosts the operator HTTP server. Notable routes:
//   - GET /healthz and /readyz for probes.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/runs and /v1/runs/{run_id} for run progress, folded from
//     progress events.
//   - POST /v1/runs to start a crawl run when the server is given a Runner.
package api
