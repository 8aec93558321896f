// Package api hosts the HTTP server used by the serve command. Notable routes:
//   - GET /healthz and /readyz for probes.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/entries for today's ledger, optionally filtered by status.
//   - POST /v1/runs to trigger a delivery run; GET /v1/runs/last for its summary.
package api
