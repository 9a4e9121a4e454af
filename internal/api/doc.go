// Package api hosts the optional read-only status server. Routes:
//   - GET /healthz for liveness probes.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/pending lists queued projects in processing order.
//   - GET /v1/ledger and /v1/ledger/{id} report completed projects.
package api
