// Package api hosts the HTTP server, middleware, and REST handlers for operator
// access. Notable routes:
//   - GET /healthz / readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/tasks and /v1/tasks/{website}/{email} for ledger inspection.
//   - POST /v1/crawl to run the contact crawler against one site.
//   - POST /v1/compose and /v1/send for the request composer.
package api
