// Package api hosts the HTTP server, middleware, and handlers for the wake
// gateway. Notable routes:
//   - GET /api/{task}?url=... forwards the work call, waking the backend
//     first when needed; a backend that stays asleep yields 202 + Retry-After.
//   - GET /health and POST /wake pass through to the backend collaborator.
//   - GET /healthz / readyz for platform probes.
//   - GET /metrics for Prometheus scraping.
package api
