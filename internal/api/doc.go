// Package api hosts the HTTP server, middleware, and REST handlers. Routes:
//   - GET /healthz and /readyz for probes.
//   - GET /metrics for Prometheus scraping.
//   - POST /v1/harvests to queue a harvest; GET /v1/jobs/{job_id} to follow it.
//   - GET and DELETE /v1/collections/{collection_id}/progress.
//   - POST /v1/collections/{collection_id}/checkpoint to save buffered content now.
//   - GET /v1/collections/{collection_id}/events for a server-sent event stream.
package api
