// Package app wires the ETL Pulse server together: configuration, logging,
// OpenTelemetry providers, the run store, the pipeline runner, the
// flow-status hub, services and the chi router.
//
// Route tree:
//
//	/api/health, /api/health/live, /api/health/ready, /api/version
//	/api/pipeline/...   run, history, flow, charts, export, annotation
//	/metrics            Prometheus exporter
//	/ws                 flow transitions pushed as JSON
//
// Every route gets request IDs, tracing, structured logging, panic
// recovery, security headers, CORS and rate limiting. Only /api gets the
// request timeout and body limit, so websocket connections stay open.
//
// Run blocks until SIGINT or SIGTERM and then shuts down in order: HTTP
// server, hub, run store, telemetry.
package app
