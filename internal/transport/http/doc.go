// Package http implements the HTTP handlers of the pipeline API.
//
// Handlers only parse requests, call a service and render the answer with
// chi/render. Every failure goes through errors.ErrorHandler, which maps
// typed errors to RFC 7807 problem details:
//
//	EXTRACTION                      422
//	INVALID_* / UNSUPPORTED_FORMAT  400
//	VALIDATION                      400
//	NOT_FOUND                       404
//	context deadline                504
//
// Failed runs carry run_id and stage extensions so clients can fetch the
// flow of the run that failed.
//
// Routes:
//
//	POST /api/pipeline/runs                       run (multipart or JSON)
//	GET  /api/pipeline/runs                       history
//	GET  /api/pipeline/runs/{runID}               stored record
//	GET  /api/pipeline/runs/{runID}/flow          flow status
//	GET  /api/pipeline/runs/{runID}/charts/{kind} chart configuration
//	GET  /api/pipeline/runs/{runID}/export        attachment, ?format=
//	GET  /api/pipeline/runs/{runID}/annotation    domain annotation
package http
