// Package services sits between the HTTP handlers and the pipeline core.
//
// PipelineService turns transport requests into pipeline runs and answers
// the read operations of a run (record, flow, chart, export, annotation).
// Runs whose tables were evicted from memory still answer from the run
// store; operations that need the table return ErrRunEvicted.
//
// HealthService reports liveness, readiness of the run store and output
// directory, and version information.
//
// Services take a *slog.Logger and tag it with their component name. Errors
// are returned unchanged so the transport layer can map typed errors to
// problem details.
package services
