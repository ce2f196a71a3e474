// Package flow tracks the status of each pipeline stage for a single run.
//
// The graph is fixed:
//
//	extract -> clean -> filter -> transform -> {load, chart, export}
//
// Every node starts pending and may move once, to completed or error.
// Observers registered with OnTransition see every change, which is how
// run progress reaches WebSocket clients.
package flow
