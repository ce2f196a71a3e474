// Package pipeline runs the ETL stages over one source and keeps each run
// addressable by its run ID.
//
// A run moves through extract, clean, filter, transform, load, chart and
// export in that order. Each stage is a node of the run's flow.Tracker; the
// first failing stage ends the run with a *RunError and leaves every later
// node pending.
//
// Extract through transform depend only on the source bytes, the filter and
// transform specs and the cleaning strategy. Their outcome is shared through
// a Cache keyed by a BLAKE2b fingerprint of those inputs, and concurrent
// identical runs execute once. Runs answered from the cache replay the same
// flow transitions on their own tracker.
//
// Run history is persisted through a Store: MemoryStore for a single process,
// SQLiteStore when history must survive restarts.
package pipeline
