// Package filter selects table rows with per-column conditions.
//
// A Spec maps column names to one of three conditions:
//
//	RangeFilter      inclusive numeric bounds, missing values never match
//	ValueSetFilter   exact membership, an empty set matches nothing
//	PredicateFilter  a Go function, only available programmatically
//
// On the wire a range is {"min": n, "max": n} and a value set is a JSON
// array. Every other shape is rejected while decoding, so the rest of the
// pipeline only ever sees the typed conditions.
package filter
