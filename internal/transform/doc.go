// Package transform rescales numeric columns.
//
// Transformations run in the order listed and each applies to every
// numeric column. Degenerate inputs never fail: constant columns map to 0
// and non-positive log inputs become missing. Both cases are recorded in
// the returned Report.
package transform
