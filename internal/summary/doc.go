// Package summary computes row counts, per-column descriptive statistics
// and data quality figures. Statistics that are undefined for a column
// (for example the standard deviation of a single value) are nil and
// encode as JSON null.
package summary
