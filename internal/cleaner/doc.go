// Package cleaner removes duplicate rows, fills missing values and coerces
// cell values to their column type.
package cleaner
