// Package chart builds rendering-ready chart configs (line, bar, area,
// pie, scatter) from a table. Output depends only on the table and the
// Builder settings.
package chart
