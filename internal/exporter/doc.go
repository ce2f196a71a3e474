// Package exporter serialises a processed table as CSV, JSON, XLSX or Parquet.
//
// Export and Bytes produce a single stream. FileWriter places a run's
// outputs in a directory using the processed_data_<stamp>.<ext> and
// etl_metadata_<stamp>.json names.
//
//	data, err := exporter.Bytes(tbl, sum, exporter.XLSX, exporter.Options{})
package exporter
