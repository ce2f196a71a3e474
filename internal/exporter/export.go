package exporter

import (
	"bytes"
	"io"
	"time"

	apperrors "etlpulse/internal/errors"
	"etlpulse/internal/summary"
	"etlpulse/internal/table"
)

// Options tunes an export
type Options struct {
	// BOMPrefix adds a UTF-8 BOM to CSV output so Excel detects the encoding
	BOMPrefix bool
	// GeneratedAt is stamped into JSON and XLSX metadata when set
	GeneratedAt time.Time
}

// Export writes t in the given format. s is used for the metadata parts of
// the JSON and XLSX formats.
func Export(w io.Writer, t *table.Table, s summary.Summary, format Format) error {
	return ExportWithOptions(w, t, s, format, Options{})
}

// ExportWithOptions is Export with explicit options
func ExportWithOptions(w io.Writer, t *table.Table, s summary.Summary, format Format, opts Options) error {
	if t == nil {
		t = table.MustNew(nil)
	}
	switch format {
	case CSV:
		return writeCSV(w, t, opts)
	case JSON:
		return writeJSON(w, t, s, opts)
	case XLSX:
		return writeXLSX(w, t, s, opts)
	case Parquet:
		return writeParquet(w, t)
	default:
		return apperrors.NewUnsupportedFormatError(string(format))
	}
}

// Bytes renders the export into memory
func Bytes(t *table.Table, s summary.Summary, format Format, opts Options) ([]byte, error) {
	var buf bytes.Buffer
	if err := ExportWithOptions(&buf, t, s, format, opts); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
