package exporter

import (
	"encoding/csv"
	"fmt"
	"io"

	"etlpulse/internal/table"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// writeCSV writes a header row followed by every record. Missing values are
// empty fields.
func writeCSV(w io.Writer, t *table.Table, opts Options) error {
	if opts.BOMPrefix {
		if _, err := w.Write(utf8BOM); err != nil {
			return fmt.Errorf("failed to write BOM: %w", err)
		}
	}

	cw := csv.NewWriter(w)
	if err := cw.Write(t.ColumnNames()); err != nil {
		return fmt.Errorf("failed to write headers: %w", err)
	}
	for i, record := range t.Records() {
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("failed to write record %d: %w", i, err)
		}
	}
	cw.Flush()
	return cw.Error()
}
