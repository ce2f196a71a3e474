package exporter

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"etlpulse/internal/summary"
	"etlpulse/internal/table"
)

// Metadata heads a JSON export
type Metadata struct {
	GeneratedAt *time.Time      `json:"generated_at,omitempty"`
	RowCount    int             `json:"row_count"`
	Columns     []ColumnInfo    `json:"columns"`
	Summary     summary.Summary `json:"summary"`
}

// ColumnInfo names a column and its inferred type
type ColumnInfo struct {
	Name string           `json:"name"`
	Type table.ColumnType `json:"type"`
}

func metadataFor(t *table.Table, s summary.Summary, opts Options) Metadata {
	md := Metadata{RowCount: t.NumRows(), Columns: make([]ColumnInfo, 0, t.NumColumns()), Summary: s}
	if !opts.GeneratedAt.IsZero() {
		at := opts.GeneratedAt.UTC()
		md.GeneratedAt = &at
	}
	for _, c := range t.Columns() {
		md.Columns = append(md.Columns, ColumnInfo{Name: c.Name, Type: c.Type})
	}
	return md
}

// writeJSON emits {"metadata": ..., "records": [...]}. Record keys follow
// column order, which encoding/json cannot do for maps.
func writeJSON(w io.Writer, t *table.Table, s summary.Summary, opts Options) error {
	bw := bufio.NewWriter(w)

	md, err := json.Marshal(metadataFor(t, s, opts))
	if err != nil {
		return fmt.Errorf("failed to encode metadata: %w", err)
	}
	keys := make([][]byte, t.NumColumns())
	for i, name := range t.ColumnNames() {
		if keys[i], err = json.Marshal(name); err != nil {
			return err
		}
	}

	bw.WriteString(`{"metadata":`)
	bw.Write(md)
	bw.WriteString(`,"records":[`)
	for r := 0; r < t.NumRows(); r++ {
		if r > 0 {
			bw.WriteByte(',')
		}
		bw.WriteByte('{')
		for i, v := range t.Row(r) {
			if i > 0 {
				bw.WriteByte(',')
			}
			val, err := json.Marshal(v)
			if err != nil {
				return fmt.Errorf("failed to encode row %d: %w", r, err)
			}
			bw.Write(keys[i])
			bw.WriteByte(':')
			bw.Write(val)
		}
		bw.WriteByte('}')
	}
	bw.WriteString("]}\n")
	return bw.Flush()
}
