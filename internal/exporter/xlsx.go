package exporter

import (
	"fmt"
	"io"
	"time"

	"github.com/xuri/excelize/v2"

	"etlpulse/internal/summary"
	"etlpulse/internal/table"
)

const (
	dataSheet    = "Data"
	summarySheet = "Summary"
)

// writeXLSX builds a workbook with a Data sheet holding the table and a
// Summary sheet with run-level figures followed by per-column statistics.
func writeXLSX(w io.Writer, t *table.Table, s summary.Summary, opts Options) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName(f.GetSheetName(0), dataSheet); err != nil {
		return fmt.Errorf("failed to name data sheet: %w", err)
	}
	if err := writeDataSheet(f, t); err != nil {
		return err
	}
	if _, err := f.NewSheet(summarySheet); err != nil {
		return fmt.Errorf("failed to create summary sheet: %w", err)
	}
	if err := writeSummarySheet(f, s, opts); err != nil {
		return err
	}
	f.SetActiveSheet(0)

	if err := f.Write(w); err != nil {
		return fmt.Errorf("failed to write workbook: %w", err)
	}
	return nil
}

func writeDataSheet(f *excelize.File, t *table.Table) error {
	header := make([]interface{}, t.NumColumns())
	for i, name := range t.ColumnNames() {
		header[i] = name
	}
	if err := setRow(f, dataSheet, 1, header); err != nil {
		return err
	}

	for r := 0; r < t.NumRows(); r++ {
		values := t.Row(r)
		cells := make([]interface{}, len(values))
		for i, v := range values {
			cells[i] = cellValue(v)
		}
		if err := setRow(f, dataSheet, r+2, cells); err != nil {
			return err
		}
	}
	return nil
}

func writeSummarySheet(f *excelize.File, s summary.Summary, opts Options) error {
	rows := [][]interface{}{
		{"Metric", "Value"},
		{"Original rows", s.OriginalRowCount},
		{"Processed rows", s.ProcessedRowCount},
		{"Columns", s.ColumnCount},
		{"Completeness", s.DataQuality.Completeness},
		{"Missing cells", s.DataQuality.MissingCells},
		{"Duplicate rows", s.DataQuality.DuplicateRows},
	}
	if !opts.GeneratedAt.IsZero() {
		rows = append(rows, []interface{}{"Generated at", opts.GeneratedAt.UTC().Format(time.RFC3339)})
	}
	rows = append(rows, []interface{}{}, []interface{}{
		"Column", "Type", "Count", "Missing", "Mean", "Std", "Min", "Max", "Median", "Unique", "Top",
	})
	for _, c := range s.Columns {
		top := ""
		if c.Top != nil {
			top = *c.Top
		}
		rows = append(rows, []interface{}{
			c.Name, string(c.Type), c.Count, c.Missing,
			formatFloat(c.Mean), formatFloat(c.Std), formatFloat(c.Min), formatFloat(c.Max), formatFloat(c.Median),
			c.Unique, top,
		})
	}

	for i, row := range rows {
		if err := setRow(f, summarySheet, i+1, row); err != nil {
			return err
		}
	}
	return nil
}

func setRow(f *excelize.File, sheet string, row int, cells []interface{}) error {
	if len(cells) == 0 {
		return nil
	}
	axis, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return err
	}
	if err := f.SetSheetRow(sheet, axis, &cells); err != nil {
		return fmt.Errorf("failed to write %s row %d: %w", sheet, row, err)
	}
	return nil
}

// cellValue keeps numbers and booleans native so spreadsheets can compute on them
func cellValue(v table.Value) interface{} {
	switch v.Kind() {
	case table.KindNumber:
		f, _ := v.Float()
		return f
	case table.KindBool:
		b, _ := v.Boolean()
		return b
	case table.KindMissing:
		return nil
	default:
		return v.String()
	}
}
