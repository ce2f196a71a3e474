package exporter

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/xitongsys/parquet-go-source/writerfile"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"

	"etlpulse/internal/table"
)

// parquetField maps a table column onto a parquet schema field. Tag names
// cannot carry the tag separators, so they are sanitised and de-duplicated.
type parquetField struct {
	name string
	tag  string
}

func parquetFields(t *table.Table) []parquetField {
	fields := make([]parquetField, 0, t.NumColumns())
	seen := make(map[string]int, t.NumColumns())
	for _, c := range t.Columns() {
		name := strings.NewReplacer(",", "_", "=", "_", " ", "_").Replace(c.Name)
		if name == "" {
			name = "column"
		}
		if n := seen[name]; n > 0 {
			seen[name] = n + 1
			name = name + "_" + strconv.Itoa(n)
		} else {
			seen[name] = 1
		}

		tag := fmt.Sprintf("name=%s, type=BYTE_ARRAY, convertedtype=UTF8, repetitiontype=OPTIONAL", name)
		switch c.Type {
		case table.Numeric:
			tag = fmt.Sprintf("name=%s, type=DOUBLE, repetitiontype=OPTIONAL", name)
		case table.Boolean:
			tag = fmt.Sprintf("name=%s, type=BOOLEAN, repetitiontype=OPTIONAL", name)
		}
		fields = append(fields, parquetField{name: name, tag: tag})
	}
	return fields
}

func parquetSchema(fields []parquetField) (string, error) {
	tags := make([]map[string]string, len(fields))
	for i, f := range fields {
		tags[i] = map[string]string{"Tag": f.tag}
	}
	b, err := json.Marshal(map[string]interface{}{
		"Tag":    "name=etl_record, repetitiontype=REQUIRED",
		"Fields": tags,
	})
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// parquetRow projects row r through the schema. Values are coerced to the
// field's physical type; anything that does not fit becomes null.
func parquetRow(t *table.Table, fields []parquetField, r int) map[string]interface{} {
	row := make(map[string]interface{}, len(fields))
	for i, c := range t.Columns() {
		v := c.Values[r]
		var out interface{}
		switch c.Type {
		case table.Numeric:
			if f, ok := v.Float(); ok {
				out = f
			}
		case table.Boolean:
			if b, ok := v.Boolean(); ok {
				out = b
			}
		default:
			if !v.IsMissing() {
				out = v.String()
			}
		}
		row[fields[i].name] = out
	}
	return row
}

// writeParquet writes a Snappy-compressed parquet file with one OPTIONAL
// field per column.
func writeParquet(w io.Writer, t *table.Table) error {
	fields := parquetFields(t)
	schema, err := parquetSchema(fields)
	if err != nil {
		return fmt.Errorf("failed to build parquet schema: %w", err)
	}

	pfw := writerfile.NewWriterFile(w)
	pw, err := writer.NewJSONWriter(schema, pfw, 4)
	if err != nil {
		return fmt.Errorf("failed to create parquet writer: %w", err)
	}
	pw.CompressionType = parquet.CompressionCodec_SNAPPY

	for r := 0; r < t.NumRows(); r++ {
		rec, err := json.Marshal(parquetRow(t, fields, r))
		if err != nil {
			_ = pw.WriteStop()
			return fmt.Errorf("failed to encode row %d: %w", r, err)
		}
		if err := pw.Write(string(rec)); err != nil {
			_ = pw.WriteStop()
			return fmt.Errorf("failed to write parquet row %d: %w", r, err)
		}
	}
	if err := pw.WriteStop(); err != nil {
		return fmt.Errorf("failed to finish parquet file: %w", err)
	}
	return pfw.Close()
}
