package exporter

import (
	"strconv"
	"strings"

	apperrors "etlpulse/internal/errors"
)

// Format is an export file format
type Format string

const (
	CSV     Format = "csv"
	JSON    Format = "json"
	XLSX    Format = "xlsx"
	Parquet Format = "parquet"
)

// Formats lists every supported format
var Formats = []Format{CSV, JSON, XLSX, Parquet}

var formatAliases = map[string]Format{
	"csv":         CSV,
	"json":        JSON,
	"xlsx":        XLSX,
	"excel":       XLSX,
	"spreadsheet": XLSX,
	"parquet":     Parquet,
}

// ParseFormat resolves a format name or alias, case-insensitively
func ParseFormat(s string) (Format, error) {
	f, ok := formatAliases[strings.ToLower(strings.TrimSpace(s))]
	if !ok {
		return "", apperrors.NewUnsupportedFormatError(s)
	}
	return f, nil
}

// ContentType returns the MIME type served for the format
func (f Format) ContentType() string {
	switch f {
	case CSV:
		return "text/csv; charset=utf-8"
	case JSON:
		return "application/json"
	case XLSX:
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	case Parquet:
		return "application/vnd.apache.parquet"
	default:
		return "application/octet-stream"
	}
}

// Extension returns the file extension including the dot
func (f Format) Extension() string {
	return "." + string(f)
}

// formatFloat renders statistics for the summary sheet
func formatFloat(p *float64) string {
	if p == nil {
		return ""
	}
	return strconv.FormatFloat(*p, 'f', 4, 64)
}
