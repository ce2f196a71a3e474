package loader

import (
	"math"
	"strconv"
	"strings"
	"time"

	"etlpulse/internal/table"
)

var dateLayouts = []string{
	"2006-01-02",
	"2006/01/02",
	"02.01.2006",
	"02/01/2006",
	"01/02/2006",
}

var timestampLayouts = []string{
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04:05Z07:00",
	"2006-01-02T15:04:05.000Z07:00",
	"2006-01-02 15:04",
	"02.01.2006 15:04:05",
}

func parseNumber(s string) (float64, bool) {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsInf(f, 0) || math.IsNaN(f) {
		return 0, false
	}
	return f, true
}

// parseBoolWord accepts word forms only; 1 and 0 are numbers.
func parseBoolWord(s string) (bool, bool) {
	switch strings.ToLower(s) {
	case "t", "true", "yes", "y":
		return true, true
	case "f", "false", "no", "n":
		return false, true
	default:
		return false, false
	}
}

// dateLayoutFor returns the first layout that parses every value
func dateLayoutFor(values []string) (string, bool) {
	for _, layouts := range [][]string{dateLayouts, timestampLayouts} {
	next:
		for _, lay := range layouts {
			for _, v := range values {
				if _, err := time.Parse(lay, v); err != nil {
					continue next
				}
			}
			return lay, true
		}
	}
	return "", false
}

type inference struct {
	maxUnique int
	ratio     float64
}

// columnType picks the column type from its non-missing raw values.
// For datetime columns it also returns the layout to parse with.
func (inf inference) columnType(values []string) (table.ColumnType, string) {
	if len(values) == 0 {
		return table.Text, ""
	}

	allNumeric, allBool := true, true
	for _, v := range values {
		if allNumeric {
			if _, ok := parseNumber(v); !ok {
				allNumeric = false
			}
		}
		if allBool {
			if _, ok := parseBoolWord(v); !ok {
				allBool = false
			}
		}
		if !allNumeric && !allBool {
			break
		}
	}

	switch {
	case allNumeric:
		return table.Numeric, ""
	case allBool:
		return table.Boolean, ""
	}
	if lay, ok := dateLayoutFor(values); ok {
		return table.Datetime, lay
	}

	unique := make(map[string]struct{}, len(values))
	for _, v := range values {
		unique[v] = struct{}{}
	}
	if len(unique) < inf.maxUnique || float64(len(unique))/float64(len(values)) < inf.ratio {
		return table.Categorical, ""
	}
	return table.Text, ""
}

// convert turns a raw cell into a typed value; failures become missing
func convert(raw string, ct table.ColumnType, layout string) table.Value {
	switch ct {
	case table.Numeric:
		if f, ok := parseNumber(raw); ok {
			return table.Number(f)
		}
	case table.Boolean:
		if b, ok := parseBoolWord(raw); ok {
			return table.Bool(b)
		}
	case table.Datetime:
		if t, err := time.Parse(layout, raw); err == nil {
			return table.Time(t)
		}
	default:
		return table.String(raw)
	}
	return table.Missing()
}

// ParseCell converts free text to the given column type using the same
// rules as the loader. Datetime values try every accepted layout.
func ParseCell(raw string, ct table.ColumnType) table.Value {
	raw = strings.TrimSpace(raw)
	if ct != table.Datetime {
		return convert(raw, ct, "")
	}
	for _, layouts := range [][]string{dateLayouts, timestampLayouts} {
		for _, lay := range layouts {
			if t, err := time.Parse(lay, raw); err == nil {
				return table.Time(t)
			}
		}
	}
	return table.Missing()
}
