package cleaner

import (
	"fmt"
	"log/slog"
	"strings"

	"gonum.org/v1/gonum/stat"

	"etlpulse/internal/loader"
	"etlpulse/internal/table"
)

// Strategy selects how missing numeric values are handled
type Strategy string

const (
	// StrategyImpute replaces missing numeric values with the column mean
	StrategyImpute Strategy = "impute"
	// StrategyDrop removes rows with a missing numeric value
	StrategyDrop Strategy = "drop"
)

// ParseStrategy accepts "impute", "mean" or "drop"
func ParseStrategy(s string) (Strategy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "impute", "mean":
		return StrategyImpute, nil
	case "drop":
		return StrategyDrop, nil
	default:
		return "", fmt.Errorf("unknown missing value strategy %q", s)
	}
}

// Report summarises what cleaning changed
type Report struct {
	DuplicatesRemoved int            `json:"duplicates_removed"`
	Imputed           map[string]int `json:"imputed"`
	RowsDropped       int            `json:"rows_dropped"`
	Coerced           map[string]int `json:"coerced"`
	FlaggedColumns    []string       `json:"flagged_columns"`
}

// Cleaner removes duplicates, fills gaps and coerces values to column types
type Cleaner struct {
	strategy Strategy
	logger   *slog.Logger
}

// New creates a Cleaner
func New(strategy Strategy, logger *slog.Logger) *Cleaner {
	if strategy == "" {
		strategy = StrategyImpute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Cleaner{strategy: strategy, logger: logger.With(slog.String("component", "cleaner"))}
}

// Strategy returns the configured missing value strategy
func (c *Cleaner) Strategy() Strategy { return c.strategy }

// Clean returns a cleaned copy of t. The input is never modified.
//
// Steps run in a fixed order: drop exact duplicates, fill numeric gaps
// (mean or row drop), fill other gaps with the mode, coerce values to the
// column type. Cells that fail coercion are filled like any other gap, and
// rows made identical by filling are removed at the end.
func (c *Cleaner) Clean(t *table.Table) (*table.Table, Report, error) {
	report := Report{
		Imputed:        map[string]int{},
		Coerced:        map[string]int{},
		FlaggedColumns: []string{},
	}

	out := dedupe(t, &report)
	if c.strategy == StrategyDrop {
		out = dropMissingNumeric(out, &report)
	}

	var err error
	for _, col := range out.Columns() {
		values, imputed := fill(col)
		if imputed < 0 {
			report.FlaggedColumns = append(report.FlaggedColumns, col.Name)
			imputed = 0
		}

		values, coerced := coerce(values, col.Type)
		if coerced > 0 {
			report.Coerced[col.Name] = coerced
			refilled, n := fill(table.Column{Name: col.Name, Type: col.Type, Values: values})
			if n > 0 {
				values = refilled
				imputed += n
			}
		}
		if imputed > 0 {
			report.Imputed[col.Name] = imputed
		}

		if imputed > 0 || coerced > 0 {
			out, err = out.WithColumn(table.Column{Name: col.Name, Type: col.Type, Values: values})
			if err != nil {
				return nil, report, fmt.Errorf("replace column %q: %w", col.Name, err)
			}
		}
	}
	out = dedupe(out, &report)

	c.logger.Debug("table cleaned",
		slog.Int("rows_in", t.NumRows()),
		slog.Int("rows_out", out.NumRows()),
		slog.Int("duplicates_removed", report.DuplicatesRemoved),
		slog.Int("rows_dropped", report.RowsDropped),
		slog.Int("flagged_columns", len(report.FlaggedColumns)),
	)
	return out, report, nil
}

// dedupe keeps the first occurrence of every distinct row
func dedupe(t *table.Table, report *Report) *table.Table {
	seen := make(map[string]struct{}, t.NumRows())
	keep := make([]int, 0, t.NumRows())
	for i := 0; i < t.NumRows(); i++ {
		key := t.RowKey(i)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		keep = append(keep, i)
	}
	removed := t.NumRows() - len(keep)
	if removed == 0 {
		return t
	}
	report.DuplicatesRemoved += removed
	return t.SelectRows(keep)
}

// dropMissingNumeric removes rows missing a numeric value. Columns that are
// entirely missing are ignored so they do not empty the table.
func dropMissingNumeric(t *table.Table, report *Report) *table.Table {
	var numeric []table.Column
	for _, col := range t.Columns() {
		if col.Type == table.Numeric && col.MissingCount() < col.Len() {
			numeric = append(numeric, col)
		}
	}

	keep := make([]int, 0, t.NumRows())
rows:
	for i := 0; i < t.NumRows(); i++ {
		for _, col := range numeric {
			if col.Values[i].IsMissing() {
				continue rows
			}
		}
		keep = append(keep, i)
	}
	report.RowsDropped = t.NumRows() - len(keep)
	if report.RowsDropped == 0 {
		return t
	}
	return t.SelectRows(keep)
}

// fill imputes missing values. It returns -1 when the column has no
// value to impute from.
func fill(col table.Column) ([]table.Value, int) {
	missing := col.MissingCount()
	if missing == 0 {
		return col.Values, 0
	}
	if missing == col.Len() {
		return col.Values, -1
	}

	var replacement table.Value
	if col.Type == table.Numeric {
		nums := col.Numbers()
		if len(nums) == 0 {
			return col.Values, -1
		}
		replacement = table.Number(stat.Mean(nums, nil))
	} else {
		replacement = mode(col.Values)
	}

	values := make([]table.Value, col.Len())
	for i, v := range col.Values {
		if v.IsMissing() {
			values[i] = replacement
		} else {
			values[i] = v
		}
	}
	return values, missing
}

// mode returns the most frequent non-missing value; ties go to the value seen first
func mode(values []table.Value) table.Value {
	counts := map[string]int{}
	first := map[string]table.Value{}
	var order []string
	for _, v := range values {
		if v.IsMissing() {
			continue
		}
		key := string(rune('0'+v.Kind())) + v.String()
		if _, ok := first[key]; !ok {
			first[key] = v
			order = append(order, key)
		}
		counts[key]++
	}

	best, bestN := "", 0
	for _, key := range order {
		if counts[key] > bestN {
			best, bestN = key, counts[key]
		}
	}
	return first[best]
}

// coerce converts values to the column type; failures become missing
func coerce(values []table.Value, ct table.ColumnType) ([]table.Value, int) {
	var out []table.Value
	changed := 0
	for i, v := range values {
		cv := coerceValue(v, ct)
		if cv.Equal(v) {
			continue
		}
		if out == nil {
			out = make([]table.Value, len(values))
			copy(out, values)
		}
		out[i] = cv
		changed++
	}
	if out == nil {
		return values, 0
	}
	return out, changed
}

func coerceValue(v table.Value, ct table.ColumnType) table.Value {
	if v.IsMissing() {
		return v
	}
	switch ct {
	case table.Numeric:
		if v.Kind() == table.KindNumber {
			return v
		}
		if b, ok := v.Boolean(); ok {
			if b {
				return table.Number(1)
			}
			return table.Number(0)
		}
	case table.Boolean:
		if v.Kind() == table.KindBool {
			return v
		}
		if f, ok := v.Float(); ok && (f == 0 || f == 1) {
			return table.Bool(f == 1)
		}
	case table.Datetime:
		if v.Kind() == table.KindTime {
			return v
		}
	default:
		if v.Kind() == table.KindString {
			return v
		}
		return table.String(v.String())
	}
	return loader.ParseCell(v.String(), ct)
}
