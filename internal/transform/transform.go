package transform

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	apperrors "etlpulse/internal/errors"
	"etlpulse/internal/table"
)

// Name identifies a numeric transformation
type Name string

const (
	Normalize    Name = "normalize"
	Standardize  Name = "standardize"
	LogTransform Name = "log_transform"
)

// Names lists the supported transformations
var Names = []Name{Normalize, Standardize, LogTransform}

// Spec is an ordered list of transformations applied to every numeric column
type Spec []Name

// Validate rejects unknown names
func (s Spec) Validate() error {
	for _, n := range s {
		switch n {
		case Normalize, Standardize, LogTransform:
		default:
			return apperrors.NewInvalidTransformError(string(n))
		}
	}
	return nil
}

// ParseSpec builds a Spec from user input. Names are trimmed and lowercased.
func ParseSpec(names []string) (Spec, error) {
	spec := make(Spec, 0, len(names))
	for _, n := range names {
		spec = append(spec, Name(strings.ToLower(strings.TrimSpace(n))))
	}
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	return spec, nil
}

// UnmarshalJSON accepts an array of strings
func (s *Spec) UnmarshalJSON(data []byte) error {
	var names []string
	if err := json.Unmarshal(data, &names); err != nil {
		return apperrors.NewAppError(apperrors.ErrTypeInvalidTransform, "transform spec must be an array of names", err)
	}
	spec, err := ParseSpec(names)
	if err != nil {
		return err
	}
	*s = spec
	return nil
}

// Report records degenerate cases hit while transforming
type Report struct {
	// Constant lists, per transformation, the columns whose spread was zero
	Constant map[Name][]string `json:"constant,omitempty"`
	// Suppressed counts values made missing by log_transform
	Suppressed map[string]int `json:"suppressed,omitempty"`
	Applied    []Name         `json:"applied"`
}

// Apply runs the transformations in order over every numeric column.
// Non-numeric columns and missing values are left as they are.
func Apply(t *table.Table, spec Spec) (*table.Table, Report, error) {
	report := Report{
		Constant:   map[Name][]string{},
		Suppressed: map[string]int{},
		Applied:    []Name{},
	}
	if err := spec.Validate(); err != nil {
		return nil, report, err
	}

	out := t
	for _, name := range spec {
		for _, colName := range out.ColumnsOfType(table.Numeric) {
			col, _ := out.Column(colName)

			var (
				values     []table.Value
				degenerate bool
			)
			switch name {
			case Normalize:
				values, degenerate = normalize(col.Values)
			case Standardize:
				values, degenerate = standardize(col.Values)
			case LogTransform:
				var suppressed int
				values, suppressed = logValues(col.Values)
				if suppressed > 0 {
					report.Suppressed[colName] += suppressed
				}
			}
			if degenerate {
				report.Constant[name] = append(report.Constant[name], colName)
			}

			var err error
			out, err = out.WithColumn(table.Column{Name: colName, Type: table.Numeric, Values: values})
			if err != nil {
				return nil, report, fmt.Errorf("%s %q: %w", name, colName, err)
			}
		}
		report.Applied = append(report.Applied, name)
	}
	if out == t {
		out = t.Clone()
	}
	return out, report, nil
}

// mapPresent applies fn to every non-missing number
func mapPresent(values []table.Value, fn func(float64) table.Value) []table.Value {
	out := make([]table.Value, len(values))
	for i, v := range values {
		if f, ok := v.Float(); ok {
			out[i] = fn(f)
		}
	}
	return out
}

func present(values []table.Value) []float64 {
	nums := make([]float64, 0, len(values))
	for _, v := range values {
		if f, ok := v.Float(); ok {
			nums = append(nums, f)
		}
	}
	return nums
}

// normalize rescales to [0, 1]. A constant column maps to 0.
func normalize(values []table.Value) ([]table.Value, bool) {
	nums := present(values)
	if len(nums) == 0 {
		return mapPresent(values, table.Number), false
	}
	lo, hi := floats.Min(nums), floats.Max(nums)
	span := hi - lo
	if span == 0 {
		return mapPresent(values, func(float64) table.Value { return table.Number(0) }), true
	}
	return mapPresent(values, func(x float64) table.Value {
		return table.Number((x - lo) / span)
	}), false
}

// standardize centres on the mean and scales by the sample standard deviation.
// Zero spread or fewer than two values maps to 0.
func standardize(values []table.Value) ([]table.Value, bool) {
	nums := present(values)
	if len(nums) == 0 {
		return mapPresent(values, table.Number), false
	}
	if len(nums) < 2 {
		return mapPresent(values, func(float64) table.Value { return table.Number(0) }), true
	}
	mean, std := stat.MeanStdDev(nums, nil)
	if std == 0 || math.IsNaN(std) {
		return mapPresent(values, func(float64) table.Value { return table.Number(0) }), true
	}
	return mapPresent(values, func(x float64) table.Value {
		return table.Number((x - mean) / std)
	}), false
}

// logValues takes the natural log; non-positive values become missing
func logValues(values []table.Value) ([]table.Value, int) {
	suppressed := 0
	out := mapPresent(values, func(x float64) table.Value {
		if x <= 0 {
			suppressed++
			return table.Missing()
		}
		return table.Number(math.Log(x))
	})
	return out, suppressed
}
