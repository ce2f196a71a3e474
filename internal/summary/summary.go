package summary

import (
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"etlpulse/internal/table"
)

// Summary describes a processed table relative to its source
type Summary struct {
	OriginalRowCount  int           `json:"original_row_count"`
	ProcessedRowCount int           `json:"processed_row_count"`
	ColumnCount       int           `json:"column_count"`
	Columns           []ColumnStats `json:"columns"`
	DataQuality       DataQuality   `json:"data_quality"`
}

// ColumnStats holds per-column statistics. Undefined statistics are nil.
type ColumnStats struct {
	Name    string           `json:"name"`
	Type    table.ColumnType `json:"type"`
	Count   int              `json:"count"`
	Missing int              `json:"missing"`
	Mean    *float64         `json:"mean"`
	Std     *float64         `json:"std"`
	Min     *float64         `json:"min"`
	Max     *float64         `json:"max"`
	Median  *float64         `json:"median"`
	Unique  int              `json:"unique"`
	Top     *string          `json:"top"`
}

// DataQuality describes the source table before cleaning
type DataQuality struct {
	Completeness  float64 `json:"completeness"`
	MissingCells  int     `json:"missing_cells"`
	DuplicateRows int     `json:"duplicate_rows"`
}

// Column returns the stats for name
func (s Summary) Column(name string) (ColumnStats, bool) {
	for _, c := range s.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return ColumnStats{}, false
}

// Compute summarises processed against original. Either table may be nil.
func Compute(original, processed *table.Table) Summary {
	s := Summary{Columns: []ColumnStats{}}
	if original != nil {
		s.OriginalRowCount = original.NumRows()
		s.DataQuality = quality(original)
	}
	if processed == nil {
		return s
	}

	s.ProcessedRowCount = processed.NumRows()
	s.ColumnCount = processed.NumColumns()
	for _, col := range processed.Columns() {
		s.Columns = append(s.Columns, columnStats(col))
	}
	return s
}

func columnStats(col table.Column) ColumnStats {
	cs := ColumnStats{Name: col.Name, Type: col.Type}
	cs.Missing = col.MissingCount()
	cs.Count = col.Len() - cs.Missing

	counts := map[string]int{}
	var order []string
	for _, v := range col.Values {
		if v.IsMissing() {
			continue
		}
		key := v.String()
		if _, ok := counts[key]; !ok {
			order = append(order, key)
		}
		counts[key]++
	}
	cs.Unique = len(counts)

	if col.Type == table.Numeric {
		nums := col.Numbers()
		if len(nums) > 0 {
			mean := stat.Mean(nums, nil)
			lo, hi := floats.Min(nums), floats.Max(nums)
			med := median(nums)
			cs.Mean, cs.Min, cs.Max, cs.Median = &mean, &lo, &hi, &med
		}
		if len(nums) > 1 {
			std := stat.StdDev(nums, nil)
			cs.Std = &std
		}
		return cs
	}

	if len(order) > 0 {
		top, topN := order[0], 0
		for _, key := range order {
			if counts[key] > topN {
				top, topN = key, counts[key]
			}
		}
		cs.Top = &top
	}
	return cs
}

func median(nums []float64) float64 {
	sorted := make([]float64, len(nums))
	copy(sorted, nums)
	sort.Float64s(sorted)
	n := len(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}

func quality(t *table.Table) DataQuality {
	var q DataQuality
	cells := t.NumRows() * t.NumColumns()
	for _, col := range t.Columns() {
		q.MissingCells += col.MissingCount()
	}
	if cells > 0 {
		q.Completeness = float64(cells-q.MissingCells) / float64(cells)
	}

	seen := make(map[string]struct{}, t.NumRows())
	for i := 0; i < t.NumRows(); i++ {
		key := t.RowKey(i)
		if _, dup := seen[key]; dup {
			q.DuplicateRows++
			continue
		}
		seen[key] = struct{}{}
	}
	return q
}
