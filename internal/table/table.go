package table

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ColumnType is the logical type of a column, fixed at load time
type ColumnType string

const (
	Numeric     ColumnType = "numeric"
	Categorical ColumnType = "categorical"
	Datetime    ColumnType = "datetime"
	Text        ColumnType = "text"
	Boolean     ColumnType = "boolean"
)

var (
	ErrDuplicateColumn = errors.New("duplicate column name")
	ErrRaggedColumns   = errors.New("columns have different lengths")
	ErrUnknownColumn   = errors.New("unknown column")
)


// Column is a named, typed sequence of values
type Column struct {
	Name   string     `json:"name"`
	Type   ColumnType `json:"type"`
	Values []Value    `json:"-"`
}

// Len returns the number of values in the column
func (c Column) Len() int { return len(c.Values) }

// Numbers returns the non-missing numeric values in row order
func (c Column) Numbers() []float64 {
	out := make([]float64, 0, len(c.Values))
	for _, v := range c.Values {
		if f, ok := v.Float(); ok {
			out = append(out, f)
		}
	}
	return out
}

// MissingCount returns how many values are missing
func (c Column) MissingCount() int {
	n := 0
	for _, v := range c.Values {
		if v.IsMissing() {
			n++
		}
	}
	return n
}

// Table is an ordered set of equal-length columns with unique names.
// Tables are treated as immutable: operations return new tables.
type Table struct {
	columns []Column
	index   map[string]int
	rows    int
}

// New builds a table, copying the column value slices
func New(columns []Column) (*Table, error) {
	t := &Table{
		columns: make([]Column, len(columns)),
		index:   make(map[string]int, len(columns)),
	}
	for i, c := range columns {
		if _, exists := t.index[c.Name]; exists {
			return nil, fmt.Errorf("%w: %q", ErrDuplicateColumn, c.Name)
		}
		if i == 0 {
			t.rows = len(c.Values)
		} else if len(c.Values) != t.rows {
			return nil, fmt.Errorf("%w: %q has %d values, expected %d", ErrRaggedColumns, c.Name, len(c.Values), t.rows)
		}
		values := make([]Value, len(c.Values))
		copy(values, c.Values)
		t.columns[i] = Column{Name: c.Name, Type: c.Type, Values: values}
		t.index[c.Name] = i
	}
	return t, nil
}

// MustNew is New for fixtures; it panics on invalid input
func MustNew(columns []Column) *Table {
	t, err := New(columns)
	if err != nil {
		panic(err)
	}
	return t
}

// NumRows returns the row count
func (t *Table) NumRows() int { return t.rows }

// NumColumns returns the column count
func (t *Table) NumColumns() int { return len(t.columns) }

// ColumnNames returns the column names in order
func (t *Table) ColumnNames() []string {
	names := make([]string, len(t.columns))
	for i, c := range t.columns {
		names[i] = c.Name
	}
	return names
}

// Columns returns the columns in order. Callers must not modify the value slices.
func (t *Table) Columns() []Column {
	out := make([]Column, len(t.columns))
	copy(out, t.columns)
	return out
}

// Column looks up a column by name
func (t *Table) Column(name string) (Column, bool) {
	i, ok := t.index[name]
	if !ok {
		return Column{}, false
	}
	return t.columns[i], true
}

// ColumnsOfType returns the names of columns with the given type, in order
func (t *Table) ColumnsOfType(types ...ColumnType) []string {
	var names []string
	for _, c := range t.columns {
		for _, ct := range types {
			if c.Type == ct {
				names = append(names, c.Name)
				break
			}
		}
	}
	return names
}

// Row returns a copy of the values at row i
func (t *Table) Row(i int) []Value {
	row := make([]Value, len(t.columns))
	for j, c := range t.columns {
		row[j] = c.Values[i]
	}
	return row
}

// RowKey returns a canonical key for row i. Rows with equal keys are exact
// duplicates. Each cell is written as its kind, its length and its text.
func (t *Table) RowKey(i int) string {
	var b strings.Builder
	for _, c := range t.columns {
		v := c.Values[i]
		s := v.String()
		b.WriteByte(byte('0' + v.Kind()))
		b.WriteString(strconv.Itoa(len(s)))
		b.WriteByte(':')
		b.WriteString(s)
	}
	return b.String()
}

// SelectRows returns a new table holding the given rows in the given order
func (t *Table) SelectRows(rows []int) *Table {
	out := &Table{
		columns: make([]Column, len(t.columns)),
		index:   t.cloneIndex(),
		rows:    len(rows),
	}
	for j, c := range t.columns {
		values := make([]Value, len(rows))
		for k, r := range rows {
			values[k] = c.Values[r]
		}
		out.columns[j] = Column{Name: c.Name, Type: c.Type, Values: values}
	}
	return out
}

// WithColumn returns a copy of the table with the named column replaced
func (t *Table) WithColumn(c Column) (*Table, error) {
	i, ok := t.index[c.Name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownColumn, c.Name)
	}
	if len(c.Values) != t.rows {
		return nil, fmt.Errorf("%w: %q has %d values, expected %d", ErrRaggedColumns, c.Name, len(c.Values), t.rows)
	}
	out := t.Clone()
	values := make([]Value, len(c.Values))
	copy(values, c.Values)
	out.columns[i] = Column{Name: c.Name, Type: c.Type, Values: values}
	return out, nil
}

// Clone returns a deep copy
func (t *Table) Clone() *Table {
	out := &Table{
		columns: make([]Column, len(t.columns)),
		index:   t.cloneIndex(),
		rows:    t.rows,
	}
	for j, c := range t.columns {
		values := make([]Value, len(c.Values))
		copy(values, c.Values)
		out.columns[j] = Column{Name: c.Name, Type: c.Type, Values: values}
	}
	return out
}

// Records returns every row as a slice of canonical strings, header excluded
func (t *Table) Records() [][]string {
	records := make([][]string, t.rows)
	for i := 0; i < t.rows; i++ {
		rec := make([]string, len(t.columns))
		for j, c := range t.columns {
			rec[j] = c.Values[i].String()
		}
		records[i] = rec
	}
	return records
}

func (t *Table) cloneIndex() map[string]int {
	idx := make(map[string]int, len(t.index))
	for k, v := range t.index {
		idx[k] = v
	}
	return idx
}
