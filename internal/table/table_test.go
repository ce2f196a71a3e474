package table

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func salesTable(t *testing.T) *Table {
	t.Helper()
	tbl, err := New([]Column{
		{Name: "Month", Type: Categorical, Values: []Value{String("Jan"), String("Feb"), String("Mar")}},
		{Name: "Sales", Type: Numeric, Values: []Value{Number(2000), Number(3000), Number(2500)}},
	})
	require.NoError(t, err)
	return tbl
}

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		columns []Column
		wantErr error
	}{
		{
			name: "valid table",
			columns: []Column{
				{Name: "a", Type: Numeric, Values: []Value{Number(1)}},
				{Name: "b", Type: Text, Values: []Value{String("x")}},
			},
		},
		{
			name: "duplicate column names",
			columns: []Column{
				{Name: "a", Type: Numeric, Values: []Value{Number(1)}},
				{Name: "a", Type: Numeric, Values: []Value{Number(2)}},
			},
			wantErr: ErrDuplicateColumn,
		},
		{
			name: "ragged columns",
			columns: []Column{
				{Name: "a", Type: Numeric, Values: []Value{Number(1), Number(2)}},
				{Name: "b", Type: Numeric, Values: []Value{Number(2)}},
			},
			wantErr: ErrRaggedColumns,
		},
		{
			name:    "no columns",
			columns: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tbl, err := New(tt.columns)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Nil(t, tbl)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, len(tt.columns), tbl.NumColumns())
		})
	}
}

func TestNewCopiesInput(t *testing.T) {
	values := []Value{Number(1), Number(2)}
	tbl, err := New([]Column{{Name: "a", Type: Numeric, Values: values}})
	require.NoError(t, err)

	values[0] = Number(99)

	col, ok := tbl.Column("a")
	require.True(t, ok)
	f, _ := col.Values[0].Float()
	assert.Equal(t, 1.0, f)
}

func TestTable_SelectRows(t *testing.T) {
	tbl := salesTable(t)

	out := tbl.SelectRows([]int{2, 0})

	assert.Equal(t, 2, out.NumRows())
	assert.Equal(t, 3, tbl.NumRows(), "source table must be unchanged")
	assert.Equal(t, []string{"Mar", "2500"}, []string{out.Row(0)[0].String(), out.Row(0)[1].String()})
	assert.Equal(t, "Jan", out.Row(1)[0].String())
}

func TestTable_WithColumn(t *testing.T) {
	tbl := salesTable(t)

	out, err := tbl.WithColumn(Column{Name: "Sales", Type: Numeric, Values: []Value{Number(0), Number(1), Number(0.5)}})
	require.NoError(t, err)

	col, _ := out.Column("Sales")
	assert.Equal(t, []float64{0, 1, 0.5}, col.Numbers())
	orig, _ := tbl.Column("Sales")
	assert.Equal(t, []float64{2000, 3000, 2500}, orig.Numbers())

	_, err = tbl.WithColumn(Column{Name: "Nope", Values: []Value{Missing(), Missing(), Missing()}})
	assert.ErrorIs(t, err, ErrUnknownColumn)

	_, err = tbl.WithColumn(Column{Name: "Sales", Values: []Value{Missing()}})
	assert.ErrorIs(t, err, ErrRaggedColumns)
}

func TestTable_RowKey(t *testing.T) {
	tbl := MustNew([]Column{
		{Name: "a", Type: Text, Values: []Value{String("1"), String("1"), Number(1), Missing()}},
		{Name: "b", Type: Text, Values: []Value{String("x"), String("x"), String("x"), String("")}},
	})

	assert.Equal(t, tbl.RowKey(0), tbl.RowKey(1))
	assert.NotEqual(t, tbl.RowKey(0), tbl.RowKey(2), "string and number must not collide")
	assert.NotEqual(t, tbl.RowKey(3), tbl.RowKey(0))

	// cell text that mimics a cell boundary must not merge cells
	shifted := MustNew([]Column{
		{Name: "a", Type: Text, Values: []Value{String("x\x1f2y"), String("x")}},
		{Name: "b", Type: Text, Values: []Value{String(""), String("y\x1f2")}},
	})
	assert.NotEqual(t, shifted.RowKey(0), shifted.RowKey(1))

	split := MustNew([]Column{
		{Name: "a", Type: Text, Values: []Value{String("ab"), String("a")}},
		{Name: "b", Type: Text, Values: []Value{String("c"), String("bc")}},
	})
	assert.NotEqual(t, split.RowKey(0), split.RowKey(1))
}

func TestTable_ColumnsOfType(t *testing.T) {
	tbl := salesTable(t)
	assert.Equal(t, []string{"Sales"}, tbl.ColumnsOfType(Numeric))
	assert.Equal(t, []string{"Month"}, tbl.ColumnsOfType(Datetime, Categorical))
	assert.Nil(t, tbl.ColumnsOfType(Boolean))
}

func TestValue(t *testing.T) {
	tests := []struct {
		name      string
		value     Value
		wantStr   string
		wantIface any
		missing   bool
	}{
		{name: "number", value: Number(2.5), wantStr: "2.5", wantIface: 2.5},
		{name: "integer number", value: Number(3000), wantStr: "3000", wantIface: 3000.0},
		{name: "nan is missing", value: Number(math.NaN()), wantStr: "", wantIface: nil, missing: true},
		{name: "string", value: String("Jan"), wantStr: "Jan", wantIface: "Jan"},
		{name: "bool", value: Bool(true), wantStr: "true", wantIface: true},
		{name: "date", value: Time(time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)), wantStr: "2024-01-15", wantIface: "2024-01-15"},
		{name: "missing", value: Missing(), wantStr: "", wantIface: nil, missing: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.wantStr, tt.value.String())
			assert.Equal(t, tt.wantIface, tt.value.Interface())
			assert.Equal(t, tt.missing, tt.value.IsMissing())
		})
	}
}

func TestValue_Equal(t *testing.T) {
	assert.True(t, Number(1).Equal(Number(1)))
	assert.False(t, Number(1).Equal(String("1")))
	assert.True(t, Missing().Equal(Missing()))
	assert.True(t, Time(time.Unix(0, 0)).Equal(Time(time.Unix(0, 0).UTC())))
}

func TestColumn_MissingCount(t *testing.T) {
	c := Column{Name: "x", Values: []Value{Number(1), Missing(), Missing()}}
	assert.Equal(t, 2, c.MissingCount())
	assert.Equal(t, []float64{1}, c.Numbers())
}
