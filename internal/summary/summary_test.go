package summary

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"etlpulse/internal/table"
)

func sales() *table.Table {
	return table.MustNew([]table.Column{
		{Name: "Month", Type: table.Categorical, Values: []table.Value{table.String("Jan"), table.String("Feb"), table.String("Mar")}},
		{Name: "Sales", Type: table.Numeric, Values: []table.Value{table.Number(2000), table.Number(3000), table.Number(2500)}},
	})
}

func TestCompute(t *testing.T) {
	s := Compute(sales(), sales())

	assert.Equal(t, 3, s.OriginalRowCount)
	assert.Equal(t, 3, s.ProcessedRowCount)
	assert.Equal(t, 2, s.ColumnCount)

	st, ok := s.Column("Sales")
	require.True(t, ok)
	assert.Equal(t, 3, st.Count)
	assert.Equal(t, 0, st.Missing)
	assert.InDelta(t, 2500, *st.Mean, 1e-9)
	assert.InDelta(t, 500, *st.Std, 1e-9)
	assert.Equal(t, 2000.0, *st.Min)
	assert.Equal(t, 3000.0, *st.Max)
	assert.Equal(t, 2500.0, *st.Median)
	assert.Equal(t, 3, st.Unique)
	assert.Nil(t, st.Top)

	mt, ok := s.Column("Month")
	require.True(t, ok)
	assert.Equal(t, 3, mt.Unique)
	require.NotNil(t, mt.Top)
	assert.Equal(t, "Jan", *mt.Top)
	assert.Nil(t, mt.Mean)
}

func TestCompute_FilteredTable(t *testing.T) {
	processed := sales().SelectRows([]int{1, 2})

	s := Compute(sales(), processed)

	assert.Equal(t, 3, s.OriginalRowCount)
	assert.Equal(t, 2, s.ProcessedRowCount)
	st, _ := s.Column("Sales")
	assert.Equal(t, 2750.0, *st.Median)
}

func TestCompute_ZeroRows(t *testing.T) {
	s := Compute(sales(), sales().SelectRows(nil))

	assert.Equal(t, 0, s.ProcessedRowCount)
	st, _ := s.Column("Sales")
	assert.Equal(t, 0, st.Count)
	assert.Nil(t, st.Mean)
	assert.Nil(t, st.Std)
	assert.Nil(t, st.Median)

	data, err := json.Marshal(st)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"mean":null`)
	assert.NotContains(t, string(data), "NaN")
}

func TestCompute_SingleValueHasNoStd(t *testing.T) {
	tbl := table.MustNew([]table.Column{
		{Name: "v", Type: table.Numeric, Values: []table.Value{table.Number(4), table.Missing()}},
	})

	st, _ := Compute(tbl, tbl).Column("v")
	assert.Equal(t, 1, st.Count)
	assert.Equal(t, 1, st.Missing)
	assert.Nil(t, st.Std)
	assert.Equal(t, 4.0, *st.Mean)
}

func TestCompute_TopTieGoesToFirst(t *testing.T) {
	tbl := table.MustNew([]table.Column{
		{Name: "c", Type: table.Categorical, Values: []table.Value{
			table.String("b"), table.String("a"), table.String("a"), table.String("b"), table.Missing(),
		}},
	})

	st, _ := Compute(tbl, tbl).Column("c")
	assert.Equal(t, "b", *st.Top)
	assert.Equal(t, 2, st.Unique)
}

func TestCompute_DataQuality(t *testing.T) {
	original := table.MustNew([]table.Column{
		{Name: "a", Type: table.Numeric, Values: []table.Value{table.Number(1), table.Number(1), table.Missing(), table.Number(2)}},
		{Name: "b", Type: table.Text, Values: []table.Value{table.String("x"), table.String("x"), table.String("y"), table.Missing()}},
	})

	q := Compute(original, nil).DataQuality

	assert.Equal(t, 2, q.MissingCells)
	assert.InDelta(t, 0.75, q.Completeness, 1e-9)
	assert.Equal(t, 1, q.DuplicateRows)
}
