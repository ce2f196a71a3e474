package transform

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/stat"

	apperrors "etlpulse/internal/errors"
	"etlpulse/internal/table"
)

func numericTable(name string, values ...table.Value) *table.Table {
	return table.MustNew([]table.Column{
		{Name: "label", Type: table.Categorical, Values: labels(len(values))},
		{Name: name, Type: table.Numeric, Values: values},
	})
}

func labels(n int) []table.Value {
	out := make([]table.Value, n)
	for i := range out {
		out[i] = table.String(string(rune('a' + i)))
	}
	return out
}

func floatsOf(t *testing.T, tbl *table.Table, name string) []float64 {
	t.Helper()
	col, ok := tbl.Column(name)
	require.True(t, ok)
	return col.Numbers()
}

func TestApply_Normalize(t *testing.T) {
	tbl := numericTable("Sales", table.Number(2000), table.Number(3000), table.Number(2500))

	out, report, err := Apply(tbl, Spec{Normalize})
	require.NoError(t, err)

	assert.Equal(t, []float64{0, 1, 0.5}, floatsOf(t, out, "Sales"))
	assert.Equal(t, []float64{2000, 3000, 2500}, floatsOf(t, tbl, "Sales"), "input must be unchanged")
	assert.Equal(t, []Name{Normalize}, report.Applied)
	assert.Empty(t, report.Constant)
}

func TestApply_NormalizeRange(t *testing.T) {
	tbl := numericTable("v", table.Number(-4), table.Number(10), table.Number(3.3), table.Missing(), table.Number(7))

	out, _, err := Apply(tbl, Spec{Normalize})
	require.NoError(t, err)

	col, _ := out.Column("v")
	assert.True(t, col.Values[3].IsMissing())
	for _, f := range col.Numbers() {
		assert.GreaterOrEqual(t, f, 0.0)
		assert.LessOrEqual(t, f, 1.0)
	}
}

func TestApply_ConstantColumn(t *testing.T) {
	tests := []struct {
		name string
		spec Spec
	}{
		{name: "normalize", spec: Spec{Normalize}},
		{name: "standardize", spec: Spec{Standardize}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tbl := numericTable("v", table.Number(5), table.Number(5), table.Number(5))

			out, report, err := Apply(tbl, tt.spec)
			require.NoError(t, err)

			assert.Equal(t, []float64{0, 0, 0}, floatsOf(t, out, "v"))
			assert.Equal(t, []string{"v"}, report.Constant[tt.spec[0]])
		})
	}
}

func TestApply_Standardize(t *testing.T) {
	tbl := numericTable("v", table.Number(1), table.Number(2), table.Number(3), table.Number(4), table.Number(10))

	out, _, err := Apply(tbl, Spec{Standardize})
	require.NoError(t, err)

	mean, std := stat.MeanStdDev(floatsOf(t, out, "v"), nil)
	assert.InDelta(t, 0, mean, 1e-9)
	assert.InDelta(t, 1, std, 1e-9)
}

func TestApply_StandardizeSingleValue(t *testing.T) {
	out, report, err := Apply(numericTable("v", table.Number(42), table.Missing()), Spec{Standardize})
	require.NoError(t, err)

	assert.Equal(t, []float64{0}, floatsOf(t, out, "v"))
	assert.Equal(t, []string{"v"}, report.Constant[Standardize])
}

func TestApply_Log(t *testing.T) {
	tbl := numericTable("v", table.Number(math.E), table.Number(1), table.Number(0), table.Number(-3), table.Missing())

	out, report, err := Apply(tbl, Spec{LogTransform})
	require.NoError(t, err)

	col, _ := out.Column("v")
	f0, _ := col.Values[0].Float()
	assert.InDelta(t, 1, f0, 1e-12)
	f1, _ := col.Values[1].Float()
	assert.Equal(t, 0.0, f1)
	assert.True(t, col.Values[2].IsMissing())
	assert.True(t, col.Values[3].IsMissing())
	assert.True(t, col.Values[4].IsMissing())
	assert.Equal(t, 2, report.Suppressed["v"])
	assert.Equal(t, table.Numeric, col.Type)
}

func TestApply_OrderMatters(t *testing.T) {
	tbl := numericTable("v", table.Number(1), table.Number(2), table.Number(3))

	normFirst, _, err := Apply(tbl, Spec{Normalize, LogTransform})
	require.NoError(t, err)
	logFirst, _, err := Apply(tbl, Spec{LogTransform, Normalize})
	require.NoError(t, err)

	nf, _ := normFirst.Column("v")
	assert.True(t, nf.Values[0].IsMissing(), "log of normalized 0 is suppressed")
	assert.Equal(t, []float64{0, 1}, []float64{floatsOf(t, logFirst, "v")[0], floatsOf(t, logFirst, "v")[2]})
}

func TestApply_NonNumericUntouched(t *testing.T) {
	tbl := numericTable("v", table.Number(1), table.Number(3))

	out, _, err := Apply(tbl, Spec{Normalize, Standardize, LogTransform})
	require.NoError(t, err)

	orig, _ := tbl.Column("label")
	got, _ := out.Column("label")
	assert.Equal(t, orig, got)
}

func TestApply_UnknownName(t *testing.T) {
	tbl := numericTable("v", table.Number(1))

	out, _, err := Apply(tbl, Spec{Normalize, "square"})
	assert.Nil(t, out)
	assert.True(t, apperrors.IsType(err, apperrors.ErrTypeInvalidTransform))
}

func TestApply_EmptySpecReturnsCopy(t *testing.T) {
	tbl := numericTable("v", table.Number(1))

	out, report, err := Apply(tbl, nil)
	require.NoError(t, err)
	assert.NotSame(t, tbl, out)
	assert.Empty(t, report.Applied)
}

func TestSpec_UnmarshalJSON(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    Spec
		wantErr bool
	}{
		{name: "names", input: `["normalize", " Log_Transform "]`, want: Spec{Normalize, LogTransform}},
		{name: "empty", input: `[]`, want: Spec{}},
		{name: "unknown", input: `["cube"]`, wantErr: true},
		{name: "not an array", input: `"normalize"`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var s Spec
			err := json.Unmarshal([]byte(tt.input), &s)
			if tt.wantErr {
				assert.True(t, apperrors.IsType(err, apperrors.ErrTypeInvalidTransform), "got %v", err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, s)
		})
	}
}
