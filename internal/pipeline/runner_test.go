package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"etlpulse/internal/chart"
	"etlpulse/internal/cleaner"
	"etlpulse/internal/config"
	apperrors "etlpulse/internal/errors"
	"etlpulse/internal/filter"
	"etlpulse/internal/flow"
	"etlpulse/internal/table"
	"etlpulse/internal/transform"
)

const monthlySales = "Month,Sales\nJan,2000\nFeb,3000\nMar,2500\n"

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func newTestRunner(t *testing.T, opts Options) *Runner {
	t.Helper()
	if opts.CacheSize == 0 {
		opts.CacheSize = 8
	}
	return NewRunner(opts, NewMemoryStore(), nil, testLogger())
}

func floatPtr(f float64) *float64 { return &f }

func requireAllCompleted(t *testing.T, s flow.Status) {
	t.Helper()
	assert.Equal(t, flow.RunCompleted, s.State)
	for _, n := range s.Nodes {
		assert.Equal(t, flow.StatusCompleted, n.Status, n.ID)
	}
}

func TestRun_Scenarios(t *testing.T) {
	t.Run("no filters or transforms keeps every row", func(t *testing.T) {
		r := newTestRunner(t, Options{})
		res, err := r.Run(context.Background(), Request{Source: []byte(monthlySales), Name: "sales.csv"})
		require.NoError(t, err)

		assert.Equal(t, 3, res.Summary.OriginalRowCount)
		assert.Equal(t, 3, res.Summary.ProcessedRowCount)
		assert.Equal(t, 2, res.Summary.ColumnCount)
		assert.Equal(t, "sales.csv", res.Source)
		assert.NotEmpty(t, res.RunID)
		requireAllCompleted(t, res.Flow)
	})

	t.Run("range filter keeps Feb and Mar", func(t *testing.T) {
		r := newTestRunner(t, Options{})
		res, err := r.Run(context.Background(), Request{
			Source:  []byte(monthlySales),
			Filters: filter.Spec{"Sales": filter.RangeFilter{Min: floatPtr(2500)}},
		})
		require.NoError(t, err)

		require.Equal(t, 2, res.Table.NumRows())
		month, ok := res.Table.Column("Month")
		require.True(t, ok)
		assert.Equal(t, "Feb", month.Values[0].String())
		assert.Equal(t, "Mar", month.Values[1].String())
		assert.Equal(t, FilterReport{Columns: []string{"Sales"}, RowsBefore: 3, RowsAfter: 2}, res.Report.Filter)
	})

	t.Run("normalize scales sales into the unit interval", func(t *testing.T) {
		r := newTestRunner(t, Options{})
		res, err := r.Run(context.Background(), Request{
			Source:     []byte(monthlySales),
			Transforms: transform.Spec{transform.Normalize},
		})
		require.NoError(t, err)

		sales, ok := res.Table.Column("Sales")
		require.True(t, ok)
		assert.InDeltaSlice(t, []float64{0, 1, 0.5}, sales.Numbers(), 1e-9)
	})

	t.Run("xml export is unsupported", func(t *testing.T) {
		r := newTestRunner(t, Options{})
		res, err := r.Run(context.Background(), Request{Source: []byte(monthlySales)})
		require.NoError(t, err)

		_, _, err = r.Export(res, "xml")
		require.Error(t, err)
		assert.True(t, apperrors.IsType(err, apperrors.ErrTypeUnsupportedFormat))
	})

	t.Run("missing value is imputed with the mean", func(t *testing.T) {
		r := newTestRunner(t, Options{})
		res, err := r.Run(context.Background(), Request{Source: []byte("Month,Sales\nJan,\nFeb,3000\n")})
		require.NoError(t, err)

		sales, ok := res.Table.Column("Sales")
		require.True(t, ok)
		assert.Equal(t, []float64{3000, 3000}, sales.Numbers())
		assert.Equal(t, 1, res.Report.Cleaning.Imputed["Sales"])
	})
}

func TestRun_FailureStopsAtStage(t *testing.T) {
	tests := []struct {
		name      string
		req       Request
		wantStage flow.NodeID
		wantType  apperrors.ErrorType
	}{
		{
			name:      "empty source",
			req:       Request{Source: nil},
			wantStage: flow.NodeExtract,
			wantType:  apperrors.ErrTypeExtraction,
		},
		{
			name: "filter on unknown column",
			req: Request{
				Source:  []byte(monthlySales),
				Filters: filter.Spec{"Region": filter.RangeFilter{Min: floatPtr(1)}},
			},
			wantStage: flow.NodeFilter,
			wantType:  apperrors.ErrTypeInvalidFilter,
		},
		{
			name:      "unknown transformation",
			req:       Request{Source: []byte(monthlySales), Transforms: transform.Spec{"square"}},
			wantStage: flow.NodeTransform,
			wantType:  apperrors.ErrTypeInvalidTransform,
		},
		{
			name:      "unknown chart kind",
			req:       Request{Source: []byte(monthlySales), ChartKinds: []chart.Kind{"radar"}},
			wantStage: flow.NodeChart,
			wantType:  apperrors.ErrTypeInvalidChart,
		},
		{
			name:      "unsupported export format",
			req:       Request{Source: []byte(monthlySales), Formats: []string{"xml"}},
			wantStage: flow.NodeExport,
			wantType:  apperrors.ErrTypeUnsupportedFormat,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newTestRunner(t, Options{})
			res, err := r.Run(context.Background(), tt.req)
			require.Error(t, err)
			assert.Nil(t, res)

			runErr, ok := AsRunError(err)
			require.True(t, ok)
			assert.Equal(t, tt.wantStage, runErr.Stage)
			assert.True(t, apperrors.IsType(err, tt.wantType), "got %v", err)

			status, err := r.FlowStatus(context.Background(), runErr.RunID)
			require.NoError(t, err)
			assert.Equal(t, flow.RunFailed, status.State)

			reached := false
			for _, id := range flow.Nodes() {
				n, _ := status.Node(id)
				switch {
				case id == tt.wantStage:
					assert.Equal(t, flow.StatusError, n.Status)
					assert.NotEmpty(t, n.Message)
					reached = true
				case reached:
					assert.Equal(t, flow.StatusPending, n.Status, id)
				default:
					assert.Equal(t, flow.StatusCompleted, n.Status, id)
				}
			}

			_, err = r.Result(runErr.RunID)
			assert.True(t, IsNotFound(err))

			rec, err := r.Record(context.Background(), runErr.RunID)
			require.NoError(t, err)
			assert.Equal(t, flow.RunFailed, rec.State)
			assert.Equal(t, tt.wantStage, rec.FailedStage)
			assert.NotEmpty(t, rec.Error)
		})
	}
}

func TestRun_Cancelled(t *testing.T) {
	r := newTestRunner(t, Options{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := r.Run(ctx, Request{Source: []byte(monthlySales)})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)

	runErr, ok := AsRunError(err)
	require.True(t, ok)
	assert.Equal(t, flow.NodeExtract, runErr.Stage)
}

func TestRun_CacheReplaysFlow(t *testing.T) {
	r := newTestRunner(t, Options{})
	req := Request{Source: []byte(monthlySales), Transforms: transform.Spec{transform.Standardize}}

	first, err := r.Run(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, first.Report.Cached)

	second, err := r.Run(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, second.Report.Cached)
	assert.NotEqual(t, first.RunID, second.RunID)
	assert.Equal(t, first.Fingerprint, second.Fingerprint)
	assert.Same(t, first.Table, second.Table)
	assert.Equal(t, first.Summary, second.Summary)
	requireAllCompleted(t, second.Flow)

	other, err := r.Run(context.Background(), Request{Source: []byte(monthlySales)})
	require.NoError(t, err)
	assert.False(t, other.Report.Cached)
	assert.Equal(t, 2, r.Cache().Len())
}

func TestRun_ConcurrentIdenticalRuns(t *testing.T) {
	r := newTestRunner(t, Options{})
	req := Request{Source: []byte(monthlySales), Filters: filter.Spec{"Sales": filter.RangeFilter{Max: floatPtr(2500)}}}

	const n = 16
	var (
		mu      sync.Mutex
		results []*Result
	)
	var g errgroup.Group
	for i := 0; i < n; i++ {
		g.Go(func() error {
			res, err := r.Run(context.Background(), req)
			if err != nil {
				return err
			}
			mu.Lock()
			results = append(results, res)
			mu.Unlock()
			return nil
		})
	}
	require.NoError(t, g.Wait())
	require.Len(t, results, n)

	executed := 0
	ids := make(map[string]bool)
	for _, res := range results {
		if !res.Report.Cached {
			executed++
		}
		ids[res.RunID] = true
		assert.Equal(t, 2, res.Table.NumRows())
		requireAllCompleted(t, res.Flow)
	}
	assert.Equal(t, 1, executed)
	assert.Len(t, ids, n)
	assert.Equal(t, 1, r.Cache().Len())
}

func TestRun_CancelledLeaderDoesNotFailJoinedRun(t *testing.T) {
	r := newTestRunner(t, Options{})
	req := Request{Source: []byte(monthlySales)}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var (
		once      sync.Once
		joined    = make(chan error, 1)
		joinedRes *Result
	)
	r.OnTransition(func(tr flow.Transition) {
		if tr.Node != flow.NodeExtract || tr.To != flow.StatusCompleted {
			return
		}
		once.Do(func() {
			go func() {
				res, err := r.Run(context.Background(), req)
				joinedRes = res
				joined <- err
			}()
			// give the second run time to wait on the shared execution
			time.Sleep(50 * time.Millisecond)
			cancel()
		})
	})

	_, err := r.Run(ctx, req)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)

	select {
	case err := <-joined:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("second run did not finish")
	}
	assert.Equal(t, 3, joinedRes.Table.NumRows())
	requireAllCompleted(t, joinedRes.Flow)
}

func TestRun_PredicateFiltersBypassCache(t *testing.T) {
	r := newTestRunner(t, Options{})
	run := func(fn func(table.Value) bool) *Result {
		res, err := r.Run(context.Background(), Request{
			Source:  []byte(monthlySales),
			Filters: filter.Spec{"Sales": filter.PredicateFilter{Name: "keep", Fn: fn}},
		})
		require.NoError(t, err)
		return res
	}

	high := run(func(v table.Value) bool {
		n, ok := v.Float()
		return ok && n >= 2500
	})
	all := run(func(table.Value) bool { return true })

	assert.Equal(t, 2, high.Table.NumRows())
	assert.Equal(t, 3, all.Table.NumRows())
	assert.False(t, all.Report.Cached)
	assert.Equal(t, 0, r.Cache().Len())
}

func TestRun_Observers(t *testing.T) {
	r := newTestRunner(t, Options{})
	var (
		mu          sync.Mutex
		transitions []flow.Transition
	)
	r.OnTransition(func(tr flow.Transition) {
		mu.Lock()
		defer mu.Unlock()
		transitions = append(transitions, tr)
	})

	res, err := r.Run(context.Background(), Request{Source: []byte(monthlySales)})
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, transitions, len(flow.Nodes()))
	for i, id := range flow.Nodes() {
		assert.Equal(t, res.RunID, transitions[i].RunID)
		assert.Equal(t, id, transitions[i].Node)
		assert.Equal(t, flow.StatusCompleted, transitions[i].To)
	}
}

func TestRunner_ChartConfig(t *testing.T) {
	r := newTestRunner(t, Options{})
	res, err := r.Run(context.Background(), Request{Source: []byte(monthlySales), ChartKinds: []chart.Kind{chart.Bar}})
	require.NoError(t, err)
	require.Len(t, res.Charts, 1)

	bar, err := r.ChartConfig(res, "bar")
	require.NoError(t, err)
	assert.Equal(t, chart.Bar, bar.Kind)
	require.NotNil(t, bar.GeneratedAt)
	assert.True(t, bar.GeneratedAt.Equal(res.CreatedAt))

	// built on demand
	line, err := r.ChartConfig(res, "LINE")
	require.NoError(t, err)
	assert.Equal(t, chart.Line, line.Kind)
	require.NotNil(t, line.GeneratedAt)
	assert.True(t, line.GeneratedAt.Equal(res.CreatedAt))

	_, err = r.ChartConfig(res, "radar")
	assert.True(t, apperrors.IsType(err, apperrors.ErrTypeInvalidChart))
}

func TestRunner_Export(t *testing.T) {
	r := newTestRunner(t, Options{})
	res, err := r.Run(context.Background(), Request{Source: []byte(monthlySales), Formats: []string{"json"}})
	require.NoError(t, err)

	data, contentType, err := r.Export(res, "json")
	require.NoError(t, err)
	assert.Equal(t, "application/json", contentType)

	var doc struct {
		Metadata struct {
			RowCount int `json:"row_count"`
		} `json:"metadata"`
		Records []map[string]interface{} `json:"records"`
	}
	require.NoError(t, json.Unmarshal(data, &doc))
	assert.Equal(t, 3, doc.Metadata.RowCount)
	require.Len(t, doc.Records, 3)
	assert.Equal(t, "Jan", doc.Records[0]["Month"])
	assert.Equal(t, 2000.0, doc.Records[0]["Sales"])

	csvData, contentType, err := r.Export(res, "CSV")
	require.NoError(t, err)
	assert.Equal(t, "text/csv; charset=utf-8", contentType)
	assert.True(t, bytes.HasPrefix(csvData, []byte("Month,Sales\n")))
}

func TestRunner_ExportToOutputDir(t *testing.T) {
	dir := t.TempDir()
	r := newTestRunner(t, Options{OutputDir: dir, CSVBOM: true})

	res, err := r.Run(context.Background(), Request{Source: []byte(monthlySales), Formats: []string{"csv", "xlsx"}})
	require.NoError(t, err)
	require.Len(t, res.Report.Outputs, 3)

	for _, path := range res.Report.Outputs {
		assert.Equal(t, dir, filepath.Dir(path))
		info, err := os.Stat(path)
		require.NoError(t, err)
		assert.Positive(t, info.Size())
	}
	assert.Equal(t, ".csv", filepath.Ext(res.Report.Outputs[0]))
	assert.Equal(t, ".xlsx", filepath.Ext(res.Report.Outputs[1]))
	assert.Equal(t, ".json", filepath.Ext(res.Report.Outputs[2]))

	csvData, err := os.ReadFile(res.Report.Outputs[0])
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(csvData, []byte("\xEF\xBB\xBF")))

	var meta Metadata
	raw, err := os.ReadFile(res.Report.Outputs[2])
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(raw, &meta))
	assert.Equal(t, res.RunID, meta.RunID)
	assert.Equal(t, 3, meta.Summary.ProcessedRowCount)
}

func TestRunner_HistoryAndRetention(t *testing.T) {
	r := newTestRunner(t, Options{Retain: 2, Strategy: cleaner.StrategyDrop})

	var ids []string
	for i := 0; i < 3; i++ {
		res, err := r.Run(context.Background(), Request{Source: []byte(monthlySales)})
		require.NoError(t, err)
		ids = append(ids, res.RunID)
	}

	// oldest run left memory but is still known to the store
	_, err := r.Result(ids[0])
	assert.True(t, IsNotFound(err))
	status, err := r.FlowStatus(context.Background(), ids[0])
	require.NoError(t, err)
	assert.Equal(t, flow.RunCompleted, status.State)

	_, err = r.Result(ids[2])
	assert.NoError(t, err)

	history, err := r.History(context.Background(), ListFilter{Limit: 10})
	require.NoError(t, err)
	assert.Len(t, history, 3)
	for _, rec := range history {
		assert.Equal(t, flow.RunCompleted, rec.State)
		require.NotNil(t, rec.Summary)
		assert.Equal(t, 3, rec.Rows)
	}

	_, err = r.FlowStatus(context.Background(), "missing")
	assert.True(t, IsNotFound(err))
}

func TestRunError_ProblemExtensions(t *testing.T) {
	err := &RunError{RunID: "r-1", Stage: flow.NodeFilter, Err: apperrors.NewInvalidFilterError("x", "bad")}
	assert.Equal(t, map[string]interface{}{"run_id": "r-1", "stage": "filter"}, err.ProblemExtensions())
	assert.Contains(t, err.Error(), "failed at filter")

	var appErr *apperrors.AppError
	assert.ErrorAs(t, err, &appErr)
}

func TestOptionsFromConfig(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(c *config.PipelineConfig)
		wantErr   bool
		wantDelim rune
		wantStrat cleaner.Strategy
	}{
		{name: "defaults", mutate: func(*config.PipelineConfig) {}, wantStrat: cleaner.StrategyImpute},
		{name: "semicolon drop", mutate: func(c *config.PipelineConfig) {
			c.Delimiter = ";"
			c.MissingStrategy = "drop"
		}, wantDelim: ';', wantStrat: cleaner.StrategyDrop},
		{name: "tab", mutate: func(c *config.PipelineConfig) { c.Delimiter = "\t" }, wantDelim: '\t', wantStrat: cleaner.StrategyImpute},
		{name: "long delimiter", mutate: func(c *config.PipelineConfig) { c.Delimiter = "||" }, wantErr: true},
		{name: "bad strategy", mutate: func(c *config.PipelineConfig) { c.MissingStrategy = "median" }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Default().Pipeline
			tt.mutate(&cfg)
			opts, err := OptionsFromConfig(cfg)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, apperrors.IsType(err, apperrors.ErrTypeConfig))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantDelim, opts.Loader.Delimiter)
			assert.Equal(t, tt.wantStrat, opts.Strategy)
			assert.Equal(t, cfg.MaxUploadBytes, opts.Loader.MaxBytes)
			assert.Equal(t, cfg.OutputDir, opts.OutputDir)
		})
	}
}
