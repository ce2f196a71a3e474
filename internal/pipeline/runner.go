package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"etlpulse/internal/chart"
	"etlpulse/internal/cleaner"
	apperrors "etlpulse/internal/errors"
	"etlpulse/internal/exporter"
	"etlpulse/internal/filter"
	"etlpulse/internal/flow"
	"etlpulse/internal/loader"
	"etlpulse/internal/summary"
	"etlpulse/internal/transform"
)

// DefaultRetain is how many recent runs keep their table and live tracker
const DefaultRetain = 100

// Options configures a Runner
type Options struct {
	Loader         loader.Options
	Strategy       cleaner.Strategy
	ChartMaxPoints int
	CacheSize      int
	CacheTTL       time.Duration
	// OutputDir, when set, makes the export stage write files instead of
	// keeping rendered exports in memory
	OutputDir string
	CSVBOM    bool
	Retain    int
}

// Runner executes pipeline runs and keeps their results addressable by run ID
type Runner struct {
	opts    Options
	loader  *loader.Loader
	cleaner *cleaner.Cleaner
	charts  chart.Builder
	cache   *Cache
	store   Store
	files   *exporter.FileWriter
	tracer  *Tracer
	logger  *slog.Logger

	mu        sync.RWMutex
	flows     map[string]*flow.Tracker
	results   map[string]*Result
	order     []string
	observers []func(flow.Transition)

	now func() time.Time
}

// NewRunner wires a runner. A nil store keeps history in memory and a nil
// tracer records nothing.
func NewRunner(opts Options, store Store, tracer *Tracer, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	if store == nil {
		store = NewMemoryStore()
	}
	if tracer == nil {
		tracer = NoopTracer()
	}
	if opts.Strategy == "" {
		opts.Strategy = cleaner.StrategyImpute
	}
	if opts.Retain <= 0 {
		opts.Retain = DefaultRetain
	}
	logger = logger.With(slog.String("component", "pipeline"))

	r := &Runner{
		opts:    opts,
		loader:  loader.New(opts.Loader, logger),
		cleaner: cleaner.New(opts.Strategy, logger),
		charts:  chart.Builder{MaxPoints: opts.ChartMaxPoints},
		cache:   NewCache(opts.CacheSize, opts.CacheTTL),
		store:   store,
		tracer:  tracer,
		logger:  logger,
		flows:   make(map[string]*flow.Tracker),
		results: make(map[string]*Result),
		now:     time.Now,
	}
	if opts.OutputDir != "" {
		r.files = exporter.NewFileWriter(opts.OutputDir, logger)
	}
	return r
}

// OnTransition registers fn for the flow transitions of every later run
func (r *Runner) OnTransition(fn func(flow.Transition)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.observers = append(r.observers, fn)
}

// Store returns the run store
func (r *Runner) Store() Store { return r.store }

// Cache returns the outcome cache
func (r *Runner) Cache() *Cache { return r.cache }

// Run executes the pipeline over req. On failure it returns a *RunError and
// no result; the run's flow status stays available through FlowStatus.
func (r *Runner) Run(ctx context.Context, req Request) (*Result, error) {
	runID := uuid.New().String()
	started := r.now().UTC()
	tracker := r.newTracker(runID)
	logger := r.logger.With(slog.String("run_id", runID))

	ctx, span := r.tracer.StartRun(ctx, runID, req)
	logger.InfoContext(ctx, "Pipeline run started",
		slog.String("source", req.Name),
		slog.Int("source_bytes", len(req.Source)),
		slog.Int("filters", len(req.Filters)),
		slog.Int("transforms", len(req.Transforms)))

	key := Fingerprint(req.Source, req.Filters, req.Transforms, r.cleaner.Strategy())
	var (
		out      *outcome
		err      error
		executed bool
	)
	// predicate functions cannot be fingerprinted
	if req.Filters.HasPredicates() {
		executed = true
		out, err = r.prepare(ctx, runID, req, tracker, key)
	}
	for !executed {
		out, err = r.cache.Do(key, func() (*outcome, error) {
			executed = true
			return r.prepare(ctx, runID, req, tracker, key)
		})
		// a shared execution cancelled by its own caller says nothing
		// about this run, so go again while ctx is live
		if executed || err == nil || ctx.Err() != nil || !isContextError(err) {
			break
		}
		logger.DebugContext(ctx, "Shared execution was cancelled, retrying",
			slog.String("error", err.Error()))
	}
	cached := !executed
	if cached {
		r.replay(tracker, err)
	}

	res := &Result{
		RunID:       runID,
		Source:      req.Name,
		Fingerprint: key,
		CreatedAt:   started,
		Report:      Report{StartedAt: started, Cached: cached},
	}
	if err == nil {
		res.Table = out.table
		res.Report.Extract = out.extract
		res.Report.Cleaning = out.cleaning
		res.Report.Filter = out.filter
		res.Report.Transform = out.transform

		stages := []struct {
			id flow.NodeID
			fn func(context.Context) error
		}{
			{flow.NodeLoad, func(ctx context.Context) error { return r.load(ctx, res, out) }},
			{flow.NodeChart, func(ctx context.Context) error { return r.buildCharts(res, req.ChartKinds) }},
			{flow.NodeExport, func(ctx context.Context) error { return r.export(ctx, res, req.Formats) }},
		}
		for _, s := range stages {
			if err = r.stage(ctx, runID, tracker, s.id, s.fn); err != nil {
				break
			}
		}
	}

	res.Report.FinishedAt = r.now().UTC()
	res.Flow = tracker.Snapshot()

	if err != nil {
		stage, _ := failedStage(err)
		runErr := &RunError{RunID: runID, Stage: stage, Err: unwrapStage(err)}
		r.tracer.EndRun(ctx, span, started, 0, cached, stage)
		r.record(ctx, res, runErr)
		r.retain(runID, nil)
		logger.ErrorContext(ctx, "Pipeline run failed",
			slog.String("stage", string(stage)),
			slog.Bool("cached", cached),
			slog.String("error", runErr.Err.Error()))
		return nil, runErr
	}

	rows := res.Table.NumRows()
	r.tracer.EndRun(ctx, span, started, rows, cached, "")
	r.record(ctx, res, nil)
	r.retain(runID, res)
	logger.InfoContext(ctx, "Pipeline run completed",
		slog.Int("rows", rows),
		slog.Int("columns", res.Table.NumColumns()),
		slog.Bool("cached", cached),
		slog.Duration("duration", res.Report.FinishedAt.Sub(started)))
	return res, nil
}

// prepare runs extract through transform. Its result is shared through the
// cache by every run with the same fingerprint.
func (r *Runner) prepare(ctx context.Context, runID string, req Request, tracker *flow.Tracker, key string) (*outcome, error) {
	out := &outcome{fingerprint: key}

	stages := []struct {
		id flow.NodeID
		fn func(context.Context) error
	}{
		{flow.NodeExtract, func(ctx context.Context) error {
			t, info, err := r.loader.Parse(ctx, req.Source)
			if err != nil {
				return err
			}
			out.original, out.table, out.extract = t, t, info
			return nil
		}},
		{flow.NodeClean, func(ctx context.Context) error {
			t, report, err := r.cleaner.Clean(out.table)
			if err != nil {
				return err
			}
			out.table, out.cleaning = t, report
			return nil
		}},
		{flow.NodeFilter, func(ctx context.Context) error {
			before := out.table.NumRows()
			t, err := filter.Apply(out.table, req.Filters)
			if err != nil {
				return err
			}
			out.table = t
			out.filter = FilterReport{Columns: req.Filters.Columns(), RowsBefore: before, RowsAfter: t.NumRows()}
			return nil
		}},
		{flow.NodeTransform, func(ctx context.Context) error {
			t, report, err := transform.Apply(out.table, req.Transforms)
			if err != nil {
				return err
			}
			out.table, out.transform = t, report
			return nil
		}},
	}
	for _, s := range stages {
		if err := r.stage(ctx, runID, tracker, s.id, s.fn); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// stage runs fn as node id of tracker. Cancellation is checked before the
// stage starts and fails it.
func (r *Runner) stage(ctx context.Context, runID string, tracker *flow.Tracker, id flow.NodeID, fn func(context.Context) error) error {
	sctx, span := r.tracer.StartStage(ctx, runID, id)
	started := time.Now()
	r.logTransition(tracker, id, tracker.Start(id))

	err := ctx.Err()
	if err == nil {
		err = fn(sctx)
	}
	r.tracer.EndStage(sctx, span, id, started, err)

	if err != nil {
		r.logTransition(tracker, id, tracker.Fail(id, err))
		return &stageError{stage: id, err: err}
	}
	r.logTransition(tracker, id, tracker.Complete(id))
	r.logger.DebugContext(ctx, "Stage completed",
		slog.String("run_id", runID),
		slog.String("stage", string(id)),
		slog.Duration("duration", time.Since(started)))
	return nil
}

// replay moves a run that joined a shared or cached execution through the
// same transitions the executing run went through
func (r *Runner) replay(tracker *flow.Tracker, err error) {
	failed, hasStage := failedStage(err)
	for _, id := range []flow.NodeID{flow.NodeExtract, flow.NodeClean, flow.NodeFilter, flow.NodeTransform} {
		if err != nil && (!hasStage || id == failed) {
			cause := unwrapStage(err)
			r.logTransition(tracker, id, tracker.Fail(id, cause))
			return
		}
		r.logTransition(tracker, id, tracker.Complete(id))
	}
}

// load computes the summary and persists the run
func (r *Runner) load(ctx context.Context, res *Result, out *outcome) error {
	res.Summary = summary.Compute(out.original, out.table)
	rec := r.newRecord(res, nil)
	rec.State = flow.RunRunning
	if err := r.store.SaveRun(ctx, rec); err != nil {
		return asStorageError("failed to persist run", err)
	}
	return nil
}

func (r *Runner) buildCharts(res *Result, kinds []chart.Kind) error {
	charts, err := r.chartBuilder(res).Build(res.Table, kinds)
	if err != nil {
		return err
	}
	res.Charts = charts
	return nil
}

// chartBuilder stamps configs with the run's creation time
func (r *Runner) chartBuilder(res *Result) chart.Builder {
	b := r.charts
	at := res.CreatedAt
	b.GeneratedAt = &at
	return b
}

// export renders the requested formats. With an output directory the files
// and a metadata document are written there.
func (r *Runner) export(ctx context.Context, res *Result, formats []string) error {
	if len(formats) == 0 {
		return nil
	}
	parsed := make([]exporter.Format, 0, len(formats))
	for _, f := range formats {
		format, err := exporter.ParseFormat(f)
		if err != nil {
			return err
		}
		parsed = append(parsed, format)
	}

	opts := r.exportOptions(res)
	if r.files == nil {
		res.artifacts = make(map[exporter.Format][]byte, len(parsed))
		for _, format := range parsed {
			data, err := exporter.Bytes(res.Table, res.Summary, format, opts)
			if err != nil {
				return err
			}
			res.artifacts[format] = data
			r.tracer.RecordExport(ctx, string(format), len(data))
		}
		return nil
	}

	stamp := fmt.Sprintf("%s_%s", res.CreatedAt.Format("20060102_150405"), res.RunID[:8])
	for _, format := range parsed {
		path, err := r.files.WriteTable(stamp, res.Table, res.Summary, format, opts)
		if err != nil {
			return asStorageError("failed to write export", err)
		}
		res.Report.Outputs = append(res.Report.Outputs, path)
	}
	path, err := r.files.WriteMetadata(stamp, Metadata{
		RunID:   res.RunID,
		Source:  res.Source,
		Report:  res.Report,
		Summary: res.Summary,
	})
	if err != nil {
		return asStorageError("failed to write metadata", err)
	}
	res.Report.Outputs = append(res.Report.Outputs, path)
	return nil
}

// Metadata is the document written next to exported files
type Metadata struct {
	RunID   string          `json:"run_id"`
	Source  string          `json:"source"`
	Report  Report          `json:"report"`
	Summary summary.Summary `json:"summary"`
}

func (r *Runner) exportOptions(res *Result) exporter.Options {
	return exporter.Options{BOMPrefix: r.opts.CSVBOM, GeneratedAt: res.CreatedAt}
}

func (r *Runner) newTracker(runID string) *flow.Tracker {
	tracker := flow.NewTracker(runID)

	r.mu.Lock()
	for _, fn := range r.observers {
		tracker.OnTransition(fn)
	}
	r.flows[runID] = tracker
	r.order = append(r.order, runID)
	r.mu.Unlock()
	return tracker
}

// retain keeps res addressable and evicts the oldest runs beyond the limit
func (r *Runner) retain(runID string, res *Result) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if res != nil {
		r.results[runID] = res
	}
	for len(r.order) > r.opts.Retain {
		oldest := r.order[0]
		r.order = r.order[1:]
		delete(r.flows, oldest)
		delete(r.results, oldest)
	}
}

func (r *Runner) logTransition(tracker *flow.Tracker, id flow.NodeID, err error) {
	if err != nil {
		r.logger.Warn("Flow transition rejected",
			slog.String("run_id", tracker.RunID()),
			slog.String("node", string(id)),
			slog.String("error", err.Error()))
	}
}

func (r *Runner) newRecord(res *Result, runErr *RunError) *RunRecord {
	rec := &RunRecord{
		RunID:       res.RunID,
		Source:      res.Source,
		Fingerprint: res.Fingerprint,
		State:       res.Flow.State,
		Cached:      res.Report.Cached,
		Flow:        res.Flow,
		CreatedAt:   res.CreatedAt,
		UpdatedAt:   r.now().UTC(),
	}
	if res.Table != nil {
		rec.Rows = res.Table.NumRows()
		rec.Columns = res.Table.NumColumns()
	}
	if runErr != nil {
		rec.State = flow.RunFailed
		rec.FailedStage = runErr.Stage
		rec.Error = runErr.Err.Error()
		return rec
	}
	s := res.Summary
	report := res.Report
	rec.Summary = &s
	rec.Report = &report
	return rec
}

// record stores the final state of a run. Failures are logged; the run's
// outcome does not depend on history being writable.
func (r *Runner) record(ctx context.Context, res *Result, runErr *RunError) {
	ctx = context.WithoutCancel(ctx)
	if err := r.store.SaveRun(ctx, r.newRecord(res, runErr)); err != nil {
		r.logger.ErrorContext(ctx, "Failed to record run",
			slog.String("run_id", res.RunID),
			slog.String("error", err.Error()))
	}
}

func isContextError(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func unwrapStage(err error) error {
	if se, ok := err.(*stageError); ok {
		return se.err
	}
	return err
}

func asStorageError(msg string, err error) error {
	if _, ok := apperrors.TypeOf(err); ok {
		return err
	}
	return apperrors.NewStorageError(msg, err)
}
