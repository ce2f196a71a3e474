package pipeline

import (
	"context"
	"errors"

	"etlpulse/internal/chart"
	apperrors "etlpulse/internal/errors"
	"etlpulse/internal/exporter"
	"etlpulse/internal/flow"
)

// Export renders a completed run in format and returns the bytes and their
// content type. Formats prepared by the run's export stage are served as is.
func (r *Runner) Export(res *Result, format string) ([]byte, string, error) {
	if res == nil {
		return nil, "", apperrors.NewAppValidationError("no result to export")
	}
	f, err := exporter.ParseFormat(format)
	if err != nil {
		return nil, "", err
	}

	data, ok := res.artifacts[f]
	if !ok {
		data, err = exporter.Bytes(res.Table, res.Summary, f, r.exportOptions(res))
		if err != nil {
			return nil, "", err
		}
	}
	r.tracer.RecordExport(context.Background(), string(f), len(data))
	return data, f.ContentType(), nil
}

// ChartConfig returns the chart of the given kind for a completed run.
// Kinds the run did not build are built on demand.
func (r *Runner) ChartConfig(res *Result, kind string) (chart.Config, error) {
	if res == nil {
		return chart.Config{}, apperrors.NewAppValidationError("no result to chart")
	}
	k, err := chart.ParseKind(kind)
	if err != nil {
		return chart.Config{}, err
	}
	if cfg, ok := res.Charts[k]; ok {
		return cfg, nil
	}
	return r.chartBuilder(res).BuildOne(res.Table, k)
}

// FlowStatus returns the flow graph of a run, failed runs included. Runs no
// longer held in memory are answered from the store.
func (r *Runner) FlowStatus(ctx context.Context, runID string) (flow.Status, error) {
	r.mu.RLock()
	tracker, ok := r.flows[runID]
	r.mu.RUnlock()
	if ok {
		return tracker.Snapshot(), nil
	}

	rec, err := r.store.GetRun(ctx, runID)
	if err != nil {
		return flow.Status{}, err
	}
	return rec.Flow, nil
}

// Result returns a completed run still held in memory
func (r *Runner) Result(runID string) (*Result, error) {
	r.mu.RLock()
	res, ok := r.results[runID]
	r.mu.RUnlock()
	if !ok {
		return nil, apperrors.NewNotFoundError("run " + runID)
	}
	return res, nil
}

// Record returns the stored record of a run
func (r *Runner) Record(ctx context.Context, runID string) (*RunRecord, error) {
	return r.store.GetRun(ctx, runID)
}

// History lists recent runs, newest first
func (r *Runner) History(ctx context.Context, filter ListFilter) ([]*RunRecord, error) {
	return r.store.ListRuns(ctx, filter)
}

// IsNotFound reports whether err means the run is unknown
func IsNotFound(err error) bool {
	return apperrors.IsType(err, apperrors.ErrTypeNotFound)
}

// AsRunError extracts the run failure from err
func AsRunError(err error) (*RunError, bool) {
	var re *RunError
	ok := errors.As(err, &re)
	return re, ok
}
