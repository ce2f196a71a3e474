package pipeline

import (
	"errors"
	"fmt"
	"time"

	"etlpulse/internal/chart"
	"etlpulse/internal/cleaner"
	"etlpulse/internal/exporter"
	"etlpulse/internal/filter"
	"etlpulse/internal/flow"
	"etlpulse/internal/loader"
	"etlpulse/internal/summary"
	"etlpulse/internal/table"
	"etlpulse/internal/transform"
)

// Request is the input of one pipeline run
type Request struct {
	// Source holds the raw delimited text
	Source []byte
	// Name identifies the source in reports, usually the uploaded file name
	Name       string
	Filters    filter.Spec
	Transforms transform.Spec
	// ChartKinds selects the charts to build. Empty builds every kind.
	ChartKinds []chart.Kind
	// Formats lists export formats prepared by the export stage
	Formats []string
}

// FilterReport describes the effect of the filter stage
type FilterReport struct {
	Columns    []string `json:"columns"`
	RowsBefore int      `json:"rows_before"`
	RowsAfter  int      `json:"rows_after"`
}

// Report is the run metadata written next to exports
type Report struct {
	Extract    loader.Info      `json:"extract"`
	Cleaning   cleaner.Report   `json:"cleaning"`
	Filter     FilterReport     `json:"filter"`
	Transform  transform.Report `json:"transform"`
	Outputs    []string         `json:"outputs,omitempty"`
	StartedAt  time.Time        `json:"started_at"`
	FinishedAt time.Time        `json:"finished_at"`
	Cached     bool             `json:"cached"`
}

// Result is a completed run. Its table and charts are shared with the cache
// and must not be modified.
type Result struct {
	RunID       string                      `json:"run_id"`
	Source      string                      `json:"source"`
	Fingerprint string                      `json:"fingerprint"`
	Table       *table.Table                `json:"-"`
	Summary     summary.Summary             `json:"summary"`
	Charts      map[chart.Kind]chart.Config `json:"charts"`
	Flow        flow.Status                 `json:"flow"`
	Report      Report                      `json:"report"`
	CreatedAt   time.Time                   `json:"created_at"`

	artifacts map[exporter.Format][]byte
}

// RunError reports the stage at which a run stopped
type RunError struct {
	RunID string
	Stage flow.NodeID
	Err   error
}

func (e *RunError) Error() string {
	return fmt.Sprintf("pipeline run %s failed at %s: %v", e.RunID, e.Stage, e.Err)
}

func (e *RunError) Unwrap() error { return e.Err }

// ProblemExtensions adds the run ID and stage to problem responses
func (e *RunError) ProblemExtensions() map[string]interface{} {
	return map[string]interface{}{
		"run_id": e.RunID,
		"stage":  string(e.Stage),
	}
}

// stageError carries a failure out of the shared execution so that runs
// joining it can replay the same outcome on their own tracker
type stageError struct {
	stage flow.NodeID
	err   error
}

func (e *stageError) Error() string { return e.err.Error() }

func (e *stageError) Unwrap() error { return e.err }

// failedStage returns the stage recorded in err, if any
func failedStage(err error) (flow.NodeID, bool) {
	var se *stageError
	if errors.As(err, &se) {
		return se.stage, true
	}
	var re *RunError
	if errors.As(err, &re) {
		return re.Stage, true
	}
	return "", false
}

// outcome is the cacheable part of a run: extract through transform
type outcome struct {
	fingerprint string
	original    *table.Table
	table       *table.Table
	extract     loader.Info
	cleaning    cleaner.Report
	filter      FilterReport
	transform   transform.Report
}
