package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"etlpulse/internal/annotator"
	"etlpulse/internal/chart"
	apperrors "etlpulse/internal/errors"
	"etlpulse/internal/exporter"
	"etlpulse/internal/flow"
	"etlpulse/internal/pipeline"
	"etlpulse/internal/table"
)

// DefaultHistoryLimit caps run listings when the caller gives no limit
const DefaultHistoryLimit = 50

// RunView is a completed run as returned to clients. Rows are only filled
// when requested.
type RunView struct {
	*pipeline.Result
	Rows []map[string]interface{} `json:"rows,omitempty"`
}

// ExportFile is a rendered export ready to be served as an attachment
type ExportFile struct {
	Filename    string
	ContentType string
	Data        []byte
}

// PipelineService exposes pipeline runs to the transport layer
type PipelineService struct {
	runner       *pipeline.Runner
	annotator    *annotator.Annotator
	historyLimit int
	logger       *slog.Logger
}

// NewPipelineService creates the service. A nil annotator uses the default
// profiles.
func NewPipelineService(runner *pipeline.Runner, ann *annotator.Annotator, historyLimit int, logger *slog.Logger) *PipelineService {
	if logger == nil {
		logger = slog.Default()
	}
	if ann == nil {
		ann = annotator.New(nil)
	}
	if historyLimit <= 0 {
		historyLimit = DefaultHistoryLimit
	}
	return &PipelineService{
		runner:       runner,
		annotator:    ann,
		historyLimit: historyLimit,
		logger:       logger.With(slog.String("component", "pipeline_service")),
	}
}

// Run executes one pipeline run
func (s *PipelineService) Run(ctx context.Context, req pipeline.Request, includeRows bool) (*RunView, error) {
	if len(req.Source) == 0 {
		return nil, ErrEmptySource
	}

	res, err := s.runner.Run(ctx, req)
	if err != nil {
		attrs := []slog.Attr{slog.String("source", req.Name)}
		if re, ok := pipeline.AsRunError(err); ok {
			attrs = append(attrs, slog.String("run_id", re.RunID), slog.String("stage", string(re.Stage)))
		}
		logServiceError(ctx, s.logger, "run", err, attrs...)
		return nil, err
	}

	s.logger.InfoContext(ctx, "run completed",
		slog.String("run_id", res.RunID),
		slog.String("source", res.Source),
		slog.Int("rows", res.Summary.ProcessedRowCount),
		slog.Bool("cached", res.Report.Cached))

	view := &RunView{Result: res}
	if includeRows {
		view.Rows = rowMaps(res.Table)
	}
	return view, nil
}

// Get returns the stored record of a run
func (s *PipelineService) Get(ctx context.Context, runID string) (*pipeline.RunRecord, error) {
	rec, err := s.runner.Record(ctx, runID)
	if err != nil {
		logServiceError(ctx, s.logger, "get", err, slog.String("run_id", runID))
		return nil, err
	}
	return rec, nil
}

// List returns recent runs, newest first. A zero limit uses the configured
// history limit; larger limits are capped to it.
func (s *PipelineService) List(ctx context.Context, filter pipeline.ListFilter) ([]*pipeline.RunRecord, error) {
	if filter.Limit <= 0 || filter.Limit > s.historyLimit {
		filter.Limit = s.historyLimit
	}
	runs, err := s.runner.History(ctx, filter)
	if err != nil {
		logServiceError(ctx, s.logger, "list", err)
		return nil, err
	}
	return runs, nil
}

// Chart returns one chart configuration of a retained run
func (s *PipelineService) Chart(ctx context.Context, runID, kind string) (chart.Config, error) {
	res, err := s.result(ctx, runID)
	if err != nil {
		return chart.Config{}, err
	}
	cfg, err := s.runner.ChartConfig(res, kind)
	if err != nil {
		logServiceError(ctx, s.logger, "chart", err, slog.String("run_id", runID), slog.String("kind", kind))
		return chart.Config{}, err
	}
	return cfg, nil
}

// Flow returns the flow status of any known run
func (s *PipelineService) Flow(ctx context.Context, runID string) (flow.Status, error) {
	st, err := s.runner.FlowStatus(ctx, runID)
	if err != nil {
		logServiceError(ctx, s.logger, "flow", err, slog.String("run_id", runID))
		return flow.Status{}, err
	}
	return st, nil
}

// Export renders a retained run in the requested format
func (s *PipelineService) Export(ctx context.Context, runID, format string) (*ExportFile, error) {
	f, err := exporter.ParseFormat(format)
	if err != nil {
		return nil, err
	}
	res, err := s.result(ctx, runID)
	if err != nil {
		return nil, err
	}

	data, contentType, err := s.runner.Export(res, string(f))
	if err != nil {
		logServiceError(ctx, s.logger, "export", err, slog.String("run_id", runID), slog.String("format", string(f)))
		return nil, err
	}

	s.logger.InfoContext(ctx, "run exported",
		slog.String("run_id", runID),
		slog.String("format", string(f)),
		slog.Int("bytes", len(data)))

	return &ExportFile{
		Filename:    exportFilename(runID, f),
		ContentType: contentType,
		Data:        data,
	}, nil
}

// Annotation guesses the business domain of a completed run
func (s *PipelineService) Annotation(ctx context.Context, runID string) (annotator.Annotation, error) {
	if res, err := s.runner.Result(runID); err == nil {
		return s.annotator.AnnotateSummary(res.Summary), nil
	}

	rec, err := s.runner.Record(ctx, runID)
	if err != nil {
		return annotator.Annotation{}, err
	}
	if rec.Summary == nil {
		return annotator.Annotation{}, apperrors.NewAppValidationError(
			fmt.Sprintf("run %s has no summary (state %s)", runID, rec.State))
	}
	return s.annotator.AnnotateSummary(*rec.Summary), nil
}

// Ping checks that the run store answers
func (s *PipelineService) Ping(ctx context.Context) error {
	_, err := s.runner.History(ctx, pipeline.ListFilter{Limit: 1})
	return err
}

// result returns a run held in memory. A run that is stored but evicted
// yields ErrRunEvicted.
func (s *PipelineService) result(ctx context.Context, runID string) (*pipeline.Result, error) {
	res, err := s.runner.Result(runID)
	if err == nil {
		return res, nil
	}
	rec, recErr := s.runner.Record(ctx, runID)
	switch {
	case recErr == nil && rec.State != flow.RunCompleted:
		return nil, apperrors.NewAppValidationError(
			fmt.Sprintf("run %s did not complete (state %s)", runID, rec.State))
	case recErr == nil:
		return nil, ErrRunEvicted
	case errors.Is(recErr, &apperrors.AppError{Type: apperrors.ErrTypeNotFound}):
		return nil, err
	default:
		return nil, recErr
	}
}

func exportFilename(runID string, f exporter.Format) string {
	short := runID
	if len(short) > 8 {
		short = short[:8]
	}
	return "processed_data_" + short + f.Extension()
}

func rowMaps(t *table.Table) []map[string]interface{} {
	if t == nil {
		return nil
	}
	names := t.ColumnNames()
	rows := make([]map[string]interface{}, t.NumRows())
	for i := range rows {
		row := make(map[string]interface{}, len(names))
		for j, v := range t.Row(i) {
			row[names[j]] = v.Interface()
		}
		rows[i] = row
	}
	return rows
}
