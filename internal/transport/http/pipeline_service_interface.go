package http

import (
	"context"

	"etlpulse/internal/annotator"
	"etlpulse/internal/chart"
	"etlpulse/internal/flow"
	"etlpulse/internal/pipeline"
	"etlpulse/internal/services"
)

// PipelineServiceInterface defines the pipeline operations the handlers use
type PipelineServiceInterface interface {
	Run(ctx context.Context, req pipeline.Request, includeRows bool) (*services.RunView, error)
	Get(ctx context.Context, runID string) (*pipeline.RunRecord, error)
	List(ctx context.Context, filter pipeline.ListFilter) ([]*pipeline.RunRecord, error)
	Chart(ctx context.Context, runID, kind string) (chart.Config, error)
	Flow(ctx context.Context, runID string) (flow.Status, error)
	Export(ctx context.Context, runID, format string) (*services.ExportFile, error)
	Annotation(ctx context.Context, runID string) (annotator.Annotation, error)
}

var _ PipelineServiceInterface = (*services.PipelineService)(nil)
