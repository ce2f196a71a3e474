package pipeline

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"etlpulse/internal/flow"
	"etlpulse/internal/infrastructure"
)

const (
	TracerName = "etlpulse.pipeline"
)

// Tracer provides OpenTelemetry instrumentation for pipeline runs
type Tracer struct {
	tracer  trace.Tracer
	metrics *infrastructure.BusinessMetrics
}

// NewTracer creates a tracer over the given providers
func NewTracer(providers *infrastructure.OTelProviders) (*Tracer, error) {
	if providers == nil {
		providers = infrastructure.NoopProviders(nil)
	}
	metrics, err := infrastructure.CreateBusinessMetrics(providers.Meter)
	if err != nil {
		return nil, fmt.Errorf("failed to create business metrics: %w", err)
	}
	return &Tracer{
		tracer:  providers.Tracer,
		metrics: metrics,
	}, nil
}

// NoopTracer returns a tracer that records nothing
func NoopTracer() *Tracer {
	t, _ := NewTracer(nil)
	return t
}

// Metrics exposes the instruments shared with the HTTP layer
func (t *Tracer) Metrics() *infrastructure.BusinessMetrics { return t.metrics }

// StartRun opens the span that covers a whole run
func (t *Tracer) StartRun(ctx context.Context, runID string, req Request) (context.Context, trace.Span) {
	ctx, span := t.tracer.Start(ctx, "pipeline.run",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("pipeline.run_id", runID),
			attribute.String("pipeline.source", req.Name),
			attribute.Int("pipeline.source_bytes", len(req.Source)),
			attribute.Int("pipeline.filters", len(req.Filters)),
			attribute.Int("pipeline.transforms", len(req.Transforms)),
		),
	)
	t.metrics.PipelineActiveRuns.Add(ctx, 1)
	return ctx, span
}

// StartStage opens a child span for one stage
func (t *Tracer) StartStage(ctx context.Context, runID string, stage flow.NodeID) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "pipeline.stage."+string(stage),
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("pipeline.run_id", runID),
			attribute.String("pipeline.stage", string(stage)),
		),
	)
}

// EndStage records the stage duration and closes its span
func (t *Tracer) EndStage(ctx context.Context, span trace.Span, stage flow.NodeID, started time.Time, err error) {
	status := "success"
	if err != nil {
		status = "failure"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	t.metrics.PipelineStageDuration.Record(ctx, time.Since(started).Seconds(),
		metric.WithAttributes(
			attribute.String("stage", string(stage)),
			attribute.String("status", status),
		),
	)
	span.End()
}

// EndRun records completion metrics and closes the run span. failedStage is
// empty for successful runs.
func (t *Tracer) EndRun(ctx context.Context, span trace.Span, started time.Time, rows int, cached bool, failedStage flow.NodeID) {
	status := "success"
	if failedStage != "" {
		status = "failure"
	}
	duration := time.Since(started)

	span.SetAttributes(
		attribute.String("pipeline.status", status),
		attribute.Float64("pipeline.duration_seconds", duration.Seconds()),
		attribute.Int("pipeline.rows", rows),
		attribute.Bool("pipeline.cached", cached),
	)

	attrs := metric.WithAttributes(attribute.String("status", status))
	t.metrics.PipelineRunsTotal.Add(ctx, 1, attrs)
	t.metrics.PipelineRunDuration.Record(ctx, duration.Seconds(), attrs)
	t.metrics.PipelineActiveRuns.Add(ctx, -1)
	if rows > 0 {
		t.metrics.PipelineRowsProcessed.Add(ctx, int64(rows))
	}

	if cached {
		t.metrics.PipelineCacheHits.Add(ctx, 1)
	} else {
		t.metrics.PipelineCacheMisses.Add(ctx, 1)
	}

	if failedStage != "" {
		t.metrics.PipelineErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("stage", string(failedStage))))
		span.SetStatus(codes.Error, fmt.Sprintf("pipeline failed at stage %s", failedStage))
	} else {
		infrastructure.AddSpanEvent(ctx, "pipeline.completed", attribute.Int("rows", rows))
		span.SetStatus(codes.Ok, "pipeline completed")
	}
	span.End()
}

// RecordExport counts bytes produced by an export
func (t *Tracer) RecordExport(ctx context.Context, format string, n int) {
	t.metrics.ExportBytes.Add(ctx, int64(n), metric.WithAttributes(attribute.String("format", format)))
}
