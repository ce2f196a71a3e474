package infrastructure

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/metric"

	"etlpulse/internal/config"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func TestInitializeOTel(t *testing.T) {
	tests := []struct {
		name        string
		cfg         config.TelemetryConfig
		wantTracing bool
		wantMetrics bool
		wantErr     bool
	}{
		{
			name:        "metrics only",
			cfg:         config.TelemetryConfig{EnableMetrics: true, MetricExporter: "prometheus", TraceExporter: "stdout"},
			wantMetrics: true,
		},
		{
			name:        "tracing and metrics",
			cfg:         config.TelemetryConfig{EnableTracing: true, EnableMetrics: true, TraceExporter: "stdout", MetricExporter: "prometheus", SampleRatio: 1},
			wantTracing: true,
			wantMetrics: true,
		},
		{
			name: "everything disabled",
			cfg:  config.TelemetryConfig{TraceExporter: "none", MetricExporter: "none"},
		},
		{
			name:    "unknown metric exporter",
			cfg:     config.TelemetryConfig{EnableMetrics: true, MetricExporter: "statsd"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			providers, err := InitializeOTel(tt.cfg, discardLogger())
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			defer providers.Shutdown(context.Background())

			assert.NotNil(t, providers.Tracer)
			assert.NotNil(t, providers.Meter)
			assert.Equal(t, tt.wantTracing, providers.TracerProvider != nil)
			assert.Equal(t, tt.wantMetrics, providers.MeterProvider != nil)
			assert.Equal(t, tt.wantMetrics, providers.PrometheusHTTP != nil)
		})
	}
}

func TestBusinessMetrics_PrometheusEndpoint(t *testing.T) {
	providers, err := InitializeOTel(config.TelemetryConfig{EnableMetrics: true, MetricExporter: "prometheus"}, discardLogger())
	require.NoError(t, err)
	defer providers.Shutdown(context.Background())

	m, err := CreateBusinessMetrics(providers.Meter)
	require.NoError(t, err)

	ctx := context.Background()
	m.PipelineRunsTotal.Add(ctx, 1)
	m.PipelineCacheHits.Add(ctx, 2)
	m.PipelineStageDuration.Record(ctx, 0.25)

	rec := httptest.NewRecorder()
	providers.PrometheusHTTP.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body := rec.Body.String()
	assert.Contains(t, body, "pipeline_runs_total")
	assert.Contains(t, body, "pipeline_cache_hits_total")
	assert.Contains(t, body, "pipeline_stage_duration_seconds")
}

func TestCreateBusinessMetrics_Noop(t *testing.T) {
	m, err := CreateBusinessMetrics(NoopProviders(nil).Meter)
	require.NoError(t, err)

	var _ metric.Int64Counter = m.PipelineRunsTotal
	assert.NotPanics(t, func() {
		m.PipelineRowsProcessed.Add(context.Background(), 10)
		m.PipelineActiveRuns.Add(context.Background(), -1)
	})
}

func TestTraceHelpers_WithoutSpan(t *testing.T) {
	ctx := context.Background()
	assert.Empty(t, TraceIDFromContext(ctx))
	assert.NotPanics(t, func() {
		AddSpanEvent(ctx, "noop")
		RecordError(ctx, io.EOF)
	})
}
