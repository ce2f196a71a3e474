package pipeline

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"etlpulse/internal/config"
	"etlpulse/internal/infrastructure"
)

func TestTracer_RecordsRunMetrics(t *testing.T) {
	providers, err := infrastructure.InitializeOTel(config.TelemetryConfig{
		EnableMetrics:  true,
		MetricExporter: "prometheus",
	}, testLogger())
	require.NoError(t, err)
	defer providers.Shutdown(context.Background())

	tracer, err := NewTracer(providers)
	require.NoError(t, err)
	r := NewRunner(Options{CacheSize: 4}, nil, tracer, testLogger())

	req := Request{Source: []byte(monthlySales)}
	_, err = r.Run(context.Background(), req)
	require.NoError(t, err)
	_, err = r.Run(context.Background(), req)
	require.NoError(t, err)
	_, err = r.Run(context.Background(), Request{})
	require.Error(t, err)

	rec := httptest.NewRecorder()
	providers.PrometheusHTTP.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body := rec.Body.String()

	assert.Contains(t, body, "pipeline_runs_total")
	assert.Contains(t, body, "pipeline_stage_duration_seconds")
	assert.Contains(t, body, "pipeline_cache_hits_total")
	assert.Contains(t, body, "pipeline_errors_total")
	assert.Contains(t, body, `stage="extract"`)
}

func TestNoopTracer(t *testing.T) {
	tracer := NoopTracer()
	require.NotNil(t, tracer)
	require.NotNil(t, tracer.Metrics())

	ctx, span := tracer.StartRun(context.Background(), "run-1", Request{})
	assert.NotPanics(t, func() {
		tracer.RecordExport(ctx, "csv", 10)
		tracer.EndRun(ctx, span, time.Now(), 0, false, "")
	})
}
