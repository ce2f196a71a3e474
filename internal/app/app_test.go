package app

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"etlpulse/internal/config"
	apierrors "etlpulse/internal/errors"
	"etlpulse/internal/shared/testutil"
	ws "etlpulse/internal/websocket"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Server.Port = 0
	cfg.Server.ShutdownTimeout = 2 * time.Second
	cfg.Security.RateLimit.Enabled = false
	cfg.Telemetry.EnableTracing = false
	cfg.Telemetry.EnableMetrics = true
	cfg.Pipeline.OutputDir = t.TempDir()
	cfg.Storage.Driver = "memory"
	return cfg
}

func newTestApp(t *testing.T, mutate func(*config.Config)) *Application {
	t.Helper()
	cfg := testConfig(t)
	if mutate != nil {
		mutate(cfg)
	}
	logger, _ := testutil.NewTestLogger(t)
	a, err := New(cfg, logger)
	require.NoError(t, err)
	t.Cleanup(func() { a.Store.Close() })
	return a
}

func TestNew_Routes(t *testing.T) {
	a := newTestApp(t, nil)

	tests := []struct {
		method     string
		path       string
		wantStatus int
	}{
		{http.MethodGet, "/api/health", http.StatusOK},
		{http.MethodGet, "/api/health/live", http.StatusOK},
		{http.MethodGet, "/api/health/ready", http.StatusOK},
		{http.MethodGet, "/api/version", http.StatusOK},
		{http.MethodGet, "/api/pipeline/runs", http.StatusOK},
		{http.MethodGet, "/api/pipeline/runs/unknown/flow", http.StatusNotFound},
		{http.MethodGet, "/api/pipeline/runs/0b1c2d3e-4f50-4617-8829-3a4b5c6d7e8f/flow", http.StatusNotFound},
		{http.MethodGet, "/metrics", http.StatusOK},
		{http.MethodGet, "/api/nope", http.StatusNotFound},
		{http.MethodPost, "/api/health", http.StatusMethodNotAllowed},
	}

	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			rec := httptest.NewRecorder()
			a.Router.ServeHTTP(rec, httptest.NewRequest(tt.method, tt.path, nil))
			assert.Equal(t, tt.wantStatus, rec.Code, rec.Body.String())
			assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
		})
	}
}

func TestNew_MetricsDisabled(t *testing.T) {
	a := newTestApp(t, func(c *config.Config) { c.Telemetry.EnableMetrics = false })

	rec := httptest.NewRecorder()
	a.Router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestNew_RunThroughRouter(t *testing.T) {
	a := newTestApp(t, nil)

	body := `{"csv": "Month,Sales\nJan,2000\nFeb,3000\nMar,2500\n", "filters": {"Sales": {"min": 2500}}, "formats": ["csv"]}`
	req := httptest.NewRequest(http.MethodPost, "/api/pipeline/runs", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	a.Router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var created struct {
		RunID string `json:"run_id"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	require.NotEmpty(t, created.RunID)

	rec = httptest.NewRecorder()
	a.Router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/pipeline/runs/"+created.RunID+"/flow", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"completed"`)

	rec = httptest.NewRecorder()
	a.Router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/pipeline/runs/"+created.RunID+"/export?format=json", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "attachment")

	entries, err := os.ReadDir(a.Config.Pipeline.OutputDir)
	require.NoError(t, err)
	assert.NotEmpty(t, entries, "export stage should write into the output directory")
}

func TestNew_PushesTransitions(t *testing.T) {
	a := newTestApp(t, func(c *config.Config) { c.Security.AllowedOrigins = []string{"*"} })
	a.WebSocketHub.Start()
	t.Cleanup(a.WebSocketHub.Stop)

	srv := httptest.NewServer(a.Router)
	t.Cleanup(srv.Close)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	defer conn.Close()

	readMsg := func() ws.Message {
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
		var m ws.Message
		require.NoError(t, conn.ReadJSON(&m))
		return m
	}
	assert.Equal(t, ws.TypeConnection, readMsg().Type)

	resp, err := http.Post(srv.URL+"/api/pipeline/runs", "application/json",
		strings.NewReader(`{"csv": "a,b\n1,2\n3,4\n"}`))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	msg := readMsg()
	assert.Equal(t, ws.TypeTransition, msg.Type)
	assert.NotEmpty(t, msg.RunID)
}

func TestNew_SQLiteStore(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), "nested", "runs.db")
	a := newTestApp(t, func(c *config.Config) {
		c.Storage.Driver = "sqlite"
		c.Storage.DSN = dsn
	})

	_, err := os.Stat(filepath.Dir(dsn))
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	a.Router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/health/ready", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestNew_InvalidConfiguration(t *testing.T) {
	tests := []struct {
		name     string
		mutate   func(*config.Config)
		wantType apierrors.ErrorType
	}{
		{name: "unknown storage driver", mutate: func(c *config.Config) { c.Storage.Driver = "postgres" }, wantType: apierrors.ErrTypeConfig},
		{name: "bad missing strategy", mutate: func(c *config.Config) { c.Pipeline.MissingStrategy = "median" }, wantType: apierrors.ErrTypeConfig},
		{name: "multi character delimiter", mutate: func(c *config.Config) { c.Pipeline.Delimiter = ";;" }, wantType: apierrors.ErrTypeConfig},
		{name: "missing profiles file", mutate: func(c *config.Config) {
			c.Pipeline.ProfilesFile = filepath.Join(t.TempDir(), "absent.yaml")
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig(t)
			tt.mutate(cfg)
			logger, _ := testutil.NewTestLogger(t)
			_, err := New(cfg, logger)
			require.Error(t, err)
			if tt.wantType != "" {
				assert.True(t, apierrors.IsType(err, tt.wantType), "got %v", err)
			}
		})
	}
}

func TestApplication_StartStop(t *testing.T) {
	a := newTestApp(t, func(c *config.Config) { c.Server.Host = "127.0.0.1" })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, a.Start(ctx, cancel))

	require.NoError(t, a.Stop(context.Background()))
	assert.Equal(t, 0, a.WebSocketHub.ClientCount())
	assert.NoError(t, ctx.Err(), "a clean shutdown must not cancel the context")
}
