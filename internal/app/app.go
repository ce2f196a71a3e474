package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	"etlpulse/internal/annotator"
	"etlpulse/internal/config"
	apierrors "etlpulse/internal/errors"
	"etlpulse/internal/infrastructure"
	customMiddleware "etlpulse/internal/middleware"
	"etlpulse/internal/pipeline"
	"etlpulse/internal/services"
	handlers "etlpulse/internal/transport/http"
	ws "etlpulse/internal/websocket"
)

// AppName is reported in startup logs
const AppName = "ETL Pulse"

// BuildTime is set at link time with -ldflags "-X etlpulse/internal/app.BuildTime=..."
var BuildTime = ""

// Application is the server's dependency container
type Application struct {
	Config        *config.Config
	Router        *chi.Mux
	Server        *http.Server
	Logger        *slog.Logger
	OTelProviders *infrastructure.OTelProviders
	Store         pipeline.Store
	Runner        *pipeline.Runner
	WebSocketHub  *ws.Hub
	Services      *ServiceContainer

	errorHandler *apierrors.ErrorHandler
}

// ServiceContainer holds the application services
type ServiceContainer struct {
	Pipeline *services.PipelineService
	Health   *services.HealthService
}

// NewApplication loads configuration from the environment and config file
// and wires the application
func NewApplication() (*Application, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	logger, err := infrastructure.InitializeLogger(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return New(cfg, logger)
}

// New wires an application from an explicit configuration
func New(cfg *config.Config, logger *slog.Logger) (*Application, error) {
	if logger == nil {
		logger = infrastructure.GetLogger()
	}
	logger.Info("Application starting",
		slog.String("name", AppName),
		slog.String("version", config.AppVersion),
		slog.String("storage", cfg.Storage.Driver))

	providers, err := infrastructure.InitializeOTel(cfg.Telemetry, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize OpenTelemetry: %w", err)
	}

	store, err := openStore(cfg.Storage)
	if err != nil {
		return nil, err
	}

	a := &Application{
		Config:        cfg,
		Logger:        logger,
		OTelProviders: providers,
		Store:         store,
		errorHandler:  apierrors.NewErrorHandler(logger, false),
	}

	tracer, err := pipeline.NewTracer(providers)
	if err != nil {
		a.closeStore()
		return nil, fmt.Errorf("failed to create pipeline tracer: %w", err)
	}
	if err := a.initializeServices(tracer); err != nil {
		a.closeStore()
		return nil, err
	}
	if err := a.setupRouter(tracer.Metrics()); err != nil {
		a.closeStore()
		return nil, err
	}
	a.createServer()
	return a, nil
}

func openStore(cfg config.StorageConfig) (pipeline.Store, error) {
	switch cfg.Driver {
	case "", "memory":
		return pipeline.NewMemoryStore(), nil
	case "sqlite":
		if dir := filepath.Dir(cfg.DSN); dir != "." && dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, apierrors.NewStorageError("create database directory", err)
			}
		}
		store, err := pipeline.NewSQLiteStore(cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("failed to open run store: %w", err)
		}
		return store, nil
	default:
		return nil, apierrors.NewAppError(apierrors.ErrTypeConfig,
			fmt.Sprintf("unknown storage driver %q", cfg.Driver), nil)
	}
}

func (a *Application) initializeServices(tracer *pipeline.Tracer) error {
	opts, err := pipeline.OptionsFromConfig(a.Config.Pipeline)
	if err != nil {
		return fmt.Errorf("invalid pipeline configuration: %w", err)
	}
	a.Runner = pipeline.NewRunner(opts, a.Store, tracer, a.Logger)

	profiles := annotator.DefaultProfiles()
	if path := a.Config.Pipeline.ProfilesFile; path != "" {
		if profiles, err = annotator.LoadProfiles(path); err != nil {
			return fmt.Errorf("failed to load annotation profiles: %w", err)
		}
		a.Logger.Info("Annotation profiles loaded",
			slog.String("path", path),
			slog.Int("profiles", len(profiles)))
	}

	wsMetrics, err := ws.NewMetrics(a.OTelProviders.Meter)
	if err != nil {
		return fmt.Errorf("failed to create websocket metrics: %w", err)
	}
	a.WebSocketHub = ws.NewHub(wsMetrics, a.Logger)
	a.Runner.OnTransition(a.WebSocketHub.BroadcastTransition)

	pipelineService := services.NewPipelineService(a.Runner, annotator.New(profiles), a.Config.Storage.HistoryLimit, a.Logger)
	a.Services = &ServiceContainer{
		Pipeline: pipelineService,
		Health: services.NewHealthService(config.AppVersion, BuildTime,
			pipelineService, a.WebSocketHub, a.Config.Pipeline.OutputDir, a.Logger),
	}
	return nil
}

// setupRouter builds the route tree. /ws and /metrics sit outside the
// timeout and body limit that apply to /api.
func (a *Application) setupRouter(metrics *infrastructure.BusinessMetrics) error {
	r := chi.NewRouter()
	r.Use(customMiddleware.RequestID)
	r.Use(customMiddleware.RealIP)

	otelMiddleware, err := customMiddleware.NewOTelMiddleware(a.OTelProviders, metrics)
	if err != nil {
		return fmt.Errorf("failed to create OpenTelemetry middleware: %w", err)
	}
	r.Use(otelMiddleware.Handler)
	r.Use(customMiddleware.StructuredLogger(a.Logger))
	r.Use(customMiddleware.Recoverer(a.errorHandler))
	r.Use(customMiddleware.SecurityHeaders)
	if a.Config.Security.EnableCORS {
		r.Use(customMiddleware.CORS(a.corsConfig()))
	}
	if rl := a.Config.Security.RateLimit; rl.Enabled {
		r.Use(customMiddleware.NewRateLimiter(rl.RPS, rl.Burst, a.Logger, a.errorHandler).Handler)
	}

	r.NotFound(a.errorHandler.NotFound)
	r.MethodNotAllowed(a.errorHandler.MethodNotAllowed)

	r.Handle("/ws", ws.NewHandler(a.WebSocketHub, a.Config.WebSocket, a.Config.Security.AllowedOrigins, a.Logger))
	r.Handle("/metrics", handlers.NewMetricsHandler(a.OTelProviders.PrometheusHTTP, a.errorHandler))

	r.Route("/api", func(r chi.Router) {
		r.Use(render.SetContentType(render.ContentTypeJSON))
		r.Use(customMiddleware.Timeout(a.Config.Server.RequestTimeout))
		r.Use(customMiddleware.MaxBodySize(a.Config.Pipeline.MaxUploadBytes))

		health := handlers.NewHealthHandler(a.Services.Health, a.Logger)
		r.Get("/health", health.HealthCheck)
		r.Get("/health/live", health.LivenessCheck)
		r.Get("/health/ready", health.ReadinessCheck)
		r.Get("/version", health.Version)

		pipelineHandler := handlers.NewPipelineHandler(a.Services.Pipeline, a.errorHandler,
			a.Config.Pipeline.MaxUploadBytes, a.Logger)
		r.Mount("/pipeline", pipelineHandler.Routes())
	})

	a.Router = r
	return nil
}

func (a *Application) corsConfig() customMiddleware.CORSConfig {
	return customMiddleware.CORSConfig{
		AllowedOrigins:   a.Config.Security.AllowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID", "Location", "Content-Disposition"},
		AllowCredentials: false,
		MaxAge:           300,
		Logger:           a.Logger,
	}
}

func (a *Application) createServer() {
	a.Server = &http.Server{
		Addr:           a.Config.Server.Addr(),
		Handler:        a.Router,
		ReadTimeout:    a.Config.Server.ReadTimeout,
		WriteTimeout:   a.Config.Server.WriteTimeout,
		IdleTimeout:    a.Config.Server.IdleTimeout,
		MaxHeaderBytes: a.Config.Server.MaxHeaderBytes,
	}
}

// Start launches the hub and the HTTP server. A listen failure cancels
// the application context.
func (a *Application) Start(ctx context.Context, cancel context.CancelFunc) error {
	a.Logger.InfoContext(ctx, "Starting application",
		slog.String("name", AppName),
		slog.String("version", config.AppVersion),
		slog.String("address", a.Server.Addr),
		slog.String("level", a.Config.Logging.Level))

	a.WebSocketHub.Start()

	go func() {
		if err := a.Server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.Logger.ErrorContext(ctx, "Server error", slog.String("error", err.Error()))
			cancel()
		}
	}()

	ready := a.Services.Health.ReadinessCheck(ctx)
	if ready.Status != "ready" {
		a.Logger.WarnContext(ctx, "Startup readiness check reported problems", slog.Any("services", ready.Services))
	}

	a.Logger.InfoContext(ctx, "Application started")
	return nil
}

// Stop drains HTTP requests, closes push clients and flushes telemetry
func (a *Application) Stop(ctx context.Context) error {
	a.Logger.InfoContext(ctx, "Shutting down application")

	shutdownCtx, cancel := context.WithTimeout(ctx, a.Config.Server.ShutdownTimeout)
	defer cancel()

	var errs []error
	if err := a.Server.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("server shutdown: %w", err))
	}
	a.WebSocketHub.Stop()

	if err := a.Store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("run store close: %w", err))
	}
	if a.OTelProviders != nil {
		if err := a.OTelProviders.Shutdown(shutdownCtx); err != nil {
			a.Logger.ErrorContext(ctx, "Error shutting down OpenTelemetry", slog.String("error", err.Error()))
		}
	}
	if err := infrastructure.CloseLogFile(); err != nil {
		errs = append(errs, fmt.Errorf("log file close: %w", err))
	}

	a.Logger.InfoContext(ctx, "Application shutdown complete")
	return errors.Join(errs...)
}

// Run starts the application and blocks until SIGINT, SIGTERM or a server
// failure
func (a *Application) Run() error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := a.Start(ctx, cancel); err != nil {
		return err
	}

	<-ctx.Done()
	a.Logger.Info("Received shutdown signal")

	stopCtx, stopCancel := context.WithTimeout(context.Background(), a.Config.Server.ShutdownTimeout+5*time.Second)
	defer stopCancel()
	return a.Stop(stopCtx)
}

func (a *Application) closeStore() {
	if err := a.Store.Close(); err != nil {
		a.Logger.Warn("run store close failed", slog.String("error", err.Error()))
	}
}
