package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"etlpulse/internal/chart"
	apierrors "etlpulse/internal/errors"
	"etlpulse/internal/filter"
	"etlpulse/internal/flow"
	"etlpulse/internal/middleware"
	"etlpulse/internal/pipeline"
	"etlpulse/internal/transform"
)

const maxHistoryLimit = 500

// RunRequest is the JSON body of POST /api/pipeline/runs
type RunRequest struct {
	CSV        string         `json:"csv" validate:"required"`
	Name       string         `json:"name" validate:"omitempty,filename"`
	Filters    filter.Spec    `json:"filters"`
	Transforms transform.Spec `json:"transforms"`
	Charts     []string       `json:"charts" validate:"omitempty,dive,chartkind"`
	// Formats are checked by the run's export stage so that an unsupported
	// format shows up on the flow
	Formats []string `json:"formats"`
}

// uploadForm holds the non-file fields of a multipart run request
type uploadForm struct {
	Name       string   `json:"name" validate:"omitempty,filename"`
	Transforms []string `json:"transforms" validate:"omitempty,dive,transform"`
	Charts     []string `json:"charts" validate:"omitempty,dive,chartkind"`
	Formats    []string `json:"formats"`
}

// PipelineHandler handles pipeline run requests
type PipelineHandler struct {
	service      PipelineServiceInterface
	validator    *middleware.Validator
	query        *middleware.QueryParamValidator
	errorHandler *apierrors.ErrorHandler
	maxUpload    int64
	tracer       trace.Tracer
	logger       *slog.Logger
}

// NewPipelineHandler creates the handler. maxUpload bounds multipart bodies.
func NewPipelineHandler(service PipelineServiceInterface, errorHandler *apierrors.ErrorHandler, maxUpload int64, logger *slog.Logger) *PipelineHandler {
	if service == nil {
		panic("service cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &PipelineHandler{
		service:      service,
		validator:    middleware.NewValidator(logger),
		query:        middleware.NewQueryParamValidator(errorHandler),
		errorHandler: errorHandler,
		maxUpload:    maxUpload,
		tracer:       otel.Tracer("pipeline-handler"),
		logger:       logger.With(slog.String("handler", "pipeline")),
	}
}

// Routes returns a chi router for the pipeline endpoints
func (h *PipelineHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.With(middleware.ContentTypeValidator(h.errorHandler, "application/json", "multipart/form-data")).
		Post("/runs", h.CreateRun)
	r.Get("/runs", h.ListRuns)
	r.Route("/runs/{runID}", func(r chi.Router) {
		r.Use(h.requireRunID)
		r.Get("/", h.GetRun)
		r.Get("/flow", h.GetFlow)
		r.Get("/charts/{kind}", h.GetChart)
		r.Get("/export", h.Export)
		r.Get("/annotation", h.GetAnnotation)
	})

	return r
}

// requireRunID answers 404 for run IDs that are not UUIDs, since no run
// can carry one
func (h *PipelineHandler) requireRunID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, err := uuid.Parse(chi.URLParam(r, "runID")); err != nil {
			h.errorHandler.HandleError(w, r, apierrors.ErrRunNotFound)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// CreateRun handles POST /api/pipeline/runs
func (h *PipelineHandler) CreateRun(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "pipeline_handler.create_run",
		trace.WithAttributes(attribute.String("request_id", middleware.GetRequestID(r.Context()))))
	defer span.End()
	r = r.WithContext(ctx)

	includeRows, ok := h.query.ValidateBool(w, r, "include_rows", false)
	if !ok {
		return
	}

	var (
		req pipeline.Request
		err error
	)
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		req, err = h.parseUpload(w, r)
	} else {
		req, err = h.parseJSON(r)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "invalid request")
		h.errorHandler.HandleError(w, r, err)
		return
	}

	span.SetAttributes(
		attribute.String("pipeline.source", req.Name),
		attribute.Int("pipeline.bytes", len(req.Source)),
		attribute.Int("pipeline.filters", len(req.Filters)),
		attribute.Int("pipeline.transforms", len(req.Transforms)),
	)

	view, err := h.service.Run(ctx, req, includeRows)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "run failed")
		h.errorHandler.HandleError(w, r, err)
		return
	}

	span.SetAttributes(attribute.String("pipeline.run_id", view.RunID))
	w.Header().Set("Location", "/api/pipeline/runs/"+view.RunID)
	render.Status(r, http.StatusCreated)
	render.JSON(w, r, view)
}

func (h *PipelineHandler) parseJSON(r *http.Request) (pipeline.Request, error) {
	var body RunRequest
	if err := h.validator.DecodeJSON(r, &body); err != nil {
		return pipeline.Request{}, err
	}
	kinds, err := parseKinds(body.Charts)
	if err != nil {
		return pipeline.Request{}, err
	}
	return pipeline.Request{
		Source:     []byte(body.CSV),
		Name:       body.Name,
		Filters:    body.Filters,
		Transforms: body.Transforms,
		ChartKinds: kinds,
		Formats:    body.Formats,
	}, nil
}

// parseUpload reads a multipart request: the CSV under "file", a JSON
// filter object under "filters", and repeated or comma separated
// "transforms", "charts" and "formats" fields.
func (h *PipelineHandler) parseUpload(w http.ResponseWriter, r *http.Request) (pipeline.Request, error) {
	if h.maxUpload > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload)
	}
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return pipeline.Request{}, apierrors.ErrPayloadTooLarge
		}
		return pipeline.Request{}, apierrors.InvalidRequestWithError(err)
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		return pipeline.Request{}, apierrors.ErrValidation("file", "file is required")
	}
	defer file.Close()
	source, err := io.ReadAll(file)
	if err != nil {
		return pipeline.Request{}, apierrors.InvalidRequestWithError(err)
	}

	form := uploadForm{
		Name:       r.FormValue("name"),
		Transforms: formList(r, "transforms"),
		Charts:     formList(r, "charts"),
		Formats:    formList(r, "formats"),
	}
	if form.Name == "" {
		form.Name = header.Filename
	}
	if err := h.validator.ValidateStruct(form); err != nil {
		return pipeline.Request{}, err
	}

	var filters filter.Spec
	if raw := strings.TrimSpace(r.FormValue("filters")); raw != "" {
		if err := json.Unmarshal([]byte(raw), &filters); err != nil {
			var appErr *apierrors.AppError
			if errors.As(err, &appErr) {
				return pipeline.Request{}, err
			}
			return pipeline.Request{}, apierrors.NewAppError(apierrors.ErrTypeInvalidFilter, "filters must be valid JSON", err)
		}
	}
	transforms, err := transform.ParseSpec(form.Transforms)
	if err != nil {
		return pipeline.Request{}, err
	}
	kinds, err := parseKinds(form.Charts)
	if err != nil {
		return pipeline.Request{}, err
	}

	return pipeline.Request{
		Source:     source,
		Name:       form.Name,
		Filters:    filters,
		Transforms: transforms,
		ChartKinds: kinds,
		Formats:    form.Formats,
	}, nil
}

// ListRuns handles GET /api/pipeline/runs
func (h *PipelineHandler) ListRuns(w http.ResponseWriter, r *http.Request) {
	limit, ok := h.query.ValidateInt(w, r, "limit", 1, maxHistoryLimit, 0)
	if !ok {
		return
	}
	state, ok := h.query.ValidateEnum(w, r, "state", []string{
		string(flow.RunPending), string(flow.RunRunning), string(flow.RunCompleted), string(flow.RunFailed),
	}, "")
	if !ok {
		return
	}

	lf := pipeline.ListFilter{State: flow.RunState(state), Limit: limit}
	if since := r.URL.Query().Get("since"); since != "" {
		t, err := time.Parse(time.RFC3339, since)
		if err != nil {
			h.errorHandler.HandleError(w, r, apierrors.ErrValidation("since", "since must be an RFC 3339 timestamp"))
			return
		}
		lf.Since = t
	}

	runs, err := h.service.List(r.Context(), lf)
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}
	render.JSON(w, r, map[string]interface{}{
		"runs":  runs,
		"count": len(runs),
	})
}

// GetRun handles GET /api/pipeline/runs/{runID}
func (h *PipelineHandler) GetRun(w http.ResponseWriter, r *http.Request) {
	rec, err := h.service.Get(r.Context(), chi.URLParam(r, "runID"))
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}
	render.JSON(w, r, rec)
}

// GetFlow handles GET /api/pipeline/runs/{runID}/flow
func (h *PipelineHandler) GetFlow(w http.ResponseWriter, r *http.Request) {
	st, err := h.service.Flow(r.Context(), chi.URLParam(r, "runID"))
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}
	render.JSON(w, r, st)
}

// GetChart handles GET /api/pipeline/runs/{runID}/charts/{kind}
func (h *PipelineHandler) GetChart(w http.ResponseWriter, r *http.Request) {
	cfg, err := h.service.Chart(r.Context(), chi.URLParam(r, "runID"), chi.URLParam(r, "kind"))
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}
	render.JSON(w, r, cfg)
}

// Export handles GET /api/pipeline/runs/{runID}/export?format=
func (h *PipelineHandler) Export(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")
	format := r.URL.Query().Get("format")
	if format == "" {
		format = "csv"
	}

	ctx, span := h.tracer.Start(r.Context(), "pipeline_handler.export",
		trace.WithAttributes(
			attribute.String("pipeline.run_id", runID),
			attribute.String("export.format", format),
		))
	defer span.End()

	file, err := h.service.Export(ctx, runID, format)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "export failed")
		h.errorHandler.HandleError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", file.ContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", file.Filename))
	w.Header().Set("Content-Length", strconv.Itoa(len(file.Data)))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(file.Data); err != nil {
		h.logger.WarnContext(ctx, "export write failed",
			slog.String("run_id", runID),
			slog.String("error", err.Error()))
	}
}

// GetAnnotation handles GET /api/pipeline/runs/{runID}/annotation
func (h *PipelineHandler) GetAnnotation(w http.ResponseWriter, r *http.Request) {
	ann, err := h.service.Annotation(r.Context(), chi.URLParam(r, "runID"))
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}
	render.JSON(w, r, ann)
}

// formList collects a repeated form field, splitting comma separated values
func formList(r *http.Request, key string) []string {
	var out []string
	for _, v := range r.MultipartForm.Value[key] {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

func parseKinds(names []string) ([]chart.Kind, error) {
	if len(names) == 0 {
		return nil, nil
	}
	kinds := make([]chart.Kind, 0, len(names))
	for _, n := range names {
		k, err := chart.ParseKind(n)
		if err != nil {
			return nil, err
		}
		kinds = append(kinds, k)
	}
	return kinds, nil
}
