package services

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	apperrors "etlpulse/internal/errors"
	"etlpulse/internal/infrastructure"
)

// logServiceError logs a failed service call with the context's trace ID.
// Caller mistakes are logged at warn, everything else at error.
func logServiceError(ctx context.Context, logger *slog.Logger, action string, err error, attrs ...slog.Attr) {
	all := make([]slog.Attr, 0, len(attrs)+3)
	all = append(all,
		slog.String("action", action),
		slog.String("error", err.Error()),
	)
	if traceID := infrastructure.GetTraceID(ctx); traceID != "" {
		all = append(all, slog.String("trace_id", traceID))
	}
	all = append(all, attrs...)

	level := slog.LevelError
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) && appErr.StatusCode() < http.StatusInternalServerError {
		level = slog.LevelWarn
	}
	logger.LogAttrs(ctx, level, "service call failed", all...)
}
