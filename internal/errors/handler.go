package errors

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/render"

	"licguard/internal/infrastructure"
)

// ErrorHandler provides centralized error handling for HTTP handlers
type ErrorHandler struct {
	logger *slog.Logger
}

// NewErrorHandler creates a new error handler
func NewErrorHandler(logger *slog.Logger) *ErrorHandler {
	return &ErrorHandler{
		logger: logger.With(slog.String("component", "error_handler")),
	}
}

// HandleError converts any error to a structured response and writes it.
// Unexpected errors are logged with context but surface only as a generic
// internal error, never exposing collaborator detail to the caller.
func (h *ErrorHandler) HandleError(w http.ResponseWriter, r *http.Request, err error) {
	if err == nil {
		return
	}

	ctx := r.Context()
	traceID := infrastructure.TraceIDFromContext(ctx)

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		h.logger.ErrorContext(ctx, "unhandled error converted to internal response",
			slog.String("error", err.Error()),
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
		)
		apiErr = ErrInternalServer
	} else if apiErr.StatusCode >= http.StatusInternalServerError {
		h.logger.ErrorContext(ctx, "request failed",
			slog.String("error", apiErr.Message),
			slog.String("error_code", apiErr.ErrorCode),
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
		)
	}

	resp := *apiErr
	resp.TraceID = traceID
	if renderErr := render.Render(w, r, &resp); renderErr != nil {
		h.logger.ErrorContext(ctx, "failed to render error response",
			slog.String("error", renderErr.Error()),
		)
	}
}
