package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	"licguard/internal/abuse"
	"licguard/internal/audit"
	apierrors "licguard/internal/errors"
	"licguard/internal/registry"
	"licguard/pkg/contracts"
)

// HealthHandler serves liveness and operational status endpoints
type HealthHandler struct {
	store      registry.Store
	tracker    *abuse.Tracker
	audit      *audit.Logger
	version    string
	startedAt  time.Time
	errHandler *apierrors.ErrorHandler
	logger     *slog.Logger
}

// NewHealthHandler creates the health handler
func NewHealthHandler(store registry.Store, tracker *abuse.Tracker, auditLog *audit.Logger, version string, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{
		store:      store,
		tracker:    tracker,
		audit:      auditLog,
		version:    version,
		startedAt:  time.Now(),
		errHandler: apierrors.NewErrorHandler(logger),
		logger:     logger.With(slog.String("handler", "health")),
	}
}

// Routes returns the chi router for health endpoints
func (h *HealthHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/healthz", h.Liveness)
	r.Get("/api/status", h.Status)
	return r
}

// ServiceInfo handles GET / with basic service identification
func (h *HealthHandler) ServiceInfo(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, map[string]string{
		"service":     "licguard",
		"description": "credential verification service",
		"version":     h.version,
		"api_version": contracts.APIVersion,
	})
}

// Liveness handles GET /healthz
func (h *HealthHandler) Liveness(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, map[string]string{
		"status": "healthy",
	})
}

// Status handles GET /api/status with operational counters
func (h *HealthHandler) Status(w http.ResponseWriter, r *http.Request) {
	total, active, err := h.store.Counts(r.Context())
	if err != nil {
		h.errHandler.HandleError(w, r, err)
		return
	}

	status := map[string]interface{}{
		"service":   "licguard",
		"version":   h.version,
		"status":    "healthy",
		"uptime":    time.Since(h.startedAt).Round(time.Second).String(),
		"timestamp": time.Now().UTC(),
		"credentials": map[string]int{
			"total":  total,
			"active": active,
		},
		"abuse": h.tracker.Stats(),
		"build": contracts.GetVersionInfo(),
	}
	if h.audit != nil {
		status["audit_dropped"] = h.audit.Dropped()
	}

	render.JSON(w, r, status)
}
