package http

import (
	"crypto/subtle"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/go-playground/validator/v10"
	"golang.org/x/crypto/bcrypt"

	apierrors "licguard/internal/errors"
	"licguard/internal/registry"
	"licguard/pkg/contracts/domain"
)

// adminPasswordHeader carries the admin password on every admin request.
// The stored side is a bcrypt hash; the plaintext never touches disk.
const adminPasswordHeader = "X-Admin-Password"

// AdminHandler exposes credential CRUD behind password authentication
type AdminHandler struct {
	store        registry.Store
	passwordHash string
	validate     *validator.Validate
	errHandler   *apierrors.ErrorHandler
	logger       *slog.Logger
}

// NewAdminHandler creates the admin handler. An empty passwordHash disables
// the whole surface; every request is rejected.
func NewAdminHandler(store registry.Store, passwordHash string, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{
		store:        store,
		passwordHash: passwordHash,
		validate:     validator.New(),
		errHandler:   apierrors.NewErrorHandler(logger),
		logger:       logger.With(slog.String("handler", "admin")),
	}
}

// Routes returns the chi router for the admin surface
func (h *AdminHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(h.requirePassword)

	r.Post("/credentials", h.Create)
	r.Get("/credentials", h.List)
	r.Get("/credentials/{id}", h.Get)
	r.Put("/credentials/{id}", h.Update)
	r.Patch("/credentials/{id}", h.Update)
	r.Delete("/credentials/{id}", h.Delete)
	r.Post("/credentials/{id}/disable", h.Disable)
	r.Post("/credentials/{id}/enable", h.Enable)
	r.Post("/credentials/{id}/unlock", h.Unlock)

	return r
}

// requirePassword gates every admin route on the configured bcrypt hash
func (h *AdminHandler) requirePassword(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		supplied := r.Header.Get(adminPasswordHeader)
		if h.passwordHash == "" || supplied == "" {
			h.unauthorized(w, r)
			return
		}
		if err := bcrypt.CompareHashAndPassword([]byte(h.passwordHash), []byte(supplied)); err != nil {
			h.logger.WarnContext(r.Context(), "admin authentication failed",
				slog.String("remote_addr", r.RemoteAddr),
				slog.String("path", r.URL.Path),
			)
			h.unauthorized(w, r)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (h *AdminHandler) unauthorized(w http.ResponseWriter, r *http.Request) {
	// Equalize the rejection paths a little; a missing header should not
	// return measurably faster than a wrong password.
	subtle.ConstantTimeCompare([]byte("x"), []byte("y"))
	h.errHandler.HandleError(w, r, apierrors.ErrUnauthorized)
}

// CreateCredentialRequest is the admin creation payload. ID defaults to
// server-side generation when absent or set to the AUTO sentinel.
type CreateCredentialRequest struct {
	ID           string `json:"id"`
	OwnerID      string `json:"owner_id" validate:"required"`
	Plan         string `json:"plan"`
	ValidityDays int    `json:"validity_days" validate:"omitempty,min=1,max=3650"`
	Status       string `json:"status" validate:"omitempty,oneof=active disabled"`
}

// UpdateCredentialRequest carries the mutable credential fields; absent
// fields keep their stored values.
type UpdateCredentialRequest struct {
	OwnerID      *string `json:"owner_id,omitempty"`
	Plan         *string `json:"plan,omitempty"`
	ValidityDays *int    `json:"validity_days,omitempty" validate:"omitempty,min=1,max=3650"`
	Status       *string `json:"status,omitempty" validate:"omitempty,oneof=active disabled"`
}

// Create handles POST /api/admin/credentials
func (h *AdminHandler) Create(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req CreateCredentialRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		h.errHandler.HandleError(w, r, apierrors.InvalidRequestWithError(err))
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		h.errHandler.HandleError(w, r, apierrors.InvalidRequestWithError(err))
		return
	}

	id := req.ID
	if id == "" || id == registry.AutoID {
		generated, err := registry.GenerateCredentialID()
		if err != nil {
			h.errHandler.HandleError(w, r, err)
			return
		}
		id = generated
	}

	cred := &domain.Credential{
		ID:           id,
		OwnerID:      req.OwnerID,
		Plan:         req.Plan,
		Status:       domain.CredentialStatus(req.Status),
		IssuedAt:     time.Now().UTC(),
		ValidityDays: req.ValidityDays,
	}
	if cred.Plan == "" {
		cred.Plan = domain.DefaultPlan
	}
	if cred.Status == "" {
		cred.Status = domain.CredentialStatusActive
	}
	if cred.ValidityDays == 0 {
		cred.ValidityDays = 30
	}

	if err := h.store.Put(ctx, cred); err != nil {
		if errors.Is(err, registry.ErrExists) {
			h.errHandler.HandleError(w, r, apierrors.ErrCredentialExists)
			return
		}
		h.errHandler.HandleError(w, r, err)
		return
	}

	h.logger.InfoContext(ctx, "credential created",
		slog.String("credential_id", cred.ID),
		slog.String("owner_id", cred.OwnerID),
		slog.String("plan", cred.Plan),
	)

	render.Status(r, http.StatusCreated)
	render.JSON(w, r, cred)
}

// List handles GET /api/admin/credentials with an optional status filter
func (h *AdminHandler) List(w http.ResponseWriter, r *http.Request) {
	status := domain.CredentialStatus(r.URL.Query().Get("status"))
	creds, err := h.store.List(r.Context(), status)
	if err != nil {
		h.errHandler.HandleError(w, r, err)
		return
	}

	render.JSON(w, r, map[string]interface{}{
		"credentials": creds,
		"count":       len(creds),
	})
}

// Get handles GET /api/admin/credentials/{id}
func (h *AdminHandler) Get(w http.ResponseWriter, r *http.Request) {
	cred, err := h.store.Lookup(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.handleStoreError(w, r, err)
		return
	}
	render.JSON(w, r, cred)
}

// Update handles PUT /api/admin/credentials/{id}
func (h *AdminHandler) Update(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")

	var req UpdateCredentialRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		h.errHandler.HandleError(w, r, apierrors.InvalidRequestWithError(err))
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		h.errHandler.HandleError(w, r, apierrors.InvalidRequestWithError(err))
		return
	}

	cred, err := h.store.Update(ctx, id, func(c *domain.Credential) error {
		if req.OwnerID != nil {
			c.OwnerID = *req.OwnerID
		}
		if req.Plan != nil {
			c.Plan = *req.Plan
		}
		if req.ValidityDays != nil {
			c.ValidityDays = *req.ValidityDays
		}
		if req.Status != nil {
			c.Status = domain.CredentialStatus(*req.Status)
		}
		return nil
	})
	if err != nil {
		h.handleStoreError(w, r, err)
		return
	}

	h.logger.InfoContext(ctx, "credential updated",
		slog.String("credential_id", id),
	)
	render.JSON(w, r, cred)
}

// Delete handles DELETE /api/admin/credentials/{id}
func (h *AdminHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.store.Delete(r.Context(), id); err != nil {
		h.handleStoreError(w, r, err)
		return
	}

	h.logger.InfoContext(r.Context(), "credential deleted",
		slog.String("credential_id", id),
	)
	render.NoContent(w, r)
}

// Disable handles POST /api/admin/credentials/{id}/disable
func (h *AdminHandler) Disable(w http.ResponseWriter, r *http.Request) {
	h.setStatus(w, r, domain.CredentialStatusDisabled)
}

// Enable handles POST /api/admin/credentials/{id}/enable
func (h *AdminHandler) Enable(w http.ResponseWriter, r *http.Request) {
	h.setStatus(w, r, domain.CredentialStatusActive)
}

func (h *AdminHandler) setStatus(w http.ResponseWriter, r *http.Request, status domain.CredentialStatus) {
	id := chi.URLParam(r, "id")
	cred, err := h.store.Update(r.Context(), id, func(c *domain.Credential) error {
		c.Status = status
		return nil
	})
	if err != nil {
		h.handleStoreError(w, r, err)
		return
	}

	h.logger.InfoContext(r.Context(), "credential status changed",
		slog.String("credential_id", id),
		slog.String("status", string(status)),
	)
	render.JSON(w, r, cred)
}

// Unlock handles POST /api/admin/credentials/{id}/unlock: clears the lockout
// and the failure counters so a legitimate owner recovers immediately.
func (h *AdminHandler) Unlock(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	cred, err := h.store.Update(r.Context(), id, func(c *domain.Credential) error {
		c.LockedUntil = nil
		c.AuthFailures = 0
		c.OwnerMismatches = 0
		return nil
	})
	if err != nil {
		h.handleStoreError(w, r, err)
		return
	}

	h.logger.InfoContext(r.Context(), "credential unlocked",
		slog.String("credential_id", id),
	)
	render.JSON(w, r, cred)
}

func (h *AdminHandler) handleStoreError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, registry.ErrNotFound) {
		h.errHandler.HandleError(w, r, apierrors.ErrCredentialNotFound)
		return
	}
	h.errHandler.HandleError(w, r, err)
}
