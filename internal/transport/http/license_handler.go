// Package http binds the license subsystem to its administrative HTTP API.
package http

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
	"github.com/go-playground/validator/v10"
	"golang.org/x/crypto/bcrypt"

	apierrors "marslog/internal/errors"
	"marslog/internal/guard"
	"marslog/internal/license"
	"marslog/internal/trial"
)

// AdminTokenHeader carries the admin token for trial reset.
const AdminTokenHeader = "X-Admin-Token"

// LicenseService is the validator surface the handler needs.
type LicenseService interface {
	Validate(ctx context.Context) license.Verdict
	TrialState(ctx context.Context) trial.State
	ActivateTrial(ctx context.Context) license.ActivationResult
	ResetTrial(ctx context.Context) license.ResetResult
	Limits(ctx context.Context) license.Limits
	Info(ctx context.Context) license.Info
}

// WarningSource hands out pending expiry warnings per session.
type WarningSource interface {
	TakeWarnings(session string) []guard.Warning
}

// HandlerConfig configures a LicenseHandler.
type HandlerConfig struct {
	// AdminTokenHash is the bcrypt hash guarding trial reset; empty
	// disables reset.
	AdminTokenHash string
	SessionCookie  string
	// ActivationLimit throttles trial activation; nil applies no limit.
	ActivationLimit func(http.Handler) http.Handler
	Timeout         time.Duration
}

// LicenseHandler handles license-related HTTP requests
type LicenseHandler struct {
	service  LicenseService
	warnings WarningSource
	errors   *apierrors.ErrorHandler
	cfg      HandlerConfig
	logger   *slog.Logger
	validate *validator.Validate
}

// NewLicenseHandler creates a new license handler
func NewLicenseHandler(service LicenseService, warnings WarningSource, cfg HandlerConfig, logger *slog.Logger) *LicenseHandler {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.SessionCookie == "" {
		cfg.SessionCookie = "PHPSESSID"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &LicenseHandler{
		service:  service,
		warnings: warnings,
		errors:   apierrors.NewErrorHandler(logger, false),
		cfg:      cfg,
		logger:   logger.With(slog.String("handler", "license")),
		validate: validator.New(),
	}
}

// Routes returns a chi router for license endpoints
func (h *LicenseHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Timeout(h.cfg.Timeout))
	r.NotFound(h.errors.NotFound)
	r.MethodNotAllowed(h.errors.MethodNotAllowed)

	r.Get("/info", h.GetInfo)
	r.Get("/status", h.GetStatus)
	r.Get("/trial", h.GetTrial)
	r.Get("/limits", h.GetLimits)
	r.Get("/warnings", h.GetWarnings)

	activate := http.Handler(http.HandlerFunc(h.ActivateTrial))
	if h.cfg.ActivationLimit != nil {
		activate = h.cfg.ActivationLimit(activate)
	}
	r.Method(http.MethodPost, "/trial/activate", activate)
	r.Post("/trial/reset", h.ResetTrial)
	return r
}

// GetInfo handles GET /api/license/info
func (h *LicenseHandler) GetInfo(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, h.service.Info(r.Context()))
}

// GetStatus handles GET /api/license/status
func (h *LicenseHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, h.service.Validate(r.Context()))
}

// GetTrial handles GET /api/license/trial
func (h *LicenseHandler) GetTrial(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, h.service.TrialState(r.Context()))
}

// LimitsResponse is the body of GET /api/license/limits.
type LimitsResponse struct {
	Devices      int   `json:"devices"`
	EPS          int   `json:"eps"`
	Current      *int  `json:"current,omitempty"`
	CanAddDevice *bool `json:"can_add_device,omitempty"`
}

type limitsQuery struct {
	Current int `validate:"gte=0"`
}

// GetLimits handles GET /api/license/limits[?current=N]
func (h *LicenseHandler) GetLimits(w http.ResponseWriter, r *http.Request) {
	var query *limitsQuery
	if raw := r.URL.Query().Get("current"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			h.errors.HandleError(w, r, apierrors.ErrValidation("current", "must be an integer"))
			return
		}
		query = &limitsQuery{Current: n}
		if err := h.validate.Struct(query); err != nil {
			h.errors.HandleError(w, r, apierrors.ErrValidation("current", "must not be negative"))
			return
		}
	}

	limits := h.service.Limits(r.Context())
	resp := LimitsResponse{Devices: limits.Devices, EPS: limits.EPS}
	if query != nil {
		canAdd := limits.AllowsDevice(query.Current)
		resp.Current = &query.Current
		resp.CanAddDevice = &canAdd
	}
	render.JSON(w, r, resp)
}

// GetWarnings handles GET /api/license/warnings. Warnings are returned once
// per session.
func (h *LicenseHandler) GetWarnings(w http.ResponseWriter, r *http.Request) {
	warnings := []guard.Warning{}
	if c, err := r.Cookie(h.cfg.SessionCookie); err == nil && c.Value != "" && h.warnings != nil {
		if taken := h.warnings.TakeWarnings(c.Value); len(taken) > 0 {
			warnings = taken
		}
	}
	render.JSON(w, r, map[string]any{"warnings": warnings})
}

// ActivateTrial handles POST /api/license/trial/activate
func (h *LicenseHandler) ActivateTrial(w http.ResponseWriter, r *http.Request) {
	result := h.service.ActivateTrial(r.Context())
	switch {
	case result.Success:
		render.Status(r, http.StatusCreated)
		render.JSON(w, r, result)
	case result.Message == license.MsgTrialAlreadyStarted:
		render.Status(r, http.StatusConflict)
		render.JSON(w, r, result)
	default:
		h.errors.HandleError(w, r, apierrors.TrialStorageError(result.Message))
	}
}

// ResetTrial handles POST /api/license/trial/reset. It requires the admin
// token in X-Admin-Token or as a bearer token.
func (h *LicenseHandler) ResetTrial(w http.ResponseWriter, r *http.Request) {
	if h.cfg.AdminTokenHash == "" {
		h.errors.HandleError(w, r, apierrors.ErrResetDisabled)
		return
	}
	if !h.authorized(r) {
		h.logger.WarnContext(r.Context(), "trial reset rejected", slog.String("remote_addr", r.RemoteAddr))
		h.errors.HandleError(w, r, apierrors.ErrUnauthorized)
		return
	}

	result := h.service.ResetTrial(r.Context())
	switch {
	case result.Success:
		render.JSON(w, r, result)
	case result.Message == license.MsgTrialNotStarted:
		render.Status(r, http.StatusNotFound)
		render.JSON(w, r, result)
	default:
		h.errors.HandleError(w, r, apierrors.New(http.StatusInternalServerError, "TRIAL_RESET_FAILED", result.Message))
	}
}

func (h *LicenseHandler) authorized(r *http.Request) bool {
	token := r.Header.Get(AdminTokenHeader)
	if token == "" {
		auth := r.Header.Get("Authorization")
		if prefix := "Bearer "; len(auth) > len(prefix) && strings.EqualFold(auth[:len(prefix)], prefix) {
			token = auth[len(prefix):]
		}
	}
	if token == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(h.cfg.AdminTokenHash), []byte(token)) == nil
}
