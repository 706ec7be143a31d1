package scheduler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/civicgrid/drainflow/internal/pkg/httputil"
	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
)

var errorMappings = []httputil.ErrorMapping{
	{Error: ErrAlreadyRunning, Status: http.StatusConflict, Message: "scheduler is already running"},
	{Error: ErrNotRunning, Status: http.StatusConflict, Message: "scheduler is not running"},
	{Error: ErrRunInProgress, Status: http.StatusConflict, Message: "a scheduler run is already in progress"},
}

// Handler exposes the scheduler control surface. Routes are expected to be
// mounted behind the manager-role requirement.
type Handler struct {
	scheduler *Scheduler
	validator *validator.Validate
}

// NewHandler creates a scheduler handler.
func NewHandler(scheduler *Scheduler) *Handler {
	return &Handler{
		scheduler: scheduler,
		validator: validator.New(),
	}
}

// RegisterRoutes registers scheduler control routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/scheduler", func(r chi.Router) {
		r.Get("/status", h.GetStatus)
		r.Post("/start", h.Start)
		r.Post("/stop", h.Stop)
		r.Post("/trigger", h.Trigger)
		r.Patch("/config", h.UpdateConfig)
	})
}

// TriggerRequest represents request body for a manual run.
type TriggerRequest struct {
	DryRun bool `json:"dry_run"`
}

// UpdateConfigRequest represents request body for a partial config change.
// Durations are given in seconds.
type UpdateConfigRequest struct {
	IntervalSeconds           *int     `json:"interval_seconds" validate:"omitempty,min=1"`
	CronExpr                  *string  `json:"cron_expr"`
	CooldownSeconds           *int     `json:"cooldown_seconds" validate:"omitempty,min=0"`
	MaxAssignmentsPerPriority *int     `json:"max_assignments_per_priority" validate:"omitempty,min=1"`
	RatePerSecond             *float64 `json:"rate_per_second" validate:"omitempty,gt=0"`
}

// GetStatus handles GET /scheduler/status.
func (h *Handler) GetStatus(w http.ResponseWriter, r *http.Request) {
	httputil.Success(w, http.StatusOK, h.scheduler.Status())
}

// Start handles POST /scheduler/start.
func (h *Handler) Start(w http.ResponseWriter, r *http.Request) {
	if err := h.scheduler.Start(r.Context()); err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}
	httputil.Success(w, http.StatusOK, h.scheduler.Status())
}

// Stop handles POST /scheduler/stop.
func (h *Handler) Stop(w http.ResponseWriter, r *http.Request) {
	if err := h.scheduler.Stop(); err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}
	httputil.Success(w, http.StatusOK, h.scheduler.Status())
}

// Trigger handles POST /scheduler/trigger.
func (h *Handler) Trigger(w http.ResponseWriter, r *http.Request) {
	var req TriggerRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httputil.Error(w, http.StatusBadRequest, "invalid json")
			return
		}
	}

	report, err := h.scheduler.TriggerManualRun(r.Context(), req.DryRun)
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}
	httputil.Success(w, http.StatusOK, report)
}

// UpdateConfig handles PATCH /scheduler/config.
func (h *Handler) UpdateConfig(w http.ResponseWriter, r *http.Request) {
	var req UpdateConfigRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid json")
		return
	}

	if err := h.validator.Struct(req); err != nil {
		httputil.ValidationError(w, err)
		return
	}

	update := ConfigUpdate{
		CronExpr:                  req.CronExpr,
		MaxAssignmentsPerPriority: req.MaxAssignmentsPerPriority,
		RatePerSecond:             req.RatePerSecond,
	}
	if req.IntervalSeconds != nil {
		d := time.Duration(*req.IntervalSeconds) * time.Second
		update.Interval = &d
	}
	if req.CooldownSeconds != nil {
		d := time.Duration(*req.CooldownSeconds) * time.Second
		update.Cooldown = &d
	}

	cfg, err := h.scheduler.UpdateConfig(update)
	if err != nil {
		httputil.Error(w, http.StatusBadRequest, err.Error())
		return
	}
	httputil.Success(w, http.StatusOK, cfg)
}
