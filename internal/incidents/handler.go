package incidents

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/civicgrid/drainflow/internal/assignment"
	"github.com/civicgrid/drainflow/internal/domain"
	"github.com/civicgrid/drainflow/internal/lifecycle"
	"github.com/civicgrid/drainflow/internal/pkg/httputil"
	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
)

var errorMappings = []httputil.ErrorMapping{
	{Error: ErrIncidentNotFound, Status: http.StatusNotFound, Message: "incident not found"},
	{Error: ErrNotAuthorized, Status: http.StatusForbidden, Message: "insufficient role for this transition"},
	{Error: ErrAssignmentFlowRequired, Status: http.StatusUnprocessableEntity, Message: "use the assignment endpoint to assign a team"},
	{Error: ErrReporterRequired, Status: http.StatusBadRequest, Message: "reporter is required"},
	{Error: assignment.ErrIncidentNotFound, Status: http.StatusNotFound, Message: "incident not found"},
	{Error: assignment.ErrTeamAssignmentRequired, Status: http.StatusConflict, Message: "incident has no team assigned"},
	{Error: assignment.ErrTeamNotFound, Status: http.StatusConflict, Message: "assigned team no longer exists"},
	{Error: assignment.ErrTeamUnavailable, Status: http.StatusConflict, Message: "assigned team is not available"},
	{Error: assignment.ErrTeamAtCapacity, Status: http.StatusConflict, Message: "assigned team is at capacity"},
	{Error: assignment.ErrTeamHasNoActiveMembers, Status: http.StatusConflict, Message: "assigned team has no active members"},
	{Error: assignment.ErrWorkOrderMissing, Status: http.StatusConflict, Message: "no active work order for incident"},
	{Error: assignment.ErrWorkOrderTeamMismatch, Status: http.StatusConflict, Message: "work order does not match assigned team"},
	{Error: assignment.ErrTeamManagerInvalid, Status: http.StatusConflict, Message: "team manager account is not active"},
	{Error: assignment.ErrCompletionTooEarly, Status: http.StatusConflict, Message: "too soon after assignment to complete"},
}

// Handler handles HTTP requests for the incidents module.
type Handler struct {
	service   *Service
	validator *validator.Validate
}

// NewHandler creates an incidents handler.
func NewHandler(service *Service) *Handler {
	return &Handler{
		service:   service,
		validator: validator.New(),
	}
}

// RegisterRoutes registers incident routes (require auth).
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/incidents", func(r chi.Router) {
		r.Post("/", h.Report)
		r.Get("/", h.List)
		r.Get("/{id}", h.Get)
		r.Post("/{id}/verify", h.Verify)
		r.Post("/{id}/transition", h.Transition)
	})
}

// ReportRequest represents request body for reporting a fault.
type ReportRequest struct {
	Title       string `json:"title" validate:"required,max=200"`
	Description string `json:"description" validate:"required,max=4000"`
	Location    string `json:"location" validate:"max=500"`
}

// TransitionRequest represents request body for a manual status move.
type TransitionRequest struct {
	Target string `json:"target" validate:"required"`
}

// Report handles POST /incidents.
func (h *Handler) Report(w http.ResponseWriter, r *http.Request) {
	var req ReportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid json")
		return
	}

	if err := h.validator.Struct(req); err != nil {
		httputil.ValidationError(w, err)
		return
	}

	incident, err := h.service.Report(r.Context(), ReportInput{
		Title:       req.Title,
		Description: req.Description,
		Location:    req.Location,
		ReportedBy:  httputil.GetUserID(r.Context()),
	})
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusCreated, incident)
}

// Get handles GET /incidents/{id}.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	incident, err := h.service.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}
	httputil.Success(w, http.StatusOK, incident)
}

// List handles GET /incidents.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	filter := ListFilter{}

	if status := r.URL.Query().Get("status"); status != "" {
		st := domain.IncidentStatus(status)
		if !st.IsValid() {
			httputil.Error(w, http.StatusBadRequest, "invalid status filter")
			return
		}
		filter.Status = &st
	}
	if teamID := r.URL.Query().Get("team_id"); teamID != "" {
		filter.TeamID = &teamID
	}
	if breached := r.URL.Query().Get("sla_breached"); breached != "" {
		b, err := strconv.ParseBool(breached)
		if err != nil {
			httputil.Error(w, http.StatusBadRequest, "invalid sla_breached filter")
			return
		}
		filter.SLABreached = &b
	}
	filter.Limit, _ = strconv.Atoi(r.URL.Query().Get("limit"))
	filter.Offset, _ = strconv.Atoi(r.URL.Query().Get("offset"))

	incidents, err := h.service.List(r.Context(), filter)
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}
	httputil.Success(w, http.StatusOK, incidents)
}

// Verify handles POST /incidents/{id}/verify.
func (h *Handler) Verify(w http.ResponseWriter, r *http.Request) {
	incident, err := h.service.Verify(r.Context(), chi.URLParam(r, "id"), httputil.GetPrincipal(r.Context()))
	if err != nil {
		h.handleTransitionError(w, r, err)
		return
	}
	httputil.Success(w, http.StatusOK, incident)
}

// Transition handles POST /incidents/{id}/transition.
func (h *Handler) Transition(w http.ResponseWriter, r *http.Request) {
	var req TransitionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid json")
		return
	}

	if err := h.validator.Struct(req); err != nil {
		httputil.ValidationError(w, err)
		return
	}

	target := domain.IncidentStatus(req.Target)
	if !target.IsValid() {
		httputil.Error(w, http.StatusBadRequest, "invalid target status")
		return
	}

	incident, err := h.service.Transition(r.Context(), chi.URLParam(r, "id"), target, httputil.GetPrincipal(r.Context()))
	if err != nil {
		h.handleTransitionError(w, r, err)
		return
	}
	httputil.Success(w, http.StatusOK, incident)
}

// handleTransitionError surfaces illegal lifecycle moves as 409 with the
// allowed destinations, everything else through the standard mappings.
func (h *Handler) handleTransitionError(w http.ResponseWriter, r *http.Request, err error) {
	var transitionErr *lifecycle.TransitionError
	if errors.As(err, &transitionErr) {
		httputil.Error(w, http.StatusConflict, transitionErr.Error())
		return
	}
	httputil.HandleError(r.Context(), w, err, errorMappings)
}
