package assignment

import (
	"encoding/json"
	"net/http"

	"github.com/civicgrid/drainflow/internal/domain"
	"github.com/civicgrid/drainflow/internal/pkg/httputil"
	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
)

var errorMappings = []httputil.ErrorMapping{
	{Error: ErrIncidentNotFound, Status: http.StatusNotFound, Message: "incident not found"},
	{Error: ErrIncidentNotReady, Status: http.StatusConflict, Message: "incident is not in verified state"},
	{Error: ErrManagerNotAuthorized, Status: http.StatusForbidden, Message: "manager is not authorized to assign incidents"},
	{Error: ErrNoEligibleTeam, Status: http.StatusConflict, Message: "no eligible team for incident"},
	{Error: ErrAssignmentIntegrityViolation, Status: http.StatusConflict, Message: "assignment conflicted with a concurrent change, retry"},
	{Error: ErrRevertNotAllowed, Status: http.StatusConflict, Message: "assignment can only be reverted from assigned or in_progress state"},
	{Error: ErrWorkOrderMissing, Status: http.StatusConflict, Message: "no active work order for incident"},
	{Error: ErrWorkOrderTeamMismatch, Status: http.StatusConflict, Message: "work order does not match assigned team"},
	{Error: ErrTeamNotFound, Status: http.StatusConflict, Message: "assigned team no longer exists"},
}

// Handler handles HTTP requests for the assignment module.
type Handler struct {
	service   *Service
	validator *validator.Validate
}

// NewHandler creates an assignment handler.
func NewHandler(service *Service) *Handler {
	return &Handler{
		service:   service,
		validator: validator.New(),
	}
}

// RegisterRoutes registers assignment routes (require auth).
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/incidents/{id}/assign", h.Assign)
	r.Post("/incidents/{id}/revert", h.Revert)
	r.Post("/incidents/categorize/preview", h.PreviewCategory)
}

// AssignRequest represents request body for assigning an incident.
type AssignRequest struct {
	ForceAssign bool `json:"force_assign"`
	DryRun      bool `json:"dry_run"`
}

// PreviewCategoryRequest represents request body for a categorization preview.
type PreviewCategoryRequest struct {
	Title       string `json:"title" validate:"required,max=200"`
	Description string `json:"description" validate:"required,max=4000"`
}

// Assign handles POST /incidents/{id}/assign.
func (h *Handler) Assign(w http.ResponseWriter, r *http.Request) {
	var req AssignRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httputil.Error(w, http.StatusBadRequest, "invalid json")
			return
		}
	}

	outcome, err := h.service.Assign(r.Context(), chi.URLParam(r, "id"), httputil.GetPrincipal(r.Context()), AssignOptions{
		ForceAssign: req.ForceAssign,
		DryRun:      req.DryRun,
	})
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusOK, outcome)
}

// Revert handles POST /incidents/{id}/revert.
func (h *Handler) Revert(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Revert(r.Context(), chi.URLParam(r, "id"), httputil.GetPrincipal(r.Context())); err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}
	httputil.Success(w, http.StatusOK, map[string]string{"status": "reverted"})
}

// PreviewCategory handles POST /incidents/categorize/preview. It runs the
// keyword categorizer over a draft report without touching any incident.
func (h *Handler) PreviewCategory(w http.ResponseWriter, r *http.Request) {
	var req PreviewCategoryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid json")
		return
	}

	if err := h.validator.Struct(req); err != nil {
		httputil.ValidationError(w, err)
		return
	}

	result := h.service.Categorizer().Categorize(&domain.Incident{Title: req.Title, Description: req.Description})

	httputil.Success(w, http.StatusOK, result)
}
