package teams

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/civicgrid/drainflow/internal/domain"
	"github.com/civicgrid/drainflow/internal/pkg/httputil"
	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
)

var errorMappings = []httputil.ErrorMapping{
	{Error: ErrTeamNotFound, Status: http.StatusNotFound, Message: "team not found"},
	{Error: ErrNotAuthorized, Status: http.StatusForbidden, Message: "manager role required"},
	{Error: ErrNotTeamManager, Status: http.StatusForbidden, Message: "team belongs to another manager"},
	{Error: ErrMemberNotFound, Status: http.StatusNotFound, Message: "team member not found"},
	{Error: ErrMemberExists, Status: http.StatusConflict, Message: "user is already on this team"},
	{Error: ErrCapacityTooSmall, Status: http.StatusConflict, Message: "max capacity cannot drop below current load"},
	{Error: ErrInvalidShiftHours, Status: http.StatusBadRequest, Message: "shift hours must be within 0-23"},
}

// Handler handles HTTP requests for the teams module.
type Handler struct {
	service   *Service
	validator *validator.Validate
}

// NewHandler creates a teams handler.
func NewHandler(service *Service) *Handler {
	return &Handler{
		service:   service,
		validator: validator.New(),
	}
}

// RegisterRoutes registers team routes (require auth).
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/teams", func(r chi.Router) {
		r.Post("/", h.Create)
		r.Get("/", h.List)
		r.Get("/{id}", h.Get)
		r.Patch("/{id}", h.Update)
		r.Put("/{id}/availability", h.SetAvailability)
		r.Get("/{id}/members", h.ListMembers)
		r.Post("/{id}/members", h.AddMember)
		r.Delete("/{id}/members/{userID}", h.DeactivateMember)
	})
}

// ShiftRequest mirrors domain.ShiftPreference in request bodies.
type ShiftRequest struct {
	StartHour int   `json:"start_hour" validate:"min=0,max=23"`
	EndHour   int   `json:"end_hour" validate:"min=0,max=23"`
	Weekdays  []int `json:"weekdays" validate:"dive,min=0,max=6"`
}

func (s ShiftRequest) toDomain() domain.ShiftPreference {
	shift := domain.ShiftPreference{StartHour: s.StartHour, EndHour: s.EndHour}
	for _, d := range s.Weekdays {
		shift.Weekdays = append(shift.Weekdays, time.Weekday(d))
	}
	return shift
}

// CreateTeamRequest represents request body for creating a team.
type CreateTeamRequest struct {
	Name          string        `json:"name" validate:"required,max=100"`
	LeaderID      *string       `json:"leader_id"`
	Zone          string        `json:"zone" validate:"max=50"`
	Capabilities  []string      `json:"capabilities"`
	Shift         *ShiftRequest `json:"shift"`
	MaxCapacity   int           `json:"max_capacity" validate:"omitempty,min=1,max=100"`
	PriorityLevel int           `json:"priority_level" validate:"omitempty,min=1,max=5"`
}

// UpdateTeamRequest represents request body for a partial team update.
type UpdateTeamRequest struct {
	Name          *string       `json:"name" validate:"omitempty,max=100"`
	LeaderID      *string       `json:"leader_id"`
	Zone          *string       `json:"zone" validate:"omitempty,max=50"`
	Capabilities  *[]string     `json:"capabilities"`
	Shift         *ShiftRequest `json:"shift"`
	MaxCapacity   *int          `json:"max_capacity" validate:"omitempty,min=1,max=100"`
	PriorityLevel *int          `json:"priority_level" validate:"omitempty,min=1,max=5"`
}

// SetAvailabilityRequest represents request body for the availability toggle.
type SetAvailabilityRequest struct {
	Available bool       `json:"available"`
	Until     *time.Time `json:"until"`
}

// AddMemberRequest represents request body for adding a member.
type AddMemberRequest struct {
	UserID string `json:"user_id" validate:"required"`
}

// Create handles POST /teams.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateTeamRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid json")
		return
	}

	if err := h.validator.Struct(req); err != nil {
		httputil.ValidationError(w, err)
		return
	}

	input := CreateInput{
		Name:          req.Name,
		LeaderID:      req.LeaderID,
		Zone:          req.Zone,
		Capabilities:  req.Capabilities,
		MaxCapacity:   req.MaxCapacity,
		PriorityLevel: req.PriorityLevel,
	}
	if req.Shift != nil {
		input.Shift = req.Shift.toDomain()
	}

	team, err := h.service.Create(r.Context(), input, httputil.GetPrincipal(r.Context()))
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}
	httputil.Success(w, http.StatusCreated, team)
}

// Get handles GET /teams/{id}.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	team, err := h.service.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}
	httputil.Success(w, http.StatusOK, team)
}

// List handles GET /teams.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	filter := ListFilter{}
	if managerID := r.URL.Query().Get("manager_id"); managerID != "" {
		filter.ManagerID = &managerID
	}
	filter.AvailableOnly = r.URL.Query().Get("available") == "true"

	out, err := h.service.List(r.Context(), filter)
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}
	httputil.Success(w, http.StatusOK, out)
}

// Update handles PATCH /teams/{id}.
func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	var req UpdateTeamRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid json")
		return
	}

	if err := h.validator.Struct(req); err != nil {
		httputil.ValidationError(w, err)
		return
	}

	input := UpdateInput{
		Name:          req.Name,
		LeaderID:      req.LeaderID,
		Zone:          req.Zone,
		Capabilities:  req.Capabilities,
		MaxCapacity:   req.MaxCapacity,
		PriorityLevel: req.PriorityLevel,
	}
	if req.Shift != nil {
		shift := req.Shift.toDomain()
		input.Shift = &shift
	}

	team, err := h.service.Update(r.Context(), chi.URLParam(r, "id"), input, httputil.GetPrincipal(r.Context()))
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}
	httputil.Success(w, http.StatusOK, team)
}

// SetAvailability handles PUT /teams/{id}/availability.
func (h *Handler) SetAvailability(w http.ResponseWriter, r *http.Request) {
	var req SetAvailabilityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid json")
		return
	}

	team, err := h.service.SetAvailability(r.Context(), chi.URLParam(r, "id"), req.Available, req.Until, httputil.GetPrincipal(r.Context()))
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}
	httputil.Success(w, http.StatusOK, team)
}

// ListMembers handles GET /teams/{id}/members.
func (h *Handler) ListMembers(w http.ResponseWriter, r *http.Request) {
	members, err := h.service.ListMembers(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}
	httputil.Success(w, http.StatusOK, members)
}

// AddMember handles POST /teams/{id}/members.
func (h *Handler) AddMember(w http.ResponseWriter, r *http.Request) {
	var req AddMemberRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid json")
		return
	}

	if err := h.validator.Struct(req); err != nil {
		httputil.ValidationError(w, err)
		return
	}

	member, err := h.service.AddMember(r.Context(), chi.URLParam(r, "id"), req.UserID, httputil.GetPrincipal(r.Context()))
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}
	httputil.Success(w, http.StatusCreated, member)
}

// DeactivateMember handles DELETE /teams/{id}/members/{userID}.
func (h *Handler) DeactivateMember(w http.ResponseWriter, r *http.Request) {
	err := h.service.DeactivateMember(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "userID"), httputil.GetPrincipal(r.Context()))
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
