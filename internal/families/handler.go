package families

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/cesta-solidaria/cesta/internal/platform/httpx"
)

// Handler wires HTTP endpoints for family records.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validator: NewValidator()}
}

// MountRoutes registers family routes on provided router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.list)
	r.Post("/", h.register)
	r.Get("/{id}", h.get)
	r.Post("/{id}/status", h.setStatus)
	r.Post("/{id}/active", h.setActive)
}

// listItem is the masked projection used in listings.
type listItem struct {
	ID          uuid.UUID  `json:"id"`
	DisplayName string     `json:"display_name"`
	CPF         string     `json:"cpf"`
	Members     int        `json:"members"`
	Address     string     `json:"address"`
	Status      Status     `json:"status"`
	Active      bool       `json:"active"`
	ApprovedAt  *time.Time `json:"approved_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

type detail struct {
	Family
	DisplayName      string `json:"display_name"`
	FormattedAddress string `json:"formatted_address"`
}

type statusRequest struct {
	Status string `json:"status" validate:"required"`
}

type activeRequest struct {
	Active *bool `json:"active" validate:"required"`
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	filter := ListFilter{}
	if raw := r.URL.Query().Get("status"); raw != "" {
		filter.Status = Status(raw)
	}
	filter.Limit, _ = strconv.Atoi(r.URL.Query().Get("limit"))
	families, err := h.service.List(r.Context(), filter)
	if err != nil {
		h.fail(w, "list families", err)
		return
	}
	items := make([]listItem, 0, len(families))
	for _, f := range families {
		items = append(items, listItem{
			ID:          f.ID,
			DisplayName: DisplayName(f),
			CPF:         MaskCPF(f.CPF),
			Members:     f.Members,
			Address:     FormatAddress(f.Address),
			Status:      f.Status,
			Active:      f.Active,
			ApprovedAt:  f.ApprovedAt,
			CreatedAt:   f.CreatedAt,
		})
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"families": items})
}

func (h *Handler) register(w http.ResponseWriter, r *http.Request) {
	var req RegisterInput
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	f, err := h.service.Register(r.Context(), req)
	if err != nil {
		h.fail(w, "register family", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toDetail(f))
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, ok := h.familyID(w, r)
	if !ok {
		return
	}
	f, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.fail(w, "get family", err)
		return
	}
	httpx.JSON(w, http.StatusOK, toDetail(f))
}

func (h *Handler) setStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := h.familyID(w, r)
	if !ok {
		return
	}
	var req statusRequest
	if err := httpx.Bind(r, h.validator, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	f, err := h.service.SetStatus(r.Context(), id, req.Status)
	if err != nil {
		h.fail(w, "set family status", err)
		return
	}
	httpx.JSON(w, http.StatusOK, toDetail(f))
}

func (h *Handler) setActive(w http.ResponseWriter, r *http.Request) {
	id, ok := h.familyID(w, r)
	if !ok {
		return
	}
	var req activeRequest
	if err := httpx.Bind(r, h.validator, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	f, err := h.service.SetActive(r.Context(), id, *req.Active)
	if err != nil {
		h.fail(w, "set family active", err)
		return
	}
	httpx.JSON(w, http.StatusOK, toDetail(f))
}

func (h *Handler) familyID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.RespondError(w, ErrFamilyNotFound, rules()...)
		return uuid.Nil, false
	}
	return id, true
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	if !errors.Is(err, ErrFamilyNotFound) && !errors.Is(err, ErrDuplicateCPF) && !errors.Is(err, ErrInvalidStatus) && !errors.Is(err, httpx.ErrValidation) {
		h.logger.Error(op, slog.Any("error", err))
	}
	httpx.RespondError(w, err, rules()...)
}

func rules() []httpx.Rule {
	return []httpx.Rule{
		{Err: ErrFamilyNotFound, Status: http.StatusNotFound, Code: "FAMILY_NOT_FOUND"},
		{Err: ErrDuplicateCPF, Status: http.StatusConflict, Code: "DUPLICATE_CPF"},
		{Err: ErrInvalidStatus, Status: http.StatusUnprocessableEntity, Code: "INVALID_STATUS"},
	}
}

func toDetail(f Family) detail {
	return detail{Family: f, DisplayName: DisplayName(f), FormattedAddress: FormatAddress(f.Address)}
}
