package distribution

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/cesta-solidaria/cesta/internal/platform/httpx"
	"github.com/cesta-solidaria/cesta/internal/shared"
)

const idempotencyHeader = "Idempotency-Key"

// Handler wires HTTP endpoints for deliveries.
type Handler struct {
	logger      *slog.Logger
	service     *Service
	idempotency shared.IdempotencyPort
	validator   *validator.Validate
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, service *Service, idempotency shared.IdempotencyPort) *Handler {
	return &Handler{
		logger:      logger,
		service:     service,
		idempotency: idempotency,
		validator:   validator.New(),
	}
}

// MountRoutes registers delivery routes on provided router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/", h.deliver)
	r.Post("/{id}/reverse", h.reverse)
	r.Get("/current", h.current)
	r.Get("/eligibility/{familyID}", h.eligibility)
	r.Get("/history/{familyID}", h.history)
}

type deliverRequest struct {
	FamilyID string `json:"family_id" validate:"required,uuid"`
	Note     string `json:"note" validate:"max=500"`
}

type reverseRequest struct {
	Note string `json:"note" validate:"max=500"`
}

func (h *Handler) deliver(w http.ResponseWriter, r *http.Request) {
	var req deliverRequest
	if err := httpx.Bind(r, h.validator, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	var d Delivery
	err := shared.RunOnce(r.Context(), h.idempotency, h.logger, r.Header.Get(idempotencyHeader), "distribution.deliver", func() error {
		var err error
		d, err = h.service.Deliver(r.Context(), uuid.MustParse(req.FamilyID), req.Note)
		return err
	})
	if err != nil {
		h.fail(w, "deliver basket", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, d)
}

func (h *Handler) reverse(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.RespondError(w, ErrDeliveryNotFound, rules()...)
		return
	}
	var req reverseRequest
	if err := httpx.Bind(r, h.validator, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	var d Delivery
	err = shared.RunOnce(r.Context(), h.idempotency, h.logger, r.Header.Get(idempotencyHeader), "distribution.reverse", func() error {
		var err error
		d, err = h.service.Reverse(r.Context(), id, req.Note)
		return err
	})
	if err != nil {
		h.fail(w, "reverse delivery", err)
		return
	}
	httpx.JSON(w, http.StatusOK, d)
}

func (h *Handler) current(w http.ResponseWriter, r *http.Request) {
	byFamily, err := h.service.CurrentDeliveriesForMonth(r.Context())
	if err != nil {
		h.fail(w, "current deliveries", err)
		return
	}
	deliveries := make(map[string]Delivery, len(byFamily))
	for familyID, d := range byFamily {
		deliveries[familyID.String()] = d
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"month":      h.service.MonthStart().Format(time.DateOnly),
		"deliveries": deliveries,
	})
}

func (h *Handler) eligibility(w http.ResponseWriter, r *http.Request) {
	familyID, err := uuid.Parse(chi.URLParam(r, "familyID"))
	if err != nil {
		httpx.RespondError(w, ErrFamilyNotFound, rules()...)
		return
	}
	result, err := h.service.CheckEligibility(r.Context(), familyID)
	if err != nil {
		h.fail(w, "check eligibility", err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

func (h *Handler) history(w http.ResponseWriter, r *http.Request) {
	familyID, err := uuid.Parse(chi.URLParam(r, "familyID"))
	if err != nil {
		httpx.RespondError(w, ErrFamilyNotFound, rules()...)
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	deliveries, err := h.service.FamilyHistory(r.Context(), familyID, limit)
	if err != nil {
		h.fail(w, "family history", err)
		return
	}
	if deliveries == nil {
		deliveries = []Delivery{}
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"deliveries": deliveries})
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	if RejectionCode(err) == "" && !shared.IsIdempotencyConflict(err) {
		h.logger.Error(op, slog.Any("error", err))
	}
	httpx.RespondError(w, err, rules()...)
}

func rules() []httpx.Rule {
	return []httpx.Rule{
		{Err: ErrFamilyNotFound, Status: http.StatusNotFound, Code: "FAMILY_NOT_FOUND"},
		{Err: ErrDeliveryNotFound, Status: http.StatusNotFound, Code: "DELIVERY_NOT_FOUND"},
		{Err: ErrFamilyInactive, Status: http.StatusConflict, Code: "FAMILY_INACTIVE"},
		{Err: ErrFamilyNotApproved, Status: http.StatusConflict, Code: "FAMILY_NOT_APPROVED"},
		{Err: ErrNoBasketsReady, Status: http.StatusConflict, Code: "NO_BASKETS_READY"},
		{Err: ErrAlreadyDeliveredThisMonth, Status: http.StatusConflict, Code: "ALREADY_DELIVERED_THIS_MONTH"},
		{Err: ErrDeliveryAlreadyReversed, Status: http.StatusConflict, Code: "DELIVERY_ALREADY_REVERSED"},
		{Err: shared.ErrIdempotencyConflict, Status: http.StatusConflict, Code: "IDEMPOTENCY_CONFLICT"},
	}
}
