package stock

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/cesta-solidaria/cesta/internal/platform/httpx"
	"github.com/cesta-solidaria/cesta/internal/shared"
)

const idempotencyHeader = "Idempotency-Key"

// Handler wires HTTP endpoints for the supply ledger.
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

// MountRoutes registers stock routes on provided router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/items", h.listItems)
	r.Post("/items", h.createItem)
	r.Post("/items/{id}/active", h.setItemActive)
	r.Get("/balances", h.listBalances)
	r.Get("/moves", h.recentMoves)
	r.Post("/moves", h.recordMove)
	r.Get("/recipe", h.recipe)
	r.Put("/recipe/{itemID}", h.setRecipeEntry)
	r.Get("/assembly/max", h.maxAssemblable)
	r.Get("/assembly/shortfall", h.shortfall)
	r.Post("/assembly", h.assemble)
	r.Get("/overview", h.overview)
}

type createItemRequest struct {
	Name string `json:"name" validate:"required,max=120"`
	Unit string `json:"unit" validate:"omitempty,max=16"`
}

type activeRequest struct {
	Active *bool `json:"active" validate:"required"`
}

type moveRequest struct {
	ItemID    string          `json:"item_id" validate:"required,uuid"`
	Direction string          `json:"direction" validate:"required"`
	Qty       decimal.Decimal `json:"qty"`
	Note      string          `json:"note" validate:"max=500"`
}

type recipeRequest struct {
	QtyNeeded decimal.Decimal `json:"qty_needed"`
}

type assembleRequest struct {
	Count *int64 `json:"count"`
}

func (h *Handler) listItems(w http.ResponseWriter, r *http.Request) {
	includeInactive, _ := strconv.ParseBool(r.URL.Query().Get("all"))
	items, err := h.service.ListItems(r.Context(), includeInactive)
	if err != nil {
		h.fail(w, "list items", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"items": emptyIfNil(items)})
}

func (h *Handler) createItem(w http.ResponseWriter, r *http.Request) {
	var req createItemRequest
	if err := httpx.Bind(r, h.validator, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	item, err := h.service.CreateItem(r.Context(), CreateItemInput{Name: req.Name, Unit: req.Unit})
	if err != nil {
		h.fail(w, "create item", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, item)
}

func (h *Handler) setItemActive(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.RespondError(w, ErrItemNotFound, rules()...)
		return
	}
	var req activeRequest
	if err := httpx.Bind(r, h.validator, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	item, err := h.service.SetItemActive(r.Context(), id, *req.Active)
	if err != nil {
		h.fail(w, "set item active", err)
		return
	}
	httpx.JSON(w, http.StatusOK, item)
}

func (h *Handler) listBalances(w http.ResponseWriter, r *http.Request) {
	balances, err := h.service.Balances(r.Context())
	if err != nil {
		h.fail(w, "list balances", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"balances": emptyIfNil(balances)})
}

func (h *Handler) recentMoves(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	moves, err := h.service.RecentMoves(r.Context(), limit)
	if err != nil {
		h.fail(w, "recent moves", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"moves": emptyIfNil(moves)})
}

func (h *Handler) recordMove(w http.ResponseWriter, r *http.Request) {
	var req moveRequest
	if err := httpx.Bind(r, h.validator, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	result, err := h.service.RecordMove(r.Context(), MoveInput{
		ItemID:    uuid.MustParse(req.ItemID),
		Direction: Direction(req.Direction),
		Qty:       req.Qty,
		Note:      req.Note,
	})
	if err != nil {
		h.fail(w, "record move", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, result)
}

func (h *Handler) recipe(w http.ResponseWriter, r *http.Request) {
	entries, err := h.service.Recipe(r.Context())
	if err != nil {
		h.fail(w, "list recipe", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"recipe": emptyIfNil(entries)})
}

func (h *Handler) setRecipeEntry(w http.ResponseWriter, r *http.Request) {
	itemID, err := uuid.Parse(chi.URLParam(r, "itemID"))
	if err != nil {
		httpx.RespondError(w, ErrItemNotFound, rules()...)
		return
	}
	var req recipeRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.service.SetRecipeEntry(r.Context(), itemID, req.QtyNeeded); err != nil {
		h.fail(w, "set recipe entry", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) maxAssemblable(w http.ResponseWriter, r *http.Request) {
	n, err := h.service.MaxAssemblable(r.Context())
	if err != nil {
		h.fail(w, "max assemblable", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]int64{"max_assemblable": n})
}

func (h *Handler) shortfall(w http.ResponseWriter, r *http.Request) {
	count := int64(1)
	if raw := r.URL.Query().Get("count"); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			httpx.RespondError(w, ErrInvalidQuantity, rules()...)
			return
		}
		count = parsed
	}
	missing, err := h.service.Shortfall(r.Context(), count)
	if err != nil {
		h.fail(w, "shortfall", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"count": count, "missing": emptyIfNil(missing)})
}

func (h *Handler) assemble(w http.ResponseWriter, r *http.Request) {
	var req assembleRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	count := int64(1)
	if req.Count != nil {
		count = *req.Count
	}
	var result AssemblyResult
	err := shared.RunOnce(r.Context(), h.idempotency, h.logger, r.Header.Get(idempotencyHeader), "stock.assembly", func() error {
		var err error
		result, err = h.service.AssembleBaskets(r.Context(), count)
		return err
	})
	if err != nil {
		h.fail(w, "assemble baskets", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, result)
}

func (h *Handler) overview(w http.ResponseWriter, r *http.Request) {
	overview, err := h.service.Overview(r.Context())
	if err != nil {
		h.fail(w, "stock overview", err)
		return
	}
	httpx.JSON(w, http.StatusOK, overview)
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	if RejectionCode(err) == "" && !shared.IsIdempotencyConflict(err) {
		h.logger.Error(op, slog.Any("error", err))
	}
	httpx.RespondError(w, err, rules()...)
}

func rules() []httpx.Rule {
	return []httpx.Rule{
		{Err: ErrInsufficientStock, Status: http.StatusConflict, Code: "INSUFFICIENT_STOCK"},
		{Err: ErrRecipeNotDefined, Status: http.StatusConflict, Code: "RECIPE_NOT_DEFINED"},
		{Err: ErrItemNotFound, Status: http.StatusNotFound, Code: "ITEM_NOT_FOUND"},
		{Err: ErrItemInactive, Status: http.StatusConflict, Code: "ITEM_INACTIVE"},
		{Err: ErrDuplicateItem, Status: http.StatusConflict, Code: "DUPLICATE_ITEM"},
		{Err: ErrInvalidQuantity, Status: http.StatusUnprocessableEntity, Code: "INVALID_QUANTITY"},
		{Err: ErrInvalidDirection, Status: http.StatusUnprocessableEntity, Code: "INVALID_DIRECTION"},
		{Err: ErrInvalidItem, Status: http.StatusUnprocessableEntity, Code: "INVALID_ITEM"},
		{Err: shared.ErrIdempotencyConflict, Status: http.StatusConflict, Code: "IDEMPOTENCY_CONFLICT"},
	}
}

func emptyIfNil[T any](in []T) []T {
	if in == nil {
		return []T{}
	}
	return in
}
