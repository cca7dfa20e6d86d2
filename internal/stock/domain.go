// Package stock implements the supply ledger: items, the append-only move log, per-item
// balances, the basket recipe and atomic basket assembly.
package stock

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var (
	// ErrItemNotFound indicates the item does not exist.
	ErrItemNotFound = errors.New("stock: item not found")
	// ErrItemInactive indicates moves were attempted on a deactivated item.
	ErrItemInactive = errors.New("stock: item inactive")
	// ErrDuplicateItem indicates another item already uses the name.
	ErrDuplicateItem = errors.New("stock: item name already registered")
	// ErrInvalidItem indicates a missing or malformed item field.
	ErrInvalidItem = errors.New("stock: invalid item")
	// ErrInvalidQuantity indicates a quantity or count that must be positive was not.
	ErrInvalidQuantity = errors.New("stock: quantity must be greater than zero")
	// ErrInvalidDirection indicates a direction other than IN or OUT.
	ErrInvalidDirection = errors.New("stock: direction must be IN or OUT")
	// ErrInsufficientStock indicates a move or assembly would drive a balance negative.
	ErrInsufficientStock = errors.New("stock: insufficient stock")
	// ErrRecipeNotDefined indicates assembly was requested with an empty recipe.
	ErrRecipeNotDefined = errors.New("stock: basket recipe not defined")
)

// DefaultUnit is used when an item is created without a unit of measure.
const DefaultUnit = "un"

// QtyScale is the number of fractional digits stored for every quantity.
const QtyScale = 3

// maxQty is the exclusive upper bound of a NUMERIC(14,3) column.
var maxQty = decimal.New(1, 14-QtyScale)

// validQty rejects quantities the store would round or overflow. The sign is checked by callers.
func validQty(qty decimal.Decimal) error {
	if !qty.Equal(qty.Round(QtyScale)) {
		return fmt.Errorf("%w: %s has more than %d decimal places", ErrInvalidQuantity, qty.String(), QtyScale)
	}
	if qty.Abs().GreaterThanOrEqual(maxQty) {
		return fmt.Errorf("%w: %s out of range", ErrInvalidQuantity, qty.String())
	}
	return nil
}

// Direction is the sign of a move.
type Direction string

const (
	// DirectionIn increases a balance.
	DirectionIn Direction = "IN"
	// DirectionOut decreases a balance.
	DirectionOut Direction = "OUT"
)

// ParseDirection normalises user input into a Direction.
func ParseDirection(raw string) (Direction, error) {
	switch d := Direction(strings.ToUpper(strings.TrimSpace(raw))); d {
	case DirectionIn, DirectionOut:
		return d, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidDirection, raw)
	}
}

// Item is a raw supply tracked by the ledger.
type Item struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	NameKey   string    `json:"-"`
	Unit      string    `json:"unit"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

// Move is an immutable quantity change of one item.
type Move struct {
	ID        uuid.UUID       `json:"id"`
	ItemID    uuid.UUID       `json:"item_id"`
	ItemName  string          `json:"item_name,omitempty"`
	Unit      string          `json:"unit,omitempty"`
	Direction Direction       `json:"direction"`
	Qty       decimal.Decimal `json:"qty"`
	Note      string          `json:"note,omitempty"`
	ActorID   string          `json:"actor_id,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// Signed returns the quantity with the sign of its direction.
func (m Move) Signed() decimal.Decimal {
	if m.Direction == DirectionOut {
		return m.Qty.Neg()
	}
	return m.Qty
}

// Balance is the quantity on hand of one item.
type Balance struct {
	ItemID    uuid.UUID       `json:"item_id"`
	ItemName  string          `json:"item_name"`
	Unit      string          `json:"unit"`
	Active    bool            `json:"active"`
	Qty       decimal.Decimal `json:"qty"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// RecipeEntry is the quantity of an item consumed by one basket.
type RecipeEntry struct {
	ItemID    uuid.UUID       `json:"item_id"`
	ItemName  string          `json:"item_name"`
	Unit      string          `json:"unit"`
	QtyNeeded decimal.Decimal `json:"qty_needed"`
}

// Shortfall describes how much of an item is missing for a number of baskets.
type Shortfall struct {
	ItemID   uuid.UUID       `json:"item_id"`
	ItemName string          `json:"item_name"`
	Unit     string          `json:"unit"`
	Need     decimal.Decimal `json:"need"`
	Have     decimal.Decimal `json:"have"`
	Missing  decimal.Decimal `json:"missing"`
}

// Overview aggregates the stock screen read model.
type Overview struct {
	Balances       []Balance     `json:"balances"`
	Recipe         []RecipeEntry `json:"recipe"`
	Ready          int64         `json:"ready"`
	MaxAssemblable int64         `json:"max_assemblable"`
	Shortfall      []Shortfall   `json:"shortfall"`
	RecentMoves    []Move        `json:"recent_moves"`
}

// LedgerTotal pairs a stored balance with the fold of the item's moves.
type LedgerTotal struct {
	ItemID   uuid.UUID
	ItemName string
	Balance  decimal.Decimal
	MoveSum  decimal.Decimal
}

// Drift reports an item whose stored balance disagrees with its moves or is negative.
type Drift struct {
	ItemID   uuid.UUID       `json:"item_id"`
	ItemName string          `json:"item_name"`
	Balance  decimal.Decimal `json:"balance"`
	MoveSum  decimal.Decimal `json:"move_sum"`
}

// CreateItemInput describes a new item.
type CreateItemInput struct {
	Name string
	Unit string
}

// MoveInput describes a supply movement request.
type MoveInput struct {
	ItemID    uuid.UUID
	Direction Direction
	Qty       decimal.Decimal
	Note      string
}

// MoveResult is the committed move with the resulting balance.
type MoveResult struct {
	Move    Move            `json:"move"`
	Balance decimal.Decimal `json:"balance"`
}

// AssemblyResult is the outcome of a committed assembly.
type AssemblyResult struct {
	Count int64  `json:"count"`
	Ready int64  `json:"ready_qty"`
	Moves []Move `json:"moves"`
}
