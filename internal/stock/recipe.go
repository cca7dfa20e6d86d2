package stock

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Consumption is one OUT move planned by an assembly.
type Consumption struct {
	ItemID    uuid.UUID
	ItemName  string
	Qty       decimal.Decimal
	Remaining decimal.Decimal
}

// effective drops entries whose quantity is not positive; they are not part of the recipe.
func effective(recipe []RecipeEntry) []RecipeEntry {
	out := make([]RecipeEntry, 0, len(recipe))
	for _, entry := range recipe {
		if entry.QtyNeeded.IsPositive() {
			out = append(out, entry)
		}
	}
	return out
}

// MaxBaskets returns the number of whole baskets the balances can cover, or 0 for an empty recipe.
func MaxBaskets(recipe []RecipeEntry, balances map[uuid.UUID]decimal.Decimal) int64 {
	entries := effective(recipe)
	if len(entries) == 0 {
		return 0
	}
	var best int64 = -1
	for _, entry := range entries {
		have := balances[entry.ItemID]
		if !have.IsPositive() {
			return 0
		}
		quotient, _ := have.QuoRem(entry.QtyNeeded, 0)
		n := quotient.IntPart()
		if best < 0 || n < best {
			best = n
		}
	}
	return best
}

// PlanAssembly computes the consumption of count baskets. Entries are checked in recipe
// order and the first short item is reported.
func PlanAssembly(recipe []RecipeEntry, balances map[uuid.UUID]decimal.Decimal, count int64) ([]Consumption, error) {
	if count < 1 {
		return nil, fmt.Errorf("%w: count %d", ErrInvalidQuantity, count)
	}
	entries := effective(recipe)
	if len(entries) == 0 {
		return nil, ErrRecipeNotDefined
	}
	factor := decimal.NewFromInt(count)
	plan := make([]Consumption, 0, len(entries))
	for _, entry := range entries {
		need := entry.QtyNeeded.Mul(factor)
		have := balances[entry.ItemID]
		if have.LessThan(need) {
			return nil, fmt.Errorf("%w: %s needs %s %s, has %s", ErrInsufficientStock, entry.ItemName, need.String(), entry.Unit, have.String())
		}
		plan = append(plan, Consumption{
			ItemID:    entry.ItemID,
			ItemName:  entry.ItemName,
			Qty:       need,
			Remaining: have.Sub(need),
		})
	}
	return plan, nil
}

// Shortfalls lists the recipe items that cannot cover count baskets.
func Shortfalls(recipe []RecipeEntry, balances map[uuid.UUID]decimal.Decimal, count int64) []Shortfall {
	if count < 1 {
		count = 1
	}
	factor := decimal.NewFromInt(count)
	var out []Shortfall
	for _, entry := range effective(recipe) {
		need := entry.QtyNeeded.Mul(factor)
		have := balances[entry.ItemID]
		if have.GreaterThanOrEqual(need) {
			continue
		}
		out = append(out, Shortfall{
			ItemID:   entry.ItemID,
			ItemName: entry.ItemName,
			Unit:     entry.Unit,
			Need:     need,
			Have:     have,
			Missing:  need.Sub(have),
		})
	}
	return out
}

func balanceMap(balances []Balance) map[uuid.UUID]decimal.Decimal {
	out := make(map[uuid.UUID]decimal.Decimal, len(balances))
	for _, b := range balances {
		out[b.ItemID] = b.Qty
	}
	return out
}

func recipeItemIDs(recipe []RecipeEntry) []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(recipe))
	for _, entry := range recipe {
		ids = append(ids, entry.ItemID)
	}
	return ids
}
