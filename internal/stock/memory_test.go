package stock

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/cesta-solidaria/cesta/internal/ready"
)

var errInjected = errors.New("injected failure")

type memoryState struct {
	items    map[uuid.UUID]Item
	balances map[uuid.UUID]decimal.Decimal
	recipe   map[uuid.UUID]decimal.Decimal
	moves    []Move
	ready    int64
}

func (s memoryState) clone() memoryState {
	out := memoryState{
		items:    make(map[uuid.UUID]Item, len(s.items)),
		balances: make(map[uuid.UUID]decimal.Decimal, len(s.balances)),
		recipe:   make(map[uuid.UUID]decimal.Decimal, len(s.recipe)),
		moves:    append([]Move(nil), s.moves...),
		ready:    s.ready,
	}
	for k, v := range s.items {
		out.items[k] = v
	}
	for k, v := range s.balances {
		out.balances[k] = v
	}
	for k, v := range s.recipe {
		out.recipe[k] = v
	}
	return out
}

// memoryRepo serialises transactions and commits a working copy only when fn succeeds.
type memoryRepo struct {
	mu    sync.Mutex
	state memoryState

	failMoveInsert int
	moveInserts    int
}

type memoryTx struct {
	repo  *memoryRepo
	state *memoryState
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{state: memoryState{}.clone()}
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	working := r.state.clone()
	if err := fn(ctx, &memoryTx{repo: r, state: &working}); err != nil {
		return err
	}
	r.state = working
	return nil
}

func (r *memoryRepo) snapshot() memoryState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state.clone()
}

func (r *memoryRepo) ListItems(_ context.Context, includeInactive bool) ([]Item, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var items []Item
	for _, it := range r.state.items {
		if it.Active || includeInactive {
			items = append(items, it)
		}
	}
	sort.Slice(items, func(i, j int) bool { return items[i].Name < items[j].Name })
	return items, nil
}

func (r *memoryRepo) ListBalances(_ context.Context) ([]Balance, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var balances []Balance
	for id, it := range r.state.items {
		balances = append(balances, Balance{ItemID: id, ItemName: it.Name, Unit: it.Unit, Active: it.Active, Qty: r.state.balances[id]})
	}
	sort.Slice(balances, func(i, j int) bool { return balances[i].ItemName < balances[j].ItemName })
	return balances, nil
}

func (r *memoryRepo) ListRecipe(_ context.Context) ([]RecipeEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state.recipeEntries(), nil
}

func (r *memoryRepo) RecentMoves(_ context.Context, limit int) ([]Move, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var moves []Move
	for i := len(r.state.moves) - 1; i >= 0 && len(moves) < limit; i-- {
		m := r.state.moves[i]
		if item, ok := r.state.items[m.ItemID]; ok {
			m.ItemName = item.Name
			m.Unit = item.Unit
		}
		moves = append(moves, m)
	}
	return moves, nil
}

func (r *memoryRepo) ReadyCount(_ context.Context) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state.ready, nil
}

func (r *memoryRepo) LedgerTotals(_ context.Context) ([]LedgerTotal, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sums := make(map[uuid.UUID]decimal.Decimal)
	for _, m := range r.state.moves {
		sums[m.ItemID] = sums[m.ItemID].Add(m.Signed())
	}
	var totals []LedgerTotal
	for id, it := range r.state.items {
		totals = append(totals, LedgerTotal{ItemID: id, ItemName: it.Name, Balance: r.state.balances[id], MoveSum: sums[id]})
	}
	sort.Slice(totals, func(i, j int) bool { return totals[i].ItemName < totals[j].ItemName })
	return totals, nil
}

func (s *memoryState) recipeEntries() []RecipeEntry {
	var entries []RecipeEntry
	for id, qty := range s.recipe {
		it := s.items[id]
		entries = append(entries, RecipeEntry{ItemID: id, ItemName: it.Name, Unit: it.Unit, QtyNeeded: qty})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].ItemName < entries[j].ItemName })
	return entries
}

func (tx *memoryTx) InsertItem(_ context.Context, item Item) error {
	for _, existing := range tx.state.items {
		if existing.NameKey == item.NameKey {
			return fmt.Errorf("%w: %s", ErrDuplicateItem, item.Name)
		}
	}
	tx.state.items[item.ID] = item
	tx.state.balances[item.ID] = decimal.Zero
	return nil
}

func (tx *memoryTx) GetItem(_ context.Context, id uuid.UUID) (Item, error) {
	it, ok := tx.state.items[id]
	if !ok {
		return Item{}, fmt.Errorf("%w: %s", ErrItemNotFound, id)
	}
	return it, nil
}

func (tx *memoryTx) SetItemActive(_ context.Context, id uuid.UUID, active bool) (Item, error) {
	it, ok := tx.state.items[id]
	if !ok {
		return Item{}, fmt.Errorf("%w: %s", ErrItemNotFound, id)
	}
	it.Active = active
	tx.state.items[id] = it
	return it, nil
}

func (tx *memoryTx) LockRecipe(_ context.Context) ([]RecipeEntry, error) {
	return tx.state.recipeEntries(), nil
}

func (tx *memoryTx) UpsertRecipeEntry(_ context.Context, itemID uuid.UUID, qty decimal.Decimal) error {
	tx.state.recipe[itemID] = qty
	return nil
}

func (tx *memoryTx) DeleteRecipeEntry(_ context.Context, itemID uuid.UUID) error {
	delete(tx.state.recipe, itemID)
	return nil
}

func (tx *memoryTx) LockBalances(_ context.Context, itemIDs []uuid.UUID) (map[uuid.UUID]decimal.Decimal, error) {
	out := make(map[uuid.UUID]decimal.Decimal, len(itemIDs))
	for _, id := range itemIDs {
		if qty, ok := tx.state.balances[id]; ok {
			out[id] = qty
		}
	}
	return out, nil
}

func (tx *memoryTx) SetBalance(_ context.Context, itemID uuid.UUID, qty decimal.Decimal) error {
	if qty.IsNegative() {
		return fmt.Errorf("check constraint: negative balance for %s", itemID)
	}
	tx.state.balances[itemID] = qty
	return nil
}

func (tx *memoryTx) InsertMove(_ context.Context, move Move) error {
	tx.repo.moveInserts++
	if tx.repo.failMoveInsert > 0 && tx.repo.moveInserts == tx.repo.failMoveInsert {
		return errInjected
	}
	tx.state.moves = append(tx.state.moves, move)
	return nil
}

func (tx *memoryTx) LockReady(_ context.Context) (ready.Counter, error) {
	return ready.Counter{Qty: tx.state.ready}, nil
}

func (tx *memoryTx) SaveReady(_ context.Context, counter ready.Counter) (ready.Counter, error) {
	if counter.Qty < 0 {
		return counter, ready.ErrNoBasketsReady
	}
	tx.state.ready = counter.Qty
	return counter, nil
}
