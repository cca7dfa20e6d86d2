package stock

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/cesta-solidaria/cesta/internal/shared"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func newTestService(t *testing.T) (*Service, *memoryRepo) {
	t.Helper()
	repo := newMemoryRepo()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewService(repo, nil, nil, nil, logger), repo
}

func seedItem(t *testing.T, svc *Service, name, qty string) Item {
	t.Helper()
	ctx := context.Background()
	item, err := svc.CreateItem(ctx, CreateItemInput{Name: name, Unit: "kg"})
	require.NoError(t, err)
	if qty != "0" {
		_, err = svc.RecordMove(ctx, MoveInput{ItemID: item.ID, Direction: DirectionIn, Qty: dec(qty), Note: "donation"})
		require.NoError(t, err)
	}
	return item
}

// rice 2 + beans 1 per basket, stock rice 5 and beans 3.
func seedRiceAndBeans(t *testing.T, svc *Service) (Item, Item) {
	t.Helper()
	ctx := context.Background()
	rice := seedItem(t, svc, "rice", "5")
	beans := seedItem(t, svc, "beans", "3")
	require.NoError(t, svc.SetRecipeEntry(ctx, rice.ID, dec("2")))
	require.NoError(t, svc.SetRecipeEntry(ctx, beans.ID, dec("1")))
	return rice, beans
}

func requireLedgerConsistent(t *testing.T, svc *Service, repo *memoryRepo) {
	t.Helper()
	drifts, err := svc.Reconcile(context.Background())
	require.NoError(t, err)
	require.Empty(t, drifts)
	for id, qty := range repo.snapshot().balances {
		require.False(t, qty.IsNegative(), "negative balance for %s", id)
	}
}

func TestMaxAssemblableFromRecipe(t *testing.T) {
	svc, _ := newTestService(t)
	seedRiceAndBeans(t, svc)

	n, err := svc.MaxAssemblable(context.Background())
	require.NoError(t, err)
	require.EqualValues(t, 2, n)
}

func TestMaxAssemblableEmptyRecipe(t *testing.T) {
	svc, _ := newTestService(t)
	seedItem(t, svc, "rice", "10")

	n, err := svc.MaxAssemblable(context.Background())
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestAssembleBasketsConsumesRecipe(t *testing.T) {
	svc, repo := newTestService(t)
	rice, beans := seedRiceAndBeans(t, svc)
	ctx := context.Background()

	result, err := svc.AssembleBaskets(ctx, 2)
	require.NoError(t, err)
	require.EqualValues(t, 2, result.Ready)
	require.Len(t, result.Moves, 2)

	state := repo.snapshot()
	require.True(t, state.balances[rice.ID].Equal(dec("1")))
	require.True(t, state.balances[beans.ID].Equal(dec("1")))
	require.EqualValues(t, 2, state.ready)

	for _, m := range result.Moves {
		require.Equal(t, DirectionOut, m.Direction)
		switch m.ItemID {
		case rice.ID:
			require.True(t, m.Qty.Equal(dec("4")))
		case beans.ID:
			require.True(t, m.Qty.Equal(dec("2")))
		}
	}
	requireLedgerConsistent(t, svc, repo)
}

func TestAssembleBasketsInsufficientStockChangesNothing(t *testing.T) {
	svc, repo := newTestService(t)
	seedRiceAndBeans(t, svc)
	ctx := context.Background()
	before := repo.snapshot()

	_, err := svc.AssembleBaskets(ctx, 3)
	require.ErrorIs(t, err, ErrInsufficientStock)
	require.Contains(t, err.Error(), "rice")

	after := repo.snapshot()
	require.Equal(t, len(before.moves), len(after.moves))
	require.Equal(t, before.ready, after.ready)
	for id, qty := range before.balances {
		require.True(t, qty.Equal(after.balances[id]))
	}
}

func TestAssembleBasketsNamesFirstShortItem(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	rice := seedItem(t, svc, "rice", "1")
	beans := seedItem(t, svc, "beans", "0")
	require.NoError(t, svc.SetRecipeEntry(ctx, rice.ID, dec("2")))
	require.NoError(t, svc.SetRecipeEntry(ctx, beans.ID, dec("1")))

	_, err := svc.AssembleBaskets(ctx, 1)
	require.ErrorIs(t, err, ErrInsufficientStock)
	require.Contains(t, err.Error(), "beans")
	require.NotContains(t, err.Error(), "rice")
}

func TestAssembleBasketsIsAtomicOnStoreFailure(t *testing.T) {
	svc, repo := newTestService(t)
	seedRiceAndBeans(t, svc)
	ctx := context.Background()
	before := repo.snapshot()

	repo.mu.Lock()
	repo.failMoveInsert = repo.moveInserts + 2
	repo.mu.Unlock()

	_, err := svc.AssembleBaskets(ctx, 1)
	require.ErrorIs(t, err, errInjected)

	after := repo.snapshot()
	require.Len(t, after.moves, len(before.moves))
	require.Equal(t, before.ready, after.ready)
	for id, qty := range before.balances {
		require.True(t, qty.Equal(after.balances[id]), "balance of %s changed", id)
	}
}

func TestAssembleBasketsRequiresRecipe(t *testing.T) {
	svc, _ := newTestService(t)
	seedItem(t, svc, "rice", "5")

	_, err := svc.AssembleBaskets(context.Background(), 1)
	require.ErrorIs(t, err, ErrRecipeNotDefined)
}

func TestAssembleBasketsRejectsNonPositiveCount(t *testing.T) {
	svc, _ := newTestService(t)
	seedRiceAndBeans(t, svc)

	for _, count := range []int64{0, -1} {
		_, err := svc.AssembleBaskets(context.Background(), count)
		require.ErrorIs(t, err, ErrInvalidQuantity)
	}
}

func TestRecordMoveUpdatesBalance(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()
	oil := seedItem(t, svc, "oil", "0")

	res, err := svc.RecordMove(ctx, MoveInput{ItemID: oil.ID, Direction: DirectionIn, Qty: dec("2.5")})
	require.NoError(t, err)
	require.True(t, res.Balance.Equal(dec("2.5")))

	res, err = svc.RecordMove(ctx, MoveInput{ItemID: oil.ID, Direction: "out", Qty: dec("1.25"), Note: "spoiled"})
	require.NoError(t, err)
	require.True(t, res.Balance.Equal(dec("1.25")))
	require.Equal(t, DirectionOut, res.Move.Direction)
	require.Equal(t, "oil", res.Move.ItemName)

	requireLedgerConsistent(t, svc, repo)
}

func TestRecordMoveRejectsOverdraw(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()
	oil := seedItem(t, svc, "oil", "1")
	before := len(repo.snapshot().moves)

	_, err := svc.RecordMove(ctx, MoveInput{ItemID: oil.ID, Direction: DirectionOut, Qty: dec("1.001")})
	require.ErrorIs(t, err, ErrInsufficientStock)
	require.Len(t, repo.snapshot().moves, before)
	require.True(t, repo.snapshot().balances[oil.ID].Equal(dec("1")))
}

func TestRecordMoveValidation(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	oil := seedItem(t, svc, "oil", "1")

	_, err := svc.RecordMove(ctx, MoveInput{ItemID: oil.ID, Direction: DirectionIn, Qty: decimal.Zero})
	require.ErrorIs(t, err, ErrInvalidQuantity)

	_, err = svc.RecordMove(ctx, MoveInput{ItemID: oil.ID, Direction: DirectionIn, Qty: dec("-1")})
	require.ErrorIs(t, err, ErrInvalidQuantity)

	_, err = svc.RecordMove(ctx, MoveInput{ItemID: oil.ID, Direction: "SIDEWAYS", Qty: dec("1")})
	require.ErrorIs(t, err, ErrInvalidDirection)

	_, err = svc.RecordMove(ctx, MoveInput{ItemID: uuid.New(), Direction: DirectionIn, Qty: dec("1")})
	require.ErrorIs(t, err, ErrItemNotFound)

	_, err = svc.SetItemActive(ctx, oil.ID, false)
	require.NoError(t, err)
	_, err = svc.RecordMove(ctx, MoveInput{ItemID: oil.ID, Direction: DirectionIn, Qty: dec("1")})
	require.ErrorIs(t, err, ErrItemInactive)
}

func TestRecordMoveStoresActor(t *testing.T) {
	svc, repo := newTestService(t)
	oil := seedItem(t, svc, "oil", "0")
	ctx := shared.ContextWithActor(context.Background(), shared.Actor{ID: "staff-7", Role: "STAFF"})

	_, err := svc.RecordMove(ctx, MoveInput{ItemID: oil.ID, Direction: DirectionIn, Qty: dec("3")})
	require.NoError(t, err)
	moves := repo.snapshot().moves
	require.Equal(t, "staff-7", moves[len(moves)-1].ActorID)
}

func TestCreateItemNormalisesInput(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	item, err := svc.CreateItem(ctx, CreateItemInput{Name: "  Arroz   Tipo 1 "})
	require.NoError(t, err)
	require.Equal(t, "Arroz Tipo 1", item.Name)
	require.Equal(t, DefaultUnit, item.Unit)
	require.True(t, item.Active)

	_, err = svc.CreateItem(ctx, CreateItemInput{Name: "ARROZ tipo 1"})
	require.ErrorIs(t, err, ErrDuplicateItem)

	_, err = svc.CreateItem(ctx, CreateItemInput{Name: "   "})
	require.ErrorIs(t, err, ErrInvalidItem)
}

func TestSetRecipeEntryZeroRemovesEntry(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	rice, beans := seedRiceAndBeans(t, svc)

	require.NoError(t, svc.SetRecipeEntry(ctx, beans.ID, decimal.Zero))
	recipe, err := svc.Recipe(ctx)
	require.NoError(t, err)
	require.Len(t, recipe, 1)
	require.Equal(t, rice.ID, recipe[0].ItemID)

	require.ErrorIs(t, svc.SetRecipeEntry(ctx, rice.ID, dec("-1")), ErrInvalidQuantity)
	require.ErrorIs(t, svc.SetRecipeEntry(ctx, uuid.New(), dec("1")), ErrItemNotFound)
}

func TestShortfallListsMissingItems(t *testing.T) {
	svc, _ := newTestService(t)
	seedRiceAndBeans(t, svc)

	missing, err := svc.Shortfall(context.Background(), 3)
	require.NoError(t, err)
	require.Len(t, missing, 1)
	require.Equal(t, "rice", missing[0].ItemName)
	require.True(t, missing[0].Need.Equal(dec("6")))
	require.True(t, missing[0].Missing.Equal(dec("1")))

	_, err = svc.Shortfall(context.Background(), 0)
	require.ErrorIs(t, err, ErrInvalidQuantity)
}

func TestRecentMovesNewestFirst(t *testing.T) {
	svc, _ := newTestService(t)
	seedItem(t, svc, "rice", "5")
	seedItem(t, svc, "beans", "3")

	moves, err := svc.RecentMoves(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, moves, 2)
	require.Equal(t, "beans", moves[0].ItemName)
	require.Equal(t, "kg", moves[0].Unit)
	require.Equal(t, "rice", moves[1].ItemName)
}

func TestOverviewAggregates(t *testing.T) {
	svc, _ := newTestService(t)
	seedRiceAndBeans(t, svc)
	ctx := context.Background()
	_, err := svc.AssembleBaskets(ctx, 1)
	require.NoError(t, err)

	overview, err := svc.Overview(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 1, overview.Ready)
	require.EqualValues(t, 1, overview.MaxAssemblable)
	require.Len(t, overview.Balances, 2)
	require.Len(t, overview.Recipe, 2)
	require.Len(t, overview.RecentMoves, 4)
	require.Empty(t, overview.Shortfall)
}

func TestReconcileReportsDrift(t *testing.T) {
	svc, repo := newTestService(t)
	rice := seedItem(t, svc, "rice", "5")

	repo.mu.Lock()
	repo.state.balances[rice.ID] = dec("4")
	repo.mu.Unlock()

	drifts, err := svc.Reconcile(context.Background())
	require.NoError(t, err)
	require.Len(t, drifts, 1)
	require.Equal(t, rice.ID, drifts[0].ItemID)
	require.True(t, drifts[0].MoveSum.Equal(dec("5")))
}

func TestConcurrentAssemblyNeverOverconsumes(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()
	rice := seedItem(t, svc, "rice", "6")
	beans := seedItem(t, svc, "beans", "10")
	require.NoError(t, svc.SetRecipeEntry(ctx, rice.ID, dec("2")))
	require.NoError(t, svc.SetRecipeEntry(ctx, beans.ID, dec("1")))

	const attempts = 10
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		short     int
	)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.AssembleBaskets(ctx, 1)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case errorsIs(err, ErrInsufficientStock):
				short++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	require.Equal(t, 3, successes)
	require.Equal(t, attempts-3, short)
	state := repo.snapshot()
	require.True(t, state.balances[rice.ID].IsZero())
	require.True(t, state.balances[beans.ID].Equal(dec("7")))
	require.EqualValues(t, 3, state.ready)
	requireLedgerConsistent(t, svc, repo)
}

func TestRecordMoveRejectsUnstorableQuantity(t *testing.T) {
	svc, repo := newTestService(t)
	rice := seedItem(t, svc, "rice", "1")
	ctx := context.Background()

	cases := []struct {
		name      string
		direction Direction
		qty       string
	}{
		{"sub-gram out", DirectionOut, "0.0005"},
		{"sub-gram in", DirectionIn, "2.1234"},
		{"overflow", DirectionIn, "100000000000"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.RecordMove(ctx, MoveInput{ItemID: rice.ID, Direction: tc.direction, Qty: dec(tc.qty)})
			require.ErrorIs(t, err, ErrInvalidQuantity)
		})
	}

	repo.mu.Lock()
	require.True(t, repo.state.balances[rice.ID].Equal(dec("1")))
	require.Len(t, repo.state.moves, 1)
	repo.mu.Unlock()

	res, err := svc.RecordMove(ctx, MoveInput{ItemID: rice.ID, Direction: DirectionOut, Qty: dec("0.2500")})
	require.NoError(t, err)
	require.True(t, res.Balance.Equal(dec("0.75")))
}

func TestRecordMoveRejectsBalanceOverflow(t *testing.T) {
	svc, _ := newTestService(t)
	rice := seedItem(t, svc, "rice", "99999999999.999")

	_, err := svc.RecordMove(context.Background(), MoveInput{ItemID: rice.ID, Direction: DirectionIn, Qty: dec("0.001")})
	require.ErrorIs(t, err, ErrInvalidQuantity)
}

func TestSetRecipeEntryRejectsUnstorableQuantity(t *testing.T) {
	svc, _ := newTestService(t)
	rice := seedItem(t, svc, "rice", "1")
	ctx := context.Background()

	require.ErrorIs(t, svc.SetRecipeEntry(ctx, rice.ID, dec("0.0004")), ErrInvalidQuantity)
	recipe, err := svc.Recipe(ctx)
	require.NoError(t, err)
	require.Empty(t, recipe)

	require.NoError(t, svc.SetRecipeEntry(ctx, rice.ID, dec("0.125")))
}
