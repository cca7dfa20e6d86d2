package stock

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
	"golang.org/x/text/cases"

	"github.com/cesta-solidaria/cesta/internal/ready"
	"github.com/cesta-solidaria/cesta/internal/shared"
)

const (
	defaultRecentMoves = 30
	maxRecentMoves     = 200
)

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	ListItems(ctx context.Context, includeInactive bool) ([]Item, error)
	ListBalances(ctx context.Context) ([]Balance, error)
	ListRecipe(ctx context.Context) ([]RecipeEntry, error)
	RecentMoves(ctx context.Context, limit int) ([]Move, error)
	ReadyCount(ctx context.Context) (int64, error)
	LedgerTotals(ctx context.Context) ([]LedgerTotal, error)
}

// TxRepository exposes transactional operations used by service.
type TxRepository interface {
	InsertItem(ctx context.Context, item Item) error
	GetItem(ctx context.Context, id uuid.UUID) (Item, error)
	SetItemActive(ctx context.Context, id uuid.UUID, active bool) (Item, error)
	LockRecipe(ctx context.Context) ([]RecipeEntry, error)
	UpsertRecipeEntry(ctx context.Context, itemID uuid.UUID, qty decimal.Decimal) error
	DeleteRecipeEntry(ctx context.Context, itemID uuid.UUID) error
	LockBalances(ctx context.Context, itemIDs []uuid.UUID) (map[uuid.UUID]decimal.Decimal, error)
	SetBalance(ctx context.Context, itemID uuid.UUID, qty decimal.Decimal) error
	InsertMove(ctx context.Context, move Move) error
	LockReady(ctx context.Context) (ready.Counter, error)
	SaveReady(ctx context.Context, counter ready.Counter) (ready.Counter, error)
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// SnapshotCache serves display read models and is bumped after every committed mutation.
type SnapshotCache interface {
	FetchJSON(ctx context.Context, dest any, loader func(context.Context) (any, error), parts ...string) error
	Bump(ctx context.Context) error
}

// Recorder receives ledger metrics.
type Recorder interface {
	MoveRecorded(direction string)
	BasketsAssembled(count int64)
	ReadySet(qty int64)
	StockRejected(reason string)
}

// Service coordinates the supply ledger.
type Service struct {
	repo    RepositoryPort
	audit   AuditPort
	cache   SnapshotCache
	metrics Recorder
	logger  *slog.Logger
	now     func() time.Time
}

// NewService builds Service. audit, cache and metrics are optional.
func NewService(repo RepositoryPort, audit AuditPort, cache SnapshotCache, metrics Recorder, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:    repo,
		audit:   audit,
		cache:   cache,
		metrics: metrics,
		logger:  logger,
		now:     time.Now,
	}
}

// NameKey folds an item name for case-insensitive uniqueness.
func NameKey(name string) string {
	return cases.Fold().String(strings.Join(strings.Fields(name), " "))
}

// CreateItem registers a supply item with a zero balance.
func (s *Service) CreateItem(ctx context.Context, input CreateItemInput) (Item, error) {
	name := strings.Join(strings.Fields(input.Name), " ")
	if name == "" {
		return Item{}, fmt.Errorf("%w: name required", ErrInvalidItem)
	}
	unit := strings.TrimSpace(input.Unit)
	if unit == "" {
		unit = DefaultUnit
	}
	item := Item{
		ID:        uuid.New(),
		Name:      name,
		NameKey:   NameKey(name),
		Unit:      unit,
		Active:    true,
		CreatedAt: s.now().UTC(),
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		return tx.InsertItem(ctx, item)
	})
	if err != nil {
		return Item{}, err
	}
	s.afterCommit(ctx, "stock:item_created", "item", item.ID.String(), map[string]any{"name": item.Name, "unit": item.Unit})
	return item, nil
}

// SetItemActive toggles whether an item accepts moves.
func (s *Service) SetItemActive(ctx context.Context, id uuid.UUID, active bool) (Item, error) {
	var item Item
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		item, err = tx.SetItemActive(ctx, id, active)
		return err
	})
	if err != nil {
		return Item{}, err
	}
	s.afterCommit(ctx, "stock:item_active", "item", id.String(), map[string]any{"active": active})
	return item, nil
}

// ListItems returns registered items ordered by name.
func (s *Service) ListItems(ctx context.Context, includeInactive bool) ([]Item, error) {
	return s.repo.ListItems(ctx, includeInactive)
}

// Balances lists the quantity on hand of every item.
func (s *Service) Balances(ctx context.Context) ([]Balance, error) {
	return s.repo.ListBalances(ctx)
}

// RecordMove appends a move and applies it to the item's balance in one transaction.
// OUT moves are checked against the balance locked at commit time.
func (s *Service) RecordMove(ctx context.Context, input MoveInput) (MoveResult, error) {
	direction, err := ParseDirection(string(input.Direction))
	if err != nil {
		return MoveResult{}, err
	}
	if !input.Qty.IsPositive() {
		s.reject("invalid_quantity")
		return MoveResult{}, fmt.Errorf("%w: %s", ErrInvalidQuantity, input.Qty.String())
	}
	if err := validQty(input.Qty); err != nil {
		s.reject("invalid_quantity")
		return MoveResult{}, err
	}
	move := Move{
		ID:        uuid.New(),
		ItemID:    input.ItemID,
		Direction: direction,
		Qty:       input.Qty,
		Note:      strings.TrimSpace(input.Note),
		ActorID:   shared.ActorID(ctx),
		CreatedAt: s.now().UTC(),
	}

	var result MoveResult
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		item, err := tx.GetItem(ctx, move.ItemID)
		if err != nil {
			return err
		}
		if !item.Active {
			return fmt.Errorf("%w: %s", ErrItemInactive, item.Name)
		}
		balances, err := tx.LockBalances(ctx, []uuid.UUID{item.ID})
		if err != nil {
			return err
		}
		current := balances[item.ID]
		next := current.Add(move.Signed())
		if next.IsNegative() {
			return fmt.Errorf("%w: %s has %s %s, requested %s", ErrInsufficientStock, item.Name, current.String(), item.Unit, move.Qty.String())
		}
		if err := validQty(next); err != nil {
			return err
		}
		if err := tx.InsertMove(ctx, move); err != nil {
			return err
		}
		if err := tx.SetBalance(ctx, item.ID, next); err != nil {
			return err
		}
		move.ItemName = item.Name
		move.Unit = item.Unit
		result = MoveResult{Move: move, Balance: next}
		return nil
	})
	if err != nil {
		s.rejectErr(err)
		return MoveResult{}, err
	}
	if s.metrics != nil {
		s.metrics.MoveRecorded(string(direction))
	}
	s.afterCommit(ctx, fmt.Sprintf("stock:move_%s", strings.ToLower(string(direction))), "item", move.ItemID.String(), map[string]any{
		"move_id": move.ID.String(),
		"qty":     move.Qty.String(),
		"balance": result.Balance.String(),
		"note":    move.Note,
	})
	return result, nil
}

// SetRecipeEntry sets the quantity of an item per basket. Zero removes the item from the recipe.
func (s *Service) SetRecipeEntry(ctx context.Context, itemID uuid.UUID, qty decimal.Decimal) error {
	if qty.IsNegative() {
		return fmt.Errorf("%w: %s", ErrInvalidQuantity, qty.String())
	}
	if err := validQty(qty); err != nil {
		return err
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if _, err := tx.GetItem(ctx, itemID); err != nil {
			return err
		}
		if qty.IsZero() {
			return tx.DeleteRecipeEntry(ctx, itemID)
		}
		return tx.UpsertRecipeEntry(ctx, itemID, qty)
	})
	if err != nil {
		return err
	}
	s.afterCommit(ctx, "stock:recipe_set", "recipe", itemID.String(), map[string]any{"qty_needed": qty.String()})
	return nil
}

// Recipe lists the basket recipe ordered by item name.
func (s *Service) Recipe(ctx context.Context) ([]RecipeEntry, error) {
	return s.repo.ListRecipe(ctx)
}

// MaxAssemblable returns how many baskets current stock covers. The value may come from the
// snapshot cache and must not drive a mutation.
func (s *Service) MaxAssemblable(ctx context.Context) (int64, error) {
	return cached(ctx, s, s.loadMaxAssemblable, "max_assemblable")
}

func (s *Service) loadMaxAssemblable(ctx context.Context) (int64, error) {
	recipe, balances, err := s.recipeAndBalances(ctx)
	if err != nil {
		return 0, err
	}
	return MaxBaskets(recipe, balanceMap(balances)), nil
}

// AssembleBaskets consumes the recipe count times and adds count baskets to the ready counter,
// all in one transaction. Nothing changes when any component is short.
func (s *Service) AssembleBaskets(ctx context.Context, count int64) (AssemblyResult, error) {
	if count < 1 {
		s.reject("invalid_quantity")
		return AssemblyResult{}, fmt.Errorf("%w: count %d", ErrInvalidQuantity, count)
	}
	actorID := shared.ActorID(ctx)
	now := s.now().UTC()
	note := fmt.Sprintf("basket assembly x%d", count)

	var result AssemblyResult
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		recipe, err := tx.LockRecipe(ctx)
		if err != nil {
			return err
		}
		recipe = effective(recipe)
		if len(recipe) == 0 {
			return ErrRecipeNotDefined
		}
		balances, err := tx.LockBalances(ctx, recipeItemIDs(recipe))
		if err != nil {
			return err
		}
		plan, err := PlanAssembly(recipe, balances, count)
		if err != nil {
			return err
		}
		moves := make([]Move, 0, len(plan))
		for _, c := range plan {
			move := Move{
				ID:        uuid.New(),
				ItemID:    c.ItemID,
				ItemName:  c.ItemName,
				Direction: DirectionOut,
				Qty:       c.Qty,
				Note:      note,
				ActorID:   actorID,
				CreatedAt: now,
			}
			if err := tx.InsertMove(ctx, move); err != nil {
				return err
			}
			if err := tx.SetBalance(ctx, c.ItemID, c.Remaining); err != nil {
				return err
			}
			moves = append(moves, move)
		}
		counter, err := tx.LockReady(ctx)
		if err != nil {
			return err
		}
		if counter, err = counter.Add(count); err != nil {
			return err
		}
		if counter, err = tx.SaveReady(ctx, counter); err != nil {
			return err
		}
		result = AssemblyResult{Count: count, Ready: counter.Qty, Moves: moves}
		return nil
	})
	if err != nil {
		s.rejectErr(err)
		s.logger.Info("basket assembly rejected", slog.Int64("count", count), slog.Any("error", err))
		return AssemblyResult{}, err
	}
	if s.metrics != nil {
		s.metrics.BasketsAssembled(count)
		s.metrics.ReadySet(result.Ready)
	}
	s.afterCommit(ctx, "stock:assemble", "baskets_ready", "1", map[string]any{
		"count": count,
		"ready": result.Ready,
	})
	return result, nil
}

// Shortfall lists the items missing to assemble count baskets.
func (s *Service) Shortfall(ctx context.Context, count int64) ([]Shortfall, error) {
	if count < 1 {
		return nil, fmt.Errorf("%w: count %d", ErrInvalidQuantity, count)
	}
	recipe, balances, err := s.recipeAndBalances(ctx)
	if err != nil {
		return nil, err
	}
	return Shortfalls(recipe, balanceMap(balances), count), nil
}

// RecentMoves lists the newest moves first.
func (s *Service) RecentMoves(ctx context.Context, limit int) ([]Move, error) {
	if limit <= 0 {
		limit = defaultRecentMoves
	}
	if limit > maxRecentMoves {
		limit = maxRecentMoves
	}
	return s.repo.RecentMoves(ctx, limit)
}

// Overview loads the stock screen read model, possibly from the snapshot cache.
func (s *Service) Overview(ctx context.Context) (Overview, error) {
	return cached(ctx, s, s.loadOverview, "overview")
}

func (s *Service) loadOverview(ctx context.Context) (Overview, error) {
	var (
		overview Overview
		balances []Balance
		recipe   []RecipeEntry
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		balances, err = s.repo.ListBalances(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		recipe, err = s.repo.ListRecipe(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		overview.Ready, err = s.repo.ReadyCount(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		overview.RecentMoves, err = s.repo.RecentMoves(gctx, defaultRecentMoves)
		return err
	})
	if err := g.Wait(); err != nil {
		return Overview{}, err
	}
	current := balanceMap(balances)
	overview.Balances = balances
	overview.Recipe = recipe
	overview.MaxAssemblable = MaxBaskets(recipe, current)
	overview.Shortfall = Shortfalls(recipe, current, 1)
	return overview, nil
}

// Reconcile compares every stored balance with the fold of its moves.
func (s *Service) Reconcile(ctx context.Context) ([]Drift, error) {
	totals, err := s.repo.LedgerTotals(ctx)
	if err != nil {
		return nil, err
	}
	var drifts []Drift
	for _, total := range totals {
		if total.Balance.Equal(total.MoveSum) && !total.Balance.IsNegative() {
			continue
		}
		drifts = append(drifts, Drift{
			ItemID:   total.ItemID,
			ItemName: total.ItemName,
			Balance:  total.Balance,
			MoveSum:  total.MoveSum,
		})
		s.logger.Error("stock ledger drift",
			slog.String("item_id", total.ItemID.String()),
			slog.String("item", total.ItemName),
			slog.String("balance", total.Balance.String()),
			slog.String("move_sum", total.MoveSum.String()))
	}
	return drifts, nil
}

func (s *Service) recipeAndBalances(ctx context.Context) ([]RecipeEntry, []Balance, error) {
	recipe, err := s.repo.ListRecipe(ctx)
	if err != nil {
		return nil, nil, err
	}
	balances, err := s.repo.ListBalances(ctx)
	if err != nil {
		return nil, nil, err
	}
	return recipe, balances, nil
}

func (s *Service) afterCommit(ctx context.Context, action, entity, entityID string, meta map[string]any) {
	if s.cache != nil {
		if err := s.cache.Bump(ctx); err != nil {
			s.logger.Warn("bump stock snapshot", slog.Any("error", err))
		}
	}
	if s.audit != nil {
		err := s.audit.Record(ctx, shared.AuditLog{
			ActorID:  shared.ActorID(ctx),
			Action:   action,
			Entity:   entity,
			EntityID: entityID,
			Meta:     meta,
		})
		if err != nil {
			s.logger.Warn("record audit", slog.String("action", action), slog.Any("error", err))
		}
	}
}

func (s *Service) reject(reason string) {
	if s.metrics != nil {
		s.metrics.StockRejected(reason)
	}
}

func (s *Service) rejectErr(err error) {
	if reason := RejectionCode(err); reason != "" {
		s.reject(strings.ToLower(reason))
	}
}
