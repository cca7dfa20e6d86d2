package stock

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/cesta-solidaria/cesta/internal/platform/db"
	"github.com/cesta-solidaria/cesta/internal/ready"
)

// Repository persists the ledger in PostgreSQL.
type Repository struct {
	pool   *pgxpool.Pool
	runner *db.Runner
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool, runner *db.Runner) *Repository {
	return &Repository{pool: pool, runner: runner}
}

type txRepo struct {
	tx pgx.Tx
}

// WithTx executes the callback inside a retried transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return r.runner.WithTx(ctx, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{tx: tx})
	})
}

// ListItems returns items ordered by name.
func (r *Repository) ListItems(ctx context.Context, includeInactive bool) ([]Item, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, name, name_key, unit, active, created_at
FROM items WHERE $1 OR active ORDER BY name, id`, includeInactive)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []Item
	for rows.Next() {
		var it Item
		if err := rows.Scan(&it.ID, &it.Name, &it.NameKey, &it.Unit, &it.Active, &it.CreatedAt); err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

// ListBalances returns the balance of every item ordered by name.
func (r *Repository) ListBalances(ctx context.Context) ([]Balance, error) {
	rows, err := r.pool.Query(ctx, `SELECT i.id, i.name, i.unit, i.active, COALESCE(b.qty, 0), COALESCE(b.updated_at, i.created_at)
FROM items i LEFT JOIN stock_balances b ON b.item_id = i.id
ORDER BY i.name, i.id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var balances []Balance
	for rows.Next() {
		var b Balance
		if err := rows.Scan(&b.ItemID, &b.ItemName, &b.Unit, &b.Active, &b.Qty, &b.UpdatedAt); err != nil {
			return nil, err
		}
		balances = append(balances, b)
	}
	return balances, rows.Err()
}

// ListRecipe returns recipe entries ordered by item name.
func (r *Repository) ListRecipe(ctx context.Context) ([]RecipeEntry, error) {
	rows, err := r.pool.Query(ctx, `SELECT r.item_id, i.name, i.unit, r.qty_needed
FROM basket_recipe r JOIN items i ON i.id = r.item_id
ORDER BY i.name, r.item_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRecipe(rows)
}

// RecentMoves returns the newest moves first.
func (r *Repository) RecentMoves(ctx context.Context, limit int) ([]Move, error) {
	rows, err := r.pool.Query(ctx, `SELECT m.id, m.item_id, i.name, i.unit, m.direction, m.qty, m.note, m.actor_id, m.created_at
FROM stock_moves m JOIN items i ON i.id = m.item_id
ORDER BY m.created_at DESC, m.id
LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var moves []Move
	for rows.Next() {
		var m Move
		var direction string
		if err := rows.Scan(&m.ID, &m.ItemID, &m.ItemName, &m.Unit, &direction, &m.Qty, &m.Note, &m.ActorID, &m.CreatedAt); err != nil {
			return nil, err
		}
		m.Direction = Direction(direction)
		moves = append(moves, m)
	}
	return moves, rows.Err()
}

// ReadyCount returns the ready basket counter without locking it.
func (r *Repository) ReadyCount(ctx context.Context) (int64, error) {
	counter, err := ready.Read(ctx, r.pool)
	if err != nil {
		return 0, err
	}
	return counter.Qty, nil
}

// LedgerTotals pairs every stored balance with the sum of the item's moves.
func (r *Repository) LedgerTotals(ctx context.Context) ([]LedgerTotal, error) {
	rows, err := r.pool.Query(ctx, `SELECT i.id, i.name, COALESCE(b.qty, 0),
	COALESCE((SELECT SUM(CASE WHEN m.direction = 'IN' THEN m.qty ELSE -m.qty END)
		FROM stock_moves m WHERE m.item_id = i.id), 0)
FROM items i LEFT JOIN stock_balances b ON b.item_id = i.id
ORDER BY i.name, i.id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var totals []LedgerTotal
	for rows.Next() {
		var t LedgerTotal
		if err := rows.Scan(&t.ItemID, &t.ItemName, &t.Balance, &t.MoveSum); err != nil {
			return nil, err
		}
		totals = append(totals, t)
	}
	return totals, rows.Err()
}

func (t *txRepo) InsertItem(ctx context.Context, item Item) error {
	_, err := t.tx.Exec(ctx, `INSERT INTO items (id, name, name_key, unit, active, created_at)
VALUES ($1, $2, $3, $4, $5, $6)`, item.ID, item.Name, item.NameKey, item.Unit, item.Active, item.CreatedAt)
	if err != nil {
		if db.IsUniqueViolation(err, "items_name_key") {
			return fmt.Errorf("%w: %s", ErrDuplicateItem, item.Name)
		}
		return err
	}
	_, err = t.tx.Exec(ctx, `INSERT INTO stock_balances (item_id, qty, updated_at) VALUES ($1, 0, $2)`, item.ID, item.CreatedAt)
	return err
}

func (t *txRepo) GetItem(ctx context.Context, id uuid.UUID) (Item, error) {
	var it Item
	err := t.tx.QueryRow(ctx, `SELECT id, name, name_key, unit, active, created_at
FROM items WHERE id = $1 FOR SHARE`, id).Scan(&it.ID, &it.Name, &it.NameKey, &it.Unit, &it.Active, &it.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Item{}, fmt.Errorf("%w: %s", ErrItemNotFound, id)
	}
	return it, err
}

func (t *txRepo) SetItemActive(ctx context.Context, id uuid.UUID, active bool) (Item, error) {
	var it Item
	err := t.tx.QueryRow(ctx, `UPDATE items SET active = $2 WHERE id = $1
RETURNING id, name, name_key, unit, active, created_at`, id, active).Scan(&it.ID, &it.Name, &it.NameKey, &it.Unit, &it.Active, &it.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Item{}, fmt.Errorf("%w: %s", ErrItemNotFound, id)
	}
	return it, err
}

func (t *txRepo) LockRecipe(ctx context.Context) ([]RecipeEntry, error) {
	rows, err := t.tx.Query(ctx, `SELECT r.item_id, i.name, i.unit, r.qty_needed
FROM basket_recipe r JOIN items i ON i.id = r.item_id
ORDER BY i.name, r.item_id
FOR SHARE OF r`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRecipe(rows)
}

func (t *txRepo) UpsertRecipeEntry(ctx context.Context, itemID uuid.UUID, qty decimal.Decimal) error {
	_, err := t.tx.Exec(ctx, `INSERT INTO basket_recipe (item_id, qty_needed, updated_at) VALUES ($1, $2, NOW())
ON CONFLICT (item_id) DO UPDATE SET qty_needed = EXCLUDED.qty_needed, updated_at = NOW()`, itemID, qty)
	return err
}

func (t *txRepo) DeleteRecipeEntry(ctx context.Context, itemID uuid.UUID) error {
	_, err := t.tx.Exec(ctx, `DELETE FROM basket_recipe WHERE item_id = $1`, itemID)
	return err
}

// LockBalances locks the balance rows in item id order. Items without a row read as zero.
func (t *txRepo) LockBalances(ctx context.Context, itemIDs []uuid.UUID) (map[uuid.UUID]decimal.Decimal, error) {
	rows, err := t.tx.Query(ctx, `SELECT item_id, qty FROM stock_balances
WHERE item_id = ANY($1)
ORDER BY item_id
FOR UPDATE`, itemIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	balances := make(map[uuid.UUID]decimal.Decimal, len(itemIDs))
	for rows.Next() {
		var id uuid.UUID
		var qty decimal.Decimal
		if err := rows.Scan(&id, &qty); err != nil {
			return nil, err
		}
		balances[id] = qty
	}
	return balances, rows.Err()
}

func (t *txRepo) SetBalance(ctx context.Context, itemID uuid.UUID, qty decimal.Decimal) error {
	_, err := t.tx.Exec(ctx, `INSERT INTO stock_balances (item_id, qty, updated_at) VALUES ($1, $2, NOW())
ON CONFLICT (item_id) DO UPDATE SET qty = EXCLUDED.qty, updated_at = NOW()`, itemID, qty)
	return err
}

func (t *txRepo) InsertMove(ctx context.Context, move Move) error {
	_, err := t.tx.Exec(ctx, `INSERT INTO stock_moves (id, item_id, direction, qty, note, actor_id, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)`, move.ID, move.ItemID, string(move.Direction), move.Qty, move.Note, move.ActorID, move.CreatedAt)
	return err
}

func (t *txRepo) LockReady(ctx context.Context) (ready.Counter, error) {
	return ready.Lock(ctx, t.tx)
}

func (t *txRepo) SaveReady(ctx context.Context, counter ready.Counter) (ready.Counter, error) {
	return ready.Save(ctx, t.tx, counter)
}

func scanRecipe(rows pgx.Rows) ([]RecipeEntry, error) {
	var entries []RecipeEntry
	for rows.Next() {
		var e RecipeEntry
		if err := rows.Scan(&e.ItemID, &e.ItemName, &e.Unit, &e.QtyNeeded); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
