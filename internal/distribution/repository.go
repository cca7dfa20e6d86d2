package distribution

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cesta-solidaria/cesta/internal/families"
	"github.com/cesta-solidaria/cesta/internal/platform/db"
	"github.com/cesta-solidaria/cesta/internal/ready"
)

const deliveryColumns = `id, family_id, delivered_at, delivery_month, note, actor_id,
reversed_at, reversed_note, reversed_by`

// Repository persists deliveries in PostgreSQL.
type Repository struct {
	pool     *pgxpool.Pool
	runner   *db.Runner
	families *families.Repository
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool, runner *db.Runner) *Repository {
	return &Repository{pool: pool, runner: runner, families: families.NewRepository(pool, runner)}
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

// GetFamily loads a family without locking it.
func (r *Repository) GetFamily(ctx context.Context, id uuid.UUID) (families.Family, error) {
	return r.families.Get(ctx, id)
}

// ReadyCount reads the ready counter without locking it.
func (r *Repository) ReadyCount(ctx context.Context) (int64, error) {
	c, err := ready.Read(ctx, r.pool)
	if err != nil {
		return 0, err
	}
	return c.Qty, nil
}

// LatestActiveSince returns the newest active delivery of a family at or after since.
func (r *Repository) LatestActiveSince(ctx context.Context, familyID uuid.UUID, since time.Time) (*Delivery, error) {
	return latestActiveSince(r.pool.QueryRow(ctx, latestActiveSQL, familyID, since))
}

// ActiveSince lists active deliveries at or after since, newest first.
func (r *Repository) ActiveSince(ctx context.Context, since time.Time) ([]Delivery, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+deliveryColumns+` FROM deliveries
WHERE reversed_at IS NULL AND delivered_at >= $1
ORDER BY delivered_at DESC, id`, since)
	if err != nil {
		return nil, err
	}
	return collect(rows)
}

// History lists a family's deliveries newest first.
func (r *Repository) History(ctx context.Context, familyID uuid.UUID, limit int) ([]Delivery, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+deliveryColumns+` FROM deliveries
WHERE family_id = $1
ORDER BY delivered_at DESC, id
LIMIT $2`, familyID, limit)
	if err != nil {
		return nil, err
	}
	return collect(rows)
}

const latestActiveSQL = `SELECT ` + deliveryColumns + ` FROM deliveries
WHERE family_id = $1 AND reversed_at IS NULL AND delivered_at >= $2
ORDER BY delivered_at DESC, id
LIMIT 1`

func (t *txRepo) LockFamily(ctx context.Context, id uuid.UUID) (families.Family, error) {
	return families.LockForUpdate(ctx, t.tx, id)
}

func (t *txRepo) LatestActiveSince(ctx context.Context, familyID uuid.UUID, since time.Time) (*Delivery, error) {
	return latestActiveSince(t.tx.QueryRow(ctx, latestActiveSQL, familyID, since))
}

func (t *txRepo) InsertDelivery(ctx context.Context, d Delivery) error {
	_, err := t.tx.Exec(ctx, `INSERT INTO deliveries (id, family_id, delivered_at, delivery_month, note, actor_id)
VALUES ($1, $2, $3, $4, $5, $6)`, d.ID, d.FamilyID, d.DeliveredAt, d.Month, d.Note, d.ActorID)
	if db.IsUniqueViolation(err, "deliveries_family_month_active_key") {
		return ErrAlreadyDeliveredThisMonth
	}
	return err
}

func (t *txRepo) LockDelivery(ctx context.Context, id uuid.UUID) (Delivery, error) {
	d, err := scanDelivery(t.tx.QueryRow(ctx, `SELECT `+deliveryColumns+` FROM deliveries WHERE id = $1 FOR UPDATE`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Delivery{}, fmt.Errorf("%w: %s", ErrDeliveryNotFound, id)
	}
	return d, err
}

func (t *txRepo) MarkReversed(ctx context.Context, d Delivery) error {
	tag, err := t.tx.Exec(ctx, `UPDATE deliveries
SET reversed_at = $2, reversed_note = $3, reversed_by = $4
WHERE id = $1 AND reversed_at IS NULL`, d.ID, d.ReversedAt, d.ReversedNote, d.ReversedBy)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrDeliveryAlreadyReversed
	}
	return nil
}

func (t *txRepo) LockReady(ctx context.Context) (ready.Counter, error) {
	return ready.Lock(ctx, t.tx)
}

func (t *txRepo) SaveReady(ctx context.Context, counter ready.Counter) (ready.Counter, error) {
	return ready.Save(ctx, t.tx, counter)
}

func latestActiveSince(row pgx.Row) (*Delivery, error) {
	d, err := scanDelivery(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func collect(rows pgx.Rows) ([]Delivery, error) {
	defer rows.Close()
	var out []Delivery
	for rows.Next() {
		d, err := scanDelivery(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func scanDelivery(row pgx.Row) (Delivery, error) {
	var d Delivery
	err := row.Scan(&d.ID, &d.FamilyID, &d.DeliveredAt, &d.Month, &d.Note, &d.ActorID,
		&d.ReversedAt, &d.ReversedNote, &d.ReversedBy)
	return d, err
}
