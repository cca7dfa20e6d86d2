// Package ready models the count of assembled baskets awaiting delivery.
//
// The counter is a single row that every producer (assembly, reversal) and consumer
// (delivery) locks inside its own transaction, so it can never drift from the operations
// that move it.
package ready

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

var (
	// ErrNoBasketsReady indicates the counter is zero.
	ErrNoBasketsReady = errors.New("ready: no baskets ready")
	// ErrInvalidIncrement indicates a non-positive increment.
	ErrInvalidIncrement = errors.New("ready: increment must be positive")
)

// Counter is a snapshot of the ready basket count.
type Counter struct {
	Qty       int64     `json:"qty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Add returns the counter raised by n baskets.
func (c Counter) Add(n int64) (Counter, error) {
	if n < 1 {
		return c, fmt.Errorf("%w: %d", ErrInvalidIncrement, n)
	}
	c.Qty += n
	return c, nil
}

// Take returns the counter lowered by one basket.
func (c Counter) Take() (Counter, error) {
	if c.Qty < 1 {
		return c, ErrNoBasketsReady
	}
	c.Qty--
	return c, nil
}

// Querier is satisfied by pgx transactions and pools.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Read returns the counter without locking. Display only.
func Read(ctx context.Context, q Querier) (Counter, error) {
	var c Counter
	err := q.QueryRow(ctx, `SELECT qty, updated_at FROM baskets_ready WHERE id = 1`).Scan(&c.Qty, &c.UpdatedAt)
	if err != nil {
		return Counter{}, fmt.Errorf("ready: read counter: %w", err)
	}
	return c, nil
}

// Lock reads the counter under FOR UPDATE. It must be the last row locked by a transaction.
func Lock(ctx context.Context, tx pgx.Tx) (Counter, error) {
	var c Counter
	err := tx.QueryRow(ctx, `SELECT qty, updated_at FROM baskets_ready WHERE id = 1 FOR UPDATE`).Scan(&c.Qty, &c.UpdatedAt)
	if err != nil {
		return Counter{}, fmt.Errorf("ready: lock counter: %w", err)
	}
	return c, nil
}

// Save writes a counter previously obtained through Lock in the same transaction.
func Save(ctx context.Context, tx pgx.Tx, c Counter) (Counter, error) {
	if c.Qty < 0 {
		return c, ErrNoBasketsReady
	}
	err := tx.QueryRow(ctx, `UPDATE baskets_ready SET qty = $1, updated_at = NOW() WHERE id = 1 RETURNING qty, updated_at`, c.Qty).
		Scan(&c.Qty, &c.UpdatedAt)
	if err != nil {
		return c, fmt.Errorf("ready: save counter: %w", err)
	}
	return c, nil
}
