package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrOperationFailed is returned when a transaction keeps conflicting after all retries.
var ErrOperationFailed = errors.New("platform/db: operation failed")

// DefaultMaxRetries bounds the retries of a conflicting transaction.
const DefaultMaxRetries = 3

const (
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
	codeLockNotAvailable     = "55P03"
	codeUniqueViolation      = "23505"
)

// WithTx executes a function within a single read-committed transaction.
// Callers serialise conflicting work with explicit row locks.
func WithTx(ctx context.Context, pool *pgxpool.Pool, fn func(pgx.Tx) error) error {
	tx, err := pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("platform/db: begin tx: %w", err)
	}

	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("platform/db: commit tx: %w", err)
	}

	return nil
}

// Runner runs transactions and retries the ones that fail on a transient conflict.
type Runner struct {
	pool       *pgxpool.Pool
	maxRetries int
	onConflict func(code string)
}

// NewRunner constructs a Runner. A negative maxRetries disables retries.
func NewRunner(pool *pgxpool.Pool, maxRetries int) *Runner {
	return &Runner{pool: pool, maxRetries: maxRetries}
}

// OnConflict registers a hook invoked with the SQLSTATE of every conflicting attempt.
func (r *Runner) OnConflict(fn func(code string)) {
	r.onConflict = fn
}

// WithTx runs fn in a transaction, retrying serialization failures and deadlocks.
func (r *Runner) WithTx(ctx context.Context, fn func(pgx.Tx) error) error {
	return Retry(ctx, r.maxRetries, r.onConflict, func() error {
		return WithTx(ctx, r.pool, fn)
	})
}

// Retry calls fn until it succeeds, fails with a non-transient error, or the retries run out.
// Exhausted retries surface as ErrOperationFailed.
func Retry(ctx context.Context, maxRetries int, onConflict func(code string), fn func() error) error {
	if maxRetries < 0 {
		maxRetries = 0
	}
	var err error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		err = fn()
		code, transient := TransientCode(err)
		if !transient {
			return err
		}
		if onConflict != nil {
			onConflict(code)
		}
		if attempt == maxRetries {
			break
		}
		if waitErr := wait(ctx, backoff(attempt)); waitErr != nil {
			return waitErr
		}
	}
	return fmt.Errorf("%w: %w", ErrOperationFailed, err)
}

// TransientCode reports whether err is a conflict worth retrying and its SQLSTATE.
func TransientCode(err error) (string, bool) {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return "", false
	}
	switch pgErr.Code {
	case codeSerializationFailure, codeDeadlockDetected, codeLockNotAvailable:
		return pgErr.Code, true
	default:
		return pgErr.Code, false
	}
}

// IsUniqueViolation reports whether err violates the named unique constraint.
// An empty constraint matches any unique violation.
func IsUniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != codeUniqueViolation {
		return false
	}
	return constraint == "" || pgErr.ConstraintName == constraint
}

func backoff(attempt int) time.Duration {
	return time.Duration(attempt+1) * 20 * time.Millisecond
}

func wait(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
