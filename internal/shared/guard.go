package shared

import (
	"context"
	"errors"
	"log/slog"
)

// IdempotencyPort is the subset of IdempotencyStore used by handlers.
type IdempotencyPort interface {
	CheckAndInsert(ctx context.Context, key, module string) error
	Delete(ctx context.Context, key string) error
}

// RunOnce claims key for module and runs fn. The key is released when fn fails so the
// client may retry. An empty key or nil store runs fn unguarded.
func RunOnce(ctx context.Context, store IdempotencyPort, logger *slog.Logger, key, module string, fn func() error) error {
	if key == "" || store == nil {
		return fn()
	}
	if err := store.CheckAndInsert(ctx, key, module); err != nil {
		return err
	}
	if err := fn(); err != nil {
		if delErr := store.Delete(context.WithoutCancel(ctx), key); delErr != nil && logger != nil {
			logger.Warn("release idempotency key", slog.String("module", module), slog.Any("error", delErr))
		}
		return err
	}
	return nil
}

// IsIdempotencyConflict reports whether err is a replayed idempotency key.
func IsIdempotencyConflict(err error) bool {
	return errors.Is(err, ErrIdempotencyConflict)
}
