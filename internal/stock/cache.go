package stock

import (
	"context"
	"log/slog"
)

// cached serves a display read model through the snapshot cache, falling back to the
// loader when the cache is unavailable.
func cached[T any](ctx context.Context, s *Service, loader func(context.Context) (T, error), parts ...string) (T, error) {
	if s.cache == nil {
		return loader(ctx)
	}
	var (
		out     T
		loadErr error
	)
	err := s.cache.FetchJSON(ctx, &out, func(ctx context.Context) (any, error) {
		value, err := loader(ctx)
		loadErr = err
		return value, err
	}, parts...)
	if err == nil {
		return out, nil
	}
	if loadErr != nil || ctx.Err() != nil {
		var zero T
		return zero, err
	}
	s.logger.Warn("stock snapshot cache unavailable", slog.Any("error", err))
	return loader(ctx)
}
