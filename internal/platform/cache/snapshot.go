package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

// Snapshot caches JSON read models under a version that writers bump to invalidate them.
// A nil Snapshot, or one without a client, always calls the loader.
type Snapshot struct {
	client    *redis.Client
	namespace string
	ttl       time.Duration
	group     singleflight.Group
}

// NewSnapshot builds a snapshot cache scoped to namespace.
func NewSnapshot(client *redis.Client, namespace string, ttl time.Duration) *Snapshot {
	return &Snapshot{client: client, namespace: namespace, ttl: ttl}
}

func (s *Snapshot) versionKey() string {
	return s.namespace + ":version"
}

// Version returns the current namespace version, initialising it when missing.
func (s *Snapshot) Version(ctx context.Context) (int64, error) {
	if s == nil || s.client == nil {
		return 0, nil
	}
	ver, err := s.client.Get(ctx, s.versionKey()).Int64()
	if errors.Is(err, redis.Nil) {
		if err := s.client.SetNX(ctx, s.versionKey(), 1, 0).Err(); err != nil {
			return 0, err
		}
		return 1, nil
	}
	if err != nil {
		return 0, err
	}
	return ver, nil
}

// Key composes a versioned cache key.
func (s *Snapshot) Key(ctx context.Context, parts ...string) (string, error) {
	joined := strings.Join(parts, ":")
	if s == nil || s.client == nil {
		return joined, nil
	}
	ver, err := s.Version(ctx)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s:%s:%d", s.namespace, joined, ver), nil
}

// FetchJSON decodes the cached value for parts into dest, populating it with loader on a miss.
// Concurrent misses on the same key share one loader call.
func (s *Snapshot) FetchJSON(ctx context.Context, dest any, loader func(context.Context) (any, error), parts ...string) error {
	if loader == nil {
		return errors.New("platform/cache: loader required")
	}
	if s == nil || s.client == nil {
		return decodeLoaded(ctx, dest, loader)
	}
	key, err := s.Key(ctx, parts...)
	if err != nil {
		return err
	}
	payload, err := s.client.Get(ctx, key).Bytes()
	if err == nil {
		return json.Unmarshal(payload, dest)
	}
	if !errors.Is(err, redis.Nil) {
		return err
	}

	resultChan := s.group.DoChan(key, func() (any, error) {
		value, err := loader(ctx)
		if err != nil {
			return nil, err
		}
		raw, err := json.Marshal(value)
		if err != nil {
			return nil, err
		}
		if err := s.client.Set(ctx, key, raw, s.ttl).Err(); err != nil {
			return nil, err
		}
		return raw, nil
	})
	select {
	case <-ctx.Done():
		return ctx.Err()
	case res := <-resultChan:
		if res.Err != nil {
			return res.Err
		}
		return json.Unmarshal(res.Val.([]byte), dest)
	}
}

// Bump invalidates every key of the namespace.
func (s *Snapshot) Bump(ctx context.Context) error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Incr(ctx, s.versionKey()).Err()
}

func decodeLoaded(ctx context.Context, dest any, loader func(context.Context) (any, error)) error {
	value, err := loader(ctx)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, dest)
}
