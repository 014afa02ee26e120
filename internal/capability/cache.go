package capability

import (
	"context"
	"time"

	"github.com/goatkit/pluginrt/internal/permission"
)

// CacheShim gates the platform cache service by namespace (spec.md §4.3).
type CacheShim struct {
	spec    permission.CompiledSpec
	backend CacheBackend
}

func newCacheShim(spec permission.CompiledSpec, backend CacheBackend) *CacheShim {
	return &CacheShim{spec: spec, backend: backend}
}

func (s *CacheShim) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if s.backend == nil || !s.spec.CacheAllowed(key) {
		return nil, false, permission.Denied("platform.cache", key, "add a matching scope to platform.cache", s.spec.Raw().Platform.Cache.Scopes)
	}
	return s.backend.Get(ctx, key)
}

func (s *CacheShim) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if s.backend == nil || !s.spec.CacheAllowed(key) {
		return permission.Denied("platform.cache", key, "add a matching scope to platform.cache", s.spec.Raw().Platform.Cache.Scopes)
	}
	return s.backend.Set(ctx, key, value, ttl)
}

func (s *CacheShim) Delete(ctx context.Context, key string) error {
	if s.backend == nil || !s.spec.CacheAllowed(key) {
		return permission.Denied("platform.cache", key, "add a matching scope to platform.cache", s.spec.Raw().Platform.Cache.Scopes)
	}
	return s.backend.Delete(ctx, key)
}

// Clear requires an unrestricted cache grant (permission.CacheClearAllowed).
func (s *CacheShim) Clear(ctx context.Context) error {
	if s.backend == nil || !s.spec.CacheClearAllowed() {
		return permission.Denied("platform.cache.clear", "*", "platform.cache must be granted without scopes to clear", nil)
	}
	return s.backend.Clear(ctx)
}

// ZAdd adds member to the sorted set at key, gated by the same namespace
// check as Get/Set (spec.md §4.3: "sorted-set and atomic ops are gated by
// the same namespace check").
func (s *CacheShim) ZAdd(ctx context.Context, key string, member string, score float64) error {
	if s.backend == nil || !s.spec.CacheAllowed(key) {
		return permission.Denied("platform.cache", key, "add a matching scope to platform.cache", s.spec.Raw().Platform.Cache.Scopes)
	}
	return s.backend.ZAdd(ctx, key, member, score)
}

// ZRange returns the members of the sorted set at key between start and
// stop (inclusive), namespace-gated identically to ZAdd.
func (s *CacheShim) ZRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	if s.backend == nil || !s.spec.CacheAllowed(key) {
		return nil, permission.Denied("platform.cache", key, "add a matching scope to platform.cache", s.spec.Raw().Platform.Cache.Scopes)
	}
	return s.backend.ZRange(ctx, key, start, stop)
}

// ZRem removes member from the sorted set at key.
func (s *CacheShim) ZRem(ctx context.Context, key string, member string) error {
	if s.backend == nil || !s.spec.CacheAllowed(key) {
		return permission.Denied("platform.cache", key, "add a matching scope to platform.cache", s.spec.Raw().Platform.Cache.Scopes)
	}
	return s.backend.ZRem(ctx, key, member)
}

// Incr atomically adds delta to the integer stored at key, returning the
// resulting value.
func (s *CacheShim) Incr(ctx context.Context, key string, delta int64) (int64, error) {
	if s.backend == nil || !s.spec.CacheAllowed(key) {
		return 0, permission.Denied("platform.cache", key, "add a matching scope to platform.cache", s.spec.Raw().Platform.Cache.Scopes)
	}
	return s.backend.Incr(ctx, key, delta)
}
