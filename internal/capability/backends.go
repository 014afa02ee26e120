// Package capability builds the immutable, permission-gated bundle of APIs
// passed to a handler (spec.md §4.2): filesystem, fetch, environment, and
// platform-service shims, plus the plugin-level operations of §4.8 (state,
// artifacts, shell, events, invoke, jobs).
//
// The concrete storage/cache/vectorStore/LLM/eventBus/analytics
// implementations are explicitly out of scope (spec.md §1 Non-goals); this
// package only defines the abstract interfaces the shims wrap and gate.
package capability

import (
	"context"
	"time"
)

// CacheBackend is the abstract key-value cache the Cache shim wraps. The
// sorted-set and atomic-counter methods are gated by the same namespace
// check as Get/Set (spec.md §4.3).
type CacheBackend interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Clear(ctx context.Context) error

	ZAdd(ctx context.Context, key string, member string, score float64) error
	ZRange(ctx context.Context, key string, start, stop int64) ([]string, error)
	ZRem(ctx context.Context, key string, member string) error
	Incr(ctx context.Context, key string, delta int64) (int64, error)
}

// StorageBackend is the abstract blob store the Storage shim wraps.
type StorageBackend interface {
	Read(ctx context.Context, path string) ([]byte, error)
	Write(ctx context.Context, path string, data []byte) error
	Delete(ctx context.Context, path string) error
	List(ctx context.Context, prefix string) ([]string, error)
}

// VectorRecord is one entry returned by a VectorStoreBackend query.
type VectorRecord struct {
	ID       string
	Vector   []float32
	Metadata map[string]any
	Score    float64
}

// VectorStoreBackend is the abstract embeddings index the VectorStore shim
// wraps. IDs crossing this interface are already namespace-prefixed by the
// shim; the backend itself is namespace-agnostic.
type VectorStoreBackend interface {
	Upsert(ctx context.Context, id string, vector []float32, metadata map[string]any) error
	Query(ctx context.Context, vector []float32, topK int) ([]VectorRecord, error)
	Delete(ctx context.Context, id string) error
	Count(ctx context.Context) (int64, error)
}

// LLMBackend is the abstract completion/chat provider the LLM shim wraps.
type LLMBackend interface {
	Complete(ctx context.Context, model string, prompt string, opts map[string]any) (string, error)
}

// EventBus is the abstract pub-sub the Events shim wraps.
type EventBus interface {
	Publish(ctx context.Context, topic string, payload []byte) error
}

// Analytics is the abstract telemetry sink used for security-event logging
// (spec.md §4.2.1: artifact-directory bypass attempts) and handler-emitted
// analytics events.
type Analytics interface {
	Record(ctx context.Context, event string, fields map[string]any)
}

// StateBackend is the abstract key-value store the State API (spec.md
// §4.8) persists transparently-prefixed keys into.
type StateBackend interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	Has(ctx context.Context, key string) (bool, error)
	GetMany(ctx context.Context, keys []string) (map[string][]byte, error)
	SetMany(ctx context.Context, entries map[string][]byte) error
}
