package capability

import (
	"context"

	"github.com/goatkit/pluginrt/internal/errtaxonomy"
	"github.com/goatkit/pluginrt/internal/invocation"
)

// StateShim exposes a per-tenant, per-plugin key-value store with
// transparent key prefixing (spec.md §4.8: "keys are namespaced
// tenant:plugin:key so plugins can never collide").
type StateShim struct {
	prefix  string
	backend StateBackend
}

func newStateShim(desc invocation.Descriptor, backend StateBackend) *StateShim {
	tenant := desc.TenantID
	if tenant == "" {
		tenant = "default"
	}
	return &StateShim{prefix: tenant + ":" + desc.PluginID + ":", backend: backend}
}

func (s *StateShim) key(k string) string { return s.prefix + k }

func (s *StateShim) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if s.backend == nil {
		return nil, false, errtaxonomy.New(errtaxonomy.HandlerError, "no state backend configured")
	}
	return s.backend.Get(ctx, s.key(key))
}

func (s *StateShim) Set(ctx context.Context, key string, value []byte) error {
	if s.backend == nil {
		return errtaxonomy.New(errtaxonomy.HandlerError, "no state backend configured")
	}
	return s.backend.Set(ctx, s.key(key), value)
}

func (s *StateShim) Delete(ctx context.Context, key string) error {
	if s.backend == nil {
		return errtaxonomy.New(errtaxonomy.HandlerError, "no state backend configured")
	}
	return s.backend.Delete(ctx, s.key(key))
}

func (s *StateShim) Has(ctx context.Context, key string) (bool, error) {
	if s.backend == nil {
		return false, errtaxonomy.New(errtaxonomy.HandlerError, "no state backend configured")
	}
	return s.backend.Has(ctx, s.key(key))
}

// GetMany batch-reads keys, returning a map keyed by the caller's
// unprefixed key names.
func (s *StateShim) GetMany(ctx context.Context, keys []string) (map[string][]byte, error) {
	if s.backend == nil {
		return nil, errtaxonomy.New(errtaxonomy.HandlerError, "no state backend configured")
	}
	prefixed := make([]string, len(keys))
	unprefix := make(map[string]string, len(keys))
	for i, k := range keys {
		pk := s.key(k)
		prefixed[i] = pk
		unprefix[pk] = k
	}
	raw, err := s.backend.GetMany(ctx, prefixed)
	if err != nil {
		return nil, err
	}
	out := make(map[string][]byte, len(raw))
	for pk, v := range raw {
		out[unprefix[pk]] = v
	}
	return out, nil
}

// SetMany batch-writes entries, keyed by the caller's unprefixed key names.
func (s *StateShim) SetMany(ctx context.Context, entries map[string][]byte) error {
	if s.backend == nil {
		return errtaxonomy.New(errtaxonomy.HandlerError, "no state backend configured")
	}
	prefixed := make(map[string][]byte, len(entries))
	for k, v := range entries {
		prefixed[s.key(k)] = v
	}
	return s.backend.SetMany(ctx, prefixed)
}
