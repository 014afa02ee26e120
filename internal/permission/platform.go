package permission

import (
	"strings"

	"github.com/goatkit/pluginrt/pkg/plugin"
)

// CacheAllowed reports whether key may be used under the cache grant: it
// must be prefixed with one of the granted namespaces, unless the grant is
// unrestricted (Granted=true, no Scopes).
func (c CompiledSpec) CacheAllowed(key string) bool {
	return namespaceAllowed(c.platform.Cache, key)
}

// CacheClearAllowed reports whether cache.clear may run: spec.md §4.3
// requires unrestricted cache permission for clear, full stop — a
// namespace-scoped grant never allows clear, even of its own namespace
// (Open Question resolved in DESIGN.md: pattern-scoped clears are refused).
func (c CompiledSpec) CacheClearAllowed() bool {
	return c.platform.Cache.Granted && len(c.platform.Cache.Scopes) == 0
}

// StorageAllowed reports whether path is covered by an allowed base path.
func (c CompiledSpec) StorageAllowed(path string) bool {
	return namespaceAllowed(c.platform.Storage, path)
}

// VectorNamespace returns the first allowed vector-store namespace, used to
// prefix IDs on write (spec.md §4.3). Empty string if the grant is
// unrestricted or ungranted; callers must check VectorGranted first.
func (c CompiledSpec) VectorNamespace() string {
	if len(c.platform.VectorStore.Scopes) == 0 {
		return ""
	}
	return c.platform.VectorStore.Scopes[0]
}

// VectorGranted reports whether the vectorStore service is granted at all.
func (c CompiledSpec) VectorGranted() bool { return c.platform.VectorStore.Granted }

// VectorIDAllowed reports whether id (as stored, i.e. already prefixed)
// falls within an allowed namespace, for filtering read results.
func (c CompiledSpec) VectorIDAllowed(id string) bool {
	if !c.platform.VectorStore.Granted {
		return false
	}
	if len(c.platform.VectorStore.Scopes) == 0 {
		return true
	}
	for _, ns := range c.platform.VectorStore.Scopes {
		if strings.HasPrefix(id, ns) {
			return true
		}
	}
	return false
}

// LLMModelAllowed reports whether model may be used: unrestricted grants
// pass everything through, restricted grants check the allow list.
func (c CompiledSpec) LLMModelAllowed(model string) bool {
	if !c.platform.LLM.Granted {
		return false
	}
	if len(c.platform.LLM.Scopes) == 0 {
		return true
	}
	for _, m := range c.platform.LLM.Scopes {
		if m == model {
			return true
		}
	}
	return false
}

// EmbeddingsGranted, AnalyticsGranted, EventBusGranted, LoggerGranted report
// the pass-through/denied decision for the binary-gated services (spec.md
// §4.3: "binary permission; if granted, pass through with minimal
// wrapping").
func (c CompiledSpec) EmbeddingsGranted() bool { return c.platform.Embeddings.Granted }
func (c CompiledSpec) AnalyticsGranted() bool  { return c.platform.Analytics.Granted }
func (c CompiledSpec) EventBusGranted() bool   { return c.platform.EventBus.Granted }
func (c CompiledSpec) LoggerGranted() bool     { return c.platform.Logger.Granted }

func namespaceAllowed(grant plugin.ServiceGrant, key string) bool {
	if !grant.Granted {
		return false
	}
	if len(grant.Scopes) == 0 {
		return true
	}
	for _, ns := range grant.Scopes {
		if strings.HasPrefix(key, ns) {
			return true
		}
	}
	return false
}
