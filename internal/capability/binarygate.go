package capability

import (
	"context"

	"github.com/goatkit/pluginrt/internal/permission"
)

// BinaryGatedShim represents a platform service gated only by an all-or-
// nothing grant, with no namespace or scope concept (spec.md §4.3:
// embeddings is a binary permission; if granted, pass through with minimal
// wrapping). It carries no backend of its own: embeddings generation is
// expected to be layered on top of the LLM or a dedicated backend the host
// wires in; this shim only answers whether the grant exists, for handler
// code (or a higher-level SDK built on this context) to gate on.
type BinaryGatedShim struct {
	granted bool
}

func newBinaryGatedShim(granted bool) *BinaryGatedShim {
	return &BinaryGatedShim{granted: granted}
}

func (s *BinaryGatedShim) Granted() bool { return s.granted }

// BinaryGatedAnalytics wraps the Analytics backend behind a binary grant
// check (spec.md §4.3).
type BinaryGatedAnalytics struct {
	granted bool
	backend Analytics
}

func newBinaryGatedAnalytics(granted bool, backend Analytics) *BinaryGatedAnalytics {
	return &BinaryGatedAnalytics{granted: granted, backend: backend}
}

func (s *BinaryGatedAnalytics) Granted() bool { return s.granted }

func (s *BinaryGatedAnalytics) Record(ctx context.Context, event string, fields map[string]any) error {
	if s.backend == nil || !s.granted {
		return permission.Denied("platform.analytics", event, "grant platform.analytics", nil)
	}
	s.backend.Record(ctx, event, fields)
	return nil
}
