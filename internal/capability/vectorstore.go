package capability

import (
	"context"
	"strings"

	"github.com/goatkit/pluginrt/internal/permission"
)

// VectorStoreShim gates the platform vector store by namespace, prefixing
// IDs on write and stripping them on read (spec.md §4.3).
type VectorStoreShim struct {
	spec    permission.CompiledSpec
	backend VectorStoreBackend
}

func newVectorStoreShim(spec permission.CompiledSpec, backend VectorStoreBackend) *VectorStoreShim {
	return &VectorStoreShim{spec: spec, backend: backend}
}

func (s *VectorStoreShim) namespaced(id string) string {
	ns := s.spec.VectorNamespace()
	if ns == "" {
		return id
	}
	return ns + ":" + id
}

// stripNamespace undoes namespaced, returning id as the handler originally
// supplied it (spec.md §4.3: "on read ... the prefix is stripped for the
// handler").
func (s *VectorStoreShim) stripNamespace(id string) string {
	ns := s.spec.VectorNamespace()
	if ns == "" {
		return id
	}
	return strings.TrimPrefix(id, ns+":")
}

func (s *VectorStoreShim) Upsert(ctx context.Context, id string, vector []float32, metadata map[string]any) error {
	if s.backend == nil || !s.spec.VectorGranted() {
		return permission.Denied("platform.vectorStore", id, "grant platform.vectorStore", nil)
	}
	return s.backend.Upsert(ctx, s.namespaced(id), vector, metadata)
}

func (s *VectorStoreShim) Query(ctx context.Context, vector []float32, topK int) ([]VectorRecord, error) {
	if s.backend == nil || !s.spec.VectorGranted() {
		return nil, permission.Denied("platform.vectorStore", "*", "grant platform.vectorStore", nil)
	}
	records, err := s.backend.Query(ctx, vector, topK)
	if err != nil {
		return nil, err
	}
	out := records[:0:0]
	for _, r := range records {
		if s.spec.VectorIDAllowed(r.ID) {
			r.ID = s.stripNamespace(r.ID)
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *VectorStoreShim) Delete(ctx context.Context, id string) error {
	if s.backend == nil || !s.spec.VectorGranted() {
		return permission.Denied("platform.vectorStore", id, "grant platform.vectorStore", nil)
	}
	return s.backend.Delete(ctx, s.namespaced(id))
}

// Count returns the backend's total record count. This is best-effort
// global: a namespace-scoped grant does not get a namespace-filtered count,
// since the abstract VectorStoreBackend has no namespace-aware count
// primitive (Open Question resolved in DESIGN.md).
func (s *VectorStoreShim) Count(ctx context.Context) (int64, error) {
	if s.backend == nil || !s.spec.VectorGranted() {
		return 0, permission.Denied("platform.vectorStore", "*", "grant platform.vectorStore", nil)
	}
	return s.backend.Count(ctx)
}
