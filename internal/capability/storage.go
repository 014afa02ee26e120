package capability

import (
	"context"

	"github.com/goatkit/pluginrt/internal/permission"
)

// StorageShim gates the platform blob storage service by path prefix
// (spec.md §4.3).
type StorageShim struct {
	spec    permission.CompiledSpec
	backend StorageBackend
}

func newStorageShim(spec permission.CompiledSpec, backend StorageBackend) *StorageShim {
	return &StorageShim{spec: spec, backend: backend}
}

func (s *StorageShim) Read(ctx context.Context, path string) ([]byte, error) {
	if s.backend == nil || !s.spec.StorageAllowed(path) {
		return nil, permission.Denied("platform.storage", path, "add a matching scope to platform.storage", s.spec.Raw().Platform.Storage.Scopes)
	}
	return s.backend.Read(ctx, path)
}

func (s *StorageShim) Write(ctx context.Context, path string, data []byte) error {
	if s.backend == nil || !s.spec.StorageAllowed(path) {
		return permission.Denied("platform.storage", path, "add a matching scope to platform.storage", s.spec.Raw().Platform.Storage.Scopes)
	}
	return s.backend.Write(ctx, path, data)
}

func (s *StorageShim) Delete(ctx context.Context, path string) error {
	if s.backend == nil || !s.spec.StorageAllowed(path) {
		return permission.Denied("platform.storage", path, "add a matching scope to platform.storage", s.spec.Raw().Platform.Storage.Scopes)
	}
	return s.backend.Delete(ctx, path)
}

// List returns keys under prefix, filtered to those the grant still allows
// (a scoped grant could otherwise leak sibling-namespace keys through a
// shared prefix).
func (s *StorageShim) List(ctx context.Context, prefix string) ([]string, error) {
	if s.backend == nil || !s.spec.StorageAllowed(prefix) {
		return nil, permission.Denied("platform.storage", prefix, "add a matching scope to platform.storage", s.spec.Raw().Platform.Storage.Scopes)
	}
	keys, err := s.backend.List(ctx, prefix)
	if err != nil {
		return nil, err
	}
	out := keys[:0:0]
	for _, k := range keys {
		if s.spec.StorageAllowed(k) {
			out = append(out, k)
		}
	}
	return out, nil
}
