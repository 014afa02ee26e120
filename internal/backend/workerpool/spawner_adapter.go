package workerpool

import (
	"context"

	"github.com/goatkit/pluginrt/internal/ipc"
)

// ProcessSpawner adapts an *ipc.ProcessSpawner to the Spawner interface:
// ipc.ProcessSpawner.Spawn returns a concrete *ipc.HostConn so the ipc
// package need not depend on workerpool's Worker interface.
type ProcessSpawner struct {
	inner *ipc.ProcessSpawner
}

func NewProcessSpawner(inner *ipc.ProcessSpawner) *ProcessSpawner {
	return &ProcessSpawner{inner: inner}
}

func (s *ProcessSpawner) Spawn(ctx context.Context, pluginID string) (Worker, error) {
	return s.inner.Spawn(ctx, pluginID)
}
