package ipc

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"
)

// ProcessSpawner spawns one subprocess per worker, running command+args
// with "--plugin-id=<id>" appended so cmd/pluginworker knows which
// plugin's handlers to load. Spawn returns a concrete *HostConn rather
// than workerpool.Worker, so ipc stays free of a dependency on the backend
// layer; workerpool.ProcessSpawner adapts it to workerpool.Spawner, and
// workerpool depends on ipc, not the reverse.
type ProcessSpawner struct {
	Command       string
	Args          []string
	Adapter       AdapterDispatcher
	ReadyTimeout  time.Duration

	counter uint64
}

func NewProcessSpawner(command string, args []string, adapter AdapterDispatcher) *ProcessSpawner {
	return &ProcessSpawner{Command: command, Args: args, Adapter: adapter, ReadyTimeout: 10 * time.Second}
}

// Spawn starts a new worker process for pluginID.
func (s *ProcessSpawner) Spawn(ctx context.Context, pluginID string) (*HostConn, error) {
	n := atomic.AddUint64(&s.counter, 1)
	id := fmt.Sprintf("worker-%d", n)
	args := append(append([]string{}, s.Args...), "--plugin-id="+pluginID)
	return Spawn(ctx, id, s.Command, args, s.Adapter, s.ReadyTimeout)
}
