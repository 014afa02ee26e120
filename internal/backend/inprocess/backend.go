// Package inprocess implements the in-process execution backend (spec.md
// §4.4): runs the handler directly in the host process, with a trivial
// workspace lease, host-type-selected UI, and a rolling execution-time
// window. It has no concurrency limit of its own; it is purely in-band with
// the caller.
package inprocess

import (
	"context"
	"os"

	"github.com/goatkit/pluginrt/internal/errtaxonomy"
	"github.com/goatkit/pluginrt/internal/invocation"
	"github.com/goatkit/pluginrt/internal/runner"
	"github.com/goatkit/pluginrt/internal/uifacade"
)

// Backend runs invocations synchronously in the calling goroutine.
type Backend struct {
	runner *runner.Runner
	stats  *rollingStats
}

// New builds a Backend bound to a Runner. r resolves handlers and drives
// the invocation lifecycle (internal/runner.Runner.Run); Backend adds the
// workspace lease, UI selection, and stats tracking spec.md §4.4 layers on
// top.
func New(r *runner.Runner) *Backend {
	return &Backend{runner: r, stats: newRollingStats(1000)}
}

// Execute runs req and records its duration into the rolling window. The
// workspace lease is a no-op for "local" workspaces (spec.md §4.4: "trivial
// for local", and an empty Type is treated as local); any other
// Workspace.Type is rejected with WORKSPACE_ERROR since this backend has no
// remote workspace support.
func (b *Backend) Execute(ctx context.Context, req invocation.Request) invocation.Result {
	if req.Workspace.Type != "" && req.Workspace.Type != "local" {
		return invocation.Result{Err: errtaxonomy.New(errtaxonomy.WorkspaceError, "unsupported workspace type "+req.Workspace.Type)}
	}
	ui := uifacade.ForHost(req.Descriptor.HostType, os.Stdout)
	if req.Descriptor.HostContext == nil {
		req.Descriptor.HostContext = map[string]any{}
	}
	req.Descriptor.HostContext["ui"] = ui

	result := b.runner.Run(ctx, req)
	b.stats.record(result.Meta.DurationMs)
	return result
}

// Stats returns the current avg/p95/p99 snapshot over the last 1000
// executions (spec.md §4.4).
func (b *Backend) Stats() Snapshot {
	return b.stats.snapshot()
}

// Healthy always reports true: the in-process backend has no subprocess to
// lose (spec.md §4.4: "Health is always true").
func (b *Backend) Healthy() bool { return true }
