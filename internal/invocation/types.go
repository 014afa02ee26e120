// Package invocation defines the wire- and call-level data model shared by
// the runner, both backends, the subprocess IPC layer, and the scheduler:
// Descriptor, Request, Result, and the auto-injected Metadata (spec.md §3,
// §6).
package invocation

import (
	"encoding/json"
	"time"

	"github.com/goatkit/pluginrt/pkg/plugin"
)

// HostType identifies the kind of external caller that originated an
// invocation. It flows into Metadata.Host and affects UI facade selection
// in the in-process backend (spec.md §4.4).
type HostType string

const (
	HostCLI      HostType = "cli"
	HostREST     HostType = "rest"
	HostWS       HostType = "ws"
	HostWorkflow HostType = "workflow"
	HostWebhook  HostType = "webhook"
	HostJob      HostType = "job"
)

// MaxInvocationDepth bounds cross-plugin invoke chains (spec.md §9); the
// runner rejects any descriptor with InvocationDepth > this before
// execution.
const MaxInvocationDepth = 3

// Descriptor is the immutable per-invocation metadata carried alongside a
// request: identity, host context, and the already-resolved permission
// spec the capability context will be built from.
type Descriptor struct {
	HostType         HostType
	PluginID         string
	PluginVersion    string
	RequestID        string
	ParentRequestID  string
	TenantID         string
	InvocationDepth  int
	Cwd              string
	Outdir           string
	Permissions      plugin.Spec
	HostContext      map[string]any
}

// Request is the value type passed into a backend: what to run, with what
// input, against which descriptor, rooted at which plugin and workspace.
type Request struct {
	ExecutionID string
	Descriptor  Descriptor
	PluginRoot  string
	HandlerRef  string
	Input       json.RawMessage
	Workspace   Workspace
}

// Workspace identifies the kind of working-directory lease a request needs.
// The in-process backend treats "local" as a no-op lease; the worker-pool
// backend may use it to decide bind-mount or copy semantics for extension
// runtimes.
type Workspace struct {
	Type string // "local" is the only kind the core backends interpret today
}

// Metadata is auto-injected by the runner after handler completion. These
// fields always overwrite any same-named fields a handler returns in its
// own result payload (spec.md §3, Execution Metadata; §6, Result metadata).
type Metadata struct {
	ExecutedAt    time.Time `json:"executedAt"`
	DurationMs    int64     `json:"duration"`
	PluginID      string    `json:"pluginId"`
	PluginVersion string    `json:"pluginVersion"`
	HandlerID     string    `json:"handlerId"`
	Host          HostType  `json:"host"`
	TenantID      string    `json:"tenantId,omitempty"`
	RequestID     string    `json:"requestId"`
}

// Result is what a backend returns for one invocation. Exactly one of Data
// or Err is meaningful, selected by Ok.
type Result struct {
	Ok       bool
	Data     any
	Err      error
	Meta     Metadata
}
