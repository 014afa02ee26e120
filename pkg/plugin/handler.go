// Package plugin defines the types a plugin author links against: the
// Handler contract, the registration a plugin exposes to the host, and the
// permission specification that governs what a handler is allowed to touch.
//
// The runtime engine that resolves, schedules, and sandboxes handlers lives
// in internal/; this package is the stable surface plugin code compiles
// against, whether the handler is linked directly into the host binary or
// served from a separate extension process.
package plugin

import (
	"context"
	"encoding/json"
)

// Handler is the single contract every plugin-facing operation implements.
// Execute receives a context.Context carrying the capability-gated context
// (built by internal/capability and attached with capability.Attach), since
// this package cannot import the internal capability types without creating
// an import cycle; handlers retrieve the *capability.Context with
// capability.FromContext.
type Handler interface {
	Execute(ctx context.Context, input json.RawMessage) (any, error)
}

// HandlerFunc adapts a plain function to Handler.
type HandlerFunc func(ctx context.Context, input json.RawMessage) (any, error)

func (f HandlerFunc) Execute(ctx context.Context, input json.RawMessage) (any, error) {
	return f(ctx, input)
}

// Identity is the stable, versioned name of a plugin.
type Identity struct {
	ID      string
	Version string
}

// HandlerSpec describes one resolvable handler endpoint a plugin exposes.
// Ref is the string used as handlerRef in invocation requests; it encodes a
// path and optional export name for extension plugins, or is simply a
// registry key for compiled-in handlers.
type HandlerSpec struct {
	Ref         string
	Description string
}

// JobSpec is a background job or recurring schedule a plugin declares at
// registration time, mirroring goatflow's pkg/plugin.JobSpec.
type JobSpec struct {
	ID          string
	Handler     string
	Schedule    string // 5-field cron or interval literal ("5m")
	Description string
	Enabled     bool
	Timeout     string // Go duration string, e.g. "300s"
}

// Registration is what a plugin returns to the host at load time: its
// identity, its permission requirements, and everything it exposes.
type Registration struct {
	Identity    Identity
	Description string
	Author      string
	License     string
	Homepage    string

	Handlers []HandlerSpec
	Jobs     []JobSpec

	MinHostVersion string
	Permissions    Spec
}
