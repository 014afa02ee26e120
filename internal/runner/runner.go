package runner

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/goatkit/pluginrt/internal/capability"
	"github.com/goatkit/pluginrt/internal/errtaxonomy"
	"github.com/goatkit/pluginrt/internal/invocation"
	"github.com/goatkit/pluginrt/internal/permission"
	"github.com/goatkit/pluginrt/internal/trace"
	"github.com/goatkit/pluginrt/pkg/plugin"
)

// Runner drives one invocation end to end against a Registry (spec.md
// §4.1): resolve, build the capability context, invoke, drain cleanups,
// stamp metadata.
type Runner struct {
	registry        *Registry
	deps            capability.Deps
	tracer          trace.Tracer
	cleanupTimeout  time.Duration
	logger          *slog.Logger
}

// New builds a Runner bound to registry and deps. tracer may be nil, in
// which case a no-op tracer is used.
func New(registry *Registry, deps capability.Deps, tracer trace.Tracer) *Runner {
	if tracer == nil {
		tracer = trace.NewNoopTracer()
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		registry:       registry,
		deps:           deps,
		tracer:         tracer,
		cleanupTimeout: capability.DefaultCleanupTimeout,
		logger:         logger,
	}
}

// Run executes req's handler and returns a Result carrying either the
// handler's data or a classified error, with Meta always stamped by the
// runner regardless of what the handler itself returned (spec.md §4.1 step
// 5b: "standard fields overwriting any custom ones").
func (r *Runner) Run(ctx context.Context, req invocation.Request) invocation.Result {
	start := time.Now()

	meta := invocation.Metadata{
		PluginID:      req.Descriptor.PluginID,
		PluginVersion: req.Descriptor.PluginVersion,
		HandlerID:     req.HandlerRef,
		Host:          req.Descriptor.HostType,
		TenantID:      req.Descriptor.TenantID,
		RequestID:     req.Descriptor.RequestID,
	}

	if req.Descriptor.InvocationDepth > invocation.MaxInvocationDepth {
		return r.fail(start, meta, errtaxonomy.New(errtaxonomy.ValidationError, "invocation depth exceeds limit"))
	}

	handler, err := r.registry.Resolve(req.HandlerRef)
	if err != nil {
		return r.fail(start, meta, err)
	}

	compiled, err := permission.Compile(req.Descriptor.Permissions)
	if err != nil {
		return r.fail(start, meta, errtaxonomy.Wrap(errtaxonomy.PermissionDenied, "compile permission spec", err))
	}

	ctxName := req.Descriptor.PluginID + "." + req.HandlerRef
	tctx, tc := r.tracer.Start(ctx, ctxName, map[string]any{
		"plugin.id":      req.Descriptor.PluginID,
		"handler.ref":    req.HandlerRef,
		"request.id":     req.Descriptor.RequestID,
	})

	capCtx := capability.Build(req.Descriptor, req.ExecutionID, compiled, r.deps, tc)
	execCtx := capability.Attach(tctx, capCtx)

	select {
	case <-ctx.Done():
		capCtx.Cleanups().Run(context.WithoutCancel(ctx), r.cleanupTimeout, r.logger)
		tc.End(ctx.Err())
		return r.fail(start, meta, errtaxonomy.New(errtaxonomy.Aborted, "invocation cancelled before dispatch"))
	default:
	}

	var (
		data    any
		handErr error
	)
	func() {
		defer func() {
			if rec := recover(); rec != nil {
				handErr = errtaxonomy.New(errtaxonomy.HandlerError, "handler panicked")
			}
		}()
		data, handErr = handler.Execute(execCtx, req.Input)
	}()

	capCtx.Cleanups().Run(context.WithoutCancel(ctx), r.cleanupTimeout, r.logger)

	tc.End(handErr)

	meta.ExecutedAt = start
	meta.DurationMs = time.Since(start).Milliseconds()

	if handErr != nil {
		return invocation.Result{Ok: false, Err: normalize(handErr), Meta: meta}
	}
	return invocation.Result{Ok: true, Data: data, Meta: meta}
}

func (r *Runner) fail(start time.Time, meta invocation.Metadata, err error) invocation.Result {
	meta.ExecutedAt = start
	meta.DurationMs = time.Since(start).Milliseconds()
	return invocation.Result{Ok: false, Err: normalize(err), Meta: meta}
}

// normalize ensures every error leaving the runner is an *errtaxonomy.Error,
// wrapping anything else as HandlerError (spec.md §4.1 step 5c).
func normalize(err error) error {
	if _, ok := err.(*errtaxonomy.Error); ok {
		return err
	}
	return errtaxonomy.Wrap(errtaxonomy.HandlerError, err.Error(), err)
}

var _ plugin.Handler = plugin.HandlerFunc(nil)

// marshalInput is a convenience used by hosts constructing a Request from a
// decoded JSON body rather than raw bytes.
func marshalInput(v any) (json.RawMessage, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, errtaxonomy.Wrap(errtaxonomy.ValidationError, "marshal input", err)
	}
	return b, nil
}
