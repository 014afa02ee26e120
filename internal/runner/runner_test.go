package runner

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goatkit/pluginrt/internal/capability"
	"github.com/goatkit/pluginrt/internal/errtaxonomy"
	"github.com/goatkit/pluginrt/internal/invocation"
	"github.com/goatkit/pluginrt/pkg/plugin"
)

func helloHandler(ctx context.Context, input json.RawMessage) (any, error) {
	return map[string]any{"data": "ok"}, nil
}

func TestRunHappyPathInProcess(t *testing.T) {
	reg := NewRegistry()
	reg.Register("handlers/hello", plugin.HandlerFunc(helloHandler))
	r := New(reg, capability.Deps{}, nil)

	req := invocation.Request{
		ExecutionID: "e1",
		Descriptor:  invocation.Descriptor{HostType: invocation.HostCLI, PluginID: "p1"},
		HandlerRef:  "handlers/hello",
		Input:       json.RawMessage(`{}`),
	}

	res := r.Run(context.Background(), req)

	require.True(t, res.Ok)
	assert.Nil(t, res.Err)
	assert.GreaterOrEqual(t, res.Meta.DurationMs, int64(0))
	assert.Equal(t, invocation.HostCLI, res.Meta.Host)
	data, ok := res.Data.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "ok", data["data"])
}

func TestRunFailsOnUnknownHandler(t *testing.T) {
	reg := NewRegistry()
	r := New(reg, capability.Deps{}, nil)

	res := r.Run(context.Background(), invocation.Request{
		HandlerRef: "handlers/missing",
		Input:      json.RawMessage(`{}`),
	})

	require.False(t, res.Ok)
	assert.Equal(t, errtaxonomy.HandlerNotFound, errtaxonomy.CodeOf(res.Err))
}

// TestRunAbortsBeforeDispatchOnCancelledContext covers spec.md §8 property
// 9: asserting the signal before the call produces ABORTED without
// starting any handler, and no ok:true result is emitted.
func TestRunAbortsBeforeDispatchOnCancelledContext(t *testing.T) {
	reg := NewRegistry()
	started := false
	reg.Register("handlers/hello", plugin.HandlerFunc(func(ctx context.Context, input json.RawMessage) (any, error) {
		started = true
		return map[string]any{"data": "ok"}, nil
	}))
	r := New(reg, capability.Deps{}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := r.Run(ctx, invocation.Request{
		HandlerRef: "handlers/hello",
		Input:      json.RawMessage(`{}`),
	})

	require.False(t, res.Ok)
	assert.Equal(t, errtaxonomy.Aborted, errtaxonomy.CodeOf(res.Err))
	assert.False(t, started, "handler must not start once the signal is asserted before dispatch")
}

func TestRunRejectsExcessiveInvocationDepth(t *testing.T) {
	reg := NewRegistry()
	r := New(reg, capability.Deps{}, nil)

	res := r.Run(context.Background(), invocation.Request{
		Descriptor: invocation.Descriptor{InvocationDepth: invocation.MaxInvocationDepth + 1},
		HandlerRef: "handlers/anything",
		Input:      json.RawMessage(`{}`),
	})

	require.False(t, res.Ok)
	assert.Equal(t, errtaxonomy.ValidationError, errtaxonomy.CodeOf(res.Err))
}

func TestRunRecoversHandlerPanic(t *testing.T) {
	reg := NewRegistry()
	reg.Register("handlers/panics", plugin.HandlerFunc(func(ctx context.Context, input json.RawMessage) (any, error) {
		panic("boom")
	}))
	r := New(reg, capability.Deps{}, nil)

	res := r.Run(context.Background(), invocation.Request{
		HandlerRef: "handlers/panics",
		Input:      json.RawMessage(`{}`),
	})

	require.False(t, res.Ok)
	assert.Equal(t, errtaxonomy.HandlerError, errtaxonomy.CodeOf(res.Err))
}

func TestRunDrainsCleanupsInLIFOOrder(t *testing.T) {
	reg := NewRegistry()
	var order []int
	reg.Register("handlers/cleanup", plugin.HandlerFunc(func(ctx context.Context, input json.RawMessage) (any, error) {
		capCtx, ok := capability.FromContext(ctx)
		if !ok {
			t.Fatal("expected capability context to be attached")
		}
		capCtx.OnCleanup(func(context.Context) error { order = append(order, 1); return nil })
		capCtx.OnCleanup(func(context.Context) error { order = append(order, 2); return nil })
		return nil, nil
	}))
	r := New(reg, capability.Deps{}, nil)

	res := r.Run(context.Background(), invocation.Request{
		HandlerRef: "handlers/cleanup",
		Input:      json.RawMessage(`{}`),
	})

	require.True(t, res.Ok)
	assert.Equal(t, []int{2, 1}, order)
}

func TestRunStampsDurationEvenOnFailure(t *testing.T) {
	reg := NewRegistry()
	r := New(reg, capability.Deps{}, nil)

	start := time.Now()
	res := r.Run(context.Background(), invocation.Request{
		HandlerRef: "handlers/missing",
		Input:      json.RawMessage(`{}`),
	})

	assert.False(t, res.Meta.ExecutedAt.Before(start.Add(-time.Second)))
	assert.GreaterOrEqual(t, res.Meta.DurationMs, int64(0))
}
