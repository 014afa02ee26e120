// Command pluginworker is the subprocess entrypoint the worker-pool backend
// spawns (spec.md §4.5, §4.6). It speaks the newline-delimited JSON IPC
// protocol over its own stdin/stdout: reads execute/health/shutdown frames,
// writes back result/error/healthOk frames, and exits on a graceful
// shutdown request or when stdin closes.
//
// A real deployment links this binary against the same handler packages
// registered with the in-process backend, via Handlers below, so both
// backends resolve identical handlerRefs.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/goatkit/pluginrt/internal/capability"
	"github.com/goatkit/pluginrt/internal/errtaxonomy"
	"github.com/goatkit/pluginrt/internal/invocation"
	"github.com/goatkit/pluginrt/internal/ipc"
	"github.com/goatkit/pluginrt/internal/runner"
	"github.com/goatkit/pluginrt/internal/trace"
	"github.com/goatkit/pluginrt/pkg/plugin"
)

// Handlers is the compiled-in handler table this worker binary serves.
// Real deployments replace this with an init() registration matching their
// plugin's Registration.Handlers.
var Handlers = map[string]plugin.Handler{}

func main() {
	pluginID := flag.String("plugin-id", "", "plugin identity this worker serves")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))
	logger.Info("pluginworker starting", "pid", os.Getpid(), "plugin", *pluginID)

	registry := runner.NewRegistry()
	for ref, h := range Handlers {
		registry.Register(ref, h)
	}

	r := runner.New(registry, capability.Deps{Logger: logger}, trace.NewNoopTracer())

	writer := ipc.NewFrameWriter(os.Stdout)
	reader := ipc.NewFrameReader(os.Stdin)

	if err := writer.Send(ipc.KindReady, ipc.ReadyPayload{PID: os.Getpid()}); err != nil {
		logger.Error("failed to send ready frame", "error", err)
		os.Exit(1)
	}

	for {
		env, err := reader.Next()
		if err != nil {
			logger.Info("host connection closed, exiting", "error", err)
			return
		}

		switch env.Kind {
		case ipc.KindExecute:
			handleExecute(r, writer, env.Payload, logger)
		case ipc.KindHealth:
			_ = writer.Send(ipc.KindHealthOK, struct{}{})
		case ipc.KindShutdown:
			var p ipc.ShutdownPayload
			_ = json.Unmarshal(env.Payload, &p)
			logger.Info("shutdown requested", "graceful", p.Graceful)
			return
		}
	}
}

func handleExecute(r *runner.Runner, writer *ipc.FrameWriter, raw json.RawMessage, logger *slog.Logger) {
	var p ipc.ExecutePayload
	if err := json.Unmarshal(raw, &p); err != nil {
		logger.Error("malformed execute frame", "error", err)
		return
	}

	var req invocation.Request
	if err := json.Unmarshal(p.Request, &req); err != nil {
		_ = writer.Send(ipc.KindError, ipc.ErrorPayload{
			RequestID: p.RequestID,
			Error:     ipc.WireError{Name: "Error", Message: "malformed request", Code: string(errtaxonomy.ValidationError)},
		})
		return
	}

	ctx := context.Background()
	var cancel context.CancelFunc
	if p.TimeoutMs > 0 {
		ctx, cancel = context.WithTimeout(ctx, time.Duration(p.TimeoutMs)*time.Millisecond)
		defer cancel()
	}

	result := r.Run(ctx, req)
	if !result.Ok {
		code := errtaxonomy.CodeOf(result.Err)
		_ = writer.Send(ipc.KindError, ipc.ErrorPayload{
			RequestID: p.RequestID,
			Error:     ipc.WireError{Name: "Error", Message: result.Err.Error(), Code: string(code)},
		})
		return
	}

	dataBytes, err := json.Marshal(result.Data)
	if err != nil {
		_ = writer.Send(ipc.KindError, ipc.ErrorPayload{
			RequestID: p.RequestID,
			Error:     ipc.WireError{Name: "Error", Message: fmt.Sprintf("marshal result: %v", err), Code: string(errtaxonomy.HandlerError)},
		})
		return
	}
	_ = writer.Send(ipc.KindResult, ipc.ResultPayload{RequestID: p.RequestID, Result: dataBytes})
}
