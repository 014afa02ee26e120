package ipc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"sync"
	"time"

	"github.com/goatkit/pluginrt/internal/errtaxonomy"
	"github.com/goatkit/pluginrt/internal/invocation"
)

// AdapterDispatcher answers an adapter-call frame from the worker: a
// platform-service RPC the subprocess cannot perform itself (it has no
// direct network/cache/storage access — spec.md §4.6, "adapter-call:
// invoking platform services proxied from the host").
type AdapterDispatcher interface {
	Dispatch(ctx context.Context, adapter, method string, args json.RawMessage) (json.RawMessage, error)
}

// HostConn is the host-side handle to one subprocess worker: it owns the
// subprocess, the framed stdio pipes, and the pending-request correlation
// map keyed by requestId (spec.md §4.6 Correlation).
type HostConn struct {
	id      string
	cmd     *exec.Cmd
	writer  *FrameWriter
	adapter AdapterDispatcher

	mu      sync.Mutex
	pending map[string]chan frameResult
	closed  bool
}

type frameResult struct {
	result json.RawMessage
	err    *WireError
}

// Spawn starts command with args and begins the host-side read loop,
// blocking until the worker sends its ready{pid} frame or readyTimeout
// elapses.
func Spawn(ctx context.Context, id string, command string, args []string, adapter AdapterDispatcher, readyTimeout time.Duration) (*HostConn, error) {
	cmd := exec.CommandContext(context.Background(), command, args...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	applyProcessSandbox(cmd)

	if err := cmd.Start(); err != nil {
		return nil, err
	}

	hc := &HostConn{
		id:      id,
		cmd:     cmd,
		writer:  NewFrameWriter(stdin),
		adapter: adapter,
		pending: make(map[string]chan frameResult),
	}

	ready := make(chan struct{})
	go hc.readLoop(NewFrameReader(stdout), ready)

	select {
	case <-ready:
		return hc, nil
	case <-time.After(readyTimeout):
		_ = cmd.Process.Kill()
		return nil, errtaxonomy.New(errtaxonomy.WorkerCrashed, "worker did not signal ready before timeout")
	case <-ctx.Done():
		_ = cmd.Process.Kill()
		return nil, ctx.Err()
	}
}

func (c *HostConn) ID() string { return c.id }

func (c *HostConn) readLoop(reader *FrameReader, ready chan struct{}) {
	readySignaled := false
	for {
		env, err := reader.Next()
		if err != nil {
			c.failAllPending(fmt.Errorf("worker connection closed: %w", err))
			return
		}
		switch env.Kind {
		case KindReady:
			if !readySignaled {
				readySignaled = true
				close(ready)
			}
		case KindResult:
			var p ResultPayload
			if json.Unmarshal(env.Payload, &p) == nil {
				c.deliver(p.RequestID, frameResult{result: p.Result})
			}
		case KindError:
			var p ErrorPayload
			if json.Unmarshal(env.Payload, &p) == nil {
				we := p.Error
				c.deliver(p.RequestID, frameResult{err: &we})
			}
		case KindHealthOK:
			c.deliver("health", frameResult{})
		case KindAdapterCall:
			go c.handleAdapterCall(env.Payload)
		}
	}
}

func (c *HostConn) handleAdapterCall(raw json.RawMessage) {
	var p AdapterCallPayload
	if json.Unmarshal(raw, &p) != nil {
		return
	}
	if c.adapter == nil {
		_ = c.writer.Send(KindAdapterResponse, AdapterResponsePayload{
			RequestID: p.RequestID,
			Error:     &WireError{Name: "Error", Message: "no adapter dispatcher configured", Code: string(errtaxonomy.HandlerError)},
		})
		return
	}
	result, err := c.adapter.Dispatch(context.Background(), p.Adapter, p.Method, p.Args)
	if err != nil {
		_ = c.writer.Send(KindAdapterResponse, AdapterResponsePayload{
			RequestID: p.RequestID,
			Error:     &WireError{Name: "Error", Message: err.Error(), Code: string(errtaxonomy.CodeOf(err))},
		})
		return
	}
	_ = c.writer.Send(KindAdapterResponse, AdapterResponsePayload{RequestID: p.RequestID, Result: result})
}

func (c *HostConn) deliver(requestID string, fr frameResult) {
	c.mu.Lock()
	ch, ok := c.pending[requestID]
	if ok {
		delete(c.pending, requestID)
	}
	c.mu.Unlock()
	if ok {
		ch <- fr
	}
}

func (c *HostConn) failAllPending(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	for id, ch := range c.pending {
		ch <- frameResult{err: &WireError{Name: "Error", Message: err.Error(), Code: string(errtaxonomy.WorkerCrashed)}}
		delete(c.pending, id)
	}
}

func (c *HostConn) register(requestID string) chan frameResult {
	ch := make(chan frameResult, 1)
	c.mu.Lock()
	c.pending[requestID] = ch
	c.mu.Unlock()
	return ch
}

// Execute sends an execute frame for req and blocks for its correlated
// result or error frame.
func (c *HostConn) Execute(ctx context.Context, req invocation.Request) (invocation.Result, error) {
	requestID := req.Descriptor.RequestID
	if requestID == "" {
		requestID = req.ExecutionID
	}

	reqBytes, err := json.Marshal(req)
	if err != nil {
		return invocation.Result{}, errtaxonomy.Wrap(errtaxonomy.ValidationError, "marshal request for worker", err)
	}

	ch := c.register(requestID)
	timeoutMs := int64(0)
	if dl, ok := ctx.Deadline(); ok {
		timeoutMs = time.Until(dl).Milliseconds()
	}
	if err := c.writer.Send(KindExecute, ExecutePayload{RequestID: requestID, Request: reqBytes, TimeoutMs: timeoutMs}); err != nil {
		return invocation.Result{}, errtaxonomy.Wrap(errtaxonomy.WorkerCrashed, "send execute frame", err)
	}

	select {
	case fr := <-ch:
		if fr.err != nil {
			return invocation.Result{}, &errtaxonomy.Error{
				Code:    errtaxonomy.Normalize(errtaxonomy.Code(fr.err.Code)),
				Message: fr.err.Message,
			}
		}
		var data any
		if len(fr.result) > 0 {
			_ = json.Unmarshal(fr.result, &data)
		}
		return invocation.Result{Ok: true, Data: data}, nil
	case <-ctx.Done():
		return invocation.Result{}, errtaxonomy.New(errtaxonomy.Aborted, "invocation cancelled")
	}
}

// Ping sends a health frame and waits for healthOk.
func (c *HostConn) Ping(ctx context.Context) error {
	ch := c.register("health")
	if err := c.writer.Send(KindHealth, struct{}{}); err != nil {
		return err
	}
	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Kill sends a graceful shutdown frame, then force-kills the process if the
// subprocess has not already exited.
func (c *HostConn) Kill(ctx context.Context) error {
	_ = c.writer.Send(KindShutdown, ShutdownPayload{Graceful: true})

	done := make(chan error, 1)
	go func() { done <- c.cmd.Wait() }()

	select {
	case <-done:
		return nil
	case <-time.After(3 * time.Second):
		if c.cmd.Process != nil {
			_ = c.cmd.Process.Kill()
		}
		return nil
	case <-ctx.Done():
		if c.cmd.Process != nil {
			_ = c.cmd.Process.Kill()
		}
		return ctx.Err()
	}
}
