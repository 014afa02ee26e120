package capability

import (
	"context"
	"time"

	"github.com/goatkit/pluginrt/internal/errtaxonomy"
	"github.com/goatkit/pluginrt/internal/invocation"
)

// WorkflowsShim lets a handler run and poll workflows against an abstract
// workflow engine (spec.md §4.8: "workflows.{run, wait, status, cancel,
// list} — polls an abstract workflow engine").
type WorkflowsShim struct {
	desc     invocation.Descriptor
	dispatch WorkflowsDispatcher
}

func newWorkflowsShim(desc invocation.Descriptor, dispatch WorkflowsDispatcher) *WorkflowsShim {
	return &WorkflowsShim{desc: desc, dispatch: dispatch}
}

func (s *WorkflowsShim) Run(ctx context.Context, workflowRef string, input []byte) (string, error) {
	if s.dispatch == nil {
		return "", errtaxonomy.New(errtaxonomy.HandlerError, "no workflows dispatcher configured")
	}
	return s.dispatch.Run(ctx, s.desc, workflowRef, input)
}

func (s *WorkflowsShim) Status(ctx context.Context, workflowID string) (WorkflowStatus, error) {
	if s.dispatch == nil {
		return WorkflowStatus{}, errtaxonomy.New(errtaxonomy.HandlerError, "no workflows dispatcher configured")
	}
	return s.dispatch.Status(ctx, workflowID)
}

func (s *WorkflowsShim) Cancel(ctx context.Context, workflowID string) error {
	if s.dispatch == nil {
		return errtaxonomy.New(errtaxonomy.HandlerError, "no workflows dispatcher configured")
	}
	return s.dispatch.Cancel(ctx, workflowID)
}

func (s *WorkflowsShim) List(ctx context.Context) ([]WorkflowStatus, error) {
	if s.dispatch == nil {
		return nil, errtaxonomy.New(errtaxonomy.HandlerError, "no workflows dispatcher configured")
	}
	return s.dispatch.List(ctx, s.desc)
}

// WaitOptions carries the handler-facing poll configuration for Wait
// (spec.md §4.8: "wait(options{timeout, pollInterval})").
type WaitOptions struct {
	Timeout      time.Duration
	PollInterval time.Duration
}

var terminalWorkflowStatuses = map[string]struct{}{
	"succeeded": {}, "failed": {}, "cancelled": {},
}

// Wait polls Status at opts.PollInterval until the workflow reaches a
// terminal status or opts.Timeout elapses, whichever comes first. A
// polling interval below a millisecond is clamped up to avoid a busy loop.
func (s *WorkflowsShim) Wait(ctx context.Context, workflowID string, opts WaitOptions) (WorkflowStatus, error) {
	interval := opts.PollInterval
	if interval < time.Millisecond {
		interval = time.Millisecond
	}

	var deadline <-chan time.Time
	if opts.Timeout > 0 {
		timer := time.NewTimer(opts.Timeout)
		defer timer.Stop()
		deadline = timer.C
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		status, err := s.Status(ctx, workflowID)
		if err != nil {
			return WorkflowStatus{}, err
		}
		if _, terminal := terminalWorkflowStatuses[status.Status]; terminal {
			return status, nil
		}

		select {
		case <-ctx.Done():
			return WorkflowStatus{}, errtaxonomy.New(errtaxonomy.Aborted, "wait cancelled")
		case <-deadline:
			return status, errtaxonomy.New(errtaxonomy.Timeout, "workflow did not reach a terminal status before timeout")
		case <-ticker.C:
		}
	}
}
