package capability

import (
	"context"
	"time"

	"github.com/goatkit/pluginrt/internal/errtaxonomy"
	"github.com/goatkit/pluginrt/internal/invocation"
	"github.com/goatkit/pluginrt/internal/permission"
)

var terminalJobStatuses = map[string]struct{}{
	"succeeded": {}, "failed": {}, "cancelled": {}, "timeout": {},
}

// JobsShim lets a handler submit, poll, and cancel jobs against the
// scheduler, gated by jobs.submit/jobs.schedule handler allow lists
// (spec.md §4.7, §4.8).
type JobsShim struct {
	spec     permission.CompiledSpec
	desc     invocation.Descriptor
	dispatch JobsDispatcher
}

func newJobsShim(spec permission.CompiledSpec, desc invocation.Descriptor, dispatch JobsDispatcher) *JobsShim {
	return &JobsShim{spec: spec, desc: desc, dispatch: dispatch}
}

func (s *JobsShim) Submit(ctx context.Context, handlerRef string, input []byte, opts SubmitOptions) (string, error) {
	if !s.spec.JobHandlerAllowed("submit", handlerRef) {
		return "", permission.Denied("jobs.submit", handlerRef, "add "+handlerRef+" to jobs.submit.handlers", s.spec.Raw().Jobs.Submit.Handlers)
	}
	if s.dispatch == nil {
		return "", errtaxonomy.New(errtaxonomy.HandlerError, "no jobs dispatcher configured")
	}
	return s.dispatch.Submit(ctx, s.desc, handlerRef, input, opts)
}

// Schedule registers handlerRef to run recurring on cronExpr (5-field cron
// or interval literal, e.g. "5m" — spec.md §4.7), gated by
// jobs.schedule.handlers the same way Submit is gated by jobs.submit.handlers.
func (s *JobsShim) Schedule(ctx context.Context, handlerRef string, cronExpr string, opts ScheduleOptions) (string, error) {
	if !s.spec.JobHandlerAllowed("schedule", handlerRef) {
		return "", permission.Denied("jobs.schedule", handlerRef, "add "+handlerRef+" to jobs.schedule.handlers", s.spec.Raw().Jobs.Schedule.Handlers)
	}
	if s.dispatch == nil {
		return "", errtaxonomy.New(errtaxonomy.HandlerError, "no jobs dispatcher configured")
	}
	return s.dispatch.Schedule(ctx, s.desc, handlerRef, cronExpr, opts)
}

func (s *JobsShim) Status(ctx context.Context, jobID string) (JobStatus, error) {
	if s.dispatch == nil {
		return JobStatus{}, errtaxonomy.New(errtaxonomy.HandlerError, "no jobs dispatcher configured")
	}
	return s.dispatch.Status(ctx, jobID)
}

func (s *JobsShim) Cancel(ctx context.Context, jobID string) error {
	if s.dispatch == nil {
		return errtaxonomy.New(errtaxonomy.HandlerError, "no jobs dispatcher configured")
	}
	return s.dispatch.Cancel(ctx, jobID)
}

// List returns every job visible to this invocation's plugin.
func (s *JobsShim) List(ctx context.Context) ([]JobStatus, error) {
	if s.dispatch == nil {
		return nil, errtaxonomy.New(errtaxonomy.HandlerError, "no jobs dispatcher configured")
	}
	return s.dispatch.List(ctx, s.desc)
}

// Wait polls Status at a fixed interval until jobID reaches a terminal
// status or the timeout elapses (spec.md §4.8's jobs.wait, mirroring
// Workflows.Wait).
func (s *JobsShim) Wait(ctx context.Context, jobID string, timeout, pollInterval time.Duration) (JobStatus, error) {
	if pollInterval < time.Millisecond {
		pollInterval = time.Millisecond
	}

	var deadline <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		deadline = timer.C
	}

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		status, err := s.Status(ctx, jobID)
		if err != nil {
			return JobStatus{}, err
		}
		if _, terminal := terminalJobStatuses[status.Status]; terminal {
			return status, nil
		}

		select {
		case <-ctx.Done():
			return JobStatus{}, errtaxonomy.New(errtaxonomy.Aborted, "wait cancelled")
		case <-deadline:
			return status, errtaxonomy.New(errtaxonomy.Timeout, "job did not reach a terminal status before timeout")
		case <-ticker.C:
		}
	}
}
