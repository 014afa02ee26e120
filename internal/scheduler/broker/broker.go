// Package broker implements the job broker (spec.md §4.7): permission and
// timeout validation, degradation-gated submission delay, sliding-window
// quota charging, and a priority queue (higher priority wins; ties break
// FIFO) that dispatches to the runner.
package broker

import (
	"container/heap"
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/goatkit/pluginrt/internal/coordination"
	"github.com/goatkit/pluginrt/internal/errtaxonomy"
	"github.com/goatkit/pluginrt/internal/invocation"
	"github.com/goatkit/pluginrt/internal/metrics"
	"github.com/goatkit/pluginrt/internal/permission"
	"github.com/goatkit/pluginrt/internal/scheduler/degradation"
)

// Executor dispatches a resolved job request to a backend (in-process or
// worker-pool), mirroring the same invocation.Request/Result contract the
// runner uses directly.
type Executor interface {
	Execute(ctx context.Context, req invocation.Request) (invocation.Result, error)
}

// SubmitRequest is what a caller (the jobs shim or cmd/pluginctl) submits.
type SubmitRequest struct {
	Descriptor invocation.Descriptor
	HandlerRef string
	Input      []byte
	Priority   int
	TimeoutMs  int
	Tags       []string
}

// Handle is returned on successful submission.
type Handle struct {
	JobID string
}

// Job is one queued unit of work.
type Job struct {
	ID        string
	Req       SubmitRequest
	EnqueueAt time.Time
	seq       int64
	index     int
}

// priorityQueue is a container/heap.Interface over *Job: higher Priority
// value wins; equal priorities break FIFO via the monotonic seq counter
// (spec.md §4.7 step 5, §5 Ordering guarantees).
type priorityQueue []*Job

func (pq priorityQueue) Len() int { return len(pq) }
func (pq priorityQueue) Less(i, j int) bool {
	if pq[i].Req.Priority != pq[j].Req.Priority {
		return pq[i].Req.Priority > pq[j].Req.Priority
	}
	return pq[i].seq < pq[j].seq
}
func (pq priorityQueue) Swap(i, j int) {
	pq[i], pq[j] = pq[j], pq[i]
	pq[i].index, pq[j].index = i, j
}
func (pq *priorityQueue) Push(x any) {
	j := x.(*Job)
	j.index = len(*pq)
	*pq = append(*pq, j)
}
func (pq *priorityQueue) Pop() any {
	old := *pq
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*pq = old[:n-1]
	return item
}

// Broker accepts submissions, validates and charges them, and runs a
// dispatch loop draining the priority queue onto an Executor.
type Broker struct {
	quota    coordination.QuotaStore
	jobs     coordination.JobStore
	degrader *degradation.Controller
	executor Executor

	mu      sync.Mutex
	queue   priorityQueue
	nextSeq int64
	notify  chan struct{}

	cancels sync.Map // jobID -> context.CancelFunc
}

func New(quota coordination.QuotaStore, jobs coordination.JobStore, degrader *degradation.Controller, executor Executor) *Broker {
	b := &Broker{
		quota:    quota,
		jobs:     jobs,
		degrader: degrader,
		executor: executor,
		notify:   make(chan struct{}, 1),
	}
	heap.Init(&b.queue)
	return b
}

// Submit implements spec.md §4.7's five-step submission algorithm.
func (b *Broker) Submit(ctx context.Context, compiled permission.CompiledSpec, req SubmitRequest) (Handle, error) {
	if !compiled.JobHandlerAllowed("submit", req.HandlerRef) {
		metrics.BrokerMetrics().Submitted.WithLabelValues("rejected_permission").Inc()
		return Handle{}, errtaxonomy.New(errtaxonomy.JobPermissionDenied, "handler not in jobs.submit.handlers")
	}

	if limits := compiled.Raw().Jobs.Submit.TimeoutLimits; limits != nil {
		if limits.Max > 0 && req.TimeoutMs > limits.Max {
			metrics.BrokerMetrics().Submitted.WithLabelValues("rejected_timeout").Inc()
			return Handle{}, errtaxonomy.New(errtaxonomy.JobTimeoutExceeded, "timeoutMs exceeds jobs.submit.timeoutLimits.max")
		}
		if limits.Min > 0 && req.TimeoutMs < limits.Min {
			metrics.BrokerMetrics().Submitted.WithLabelValues("rejected_timeout").Inc()
			return Handle{}, errtaxonomy.New(errtaxonomy.JobTimeoutBelowMin, "timeoutMs below jobs.submit.timeoutLimits.min")
		}
	}

	if b.degrader != nil {
		delay, reject := b.degrader.Delay()
		if reject {
			metrics.BrokerMetrics().Submitted.WithLabelValues("rejected_degraded").Inc()
			return Handle{}, errtaxonomy.New(errtaxonomy.JobSubmitRejectedDegraded, "broker is in critical degradation and policy rejects new submissions")
		}
		if delay > 0 {
			metrics.BrokerMetrics().DegradedDelays.Inc()
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				metrics.BrokerMetrics().Submitted.WithLabelValues("rejected_cancelled").Inc()
				return Handle{}, errtaxonomy.New(errtaxonomy.Aborted, "submission cancelled during degradation delay")
			}
		}
	}

	quotas := compiled.Raw().Jobs.Submit.Quotas
	if err := b.chargeQuotas(ctx, req.Descriptor.PluginID, quotas); err != nil {
		metrics.BrokerMetrics().QuotaRejected.Inc()
		metrics.BrokerMetrics().Submitted.WithLabelValues("rejected_quota").Inc()
		return Handle{}, err
	}

	job := &Job{ID: newJobID(), Req: req, EnqueueAt: time.Now()}

	b.mu.Lock()
	b.nextSeq++
	job.seq = b.nextSeq
	heap.Push(&b.queue, job)
	b.mu.Unlock()

	if b.jobs != nil {
		_ = b.jobs.Put(ctx, coordination.JobState{ID: job.ID, Status: "queued"})
	}

	select {
	case b.notify <- struct{}{}:
	default:
	}

	metrics.BrokerMetrics().Submitted.WithLabelValues("accepted").Inc()
	return Handle{JobID: job.ID}, nil
}

func (b *Broker) chargeQuotas(ctx context.Context, pluginID string, q permission.Quotas) error {
	windows := []struct {
		limit  int
		window time.Duration
		name   string
	}{
		{q.PerMinute, time.Minute, "perMinute"},
		{q.PerHour, time.Hour, "perHour"},
		{q.PerDay, 24 * time.Hour, "perDay"},
	}
	for _, w := range windows {
		if w.limit <= 0 || b.quota == nil {
			continue
		}
		count, resetAt, err := b.quota.ChargeWindow(ctx, pluginID+":"+w.name, w.window)
		if err != nil {
			return errtaxonomy.Wrap(errtaxonomy.HandlerError, "charge quota", err)
		}
		if count > int64(w.limit) {
			return errtaxonomy.New(errtaxonomy.JobQuotaExceeded, "quota exceeded for window "+w.name).WithDetails(map[string]any{
				"limit": w.limit, "current": count, "window": w.name, "resetAt": resetAt,
			})
		}
	}
	return nil
}

// Run drains the priority queue, dispatching one job at a time to the
// executor, until ctx is cancelled. Concurrency across jobs is the
// executor's concern (the in-process/worker-pool backends already handle
// parallel dispatch); Run itself is a simple single-consumer loop that can
// be started multiple times for additional parallelism.
func (b *Broker) Run(ctx context.Context) {
	for {
		job := b.dequeue()
		if job == nil {
			select {
			case <-ctx.Done():
				return
			case <-b.notify:
				continue
			case <-time.After(time.Second):
				continue
			}
		}
		b.runJob(ctx, job)
	}
}

func (b *Broker) dequeue() *Job {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.queue.Len() == 0 {
		return nil
	}
	return heap.Pop(&b.queue).(*Job)
}

func (b *Broker) runJob(ctx context.Context, job *Job) {
	jobCtx, cancel := context.WithCancel(ctx)
	if job.Req.TimeoutMs > 0 {
		var timeoutCancel context.CancelFunc
		jobCtx, timeoutCancel = context.WithTimeout(jobCtx, time.Duration(job.Req.TimeoutMs)*time.Millisecond)
		defer timeoutCancel()
	}
	b.cancels.Store(job.ID, cancel)
	defer b.cancels.Delete(job.ID)

	if b.jobs != nil {
		_ = b.jobs.Put(ctx, coordination.JobState{ID: job.ID, Status: "running"})
	}

	req := invocation.Request{
		ExecutionID: job.ID,
		Descriptor:  job.Req.Descriptor,
		HandlerRef:  job.Req.HandlerRef,
		Input:       job.Req.Input,
		Workspace:   invocation.Workspace{Type: "local"},
	}

	result, err := b.executor.Execute(jobCtx, req)

	state := coordination.JobState{ID: job.ID}
	switch {
	case err != nil:
		state.Status = "failed"
		state.ErrorCode = string(errtaxonomy.CodeOf(err))
		state.ErrorMsg = err.Error()
	case !result.Ok:
		state.Status = "failed"
		state.ErrorCode = string(errtaxonomy.CodeOf(result.Err))
		if result.Err != nil {
			state.ErrorMsg = result.Err.Error()
		}
	default:
		state.Status = "succeeded"
	}
	if b.jobs != nil {
		_ = b.jobs.Put(context.Background(), state)
	}
	metrics.BrokerMetrics().JobsCompleted.WithLabelValues(state.Status).Inc()
	metrics.BrokerMetrics().JobDuration.Observe(time.Since(job.EnqueueAt).Seconds())
}

// Cancel requests cancellation of a running job by ID.
func (b *Broker) Cancel(jobID string) bool {
	v, ok := b.cancels.Load(jobID)
	if !ok {
		return false
	}
	v.(context.CancelFunc)()
	return true
}

// Status returns the persisted state for jobID.
func (b *Broker) Status(ctx context.Context, jobID string) (coordination.JobState, bool, error) {
	if b.jobs == nil {
		return coordination.JobState{}, false, nil
	}
	return b.jobs.Get(ctx, jobID)
}

var idCounter int64
var idMu sync.Mutex

func newJobID() string {
	idMu.Lock()
	defer idMu.Unlock()
	idCounter++
	return time.Now().UTC().Format("20060102T150405") + "-" + strconv.FormatInt(idCounter, 10)
}
