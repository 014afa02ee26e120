// Package workerpool implements the subprocess worker-pool backend (spec.md
// §4.5): a fixed-shape pool of persistent subprocess workers, each speaking
// the NDJSON IPC protocol (internal/ipc), with FIFO queueing, health
// checks, and recycling.
package workerpool

import (
	"container/list"
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/goatkit/pluginrt/internal/errtaxonomy"
	"github.com/goatkit/pluginrt/internal/invocation"
	"github.com/goatkit/pluginrt/internal/metrics"
)

// Config is the pool's fixed-shape configuration (spec.md §4.5).
type Config struct {
	Min                    int
	Max                    int
	MaxRequestsPerWorker   int
	MaxUptimeMsPerWorker   int64
	MaxQueueSize           int
	AcquireTimeoutMs       int64
	MaxConcurrentPerPlugin int // 0 means unlimited
	HealthCheckIntervalMs  int64
	HealthCheckTimeoutMs   int64
	HealthCheckMaxPerSec   int // 0 means unlimited; caps ping dispatch rate, not the check interval
	Warmup                 bool
}

func (c Config) acquireTimeout() time.Duration {
	if c.AcquireTimeoutMs <= 0 {
		return 10 * time.Second
	}
	return time.Duration(c.AcquireTimeoutMs) * time.Millisecond
}

// Spawner starts a new subprocess worker and returns a handle the pool can
// dispatch requests to. The concrete implementation lives in
// internal/ipc/host.go, which speaks the NDJSON protocol over the
// subprocess's stdio.
type Spawner interface {
	Spawn(ctx context.Context, pluginID string) (Worker, error)
}

// Worker is the pool's view of one subprocess: dispatch a request, ping
// for health, and terminate.
type Worker interface {
	ID() string
	Execute(ctx context.Context, req invocation.Request) (invocation.Result, error)
	Ping(ctx context.Context) error
	Kill(ctx context.Context) error
}

type workerState int

const (
	stateStopped workerState = iota
	stateStarting
	stateIdle
	stateBusy
	stateDraining
)

type managedWorker struct {
	worker       Worker
	state        workerState
	pluginID     string
	requestCount int
	startedAt    time.Time
	unhealthy    bool
}

func (w *managedWorker) shouldRecycle(cfg Config) bool {
	if cfg.MaxRequestsPerWorker > 0 && w.requestCount >= cfg.MaxRequestsPerWorker {
		return true
	}
	if cfg.MaxUptimeMsPerWorker > 0 && time.Since(w.startedAt).Milliseconds() >= cfg.MaxUptimeMsPerWorker {
		return true
	}
	return false
}

type pendingRequest struct {
	ctx    context.Context
	req    invocation.Request
	result chan workResult
}

type workResult struct {
	res invocation.Result
	err error
}

// Pool dispatches invocation requests across a bounded set of subprocess
// workers, implementing the acquire algorithm and state machine of spec.md
// §4.5.
type Pool struct {
	cfg     Config
	spawner Spawner
	logger  *slog.Logger

	mu      sync.Mutex
	workers map[string]*managedWorker
	queue   *list.List // of *pendingRequest
	inflightPerPlugin map[string]int

	// healthLimiter paces ping dispatch the way tombee-conductor's
	// filewatcher service paces workflow triggers: a non-blocking
	// Allow() check that drops work rather than queuing it.
	healthLimiter *rate.Limiter

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New builds a Pool. If cfg.Warmup is set, Start spawns cfg.Min workers
// immediately instead of lazily on first request (spec.md §4.5 Open
// Question, resolved: warmup eagerly pre-spawns the minimum pool size so
// the first real request never pays cold-start latency).
func New(cfg Config, spawner Spawner, logger *slog.Logger) *Pool {
	if logger == nil {
		logger = slog.Default()
	}
	var limiter *rate.Limiter
	if cfg.HealthCheckMaxPerSec > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.HealthCheckMaxPerSec), cfg.HealthCheckMaxPerSec)
	}
	return &Pool{
		cfg:               cfg,
		spawner:           spawner,
		logger:            logger,
		workers:           make(map[string]*managedWorker),
		queue:             list.New(),
		inflightPerPlugin: make(map[string]int),
		healthLimiter:     limiter,
		stopCh:            make(chan struct{}),
	}
}

// Start launches the health-check loop and, if configured, warms the pool
// up to Min workers.
func (p *Pool) Start(ctx context.Context) {
	if p.cfg.Warmup {
		for i := 0; i < p.cfg.Min; i++ {
			if _, err := p.spawnWorker(ctx, ""); err != nil {
				p.logger.Warn("warmup spawn failed", "error", err)
			}
		}
	}
	if p.cfg.HealthCheckIntervalMs > 0 {
		p.wg.Add(1)
		go p.healthLoop()
	}
}

// Stop drains in-flight work and terminates every worker.
func (p *Pool) Stop(ctx context.Context) {
	close(p.stopCh)
	p.wg.Wait()

	p.mu.Lock()
	workers := make([]*managedWorker, 0, len(p.workers))
	for _, w := range p.workers {
		workers = append(workers, w)
	}
	p.mu.Unlock()

	for _, w := range workers {
		_ = w.worker.Kill(ctx)
	}
}

// Execute implements the acquire algorithm of spec.md §4.5 steps 1-5.
func (p *Pool) Execute(ctx context.Context, req invocation.Request) (invocation.Result, error) {
	pending := &pendingRequest{ctx: ctx, req: req, result: make(chan workResult, 1)}

	start := time.Now()

	p.mu.Lock()
	if p.queue.Len() >= p.cfg.MaxQueueSize && p.cfg.MaxQueueSize > 0 {
		p.mu.Unlock()
		metrics.PoolMetrics().QueueFull.Inc()
		return invocation.Result{}, errtaxonomy.New(errtaxonomy.QueueFull, "worker pool queue is full")
	}
	elem := p.queue.PushBack(pending)
	p.mu.Unlock()
	metrics.PoolMetrics().QueueDepth.Set(float64(p.queueLen()))

	p.dispatchLoop(ctx, req.Descriptor.PluginID)

	timer := time.NewTimer(p.cfg.acquireTimeout())
	defer timer.Stop()

	select {
	case r := <-pending.result:
		metrics.PoolMetrics().QueueDepth.Set(float64(p.queueLen()))
		if r.err == nil {
			metrics.PoolMetrics().Acquired.Inc()
			metrics.PoolMetrics().ExecuteDuration.Observe(time.Since(start).Seconds())
		}
		return r.res, r.err
	case <-timer.C:
		p.mu.Lock()
		queued := false
		for e := p.queue.Front(); e != nil && !queued; e = e.Next() {
			queued = e == elem
		}
		p.queue.Remove(elem)
		p.mu.Unlock()
		if !queued {
			// Already handed to a worker in time: wait for its result.
			select {
			case r := <-pending.result:
				return r.res, r.err
			case <-ctx.Done():
				return invocation.Result{}, errtaxonomy.New(errtaxonomy.Aborted, "invocation cancelled while executing")
			}
		}
		metrics.PoolMetrics().AcquireTimeouts.Inc()
		metrics.PoolMetrics().QueueDepth.Set(float64(p.queueLen()))
		return invocation.Result{}, errtaxonomy.New(errtaxonomy.AcquireTimeout, "no worker became available within acquireTimeoutMs")
	case <-ctx.Done():
		p.mu.Lock()
		p.queue.Remove(elem)
		p.mu.Unlock()
		metrics.PoolMetrics().QueueDepth.Set(float64(p.queueLen()))
		return invocation.Result{}, errtaxonomy.New(errtaxonomy.Aborted, "invocation cancelled while queued")
	}
}

func (p *Pool) queueLen() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.queue.Len()
}

// dispatchLoop tries to assign queued requests to idle workers, spawning a
// new one if capacity allows (spec.md §4.5 step 3). It is called
// opportunistically after every enqueue and every worker becoming idle.
func (p *Pool) dispatchLoop(ctx context.Context, pluginIDHint string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for p.queue.Len() > 0 {
		front := p.queue.Front()
		pr := front.Value.(*pendingRequest)

		if p.cfg.MaxConcurrentPerPlugin > 0 && p.inflightPerPlugin[pr.req.Descriptor.PluginID] >= p.cfg.MaxConcurrentPerPlugin {
			break // spec §4.5 step 5: suspend requests that would exceed the per-plugin ceiling
		}

		w := p.pickIdleLocked()
		if w == nil {
			if len(p.workers) < p.cfg.Max {
				p.mu.Unlock()
				nw, err := p.spawnWorker(ctx, pr.req.Descriptor.PluginID)
				p.mu.Lock()
				if err != nil {
					p.logger.Warn("spawn worker failed", "error", err)
					break
				}
				w = nw
			} else {
				break // no idle worker, at capacity: wait
			}
		}

		p.queue.Remove(front)
		w.state = stateBusy
		p.inflightPerPlugin[pr.req.Descriptor.PluginID]++
		p.wg.Add(1)
		go p.runOnWorker(w, pr)
	}
}

func (p *Pool) pickIdleLocked() *managedWorker {
	for _, w := range p.workers {
		if w.state == stateIdle && !w.unhealthy {
			return w
		}
	}
	return nil
}

func (p *Pool) spawnWorker(ctx context.Context, pluginID string) (*managedWorker, error) {
	w, err := p.spawner.Spawn(ctx, pluginID)
	if err != nil {
		return nil, err
	}
	mw := &managedWorker{worker: w, state: stateIdle, pluginID: pluginID, startedAt: time.Now()}
	p.mu.Lock()
	p.workers[w.ID()] = mw
	active := len(p.workers)
	p.mu.Unlock()
	metrics.PoolMetrics().WorkersSpawned.Inc()
	metrics.PoolMetrics().ActiveWorkers.Set(float64(active))
	return mw, nil
}

// cancellationGrace bounds how long a worker gets to respond to a
// best-effort shutdown before the pool kills it outright (spec.md §4.5
// Cancellation).
const cancellationGrace = 2 * time.Second

func (p *Pool) runOnWorker(w *managedWorker, pr *pendingRequest) {
	defer p.wg.Done()

	execCtx := pr.ctx
	if execCtx == nil {
		execCtx = context.Background()
	}

	type execOutcome struct {
		res invocation.Result
		err error
	}
	done := make(chan execOutcome, 1)
	go func() {
		res, err := w.worker.Execute(context.Background(), pr.req)
		done <- execOutcome{res: res, err: err}
	}()

	var res invocation.Result
	var err error
	select {
	case out := <-done:
		res, err = out.res, out.err
	case <-execCtx.Done():
		grace := time.NewTimer(cancellationGrace)
		select {
		case out := <-done:
			res, err = out.res, out.err
		case <-grace.C:
			_ = w.worker.Kill(context.Background())
			err = errtaxonomy.New(errtaxonomy.Aborted, "invocation cancelled")
			p.mu.Lock()
			p.removeWorkerLocked(w)
			p.mu.Unlock()
		}
		grace.Stop()
	}

	p.mu.Lock()
	w.requestCount++
	p.inflightPerPlugin[pr.req.Descriptor.PluginID]--
	if err != nil {
		p.removeWorkerLocked(w)
	} else if w.shouldRecycle(p.cfg) {
		w.state = stateDraining
		p.mu.Unlock()
		_ = w.worker.Kill(context.Background())
		p.mu.Lock()
		delete(p.workers, w.worker.ID())
		metrics.PoolMetrics().WorkersKilled.Inc()
		metrics.PoolMetrics().ActiveWorkers.Set(float64(len(p.workers)))
	} else {
		w.state = stateIdle
	}
	p.mu.Unlock()

	pr.result <- workResult{res: res, err: err}

	p.dispatchLoop(context.Background(), pr.req.Descriptor.PluginID)
}

func (p *Pool) removeWorkerLocked(w *managedWorker) {
	w.state = stateStopped
	delete(p.workers, w.worker.ID())
	metrics.PoolMetrics().WorkersKilled.Inc()
	metrics.PoolMetrics().ActiveWorkers.Set(float64(len(p.workers)))
}

func (p *Pool) healthLoop() {
	defer p.wg.Done()
	interval := time.Duration(p.cfg.HealthCheckIntervalMs) * time.Millisecond
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.checkHealth()
		}
	}
}

func (p *Pool) checkHealth() {
	p.mu.Lock()
	toCheck := make([]*managedWorker, 0, len(p.workers))
	for _, w := range p.workers {
		if w.state == stateIdle {
			toCheck = append(toCheck, w)
		}
	}
	p.mu.Unlock()

	timeout := time.Duration(p.cfg.HealthCheckTimeoutMs) * time.Millisecond
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	for _, w := range toCheck {
		if p.healthLimiter != nil && !p.healthLimiter.Allow() {
			continue // dropped, not queued: retried on the next tick
		}
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		err := w.worker.Ping(ctx)
		cancel()

		p.mu.Lock()
		if err != nil {
			w.unhealthy = true
			p.removeWorkerLocked(w)
			p.mu.Unlock()
			_ = w.worker.Kill(context.Background())
		} else {
			p.mu.Unlock()
		}
	}
}

// Size returns the current number of live workers, for metrics.
func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.workers)
}
