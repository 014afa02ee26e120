// Package degradation implements the job broker's degradation controller
// (spec.md §4.7): a polled, hysteresis-gated state machine over system
// metrics, modeled on flyingrobots-go-redis-work-queue's sliding-window
// circuit breaker (internal/breaker/breaker.go) but driving off polled
// gauges instead of recorded call outcomes, and with three states instead
// of two.
package degradation

import (
	"context"
	"sync"
	"time"

	"github.com/goatkit/pluginrt/internal/metrics"
)

// State is the controller's current degradation level.
type State int

const (
	Normal State = iota
	Degraded
	Critical
)

func (s State) String() string {
	switch s {
	case Normal:
		return "normal"
	case Degraded:
		return "degraded"
	case Critical:
		return "critical"
	default:
		return "unknown"
	}
}

// Metrics is the polled system snapshot the controller evaluates against
// its thresholds.
type Metrics struct {
	CPUPercent     float64
	MemoryPercent  float64
	QueueDepth     int
	ActiveJobCount int
}

// Thresholds carries separate "enter" and "return-to-normal" values for
// each level, so crossing the enter threshold once doesn't flap back the
// instant the metric dips (spec.md §4.7 hysteresis).
type Thresholds struct {
	DegradedEnter  Metrics
	DegradedExit   Metrics
	CriticalEnter  Metrics
	CriticalExit   Metrics
}

// Config bundles the thresholds with the debounce interval and the
// configurable per-level submission delays the broker consults.
type Config struct {
	Thresholds       Thresholds
	DebounceInterval time.Duration // default 30s
	DegradedDelay    time.Duration // default 1s
	CriticalDelay    time.Duration // default 5s
	// RejectInCritical, when true, makes the broker reject new submissions
	// outright in Critical instead of applying CriticalDelay (spec.md §4.7
	// step 3: "either reject ... or apply the critical delay, per policy").
	RejectInCritical bool
}

func (c Config) debounce() time.Duration {
	if c.DebounceInterval <= 0 {
		return 30 * time.Second
	}
	return c.DebounceInterval
}

// MetricsSource polls the current system snapshot.
type MetricsSource interface {
	Poll(ctx context.Context) (Metrics, error)
}

// Listener is notified on every state transition, e.g. to publish a
// recommendation for human operators (spec.md §4.7: "publishes state
// changes and recommendations").
type Listener func(from, to State, m Metrics)

// Controller polls a MetricsSource on a fixed interval and exposes the
// current state plus submission-delay policy to the job broker.
type Controller struct {
	cfg    Config
	source MetricsSource

	mu             sync.RWMutex
	state          State
	lastTransition time.Time
	listeners      []Listener

	stopCh chan struct{}
}

func New(cfg Config, source MetricsSource) *Controller {
	return &Controller{
		cfg:            cfg,
		source:         source,
		state:          Normal,
		stopCh:         make(chan struct{}),
	}
}

// OnTransition registers fn to be called whenever the state changes.
func (c *Controller) OnTransition(fn Listener) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = append(c.listeners, fn)
}

// Run polls source every pollInterval until ctx is cancelled or Stop is
// called.
func (c *Controller) Run(ctx context.Context, pollInterval time.Duration) {
	if pollInterval <= 0 {
		pollInterval = 5 * time.Second
	}
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stopCh:
			return
		case <-ticker.C:
			m, err := c.source.Poll(ctx)
			if err != nil {
				continue
			}
			c.evaluate(m)
		}
	}
}

func (c *Controller) Stop() { close(c.stopCh) }

// evaluate applies the hysteresis rule: use the Enter thresholds to climb,
// the Exit thresholds to descend, and refuse any transition within the
// debounce window of the last one.
func (c *Controller) evaluate(m Metrics) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if time.Since(c.lastTransition) < c.cfg.debounce() {
		return
	}

	next := c.state
	switch c.state {
	case Normal:
		if exceeds(m, c.cfg.Thresholds.CriticalEnter) {
			next = Critical
		} else if exceeds(m, c.cfg.Thresholds.DegradedEnter) {
			next = Degraded
		}
	case Degraded:
		if exceeds(m, c.cfg.Thresholds.CriticalEnter) {
			next = Critical
		} else if !exceeds(m, c.cfg.Thresholds.DegradedExit) {
			next = Normal
		}
	case Critical:
		if !exceeds(m, c.cfg.Thresholds.CriticalExit) {
			if exceeds(m, c.cfg.Thresholds.DegradedEnter) {
				next = Degraded
			} else {
				next = Normal
			}
		}
	}

	if next == c.state {
		return
	}
	from := c.state
	c.state = next
	c.lastTransition = time.Now()
	metrics.DegradationMetrics().State.Set(float64(next))
	metrics.DegradationMetrics().Transitions.WithLabelValues(from.String(), next.String()).Inc()
	listeners := append([]Listener{}, c.listeners...)
	go func() {
		for _, l := range listeners {
			l(from, next, m)
		}
	}()
}

func exceeds(m, t Metrics) bool {
	return m.CPUPercent >= t.CPUPercent && t.CPUPercent > 0 ||
		m.MemoryPercent >= t.MemoryPercent && t.MemoryPercent > 0 ||
		(t.QueueDepth > 0 && m.QueueDepth >= t.QueueDepth) ||
		(t.ActiveJobCount > 0 && m.ActiveJobCount >= t.ActiveJobCount)
}

// State returns the controller's current level.
func (c *Controller) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Delay returns how long the broker should wait before enqueueing a
// submission at the current state, and whether submission should be
// rejected outright instead (only possible in Critical, and only when
// RejectInCritical is set).
func (c *Controller) Delay() (delay time.Duration, reject bool) {
	switch c.State() {
	case Degraded:
		d := c.cfg.DegradedDelay
		if d <= 0 {
			d = time.Second
		}
		return d, false
	case Critical:
		if c.cfg.RejectInCritical {
			return 0, true
		}
		d := c.cfg.CriticalDelay
		if d <= 0 {
			d = 5 * time.Second
		}
		return d, false
	default:
		return 0, false
	}
}
