package capability

import (
	"context"
	"log/slog"
	"time"
)

// DefaultCleanupTimeout bounds each cleanup callback (spec.md §4.1: "a
// fixed cleanup timeout (default 5 s)").
const DefaultCleanupTimeout = 5 * time.Second

// CleanupStack is the ordered list of zero-argument callbacks a handler
// registers via lifecycle.onCleanup (spec.md §3 Cleanup Stack). Run drains
// it in LIFO order; each callback is bounded by its own timeout and a
// failure is logged but never masks the primary invocation result.
type CleanupStack struct {
	fns []func(context.Context) error
}

func NewCleanupStack() *CleanupStack {
	return &CleanupStack{}
}

// Push registers fn to run after the handler completes.
func (s *CleanupStack) Push(fn func(context.Context) error) {
	s.fns = append(s.fns, fn)
}

// Run executes every registered callback in LIFO order, each bounded by
// timeout, logging (but not returning) failures. This satisfies spec.md §8
// property 2: every cleanup runs exactly once, in LIFO order, regardless of
// handler outcome.
func (s *CleanupStack) Run(ctx context.Context, timeout time.Duration, logger *slog.Logger) {
	if timeout <= 0 {
		timeout = DefaultCleanupTimeout
	}
	for i := len(s.fns) - 1; i >= 0; i-- {
		fn := s.fns[i]
		cctx, cancel := context.WithTimeout(ctx, timeout)
		done := make(chan error, 1)
		go func() { done <- fn(cctx) }()

		var err error
		select {
		case err = <-done:
		case <-cctx.Done():
			err = cctx.Err()
		}
		cancel()
		if err != nil && logger != nil {
			logger.Warn("cleanup callback failed", "error", err, "index", i)
		}
	}
}
