// Package coordination defines the abstract coordination-store the job
// broker and cron scheduler share across processes: quota counters, job
// state, and a leader-election lock so only one cron ticker runs cluster-
// wide (spec.md §4.7, §5 "Quota counters are stored in an external
// coordination backend; all increments are atomic and time-windowed").
package coordination

import (
	"context"
	"time"
)

// QuotaStore charges and inspects sliding-window quota counters. One
// window is identified by (key, windowSeconds); ChargeWindow must be atomic
// against concurrent callers across processes.
type QuotaStore interface {
	// ChargeWindow records one charge against key's sliding window of the
	// given duration and returns the count within that window after the
	// charge (including it) and the time the oldest charge in the window
	// will expire.
	ChargeWindow(ctx context.Context, key string, window time.Duration) (count int64, resetAt time.Time, err error)
}

// JobState is what the broker persists per submitted job so status/cancel
// work across process restarts and across a multi-instance deployment.
type JobState struct {
	ID        string
	Status    string // "queued", "running", "succeeded", "failed", "cancelled"
	Result    []byte
	ErrorCode string
	ErrorMsg  string
}

// JobStore persists job state.
type JobStore interface {
	Put(ctx context.Context, state JobState) error
	Get(ctx context.Context, id string) (JobState, bool, error)
}

// Leader elects a single process to run the cron ticker cluster-wide
// (spec.md §4.7: "Only one ticker instance is active at a time across all
// processes").
type Leader interface {
	// Campaign blocks until this process acquires leadership or ctx is
	// cancelled, then returns a channel that closes when leadership is
	// lost (e.g. the lease expires without renewal).
	Campaign(ctx context.Context) (lost <-chan struct{}, err error)
	Resign(ctx context.Context) error
}
