package cron

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseInterval(t *testing.T) {
	cases := map[string]time.Duration{
		"30s": 30 * time.Second,
		"5m":  5 * time.Minute,
		"1h":  time.Hour,
		"1d":  24 * time.Hour,
	}
	for expr, want := range cases {
		d, ok := parseInterval(expr)
		require.True(t, ok, expr)
		assert.Equal(t, want, d)
	}

	_, ok := parseInterval("*/5 * * * *")
	assert.False(t, ok)
}

func TestScheduleCompileCronExpr(t *testing.T) {
	s := &Schedule{ID: "a", Expr: "*/5 * * * *"}
	require.NoError(t, s.compile())
	assert.NotNil(t, s.cronSchedule)
	assert.Zero(t, s.interval)
}

func TestScheduleCompileInvalid(t *testing.T) {
	s := &Schedule{ID: "a", Expr: "not-a-schedule"}
	err := s.compile()
	assert.Error(t, err)
}

func TestSchedulerTickPublishesDueJob(t *testing.T) {
	var fired int32
	publish := func(ctx context.Context, pluginID, handlerRef string, payload []byte) error {
		atomic.AddInt32(&fired, 1)
		return nil
	}

	sched := New(publish, nil, 10*time.Millisecond)
	s := &Schedule{ID: "every-tick", PluginID: "p1", HandlerRef: "job.run", Expr: "1s"}
	require.NoError(t, sched.Register(s))

	now := time.Now()
	sched.tick(context.Background(), now)
	assert.Zero(t, atomic.LoadInt32(&fired), "first tick only seeds nextRun")

	sched.tick(context.Background(), now.Add(2*time.Second))
	assert.Equal(t, int32(1), atomic.LoadInt32(&fired))
}

func TestSchedulerPauseResume(t *testing.T) {
	var fired int32
	publish := func(ctx context.Context, pluginID, handlerRef string, payload []byte) error {
		atomic.AddInt32(&fired, 1)
		return nil
	}
	sched := New(publish, nil, 0)
	s := &Schedule{ID: "x", Expr: "1s"}
	require.NoError(t, sched.Register(s))

	now := time.Now()
	sched.tick(context.Background(), now)
	require.NoError(t, sched.Pause("x"))

	sched.tick(context.Background(), now.Add(2*time.Second))
	assert.Zero(t, atomic.LoadInt32(&fired))

	require.NoError(t, sched.Resume("x"))
	sched.tick(context.Background(), now.Add(4*time.Second))
	assert.Equal(t, int32(1), atomic.LoadInt32(&fired))
}

func TestSchedulerMaxRuns(t *testing.T) {
	var fired int32
	publish := func(ctx context.Context, pluginID, handlerRef string, payload []byte) error {
		atomic.AddInt32(&fired, 1)
		return nil
	}
	sched := New(publish, nil, 0)
	s := &Schedule{ID: "once", Expr: "1s", MaxRuns: 1}
	require.NoError(t, sched.Register(s))

	now := time.Now()
	sched.tick(context.Background(), now)
	sched.tick(context.Background(), now.Add(2*time.Second))
	sched.tick(context.Background(), now.Add(4*time.Second))
	assert.Equal(t, int32(1), atomic.LoadInt32(&fired))
}

func TestSchedulerCancelRemovesSchedule(t *testing.T) {
	sched := New(nil, nil, 0)
	s := &Schedule{ID: "gone", Expr: "1s"}
	require.NoError(t, sched.Register(s))
	require.NoError(t, sched.Cancel("gone"))
	assert.Error(t, sched.Cancel("gone"))
}

func TestSchedulerListJobsFilter(t *testing.T) {
	sched := New(nil, nil, 0)
	require.NoError(t, sched.Register(&Schedule{ID: "a", PluginID: "alpha", Expr: "1s"}))
	require.NoError(t, sched.Register(&Schedule{ID: "b", PluginID: "beta", Expr: "1s"}))

	all := sched.ListJobs("")
	assert.Len(t, all, 2)

	onlyAlpha := sched.ListJobs("alpha")
	assert.Len(t, onlyAlpha, 1)
	assert.Equal(t, "a", onlyAlpha[0].ID)
}

func TestSchedulerGetNextRun(t *testing.T) {
	sched := New(nil, nil, 0)
	require.NoError(t, sched.Register(&Schedule{ID: "a", Expr: "1h"}))

	_, ok := sched.GetNextRun("missing")
	assert.False(t, ok)

	next, ok := sched.GetNextRun("a")
	assert.True(t, ok)
	assert.True(t, next.IsZero())

	sched.tick(context.Background(), time.Now())
	next, ok = sched.GetNextRun("a")
	assert.True(t, ok)
	assert.False(t, next.IsZero())
}
