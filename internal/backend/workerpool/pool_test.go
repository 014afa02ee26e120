package workerpool

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goatkit/pluginrt/internal/errtaxonomy"
	"github.com/goatkit/pluginrt/internal/invocation"
)

type fakeWorker struct {
	id       string
	execFn   func(ctx context.Context, req invocation.Request) (invocation.Result, error)
	pingErr  error
	killed   int32
	pingN    int32
}

func (w *fakeWorker) ID() string { return w.id }
func (w *fakeWorker) Execute(ctx context.Context, req invocation.Request) (invocation.Result, error) {
	if w.execFn != nil {
		return w.execFn(ctx, req)
	}
	return invocation.Result{Ok: true}, nil
}
func (w *fakeWorker) Ping(ctx context.Context) error {
	atomic.AddInt32(&w.pingN, 1)
	return w.pingErr
}
func (w *fakeWorker) Kill(ctx context.Context) error {
	atomic.AddInt32(&w.killed, 1)
	return nil
}

type fakeSpawner struct {
	mu       sync.Mutex
	n        int
	newFn    func(id string) *fakeWorker
	spawnErr error
}

func (s *fakeSpawner) Spawn(ctx context.Context, pluginID string) (Worker, error) {
	if s.spawnErr != nil {
		return nil, s.spawnErr
	}
	s.mu.Lock()
	s.n++
	id := "w" + string(rune('0'+s.n))
	s.mu.Unlock()
	if s.newFn != nil {
		return s.newFn(id), nil
	}
	return &fakeWorker{id: id}, nil
}

func req(pluginID string) invocation.Request {
	return invocation.Request{
		ExecutionID: "e1",
		Descriptor:  invocation.Descriptor{PluginID: pluginID},
		HandlerRef:  "handlers/run",
	}
}

func TestExecuteDispatchesToSpawnedWorker(t *testing.T) {
	p := New(Config{Min: 0, Max: 2, MaxQueueSize: 10, AcquireTimeoutMs: 1000}, &fakeSpawner{}, nil)
	res, err := p.Execute(context.Background(), req("p1"))
	require.NoError(t, err)
	assert.True(t, res.Ok)
	assert.Equal(t, 1, p.Size())
}

func TestExecuteRejectsWhenQueueFull(t *testing.T) {
	spawner := &fakeSpawner{newFn: func(id string) *fakeWorker {
		return &fakeWorker{id: id, execFn: func(ctx context.Context, req invocation.Request) (invocation.Result, error) {
			time.Sleep(50 * time.Millisecond)
			return invocation.Result{Ok: true}, nil
		}}
	}}
	p := New(Config{Min: 0, Max: 1, MaxQueueSize: 1, AcquireTimeoutMs: 5000}, spawner, nil)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); _, _ = p.Execute(context.Background(), req("p1")) }()
	time.Sleep(10 * time.Millisecond)
	go func() { defer wg.Done(); _, _ = p.Execute(context.Background(), req("p1")) }()
	time.Sleep(10 * time.Millisecond)

	_, err := p.Execute(context.Background(), req("p1"))
	require.Error(t, err)
	assert.Equal(t, errtaxonomy.QueueFull, errtaxonomy.CodeOf(err))
	wg.Wait()
}

func TestExecuteTimesOutWhenNoWorkerAvailable(t *testing.T) {
	spawner := &fakeSpawner{newFn: func(id string) *fakeWorker {
		return &fakeWorker{id: id, execFn: func(ctx context.Context, req invocation.Request) (invocation.Result, error) {
			time.Sleep(time.Second)
			return invocation.Result{Ok: true}, nil
		}}
	}}
	p := New(Config{Min: 0, Max: 1, MaxQueueSize: 10, AcquireTimeoutMs: 20}, spawner, nil)

	go func() { _, _ = p.Execute(context.Background(), req("p1")) }()
	time.Sleep(10 * time.Millisecond)

	_, err := p.Execute(context.Background(), req("p1"))
	require.Error(t, err)
	assert.Equal(t, errtaxonomy.AcquireTimeout, errtaxonomy.CodeOf(err))
}

func TestExecuteRecyclesWorkerAfterMaxRequests(t *testing.T) {
	spawner := &fakeSpawner{}
	p := New(Config{Min: 0, Max: 1, MaxQueueSize: 10, AcquireTimeoutMs: 1000, MaxRequestsPerWorker: 1}, spawner, nil)

	_, err := p.Execute(context.Background(), req("p1"))
	require.NoError(t, err)
	assert.Equal(t, 0, p.Size(), "worker should have been recycled after hitting MaxRequestsPerWorker")
}

func TestExecuteRemovesWorkerOnError(t *testing.T) {
	spawner := &fakeSpawner{newFn: func(id string) *fakeWorker {
		return &fakeWorker{id: id, execFn: func(ctx context.Context, req invocation.Request) (invocation.Result, error) {
			return invocation.Result{}, errors.New("boom")
		}}
	}}
	p := New(Config{Min: 0, Max: 1, MaxQueueSize: 10, AcquireTimeoutMs: 1000}, spawner, nil)

	_, err := p.Execute(context.Background(), req("p1"))
	require.Error(t, err)
	assert.Equal(t, 0, p.Size())
}

func TestCheckHealthKillsUnhealthyWorker(t *testing.T) {
	w := &fakeWorker{id: "w1", pingErr: errors.New("unreachable")}
	spawner := &fakeSpawner{newFn: func(id string) *fakeWorker { return w }}
	p := New(Config{Min: 0, Max: 1, MaxQueueSize: 10, AcquireTimeoutMs: 1000, HealthCheckTimeoutMs: 100}, spawner, nil)

	_, err := p.spawnWorker(context.Background(), "p1")
	require.NoError(t, err)

	p.checkHealth()

	assert.Equal(t, 0, p.Size())
	assert.Equal(t, int32(1), atomic.LoadInt32(&w.killed))
}

func TestWarmupPreSpawnsMinWorkers(t *testing.T) {
	spawner := &fakeSpawner{}
	p := New(Config{Min: 2, Max: 4, MaxQueueSize: 10, AcquireTimeoutMs: 1000, Warmup: true}, spawner, nil)
	p.Start(context.Background())
	assert.Equal(t, 2, p.Size())
}
