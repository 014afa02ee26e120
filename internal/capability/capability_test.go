package capability

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goatkit/pluginrt/internal/errtaxonomy"
	"github.com/goatkit/pluginrt/internal/invocation"
	"github.com/goatkit/pluginrt/internal/permission"
	"github.com/goatkit/pluginrt/pkg/plugin"
)

func mustCompile(t *testing.T, spec plugin.Spec) permission.CompiledSpec {
	t.Helper()
	c, err := permission.Compile(spec)
	require.NoError(t, err)
	return c
}

// fakeCache is an in-memory CacheBackend fake used to test namespace gating
// without a real backend.
type fakeCache struct {
	kv     map[string][]byte
	zsets  map[string][]string
	counts map[string]int64
}

func newFakeCache() *fakeCache {
	return &fakeCache{kv: map[string][]byte{}, zsets: map[string][]string{}, counts: map[string]int64{}}
}

func (f *fakeCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	v, ok := f.kv[key]
	return v, ok, nil
}
func (f *fakeCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	f.kv[key] = value
	return nil
}
func (f *fakeCache) Delete(ctx context.Context, key string) error { delete(f.kv, key); return nil }
func (f *fakeCache) Clear(ctx context.Context) error              { f.kv = map[string][]byte{}; return nil }
func (f *fakeCache) ZAdd(ctx context.Context, key, member string, score float64) error {
	f.zsets[key] = append(f.zsets[key], member)
	return nil
}
func (f *fakeCache) ZRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	return f.zsets[key], nil
}
func (f *fakeCache) ZRem(ctx context.Context, key, member string) error {
	members := f.zsets[key]
	for i, m := range members {
		if m == member {
			f.zsets[key] = append(members[:i], members[i+1:]...)
			break
		}
	}
	return nil
}
func (f *fakeCache) Incr(ctx context.Context, key string, delta int64) (int64, error) {
	f.counts[key] += delta
	return f.counts[key], nil
}

// TestCacheShimNamespaceIsolation covers spec.md seed scenario S3: a cache
// grant scoped to "jobs:" allows jobs:a and denies other:a.
func TestCacheShimNamespaceIsolation(t *testing.T) {
	spec := mustCompile(t, plugin.Spec{
		Platform: plugin.PlatformSpec{Cache: plugin.ServiceGrant{Granted: true, Scopes: []string{"jobs:"}}},
	})
	shim := newCacheShim(spec, newFakeCache())

	err := shim.Set(context.Background(), "jobs:a", []byte("1"), 0)
	require.NoError(t, err)

	err = shim.Set(context.Background(), "other:a", []byte("1"), 0)
	require.Error(t, err)
	assert.Equal(t, errtaxonomy.PermissionDenied, errtaxonomy.CodeOf(err))
}

func TestCacheShimSortedSetAndAtomicOpsGatedByNamespace(t *testing.T) {
	spec := mustCompile(t, plugin.Spec{
		Platform: plugin.PlatformSpec{Cache: plugin.ServiceGrant{Granted: true, Scopes: []string{"jobs:"}}},
	})
	shim := newCacheShim(spec, newFakeCache())

	require.NoError(t, shim.ZAdd(context.Background(), "jobs:leaderboard", "p1", 10))
	members, err := shim.ZRange(context.Background(), "jobs:leaderboard", 0, -1)
	require.NoError(t, err)
	assert.Equal(t, []string{"p1"}, members)

	_, err = shim.Incr(context.Background(), "other:counter", 1)
	require.Error(t, err)
	assert.Equal(t, errtaxonomy.PermissionDenied, errtaxonomy.CodeOf(err))

	err = shim.ZAdd(context.Background(), "other:leaderboard", "p2", 1)
	require.Error(t, err)
	assert.Equal(t, errtaxonomy.PermissionDenied, errtaxonomy.CodeOf(err))
}

func TestCacheShimClearRequiresUnrestrictedGrant(t *testing.T) {
	spec := mustCompile(t, plugin.Spec{
		Platform: plugin.PlatformSpec{Cache: plugin.ServiceGrant{Granted: true, Scopes: []string{"jobs:"}}},
	})
	shim := newCacheShim(spec, newFakeCache())

	err := shim.Clear(context.Background())
	require.Error(t, err)
	assert.Equal(t, errtaxonomy.PermissionDenied, errtaxonomy.CodeOf(err))
}

// fakeState is an in-memory StateBackend fake.
type fakeState struct{ kv map[string][]byte }

func newFakeState() *fakeState { return &fakeState{kv: map[string][]byte{}} }

func (f *fakeState) Get(ctx context.Context, key string) ([]byte, bool, error) {
	v, ok := f.kv[key]
	return v, ok, nil
}
func (f *fakeState) Set(ctx context.Context, key string, value []byte) error {
	f.kv[key] = value
	return nil
}
func (f *fakeState) Delete(ctx context.Context, key string) error { delete(f.kv, key); return nil }
func (f *fakeState) Has(ctx context.Context, key string) (bool, error) {
	_, ok := f.kv[key]
	return ok, nil
}
func (f *fakeState) GetMany(ctx context.Context, keys []string) (map[string][]byte, error) {
	out := map[string][]byte{}
	for _, k := range keys {
		if v, ok := f.kv[k]; ok {
			out[k] = v
		}
	}
	return out, nil
}
func (f *fakeState) SetMany(ctx context.Context, entries map[string][]byte) error {
	for k, v := range entries {
		f.kv[k] = v
	}
	return nil
}

// TestStateShimDefaultTenantPlaceholder covers spec.md §3/§8 property 5: the
// key template is "{tenantId|default}:{pluginId}:{key}", using the literal
// "default" when no tenant is set.
func TestStateShimDefaultTenantPlaceholder(t *testing.T) {
	backend := newFakeState()
	shim := newStateShim(invocation.Descriptor{PluginID: "p1"}, backend)

	require.NoError(t, shim.Set(context.Background(), "k", []byte("v")))

	_, ok := backend.kv["default:p1:k"]
	assert.True(t, ok, "expected the literal default tenant placeholder in the prefixed key")
}

func TestStateShimGetManySetManyRoundTrip(t *testing.T) {
	backend := newFakeState()
	shim := newStateShim(invocation.Descriptor{TenantID: "acme", PluginID: "p1"}, backend)

	require.NoError(t, shim.SetMany(context.Background(), map[string][]byte{
		"a": []byte("1"),
		"b": []byte("2"),
	}))

	_, aOK := backend.kv["acme:p1:a"]
	_, bOK := backend.kv["acme:p1:b"]
	assert.True(t, aOK)
	assert.True(t, bOK)

	got, err := shim.GetMany(context.Background(), []string{"a", "b", "missing"})
	require.NoError(t, err)
	assert.Equal(t, []byte("1"), got["a"])
	assert.Equal(t, []byte("2"), got["b"])
	_, missingOK := got["missing"]
	assert.False(t, missingOK)
}

// fakeEventBus records published topics/payloads.
type fakeEventBus struct {
	topic   string
	payload []byte
	calls   int
}

func (f *fakeEventBus) Publish(ctx context.Context, topic string, payload []byte) error {
	f.topic, f.payload, f.calls = topic, payload, f.calls+1
	return nil
}

func TestEventsShimNilBackendIsNoop(t *testing.T) {
	spec := mustCompile(t, plugin.Spec{Events: plugin.EventsSpec{Produce: []string{"*"}}})
	shim := newEventsShim(spec, invocation.Descriptor{PluginID: "p1"}, nil)

	err := shim.Produce(context.Background(), "ready", []byte("{}"))
	assert.NoError(t, err, "spec.md §4.8: if no emitter wired, a no-op")
}

func TestEventsShimPublishesPrefixedTopic(t *testing.T) {
	spec := mustCompile(t, plugin.Spec{Events: plugin.EventsSpec{Produce: []string{"ready"}}})
	bus := &fakeEventBus{}
	shim := newEventsShim(spec, invocation.Descriptor{PluginID: "p1"}, bus)

	require.NoError(t, shim.Produce(context.Background(), "ready", []byte("{}")))
	assert.Equal(t, "p1:ready", bus.topic)
	assert.Equal(t, 1, bus.calls)
}

// fakeVectorStore is an in-memory VectorStoreBackend fake.
type fakeVectorStore struct{ records []VectorRecord }

func (f *fakeVectorStore) Upsert(ctx context.Context, id string, vector []float32, metadata map[string]any) error {
	f.records = append(f.records, VectorRecord{ID: id, Vector: vector, Metadata: metadata})
	return nil
}
func (f *fakeVectorStore) Query(ctx context.Context, vector []float32, topK int) ([]VectorRecord, error) {
	return f.records, nil
}
func (f *fakeVectorStore) Delete(ctx context.Context, id string) error { return nil }
func (f *fakeVectorStore) Count(ctx context.Context) (int64, error)   { return int64(len(f.records)), nil }

func TestVectorStoreShimStripsNamespaceOnRead(t *testing.T) {
	spec := mustCompile(t, plugin.Spec{
		Platform: plugin.PlatformSpec{VectorStore: plugin.ServiceGrant{Granted: true, Scopes: []string{"tenantA"}}},
	})
	backend := &fakeVectorStore{}
	shim := newVectorStoreShim(spec, backend)

	require.NoError(t, shim.Upsert(context.Background(), "doc1", []float32{0.1}, nil))
	assert.Equal(t, "tenantA:doc1", backend.records[0].ID, "backend must see the namespaced id on write")

	results, err := shim.Query(context.Background(), []float32{0.1}, 10)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "doc1", results[0].ID, "handler must see the id with the namespace prefix stripped")
}

// TestArtifactsShimGatesByPermissionSpec covers the artifacts governance
// gap: self access follows ArtifactsSpec when declared, and otherPlugin
// access is refused without an explicit grant.
func TestArtifactsShimGatesByPermissionSpec(t *testing.T) {
	dir := t.TempDir()
	outdir := filepath.Join(dir, "p1")
	require.NoError(t, os.MkdirAll(outdir, 0o755))

	spec := mustCompile(t, plugin.Spec{
		Artifacts: plugin.ArtifactsSpec{
			Write: []plugin.ArtifactAccess{{From: "self", Paths: []string{"reports/*"}, AllowedTypes: []string{"json"}}},
		},
	})
	shim := newArtifactsShim(spec, invocation.Descriptor{PluginID: "p1", Outdir: outdir})

	require.NoError(t, shim.Write("reports/out.json", []byte(`{}`)))

	err := shim.Write("reports/out.csv", []byte("a,b"))
	require.Error(t, err)
	assert.Equal(t, errtaxonomy.PermissionDenied, errtaxonomy.CodeOf(err))

	err = shim.Write("scratch/out.json", []byte(`{}`))
	require.Error(t, err)
	assert.Equal(t, errtaxonomy.PermissionDenied, errtaxonomy.CodeOf(err))
}

func TestArtifactsShimSelfUnrestrictedWhenUndeclared(t *testing.T) {
	dir := t.TempDir()
	outdir := filepath.Join(dir, "p1")
	require.NoError(t, os.MkdirAll(outdir, 0o755))

	spec := mustCompile(t, plugin.Spec{})
	shim := newArtifactsShim(spec, invocation.Descriptor{PluginID: "p1", Outdir: outdir})

	require.NoError(t, shim.Write("out.txt", []byte("hello")))
	got, err := shim.Read("out.txt")
	require.NoError(t, err)
	assert.Equal(t, "hello", got)

	_, err = shim.ReadOtherBuffer("p2", "out.txt")
	require.Error(t, err, "otherPlugin access is never implied")
	assert.Equal(t, errtaxonomy.PermissionDenied, errtaxonomy.CodeOf(err))
}

// fakeJobsDispatcher is a JobsDispatcher fake that transitions a job to
// "succeeded" after a fixed number of Status polls.
type fakeJobsDispatcher struct {
	pollsUntilDone int
	polled         int
}

func (f *fakeJobsDispatcher) Submit(ctx context.Context, d invocation.Descriptor, handlerRef string, input []byte, opts SubmitOptions) (string, error) {
	return "job1", nil
}
func (f *fakeJobsDispatcher) Schedule(ctx context.Context, d invocation.Descriptor, handlerRef, cronExpr string, opts ScheduleOptions) (string, error) {
	return "sched1", nil
}
func (f *fakeJobsDispatcher) Status(ctx context.Context, jobID string) (JobStatus, error) {
	f.polled++
	if f.polled >= f.pollsUntilDone {
		return JobStatus{ID: jobID, Status: "succeeded"}, nil
	}
	return JobStatus{ID: jobID, Status: "running"}, nil
}
func (f *fakeJobsDispatcher) Cancel(ctx context.Context, jobID string) error { return nil }
func (f *fakeJobsDispatcher) List(ctx context.Context, d invocation.Descriptor) ([]JobStatus, error) {
	return nil, nil
}

func TestJobsShimWaitPollsUntilTerminal(t *testing.T) {
	dispatch := &fakeJobsDispatcher{pollsUntilDone: 3}
	spec := mustCompile(t, plugin.Spec{Jobs: plugin.JobsSpec{Submit: plugin.JobScope{Handlers: []string{"*"}}}})
	shim := newJobsShim(spec, invocation.Descriptor{PluginID: "p1"}, dispatch)

	status, err := shim.Wait(context.Background(), "job1", time.Second, time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, "succeeded", status.Status)
	assert.GreaterOrEqual(t, dispatch.polled, 3)
}

func TestJobsShimWaitTimesOut(t *testing.T) {
	dispatch := &fakeJobsDispatcher{pollsUntilDone: 1000}
	spec := mustCompile(t, plugin.Spec{Jobs: plugin.JobsSpec{Submit: plugin.JobScope{Handlers: []string{"*"}}}})
	shim := newJobsShim(spec, invocation.Descriptor{PluginID: "p1"}, dispatch)

	_, err := shim.Wait(context.Background(), "job1", 10*time.Millisecond, time.Millisecond)
	require.Error(t, err)
	assert.Equal(t, errtaxonomy.Timeout, errtaxonomy.CodeOf(err))
}

func TestJobsShimScheduleGatedByScheduleHandlers(t *testing.T) {
	dispatch := &fakeJobsDispatcher{}
	spec := mustCompile(t, plugin.Spec{Jobs: plugin.JobsSpec{Schedule: plugin.JobScope{Handlers: []string{"handlers/cron-*"}}}})
	shim := newJobsShim(spec, invocation.Descriptor{PluginID: "p1"}, dispatch)

	_, err := shim.Schedule(context.Background(), "handlers/cron-report", "5m", ScheduleOptions{})
	require.NoError(t, err)

	_, err = shim.Schedule(context.Background(), "handlers/other", "5m", ScheduleOptions{})
	require.Error(t, err)
	assert.Equal(t, errtaxonomy.PermissionDenied, errtaxonomy.CodeOf(err))
}

// fakeWorkflowsDispatcher mirrors fakeJobsDispatcher for the workflows shim.
type fakeWorkflowsDispatcher struct {
	pollsUntilDone int
	polled         int
}

func (f *fakeWorkflowsDispatcher) Run(ctx context.Context, d invocation.Descriptor, workflowRef string, input []byte) (string, error) {
	return "wf1", nil
}
func (f *fakeWorkflowsDispatcher) Status(ctx context.Context, workflowID string) (WorkflowStatus, error) {
	f.polled++
	if f.polled >= f.pollsUntilDone {
		return WorkflowStatus{ID: workflowID, Status: "succeeded"}, nil
	}
	return WorkflowStatus{ID: workflowID, Status: "running"}, nil
}
func (f *fakeWorkflowsDispatcher) Cancel(ctx context.Context, workflowID string) error { return nil }
func (f *fakeWorkflowsDispatcher) List(ctx context.Context, d invocation.Descriptor) ([]WorkflowStatus, error) {
	return nil, nil
}

func TestWorkflowsShimWaitPollsUntilTerminal(t *testing.T) {
	dispatch := &fakeWorkflowsDispatcher{pollsUntilDone: 3}
	shim := newWorkflowsShim(invocation.Descriptor{PluginID: "p1"}, dispatch)

	status, err := shim.Wait(context.Background(), "wf1", WaitOptions{Timeout: time.Second, PollInterval: time.Millisecond})
	require.NoError(t, err)
	assert.Equal(t, "succeeded", status.Status)
}

func TestWorkflowsShimNilDispatcherErrors(t *testing.T) {
	shim := newWorkflowsShim(invocation.Descriptor{PluginID: "p1"}, nil)

	_, err := shim.Run(context.Background(), "wf1", []byte(`{}`))
	require.Error(t, err)
	assert.Equal(t, errtaxonomy.HandlerError, errtaxonomy.CodeOf(err))
}
