package capability

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/goatkit/pluginrt/internal/errtaxonomy"
	"github.com/goatkit/pluginrt/internal/invocation"
	"github.com/goatkit/pluginrt/internal/permission"
	"github.com/goatkit/pluginrt/internal/trace"
)

// InvokeDispatcher lets the Invoke shim call into another plugin. The
// concrete implementation lives with the runner, which owns handler
// resolution; this interface exists to avoid an import cycle between
// capability and runner.
type InvokeDispatcher interface {
	Invoke(ctx context.Context, descriptor invocation.Descriptor, pluginID string, input []byte) (any, error)
}

// JobsDispatcher lets the Jobs shim submit, schedule, and poll the
// scheduler, defined here for the same reason as InvokeDispatcher.
type JobsDispatcher interface {
	Submit(ctx context.Context, descriptor invocation.Descriptor, handlerRef string, input []byte, opts SubmitOptions) (string, error)
	Schedule(ctx context.Context, descriptor invocation.Descriptor, handlerRef string, cronExpr string, opts ScheduleOptions) (string, error)
	Status(ctx context.Context, jobID string) (JobStatus, error)
	Cancel(ctx context.Context, jobID string) error
	List(ctx context.Context, descriptor invocation.Descriptor) ([]JobStatus, error)
}

// WorkflowsDispatcher lets the Workflows shim drive an abstract workflow
// engine, defined here for the same reason as InvokeDispatcher (spec.md
// §4.8: "workflows.{run, wait, status, cancel, list}").
type WorkflowsDispatcher interface {
	Run(ctx context.Context, descriptor invocation.Descriptor, workflowRef string, input []byte) (string, error)
	Status(ctx context.Context, workflowID string) (WorkflowStatus, error)
	Cancel(ctx context.Context, workflowID string) error
	List(ctx context.Context, descriptor invocation.Descriptor) ([]WorkflowStatus, error)
}

// ScheduleOptions carries the subset of recurring-schedule fields the
// handler API exposes over jobs.schedule (spec.md §4.7's cron/interval
// scheduling algorithm).
type ScheduleOptions struct {
	StartAt   *time.Time
	TimeoutMs int
	Tags      []string
}

// WorkflowStatus is the handler-facing view of a workflow run's state.
type WorkflowStatus struct {
	ID     string
	Status string
	Result any
	Error  *errtaxonomy.Error
}

// SubmitOptions carries the subset of job submission fields the handler API
// exposes (priority, delay, timeout, retries, tags — spec.md §3 Job).
type SubmitOptions struct {
	Priority  int
	DelayMs   int
	TimeoutMs int
	Retries   int
	Tags      []string
}

// JobStatus is the handler-facing view of a submitted job's state.
type JobStatus struct {
	ID        string
	Status    string
	Result    any
	Error     *errtaxonomy.Error
}

// ConfirmationHook lets the host supply interactive confirmation for shell
// commands flagged requireConfirmation (spec.md §4.8).
type ConfirmationHook func(ctx context.Context, command string, args []string) bool

// Deps bundles every injected, handler-independent dependency needed to
// build a Context: the real filesystem root, HTTP client, environment
// source, and the abstract platform-service backends. Deps are provided
// once per process (or per plugin, for namespacing); Context is built fresh
// per invocation on top of them plus a permission.CompiledSpec.
type Deps struct {
	HTTPClient  *http.Client
	Cache       CacheBackend
	Storage     StorageBackend
	VectorStore VectorStoreBackend
	LLM         LLMBackend
	EventBus    EventBus
	Analytics   Analytics
	State       StateBackend
	Invoke      InvokeDispatcher
	Jobs        JobsDispatcher
	Workflows   WorkflowsDispatcher
	Confirm     ConfirmationHook
	Logger      *slog.Logger
	EnvLookup   func(string) (string, bool) // defaults to os.LookupEnv; substitutable for tests (spec.md §9: inject global process.env as a capability)
}

// Context is the immutable, permission-gated bundle passed to a handler.
// Every field is either a gated shim or a pass-through of invocation
// identity (spec.md §4.2).
type Context struct {
	Descriptor invocation.Descriptor
	ExecutionID string

	FS          *FSShim
	Fetch       *FetchShim
	Env         *EnvShim
	Cache       *CacheShim
	Storage     *StorageShim
	VectorStore *VectorStoreShim
	LLM         *LLMShim
	Embeddings  *BinaryGatedShim
	Analytics   *BinaryGatedAnalytics
	EventBus    *EventsShim
	Shell       *ShellShim
	State       *StateShim
	Artifacts   *ArtifactsShim
	Invoke      *InvokeShim
	Jobs        *JobsShim
	Workflows   *WorkflowsShim
	Trace       *trace.Context
	Logger      *slog.Logger

	cleanups *CleanupStack
}

// Build constructs a Context for one invocation. It is the sole
// construction path; every shim inside is wired against the same compiled
// permission spec so no shim can diverge from another's view of the grant.
func Build(desc invocation.Descriptor, executionID string, spec permission.CompiledSpec, deps Deps, tc *trace.Context) *Context {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	envLookup := deps.EnvLookup
	if envLookup == nil {
		envLookup = defaultEnvLookup
	}

	cleanups := NewCleanupStack()

	return &Context{
		Descriptor:  desc,
		ExecutionID: executionID,
		FS:          newFSShim(spec, desc, deps.Analytics),
		Fetch:       newFetchShim(spec, deps.HTTPClient),
		Env:         newEnvShim(spec, envLookup),
		Cache:       newCacheShim(spec, deps.Cache),
		Storage:     newStorageShim(spec, deps.Storage),
		VectorStore: newVectorStoreShim(spec, deps.VectorStore),
		LLM:         newLLMShim(spec, deps.LLM),
		Embeddings:  newBinaryGatedShim(spec.EmbeddingsGranted()),
		Analytics:   newBinaryGatedAnalytics(spec.AnalyticsGranted(), deps.Analytics),
		EventBus:    newEventsShim(spec, desc, deps.EventBus),
		Shell:       newShellShim(spec, deps.Confirm),
		State:       newStateShim(desc, deps.State),
		Artifacts:   newArtifactsShim(spec, desc),
		Invoke:      newInvokeShim(spec, desc, deps.Invoke),
		Jobs:        newJobsShim(spec, desc, deps.Jobs),
		Workflows:   newWorkflowsShim(desc, deps.Workflows),
		Trace:       tc,
		Logger:      logger,
		cleanups:    cleanups,
	}
}

// OnCleanup registers fn onto the invocation's LIFO cleanup stack (spec.md
// §4.8: lifecycle.onCleanup).
func (c *Context) OnCleanup(fn func(context.Context) error) {
	c.cleanups.Push(fn)
}

// Cleanups returns the stack so the runner can drain it after the handler
// returns.
func (c *Context) Cleanups() *CleanupStack {
	return c.cleanups
}

func defaultEnvLookup(name string) (string, bool) {
	return lookupOSEnv(name)
}
