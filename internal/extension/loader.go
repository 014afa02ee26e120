package extension

import (
	"context"
	"crypto/ed25519"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/goatkit/pluginrt/internal/runner"
	"github.com/goatkit/pluginrt/pkg/plugin"
)

// Loader discovers extension manifests under a directory, verifies and
// spawns their binaries, registers their handlerRefs into a
// runner.Registry, and watches the directory for hot-reload (grounded on
// internal/plugin/loader/loader.go's WalkDir discovery plus its
// fsnotify-based watch loop).
type Loader struct {
	dir         string
	registry    *runner.Registry
	logger      *slog.Logger
	trustedKeys []ed25519.PublicKey

	mu        sync.Mutex
	processes map[string]*Process // manifest name -> running process

	watcher     *fsnotify.Watcher
	watchCancel context.CancelFunc
	debounce    map[string]*time.Timer
}

// Option configures a Loader.
type Option func(*Loader)

// WithSignatureVerification requires every loaded binary to verify against
// one of trustedKeys (internal/plugin/signing).
func WithSignatureVerification(trustedKeys []ed25519.PublicKey) Option {
	return func(l *Loader) { l.trustedKeys = trustedKeys }
}

func WithLogger(logger *slog.Logger) Option {
	return func(l *Loader) { l.logger = logger }
}

func NewLoader(dir string, registry *runner.Registry, opts ...Option) *Loader {
	l := &Loader{
		dir:       dir,
		registry:  registry,
		logger:    slog.Default(),
		processes: make(map[string]*Process),
		debounce:  make(map[string]*time.Timer),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// LoadAll scans dir for subdirectories containing plugin.yaml with
// runtime: grpc, verifies, spawns, and registers each.
func (l *Loader) LoadAll(ctx context.Context) error {
	entries, err := os.ReadDir(l.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read extension dir: %w", err)
	}

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		name := entry.Name()
		if err := l.loadOne(ctx, name); err != nil {
			l.logger.Error("failed to load extension", "name", name, "error", err)
		}
	}
	return nil
}

func (l *Loader) manifestPath(name string) string {
	return filepath.Join(l.dir, name, "plugin.yaml")
}

func (l *Loader) loadManifest(name string) (plugin.PluginManifest, error) {
	data, err := os.ReadFile(l.manifestPath(name))
	if err != nil {
		return plugin.PluginManifest{}, err
	}
	var m plugin.PluginManifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return plugin.PluginManifest{}, fmt.Errorf("parse plugin.yaml for %q: %w", name, err)
	}
	if m.Name == "" {
		m.Name = name
	}
	return m, nil
}

func (l *Loader) loadOne(ctx context.Context, name string) error {
	manifest, err := l.loadManifest(name)
	if err != nil {
		return nil // no valid plugin.yaml, skip silently (matches loader.go's discovery)
	}
	if manifest.Runtime != "grpc" {
		return nil // only grpc (go-plugin) extensions are loaded; other runtimes such as wasm are skipped
	}
	if manifest.Binary == "" {
		return fmt.Errorf("extension %q: manifest missing binary path", manifest.Name)
	}

	binPath := filepath.Join(l.dir, name, manifest.Binary)
	proc, err := Load(ctx, manifest.Name, binPath, map[string]string{"extension_name": manifest.Name}, l.trustedKeys)
	if err != nil {
		return err
	}

	l.mu.Lock()
	if old, ok := l.processes[manifest.Name]; ok {
		l.mu.Unlock()
		_ = old.Shutdown()
		l.mu.Lock()
	}
	l.processes[manifest.Name] = proc
	l.mu.Unlock()

	declared := manifest.Handlers
	if len(declared) == 0 {
		declared = proc.HandlerRefs()
	}
	for _, ref := range declared {
		l.registry.Register(ref, proc.Handler(ref))
	}
	l.logger.Info("loaded extension", "name", manifest.Name, "handlers", declared)
	return nil
}

// Unload shuts down and unregisters name's process.
func (l *Loader) Unload(name string) error {
	l.mu.Lock()
	proc, ok := l.processes[name]
	delete(l.processes, name)
	l.mu.Unlock()
	if !ok {
		return nil
	}
	for _, ref := range proc.HandlerRefs() {
		l.registry.Unregister(ref)
	}
	return proc.Shutdown()
}

// Reload re-reads name's manifest and respawns its process, atomically
// replacing the registry bindings (spec.md §9 Design Note (b):
// "permission specs for compiled-in handlers are fixed at build time but
// extension handlers loaded via go-plugin/wasm may be hot-reloaded").
func (l *Loader) Reload(ctx context.Context, name string) error {
	return l.loadOne(ctx, name)
}

// Watch starts an fsnotify watch on dir, debouncing rapid writes and
// calling Reload for the affected extension directory.
func (l *Loader) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	if err := watcher.Add(l.dir); err != nil {
		watcher.Close()
		return fmt.Errorf("watch extension dir: %w", err)
	}
	l.watcher = watcher

	watchCtx, cancel := context.WithCancel(ctx)
	l.watchCancel = cancel

	go l.watchLoop(watchCtx)
	return nil
}

func (l *Loader) watchLoop(ctx context.Context) {
	defer l.watcher.Close()
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-l.watcher.Events:
			if !ok {
				return
			}
			name := filepath.Base(filepath.Dir(event.Name))
			l.scheduleReload(ctx, name)
		case err, ok := <-l.watcher.Errors:
			if !ok {
				return
			}
			l.logger.Error("extension watcher error", "error", err)
		}
	}
}

func (l *Loader) scheduleReload(ctx context.Context, name string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if t, ok := l.debounce[name]; ok {
		t.Stop()
	}
	l.debounce[name] = time.AfterFunc(500*time.Millisecond, func() {
		if err := l.Reload(ctx, name); err != nil {
			l.logger.Error("hot reload failed", "name", name, "error", err)
		}
	})
}

// Close stops the watcher and shuts down every loaded process.
func (l *Loader) Close() error {
	if l.watchCancel != nil {
		l.watchCancel()
	}
	l.mu.Lock()
	procs := make([]*Process, 0, len(l.processes))
	for _, p := range l.processes {
		procs = append(procs, p)
	}
	l.processes = make(map[string]*Process)
	l.mu.Unlock()

	var firstErr error
	for _, p := range procs {
		if err := p.Shutdown(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
