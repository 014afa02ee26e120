package extension

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goatkit/pluginrt/internal/runner"
)

func writeManifest(t *testing.T, dir, name, yamlBody string) {
	t.Helper()
	sub := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(sub, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(sub, "plugin.yaml"), []byte(yamlBody), 0644))
}

func TestLoaderSkipsNonGRPCRuntime(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, "wasm-ext", "name: wasm-ext\nruntime: wasm\nwasm: wasm-ext.wasm\n")

	l := NewLoader(dir, runner.NewRegistry())
	require.NoError(t, l.LoadAll(context.Background()))
	assert.Empty(t, l.processes)
}

func TestLoaderSkipsMissingManifest(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "empty-dir"), 0755))

	l := NewLoader(dir, runner.NewRegistry())
	require.NoError(t, l.LoadAll(context.Background()))
	assert.Empty(t, l.processes)
}

func TestLoaderErrorsOnMissingBinaryField(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, "broken", "name: broken\nruntime: grpc\n")

	l := NewLoader(dir, runner.NewRegistry())
	err := l.loadOne(context.Background(), "broken")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing binary path")
}

func TestLoaderLoadAllToleratesMissingDir(t *testing.T) {
	l := NewLoader(filepath.Join(t.TempDir(), "does-not-exist"), runner.NewRegistry())
	assert.NoError(t, l.LoadAll(context.Background()))
}

func TestManifestDefaultsNameFromDir(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, "my-ext", "runtime: grpc\nbinary: my-ext\n")

	l := NewLoader(dir, runner.NewRegistry())
	m, err := l.loadManifest("my-ext")
	require.NoError(t, err)
	assert.Equal(t, "my-ext", m.Name)
	assert.Equal(t, "grpc", m.Runtime)
}
