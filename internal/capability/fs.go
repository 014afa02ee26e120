package capability

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/goatkit/pluginrt/internal/errtaxonomy"
	"github.com/goatkit/pluginrt/internal/invocation"
	"github.com/goatkit/pluginrt/internal/permission"
)

// FSShim exposes the handler-facing filesystem operations of spec.md
// §4.2.1, gated by the compiled permission spec. Every path is resolved
// relative to the invocation's cwd before being checked.
type FSShim struct {
	spec      permission.CompiledSpec
	cwd       string
	analytics Analytics
}

func newFSShim(spec permission.CompiledSpec, desc invocation.Descriptor, analytics Analytics) *FSShim {
	return &FSShim{spec: spec, cwd: desc.Cwd, analytics: analytics}
}

func (s *FSShim) resolve(path string) string {
	if filepath.IsAbs(path) {
		return filepath.Clean(path)
	}
	return filepath.Clean(filepath.Join(s.cwd, path))
}

// isArtifactPath reports whether path falls under a reserved artifacts
// directory, which the direct FS shim must refuse (spec.md §4.2.1: "access
// must go through the Artifacts API").
func isArtifactPath(resolved string) bool {
	norm := filepath.ToSlash(resolved)
	return strings.Contains(norm, "/.artifacts/") || strings.HasSuffix(norm, "/.artifacts") ||
		strings.Contains(norm, "/artifacts/") || strings.HasSuffix(norm, "/artifacts")
}

func (s *FSShim) guardRead(path string) (string, error) {
	resolved := s.resolve(path)
	if isArtifactPath(resolved) {
		s.logBypass(path)
		return "", permission.Denied("fs.read", path, "access artifacts via the artifacts API, not fs", s.spec.Raw().Filesystem.Read)
	}
	if !s.spec.MatchFSRead(resolved) {
		return "", permission.Denied("fs.read", path, "add "+path+" to fs.read allow", s.spec.Raw().Filesystem.Read)
	}
	return resolved, nil
}

func (s *FSShim) guardWrite(path string) (string, error) {
	resolved := s.resolve(path)
	if isArtifactPath(resolved) {
		s.logBypass(path)
		return "", permission.Denied("fs.write", path, "access artifacts via the artifacts API, not fs", s.spec.Raw().Filesystem.Write)
	}
	if !s.spec.MatchFSWrite(resolved) {
		return "", permission.Denied("fs.write", path, "add "+path+" to fs.write allow", s.spec.Raw().Filesystem.Write)
	}
	return resolved, nil
}

func (s *FSShim) logBypass(path string) {
	if s.analytics == nil {
		return
	}
	s.analytics.Record(context.Background(), "fs.artifact_bypass_attempt", map[string]any{"path": path})
}

func (s *FSShim) ReadFile(path string) (string, error) {
	b, err := s.ReadFileBuffer(path)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (s *FSShim) ReadFileBuffer(path string) ([]byte, error) {
	resolved, err := s.guardRead(path)
	if err != nil {
		return nil, err
	}
	b, err := os.ReadFile(resolved)
	if err != nil {
		return nil, errtaxonomy.Wrap(errtaxonomy.WorkspaceError, "read file", err)
	}
	return b, nil
}

func (s *FSShim) WriteFile(path string, data []byte) error {
	resolved, err := s.guardWrite(path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(resolved), 0o755); err != nil {
		return errtaxonomy.Wrap(errtaxonomy.WorkspaceError, "create parent dir", err)
	}
	if err := os.WriteFile(resolved, data, 0o644); err != nil {
		return errtaxonomy.Wrap(errtaxonomy.WorkspaceError, "write file", err)
	}
	return nil
}

type DirEntry struct {
	Name  string
	IsDir bool
}

func (s *FSShim) Readdir(path string) ([]DirEntry, error) {
	resolved, err := s.guardRead(path)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(resolved)
	if err != nil {
		return nil, errtaxonomy.Wrap(errtaxonomy.WorkspaceError, "readdir", err)
	}
	out := make([]DirEntry, 0, len(entries))
	for _, e := range entries {
		out = append(out, DirEntry{Name: e.Name(), IsDir: e.IsDir()})
	}
	return out, nil
}

type StatResult struct {
	Name    string
	Size    int64
	IsDir   bool
	ModTime int64 // unix millis
}

func (s *FSShim) ReaddirWithStats(path string) ([]StatResult, error) {
	resolved, err := s.guardRead(path)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(resolved)
	if err != nil {
		return nil, errtaxonomy.Wrap(errtaxonomy.WorkspaceError, "readdir", err)
	}
	out := make([]StatResult, 0, len(entries))
	for _, e := range entries {
		info, ierr := e.Info()
		if ierr != nil {
			continue
		}
		out = append(out, StatResult{
			Name:    e.Name(),
			Size:    info.Size(),
			IsDir:   info.IsDir(),
			ModTime: info.ModTime().UnixMilli(),
		})
	}
	return out, nil
}

func (s *FSShim) Stat(path string) (StatResult, error) {
	resolved, err := s.guardRead(path)
	if err != nil {
		return StatResult{}, err
	}
	info, serr := os.Stat(resolved)
	if serr != nil {
		return StatResult{}, errtaxonomy.Wrap(errtaxonomy.WorkspaceError, "stat", serr)
	}
	return StatResult{Name: info.Name(), Size: info.Size(), IsDir: info.IsDir(), ModTime: info.ModTime().UnixMilli()}, nil
}

// Exists returns false for forbidden paths instead of failing (spec.md
// §4.2.1's one documented exception to the read-allow requirement).
func (s *FSShim) Exists(path string) bool {
	resolved, err := s.guardRead(path)
	if err != nil {
		return false
	}
	_, statErr := os.Stat(resolved)
	return statErr == nil
}

func (s *FSShim) Mkdir(path string, recursive bool) error {
	resolved, err := s.guardWrite(path)
	if err != nil {
		return err
	}
	if recursive {
		err = os.MkdirAll(resolved, 0o755)
	} else {
		err = os.Mkdir(resolved, 0o755)
	}
	if err != nil {
		return errtaxonomy.Wrap(errtaxonomy.WorkspaceError, "mkdir", err)
	}
	return nil
}

func (s *FSShim) Rm(path string, recursive bool) error {
	resolved, err := s.guardWrite(path)
	if err != nil {
		return err
	}
	if recursive {
		err = os.RemoveAll(resolved)
	} else {
		err = os.Remove(resolved)
	}
	if err != nil && !os.IsNotExist(err) {
		return errtaxonomy.Wrap(errtaxonomy.WorkspaceError, "rm", err)
	}
	return nil
}

func (s *FSShim) Copy(src, dst string) error {
	resolvedSrc, err := s.guardRead(src)
	if err != nil {
		return err
	}
	resolvedDst, err := s.guardWrite(dst)
	if err != nil {
		return err
	}
	data, rerr := os.ReadFile(resolvedSrc)
	if rerr != nil {
		return errtaxonomy.Wrap(errtaxonomy.WorkspaceError, "copy read", rerr)
	}
	if err := os.MkdirAll(filepath.Dir(resolvedDst), 0o755); err != nil {
		return errtaxonomy.Wrap(errtaxonomy.WorkspaceError, "copy mkdir", err)
	}
	if err := os.WriteFile(resolvedDst, data, 0o644); err != nil {
		return errtaxonomy.Wrap(errtaxonomy.WorkspaceError, "copy write", err)
	}
	return nil
}

func (s *FSShim) Move(src, dst string) error {
	resolvedSrc, err := s.guardWrite(src)
	if err != nil {
		return err
	}
	resolvedDst, err := s.guardWrite(dst)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(resolvedDst), 0o755); err != nil {
		return errtaxonomy.Wrap(errtaxonomy.WorkspaceError, "move mkdir", err)
	}
	if err := os.Rename(resolvedSrc, resolvedDst); err != nil {
		return errtaxonomy.Wrap(errtaxonomy.WorkspaceError, "move", err)
	}
	return nil
}

// Resolve, Relative, Join, Dirname, Basename, Extname are pure path
// utilities; they require no permission check since they don't touch the
// filesystem.
func (s *FSShim) Resolve(path string) string   { return s.resolve(path) }
func (s *FSShim) Relative(base, target string) string {
	rel, err := filepath.Rel(base, target)
	if err != nil {
		return target
	}
	return rel
}
func (s *FSShim) Join(parts ...string) string { return filepath.Join(parts...) }
func (s *FSShim) Dirname(path string) string  { return filepath.Dir(path) }
func (s *FSShim) Basename(path string) string { return filepath.Base(path) }
func (s *FSShim) Extname(path string) string  { return filepath.Ext(path) }

var _ fs.FS = (*osFS)(nil)

// osFS is unused by the shim directly (os.* calls above are simpler) but is
// kept as the seam a future sandboxed fs.FS (e.g. os.Root on Go 1.24+)
// would plug into without changing the shim's exported signatures.
type osFS struct{ root string }

func (f *osFS) Open(name string) (fs.File, error) {
	return os.Open(filepath.Join(f.root, name))
}
