package capability

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/goatkit/pluginrt/internal/errtaxonomy"
	"github.com/goatkit/pluginrt/internal/invocation"
	"github.com/goatkit/pluginrt/internal/permission"
)

// ArtifactsShim exposes a filesystem area rooted at the invocation's
// outdir, bypassing the fs.read/fs.write allow lists entirely (spec.md
// §4.2.1, §4.8: "the artifacts API has its own, separate root and needs no
// filesystem grant") but still gated by its own Artifacts grant
// (pkg/plugin.ArtifactsSpec): self access is unrestricted unless the spec
// narrows it, and reaching into another plugin's artifacts always requires
// an explicit "otherPlugin" grant.
type ArtifactsShim struct {
	spec       permission.CompiledSpec
	root       string
	othersRoot string
}

func newArtifactsShim(spec permission.CompiledSpec, desc invocation.Descriptor) *ArtifactsShim {
	return &ArtifactsShim{spec: spec, root: desc.Outdir, othersRoot: filepath.Dir(desc.Outdir)}
}

// Path returns the resolved, root-confined absolute path for rel. A rel
// that would escape root via ".." is clamped back to root.
func (a *ArtifactsShim) Path(rel string) string {
	return confine(a.root, rel)
}

func confine(root, rel string) string {
	resolved := filepath.Clean(filepath.Join(root, rel))
	if !strings.HasPrefix(resolved, filepath.Clean(root)) {
		return root
	}
	return resolved
}

func (a *ArtifactsShim) Read(rel string) (string, error) {
	b, err := a.ReadBuffer(rel)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (a *ArtifactsShim) ReadBuffer(rel string) ([]byte, error) {
	if !a.spec.ArtifactAllowed("read", "self", rel) {
		return nil, permission.Denied("artifacts.read", rel, "add "+rel+" to artifacts.read", nil)
	}
	b, err := os.ReadFile(a.Path(rel))
	if err != nil {
		return nil, errtaxonomy.Wrap(errtaxonomy.WorkspaceError, "read artifact", err)
	}
	return b, nil
}

func (a *ArtifactsShim) Write(rel string, data []byte) error {
	if !a.spec.ArtifactAllowed("write", "self", rel) {
		return permission.Denied("artifacts.write", rel, "add "+rel+" to artifacts.write", nil)
	}
	dst := a.Path(rel)
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return errtaxonomy.Wrap(errtaxonomy.WorkspaceError, "create artifact dir", err)
	}
	if err := os.WriteFile(dst, data, 0o644); err != nil {
		return errtaxonomy.Wrap(errtaxonomy.WorkspaceError, "write artifact", err)
	}
	return nil
}

func (a *ArtifactsShim) List(rel string) ([]string, error) {
	if !a.spec.ArtifactAllowed("read", "self", rel) {
		return nil, permission.Denied("artifacts.read", rel, "add "+rel+" to artifacts.read", nil)
	}
	entries, err := os.ReadDir(a.Path(rel))
	if err != nil {
		return nil, errtaxonomy.Wrap(errtaxonomy.WorkspaceError, "list artifacts", err)
	}
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Name())
	}
	return out, nil
}

func (a *ArtifactsShim) Exists(rel string) bool {
	if !a.spec.ArtifactAllowed("read", "self", rel) {
		return false
	}
	_, err := os.Stat(a.Path(rel))
	return err == nil
}

// ReadOtherBuffer reads rel from another plugin's artifact directory,
// allowed only by an explicit "otherPlugin" grant in the Artifacts spec
// (pkg/plugin.ArtifactAccess{From: "otherPlugin"}).
func (a *ArtifactsShim) ReadOtherBuffer(otherPluginID, rel string) ([]byte, error) {
	scoped := otherPluginID + "/" + rel
	if !a.spec.ArtifactAllowed("read", "otherPlugin", scoped) {
		return nil, permission.Denied("artifacts.read", scoped, "add "+scoped+" to artifacts.read with from: otherPlugin", nil)
	}
	b, err := os.ReadFile(confine(a.othersRoot, filepath.Join(otherPluginID, rel)))
	if err != nil {
		return nil, errtaxonomy.Wrap(errtaxonomy.WorkspaceError, "read other plugin artifact", err)
	}
	return b, nil
}
