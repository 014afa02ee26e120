package capability

import (
	"os"

	"github.com/goatkit/pluginrt/internal/permission"
)

// lookupOSEnv is the default EnvLookup source, reading the host process's
// real environment.
func lookupOSEnv(name string) (string, bool) {
	return os.LookupEnv(name)
}

// EnvShim exposes read-only access to process environment variables
// matching the plugin's environment.read allow list (spec.md §4.2.2).
type EnvShim struct {
	spec   permission.CompiledSpec
	lookup func(string) (string, bool)
}

func newEnvShim(spec permission.CompiledSpec, lookup func(string) (string, bool)) *EnvShim {
	if lookup == nil {
		lookup = lookupOSEnv
	}
	return &EnvShim{spec: spec, lookup: lookup}
}

// Get returns the value of name and whether it is both set and allowed. A
// denied or unset variable looks identical to the handler: ("", false).
func (s *EnvShim) Get(name string) (string, bool) {
	if !s.spec.MatchEnv(name) {
		return "", false
	}
	return s.lookup(name)
}

// Has reports whether name is allowed and set, without exposing its value.
func (s *EnvShim) Has(name string) bool {
	_, ok := s.Get(name)
	return ok
}
