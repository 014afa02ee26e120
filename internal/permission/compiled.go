// Package permission compiles a plugin.Spec once, at invocation-context
// construction time, into pre-parsed matchers the capability shims consult
// on every call. Compiling once (rather than re-parsing glob/regex patterns
// per call) is the re-architecture spec.md §9 calls for: "the hot path must
// not re-parse on every call."
package permission

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/goatkit/pluginrt/pkg/plugin"
)

// alwaysAllowedEnv is granted regardless of an Environment spec (spec.md
// §4.2.3).
var alwaysAllowedEnv = map[string]struct{}{
	"NODE_ENV": {}, "CI": {}, "TZ": {}, "LANG": {},
}

// CompiledSpec is the runtime-efficient form of plugin.Spec.
type CompiledSpec struct {
	raw plugin.Spec

	fsRead  []string
	fsWrite []string

	fetchPatterns []*regexp.Regexp

	envExact    map[string]struct{}
	envPrefixes []string

	platform plugin.PlatformSpec

	shellAllowAll bool
	shellAllow    map[string]struct{}
	shellDeny     map[string]struct{}

	invokeAllowAll bool
	invokeAllow    map[string]struct{}
	invokeDeny     map[string]struct{}

	jobsSubmitHandlers   []string
	jobsScheduleHandlers []string

	artifactsRead  []plugin.ArtifactAccess
	artifactsWrite []plugin.ArtifactAccess
}

// Compile pre-parses spec into a CompiledSpec. The only failure mode is a
// malformed fetch glob, which cannot be translated to a valid regex.
func Compile(spec plugin.Spec) (CompiledSpec, error) {
	c := CompiledSpec{
		raw:      spec,
		fsRead:   spec.Filesystem.Read,
		fsWrite:  spec.Filesystem.Write,
		platform: spec.Platform,
	}

	for _, g := range spec.Network.Fetch {
		re, err := globToRegexp(g)
		if err != nil {
			return CompiledSpec{}, fmt.Errorf("compile fetch pattern %q: %w", g, err)
		}
		c.fetchPatterns = append(c.fetchPatterns, re)
	}

	c.envExact = map[string]struct{}{}
	for _, e := range spec.Environment.Read {
		if strings.HasSuffix(e, "*") {
			c.envPrefixes = append(c.envPrefixes, strings.TrimSuffix(e, "*"))
		} else {
			c.envExact[e] = struct{}{}
		}
	}

	c.shellAllow = map[string]struct{}{}
	c.shellDeny = map[string]struct{}{}
	for _, a := range spec.Shell.Allow {
		if a == "*" {
			c.shellAllowAll = true
			continue
		}
		c.shellAllow[a] = struct{}{}
	}
	for _, d := range spec.Shell.Deny {
		c.shellDeny[d] = struct{}{}
	}

	c.invokeAllow = map[string]struct{}{}
	c.invokeDeny = map[string]struct{}{}
	for _, a := range spec.Invoke.Allow {
		if a == "*" {
			c.invokeAllowAll = true
			continue
		}
		c.invokeAllow[a] = struct{}{}
	}
	for _, d := range spec.Invoke.Deny {
		c.invokeDeny[d] = struct{}{}
	}

	c.jobsSubmitHandlers = spec.Jobs.Submit.Handlers
	c.jobsScheduleHandlers = spec.Jobs.Schedule.Handlers

	c.artifactsRead = spec.Artifacts.Read
	c.artifactsWrite = spec.Artifacts.Write

	return c, nil
}

// Raw returns the original, uncompiled spec (used by the broker for quota
// limits and timeout ranges, which need no compilation).
func (c CompiledSpec) Raw() plugin.Spec { return c.raw }

// MatchFSRead reports whether path is covered by a read-allow pattern and is
// not system-denied. Deny always wins (spec.md §8, property 3).
func (c CompiledSpec) MatchFSRead(path string) bool {
	if IsSystemDenied(path) {
		return false
	}
	return globMatchAny(c.fsRead, path)
}

// MatchFSWrite reports whether path is covered by a write-allow pattern and
// is not system-denied.
func (c CompiledSpec) MatchFSWrite(path string) bool {
	if IsSystemDenied(path) {
		return false
	}
	return globMatchAny(c.fsWrite, path)
}

// MatchFetch reports whether url is covered by an allow pattern (spec.md
// §4.2.2, §8 property 4: allowed iff at least one anchored regex matches).
func (c CompiledSpec) MatchFetch(url string) bool {
	for _, re := range c.fetchPatterns {
		if re.MatchString(url) {
			return true
		}
	}
	return false
}

// MatchEnv reports whether name is readable: always-allowed, exact match, or
// prefix match.
func (c CompiledSpec) MatchEnv(name string) bool {
	if _, ok := alwaysAllowedEnv[name]; ok {
		return true
	}
	if _, ok := c.envExact[name]; ok {
		return true
	}
	for _, p := range c.envPrefixes {
		if strings.HasPrefix(name, p) {
			return true
		}
	}
	return false
}

// ShellAllowed reports whether command may run under the shell grant: the
// system-wide block list always wins, then the per-plugin deny list, then
// the allow list (or "*").
func (c CompiledSpec) ShellAllowed(command string) bool {
	if isShellBlocked(command) {
		return false
	}
	if _, denied := c.shellDeny[command]; denied {
		return false
	}
	if c.shellAllowAll {
		return true
	}
	_, ok := c.shellAllow[command]
	return ok
}

// RequiresConfirmation reports whether command needs a host-provided
// confirmation hook before running.
func (c CompiledSpec) RequiresConfirmation(command string) bool {
	for _, p := range c.raw.Shell.RequireConfirmation {
		if p == command {
			return true
		}
	}
	return false
}

// InvokeAllowed reports whether target (a "pluginId" or "pluginId:METHOD
// /path") may be invoked. Deny always wins.
func (c CompiledSpec) InvokeAllowed(target string) bool {
	if _, denied := c.invokeDeny[target]; denied {
		return false
	}
	if c.invokeAllowAll {
		return true
	}
	_, ok := c.invokeAllow[target]
	return ok
}

// JobHandlerAllowed reports whether handlerRef matches one of the allowed
// glob patterns for submit or schedule scope.
func (c CompiledSpec) JobHandlerAllowed(scope string, handlerRef string) bool {
	switch scope {
	case "submit":
		return globMatchAny(c.jobsSubmitHandlers, handlerRef)
	case "schedule":
		return globMatchAny(c.jobsScheduleHandlers, handlerRef)
	default:
		return false
	}
}

// ArtifactAllowed reports whether op ("read" or "write") on rel is granted
// for from ("self" or "otherPlugin"), per spec.md §4.8's artifacts API and
// pkg/plugin.ArtifactsSpec. An undeclared Artifacts section leaves "self"
// access unrestricted (an invocation always owns its own outdir) but
// grants no "otherPlugin" access at all — that always requires an explicit
// grant.
func (c CompiledSpec) ArtifactAllowed(op, from, rel string) bool {
	var list []plugin.ArtifactAccess
	switch op {
	case "read":
		list = c.artifactsRead
	case "write":
		list = c.artifactsWrite
	default:
		return false
	}
	if len(list) == 0 {
		return from == "self"
	}
	for _, a := range list {
		if a.From != from {
			continue
		}
		if len(a.Paths) > 0 && !globMatchAny(a.Paths, rel) {
			continue
		}
		if len(a.AllowedTypes) > 0 && !extAllowed(a.AllowedTypes, rel) {
			continue
		}
		return true
	}
	return false
}

func extAllowed(allowed []string, rel string) bool {
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(rel)), ".")
	for _, a := range allowed {
		if strings.TrimPrefix(strings.ToLower(a), ".") == ext {
			return true
		}
	}
	return false
}

func globMatchAny(patterns []string, path string) bool {
	norm := normalizePath(path)
	for _, p := range patterns {
		np := normalizePath(p)
		ok, err := doublestar.Match(np, norm)
		if err == nil && ok {
			return true
		}
	}
	return false
}

// globToRegexp translates a fetch URL glob into an anchored regex: "*"
// becomes ".*", "?" becomes ".", and every other regex special character is
// escaped (spec.md §4.2.2).
func globToRegexp(glob string) (*regexp.Regexp, error) {
	var b strings.Builder
	b.WriteString("^")
	for _, r := range glob {
		switch r {
		case '*':
			b.WriteString(".*")
		case '?':
			b.WriteString(".")
		default:
			b.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	b.WriteString("$")
	return regexp.Compile(b.String())
}
