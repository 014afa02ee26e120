package capability

import (
	"bytes"
	"context"
	"os/exec"
	"sync"
	"time"

	"github.com/goatkit/pluginrt/internal/errtaxonomy"
	"github.com/goatkit/pluginrt/internal/permission"
)

// ShellResult is the handler-facing outcome of a shell exec (spec.md §4.8).
type ShellResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// ShellShim gates subprocess execution by allow/deny/blocklist, timeout, and
// concurrency ceiling, with an optional interactive confirmation hook.
type ShellShim struct {
	spec    permission.CompiledSpec
	confirm ConfirmationHook

	mu      sync.Mutex
	running int
}

func newShellShim(spec permission.CompiledSpec, confirm ConfirmationHook) *ShellShim {
	return &ShellShim{spec: spec, confirm: confirm}
}

// Exec runs command with args, subject to every gate in spec.md §4.8: system
// block list, per-plugin deny/allow, confirmation hook, per-command timeout,
// and maxConcurrent.
func (s *ShellShim) Exec(ctx context.Context, command string, args []string) (ShellResult, error) {
	if !s.spec.ShellAllowed(command) {
		return ShellResult{}, permission.Denied("shell", command, "add "+command+" to shell.allow", s.spec.Raw().Shell.Allow)
	}
	if s.spec.RequiresConfirmation(command) {
		if s.confirm == nil || !s.confirm(ctx, command, args) {
			return ShellResult{}, permission.Denied("shell.confirmation", command, "command requires interactive confirmation", nil)
		}
	}

	max := s.spec.Raw().Shell.MaxConcurrent
	if max > 0 {
		s.mu.Lock()
		if s.running >= max {
			s.mu.Unlock()
			return ShellResult{}, errtaxonomy.New(errtaxonomy.QueueFull, "shell.maxConcurrent exceeded")
		}
		s.running++
		s.mu.Unlock()
		defer func() {
			s.mu.Lock()
			s.running--
			s.mu.Unlock()
		}()
	}

	timeoutMs := s.spec.Raw().Shell.TimeoutMs
	runCtx := ctx
	if timeoutMs > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, time.Duration(timeoutMs)*time.Millisecond)
		defer cancel()
	}

	cmd := exec.CommandContext(runCtx, command, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	result := ShellResult{Stdout: stdout.String(), Stderr: stderr.String()}
	if exitErr, ok := err.(*exec.ExitError); ok {
		result.ExitCode = exitErr.ExitCode()
		return result, nil
	}
	if err != nil {
		if runCtx.Err() != nil {
			return result, errtaxonomy.Wrap(errtaxonomy.Timeout, "shell command timed out", err)
		}
		return result, errtaxonomy.Wrap(errtaxonomy.HandlerError, "shell exec", err)
	}
	return result, nil
}
