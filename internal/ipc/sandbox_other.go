//go:build !linux

package ipc

import "os/exec"

// applyProcessSandbox is a no-op outside Linux: the namespace/Pdeathsig
// sandbox in sandbox_linux.go has no portable equivalent.
func applyProcessSandbox(cmd *exec.Cmd) {}
