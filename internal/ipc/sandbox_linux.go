//go:build linux

package ipc

import (
	"os"
	"os/exec"
	"syscall"

	"golang.org/x/sys/unix"
)

// applyProcessSandbox sets OS-level process restrictions on a worker command,
// grounded on goatflow's internal/plugin/grpc/sandbox_linux.go: the worker
// dies if the host dies (Pdeathsig), and is placed in its own mount/PID
// namespace where the kernel supports it. exec.Cmd.SysProcAttr is typed as
// *syscall.SysProcAttr, but the flag values come from x/sys/unix so the
// sandbox stays correct across kernel/arch variants the stdlib syscall
// package doesn't track as closely.
func applyProcessSandbox(cmd *exec.Cmd) {
	attr := &syscall.SysProcAttr{
		Pdeathsig: syscall.Signal(unix.SIGKILL),
	}
	if supportsNamespaces() {
		attr.Cloneflags = uintptr(unix.CLONE_NEWNS | unix.CLONE_NEWPID)
	}
	cmd.SysProcAttr = attr
}

func supportsNamespaces() bool {
	_, err := os.Stat("/proc/sys/user/max_user_namespaces")
	return err == nil
}
