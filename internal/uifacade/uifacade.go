// Package uifacade implements the UI facade a backend attaches to an
// invocation's capability context based on host type (spec.md §4.4: "build
// the UI by host type; silent UI by default, CLI UI when host is cli").
package uifacade

import (
	"fmt"
	"io"

	"github.com/goatkit/pluginrt/internal/invocation"
)

// UI is the narrow surface a handler uses for progress/status output. It is
// intentionally minimal: handlers that need richer interaction go through
// platform.eventBus or the artifacts API instead.
type UI interface {
	Print(msg string)
	Progress(pct int, msg string)
}

// ForHost selects the UI implementation for hostType (spec.md §4.4).
func ForHost(hostType invocation.HostType, out io.Writer) UI {
	if hostType == invocation.HostCLI {
		return &cliUI{out: out}
	}
	return silentUI{}
}

type silentUI struct{}

func (silentUI) Print(string)          {}
func (silentUI) Progress(int, string)  {}

type cliUI struct {
	out io.Writer
}

func (u *cliUI) Print(msg string) {
	fmt.Fprintln(u.out, msg)
}

func (u *cliUI) Progress(pct int, msg string) {
	fmt.Fprintf(u.out, "[%3d%%] %s\n", pct, msg)
}
