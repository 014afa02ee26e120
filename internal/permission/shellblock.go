package permission

import "strings"

// shellBlockList is the fixed, system-wide set of commands/fragments always
// refused regardless of grant (spec.md §4.8: "fixed block list (rm -rf /,
// mkfs, fork bombs, etc.) always refused").
var shellBlockList = []string{
	"rm -rf /",
	"rm -rf /*",
	"mkfs",
	":(){ :|:& };:",
	"dd if=/dev/zero",
	"dd if=/dev/random",
	"> /dev/sda",
	"chmod -R 777 /",
	"shutdown",
	"reboot",
}

func isShellBlocked(command string) bool {
	trimmed := strings.TrimSpace(command)
	for _, blocked := range shellBlockList {
		if strings.Contains(trimmed, blocked) {
			return true
		}
	}
	return false
}
