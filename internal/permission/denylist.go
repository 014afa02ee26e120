package permission

import "strings"

// systemDeniedSegments are enforced system-wide regardless of any granted
// "**" allow pattern (spec.md §3, "Denied patterns"). They are checked
// against path segments so both relative and absolute paths are covered.
var systemDeniedSegments = []string{
	".env",
	".git",
	".ssh",
	"node_modules",
}

// systemDeniedRoots are well-known OS system directories, always denied.
var systemDeniedRoots = []string{
	"/etc",
	"/proc",
	"/sys",
	"/boot",
	"/dev",
}

// IsSystemDenied reports whether path matches a system-wide denied pattern.
// Deny always wins, even under a broader "**" allow (spec.md §8, property 3).
func IsSystemDenied(path string) bool {
	norm := normalizePath(path)
	for _, seg := range systemDeniedSegments {
		if containsSegment(norm, seg) {
			return true
		}
	}
	for _, root := range systemDeniedRoots {
		if norm == root || strings.HasPrefix(norm, root+"/") {
			return true
		}
	}
	return false
}

func containsSegment(path, seg string) bool {
	if path == seg || strings.HasPrefix(path, seg+"/") || strings.HasSuffix(path, "/"+seg) {
		return true
	}
	return strings.Contains(path, "/"+seg+"/")
}

func normalizePath(p string) string {
	p = strings.ReplaceAll(p, "\\", "/")
	p = strings.TrimPrefix(p, "./")
	return p
}
