package permission

import "github.com/goatkit/pluginrt/internal/errtaxonomy"

// Denied builds the typed PERMISSION_DENIED error every gate returns on
// refusal, carrying a remediation hint per spec.md §4.2.5 ("add <path> to
// fs.write allow"). Modeled on tombee-conductor's PermissionError shape
// (Type/Resource/Allowed/Message), folded into this runtime's closed error
// taxonomy instead of a bespoke error type.
func Denied(kind, resource, hint string, allowed []string) *errtaxonomy.Error {
	return errtaxonomy.New(errtaxonomy.PermissionDenied, hint).WithDetails(map[string]any{
		"kind":     kind,
		"resource": resource,
		"allowed":  allowed,
	})
}
