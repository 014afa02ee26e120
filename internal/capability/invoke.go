package capability

import (
	"context"

	"github.com/goatkit/pluginrt/internal/errtaxonomy"
	"github.com/goatkit/pluginrt/internal/invocation"
	"github.com/goatkit/pluginrt/internal/permission"
)

// InvokeShim lets a handler call into another plugin, gated by invoke.allow
// /deny and the global recursion-depth ceiling (spec.md §4.8,
// invocation.MaxInvocationDepth).
type InvokeShim struct {
	spec     permission.CompiledSpec
	desc     invocation.Descriptor
	dispatch InvokeDispatcher
}

func newInvokeShim(spec permission.CompiledSpec, desc invocation.Descriptor, dispatch InvokeDispatcher) *InvokeShim {
	return &InvokeShim{spec: spec, desc: desc, dispatch: dispatch}
}

// Call invokes pluginID with input, propagating InvocationDepth+1 and
// rejecting once depth would exceed invocation.MaxInvocationDepth.
func (s *InvokeShim) Call(ctx context.Context, pluginID string, input []byte) (any, error) {
	if !s.spec.InvokeAllowed(pluginID) {
		return nil, permission.Denied("invoke", pluginID, "add "+pluginID+" to invoke.allow", s.spec.Raw().Invoke.Allow)
	}
	if s.desc.InvocationDepth+1 > invocation.MaxInvocationDepth {
		return nil, errtaxonomy.New(errtaxonomy.ValidationError, "invocation depth exceeds limit").WithDetails(map[string]any{
			"depth": s.desc.InvocationDepth + 1, "max": invocation.MaxInvocationDepth,
		})
	}
	if s.dispatch == nil {
		return nil, errtaxonomy.New(errtaxonomy.HandlerError, "no invoke dispatcher configured")
	}
	child := s.desc
	child.ParentRequestID = s.desc.RequestID
	child.InvocationDepth = s.desc.InvocationDepth + 1
	return s.dispatch.Invoke(ctx, child, pluginID, input)
}
