package capability

import (
	"context"

	"github.com/goatkit/pluginrt/internal/permission"
)

// LLMShim gates the platform LLM service by model allow list (spec.md §4.3).
type LLMShim struct {
	spec    permission.CompiledSpec
	backend LLMBackend
}

func newLLMShim(spec permission.CompiledSpec, backend LLMBackend) *LLMShim {
	return &LLMShim{spec: spec, backend: backend}
}

func (s *LLMShim) Complete(ctx context.Context, model, prompt string, opts map[string]any) (string, error) {
	if s.backend == nil || !s.spec.LLMModelAllowed(model) {
		return "", permission.Denied("platform.llm", model, "add "+model+" to platform.llm scopes", s.spec.Raw().Platform.LLM.Scopes)
	}
	return s.backend.Complete(ctx, model, prompt, opts)
}
