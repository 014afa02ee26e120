package capability

import (
	"context"

	"github.com/goatkit/pluginrt/internal/errtaxonomy"
	"github.com/goatkit/pluginrt/internal/invocation"
	"github.com/goatkit/pluginrt/internal/permission"
)

// EventsShim gates cross-plugin event publication (spec.md §4.8), prefixing
// topics with the owning plugin's ID so two plugins can never collide on a
// bare topic name.
type EventsShim struct {
	spec     permission.CompiledSpec
	pluginID string
	backend  EventBus
}

func newEventsShim(spec permission.CompiledSpec, desc invocation.Descriptor, backend EventBus) *EventsShim {
	return &EventsShim{spec: spec, pluginID: desc.PluginID, backend: backend}
}

func (s *EventsShim) topic(event string) string {
	return s.pluginID + ":" + event
}

// Produce publishes payload on event, subject to events.produce scopes and
// the maxPayloadBytes ceiling.
func (s *EventsShim) Produce(ctx context.Context, event string, payload []byte) error {
	raw := s.spec.Raw().Events
	if !matchesAny(raw.Produce, event) {
		return permission.Denied("events.produce", event, "add "+event+" to events.produce", raw.Produce)
	}
	if raw.MaxPayloadBytes > 0 && len(payload) > raw.MaxPayloadBytes {
		return errtaxonomy.New(errtaxonomy.ValidationError, "event payload exceeds maxPayloadBytes").WithDetails(map[string]any{
			"event": event, "size": len(payload), "limit": raw.MaxPayloadBytes,
		})
	}
	if s.backend == nil {
		return nil
	}
	return s.backend.Publish(ctx, s.topic(event), payload)
}

// ConsumeAllowed reports whether event may be subscribed to, for the host's
// dispatch layer to check before delivering.
func (s *EventsShim) ConsumeAllowed(event string) bool {
	return matchesAny(s.spec.Raw().Events.Consume, event)
}

func matchesAny(patterns []string, event string) bool {
	for _, p := range patterns {
		if p == event || p == "*" {
			return true
		}
	}
	return false
}
