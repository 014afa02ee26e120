package capability

import "context"

type ctxKey struct{}

// Attach returns a context carrying c, retrievable by a handler via
// FromContext. Handlers receive a plain context.Context (so pkg/plugin need
// not import this internal package); this is the seam that smuggles the
// capability-gated Context across that boundary.
func Attach(ctx context.Context, c *Context) context.Context {
	return context.WithValue(ctx, ctxKey{}, c)
}

// FromContext recovers the Context attached by Attach. ok is false if ctx
// was not built by this runtime (e.g. a handler invoked directly in a unit
// test without going through Runner.Run).
func FromContext(ctx context.Context) (*Context, bool) {
	c, ok := ctx.Value(ctxKey{}).(*Context)
	return c, ok
}
