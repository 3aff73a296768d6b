package httpapi

import (
	"context"
)

// joinContexts returns a context canceled when either a or b is done.
// Values come from b (the request). The cancel func must always be called.
func joinContexts(a, b context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(b)
	stop := context.AfterFunc(a, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}
