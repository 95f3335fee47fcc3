// internal/browser/session/context_utils.go
package session

import (
	"context"
)

// CombineContext returns a context that carries the values of primary (the
// chromedp tab context) and is cancelled when either primary or secondary
// (the caller's operational context) is done. When secondary ends first the
// cause is secondary's error. A secondary that is already done cancels the
// result before it is returned.
func CombineContext(primary, secondary context.Context) (context.Context, context.CancelFunc) {
	combined, cancel := context.WithCancelCause(primary)
	if secondary.Err() != nil {
		cancel(context.Cause(secondary))
		return combined, func() { cancel(context.Canceled) }
	}
	stop := context.AfterFunc(secondary, func() {
		cancel(context.Cause(secondary))
	})
	return combined, func() {
		stop()
		cancel(context.Canceled)
	}
}

// Detach returns a context with the values of ctx but without its deadline
// or cancellation, for cleanup that must run after the caller gave up.
func Detach(ctx context.Context) context.Context {
	return context.WithoutCancel(ctx)
}
