// File: internal/browser/context.go
package browser

import (
	"context"
)

// CombineContext derives a context from primary that is also cancelled when
// secondary is done. Values (the chromedp connection) come from primary only;
// secondary contributes its cancellation and deadline.
func CombineContext(primary, secondary context.Context) (context.Context, context.CancelFunc) {
	combined, cancel := context.WithCancelCause(primary)

	cancelDeadline := context.CancelFunc(func() {})
	if deadline, ok := secondary.Deadline(); ok {
		combined, cancelDeadline = context.WithDeadline(combined, deadline)
	}

	stop := context.AfterFunc(secondary, func() { cancel(context.Cause(secondary)) })
	return combined, func() {
		stop()
		cancelDeadline()
		cancel(context.Canceled)
	}
}
