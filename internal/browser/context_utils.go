// internal/browser/context_utils.go
package browser

import "context"

// combineContext derives from primary, keeping its values (the chromedp target),
// and cancels the result when secondary is done as well.
func combineContext(primary, secondary context.Context) (context.Context, context.CancelFunc) {
	combined, cancel := context.WithCancelCause(primary)
	stop := context.AfterFunc(secondary, func() {
		cancel(context.Cause(secondary))
	})
	return combined, func() {
		stop()
		cancel(context.Canceled)
	}
}
