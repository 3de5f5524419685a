// File: internal/browser/lifecycle.go
package browser

import (
	"context"
	"fmt"
	"sync"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/page"
)

const domContentLoaded = "DOMContentLoaded"

// lifecycleWaiter remembers which loaders reached a lifecycle milestone.
// Events can arrive before Page.navigate returns its loader ID, so they are
// recorded rather than matched on the fly.
type lifecycleWaiter struct {
	name   string
	mu     sync.Mutex
	fired  map[cdp.LoaderID]struct{}
	notify chan struct{}
}

func newLifecycleWaiter(name string) *lifecycleWaiter {
	return &lifecycleWaiter{
		name:   name,
		fired:  make(map[cdp.LoaderID]struct{}),
		notify: make(chan struct{}, 1),
	}
}

// observe is a chromedp target listener; it must not block.
func (w *lifecycleWaiter) observe(ev interface{}) {
	e, ok := ev.(*page.EventLifecycleEvent)
	if !ok || e.Name != w.name {
		return
	}
	w.mu.Lock()
	w.fired[e.LoaderID] = struct{}{}
	w.mu.Unlock()

	select {
	case w.notify <- struct{}{}:
	default:
	}
}

func (w *lifecycleWaiter) seen(id cdp.LoaderID) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, ok := w.fired[id]
	return ok
}

// wait blocks until the milestone fired for loader id or ctx is done.
func (w *lifecycleWaiter) wait(ctx context.Context, id cdp.LoaderID) error {
	for !w.seen(id) {
		select {
		case <-w.notify:
		case <-ctx.Done():
			return fmt.Errorf("timed out waiting for %s: %w", w.name, ctx.Err())
		}
	}
	return nil
}
