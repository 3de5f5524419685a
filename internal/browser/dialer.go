// File: internal/browser/dialer.go
package browser

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/xkilldash9x/fetchproxy/internal/fetch"
)

// ErrNoBrowser is returned when the remote endpoint accepted the connection
// but no browser session could be established on it.
var ErrNoBrowser = errors.New("no browser session available")

const blankPage = "about:blank"

// RemoteDialer connects to an already running Chrome over its remote debugging
// endpoint. Each Dial opens a fresh connection.
type RemoteDialer struct {
	logger *zap.Logger
}

var _ fetch.Dialer = (*RemoteDialer)(nil)

// NewRemoteDialer returns a dialer that logs through logger.
func NewRemoteDialer(logger *zap.Logger) *RemoteDialer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RemoteDialer{logger: logger.Named("cdp")}
}

// Dial attaches to the first page target of the browser at endpoint, creating
// one when the browser has no pages. ctx bounds only the dial itself.
func (d *RemoteDialer) Dial(ctx context.Context, endpoint string) (fetch.Tab, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// The connection outlives ctx; it is torn down by Tab.Close.
	allocCtx, cancelAlloc := chromedp.NewRemoteAllocator(context.Background(), endpoint)
	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx,
		chromedp.WithLogf(d.logger.Sugar().Debugf),
		chromedp.WithErrorf(d.logger.Sugar().Debugf),
	)

	// Abort a hanging handshake when the caller gives up.
	stop := context.AfterFunc(ctx, cancelAlloc)
	defer stop()

	fail := func(err error) (fetch.Tab, error) {
		cancelBrowser()
		cancelAlloc()
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("%w (%v)", ctxErr, err)
		}
		return nil, err
	}

	// Targets allocates the browser connection on browserCtx.
	targets, err := chromedp.Targets(browserCtx)
	if err != nil {
		return fail(err)
	}

	c := chromedp.FromContext(browserCtx)
	if c == nil || c.Browser == nil {
		return fail(ErrNoBrowser)
	}

	exec := cdp.WithExecutor(browserCtx, c.Browser)
	var contexts target.GetBrowserContextsReturns
	if err := cdp.Execute(exec, target.CommandGetBrowserContexts, target.GetBrowserContexts(), &contexts); err != nil {
		return fail(fmt.Errorf("failed to list browser contexts: %w", err))
	}

	targetID, found := firstPage(targets, contexts.BrowserContextIDs)
	if found {
		d.logger.Debug("Reusing existing page.", zap.String("target_id", string(targetID)))
	} else {
		targetID, err = target.CreateTarget(blankPage).Do(exec)
		if err != nil {
			return fail(fmt.Errorf("failed to create page: %w", err))
		}
		d.logger.Debug("Browser had no pages, created one.", zap.String("target_id", string(targetID)))
	}

	tabCtx, cancelTab := chromedp.NewContext(browserCtx, chromedp.WithTargetID(targetID))
	// An empty Run attaches to the target.
	if err := chromedp.Run(tabCtx); err != nil {
		cancelTab()
		return fail(fmt.Errorf("failed to attach to page %s: %w", targetID, err))
	}

	return &Tab{
		ctx:    tabCtx,
		logger: d.logger.With(zap.String("target_id", string(targetID))),
		cancels: []context.CancelFunc{
			cancelTab,
			cancelBrowser,
			cancelAlloc,
		},
	}, nil
}

// firstPage returns the first target of type page in the default browser
// context. nonDefault lists the other contexts (incognito windows, contexts
// owned by other clients), whose pages are skipped. Only one page is ever
// addressed; the remaining pages are ignored.
func firstPage(targets []*target.Info, nonDefault []cdp.BrowserContextID) (target.ID, bool) {
	skip := make(map[cdp.BrowserContextID]struct{}, len(nonDefault))
	for _, id := range nonDefault {
		skip[id] = struct{}{}
	}
	for _, t := range targets {
		if t == nil || t.Type != "page" {
			continue
		}
		if _, ok := skip[t.BrowserContextID]; ok {
			continue
		}
		return t.TargetID, true
	}
	return "", false
}

// Tab is one attached page.
type Tab struct {
	ctx     context.Context
	logger  *zap.Logger
	cancels []context.CancelFunc

	closeOnce sync.Once
}

var _ fetch.Tab = (*Tab)(nil)

// Navigate loads url and returns once DOMContentLoaded has fired for the new
// document. Same-document navigations return immediately.
func (t *Tab) Navigate(ctx context.Context, url string) error {
	opCtx, cancel := CombineContext(t.ctx, ctx)
	defer cancel()

	waiter := newLifecycleWaiter(domContentLoaded)
	// The listener is dropped with opCtx.
	chromedp.ListenTarget(opCtx, waiter.observe)

	return chromedp.Run(opCtx, chromedp.ActionFunc(func(ctx context.Context) error {
		if err := page.SetLifecycleEventsEnabled(true).Do(ctx); err != nil {
			return fmt.Errorf("failed to enable lifecycle events: %w", err)
		}

		var res page.NavigateReturns
		if err := cdp.Execute(ctx, page.CommandNavigate, page.Navigate(url), &res); err != nil {
			return err
		}
		if res.ErrorText != "" {
			return fmt.Errorf("page load error %s", res.ErrorText)
		}
		if res.LoaderID == "" {
			return nil
		}
		t.logger.Debug("Waiting for DOMContentLoaded.", zap.String("loader_id", string(res.LoaderID)))
		return waiter.wait(ctx, res.LoaderID)
	}))
}

// Evaluate runs script in the page, awaiting a returned promise. The result
// must be a string.
func (t *Tab) Evaluate(ctx context.Context, script string) (string, error) {
	opCtx, cancel := CombineContext(t.ctx, ctx)
	defer cancel()

	var result string
	err := chromedp.Run(opCtx, chromedp.Evaluate(script, &result, func(p *runtime.EvaluateParams) *runtime.EvaluateParams {
		return p.WithAwaitPromise(true).WithReturnByValue(true).WithUserGesture(true)
	}))
	if err != nil {
		return "", err
	}
	return result, nil
}

// Close disconnects from the browser. The page stays open for later use;
// chromedp closes attached targets on cancellation unless the target ID is
// cleared first.
func (t *Tab) Close() error {
	t.closeOnce.Do(func() {
		if c := chromedp.FromContext(t.ctx); c != nil && c.Target != nil {
			c.Target.TargetID = ""
		}
		for _, cancel := range t.cancels {
			cancel()
		}
		t.logger.Debug("Disconnected from browser.")
	})
	return nil
}
