// Package cdp implements dom.Page with chromedp.
package cdp

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/chromedp/cdproto/cdp"
	cdpdom "github.com/chromedp/cdproto/dom"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"

	"github.com/entrhq/modelpin/pkg/browser"
	"github.com/entrhq/modelpin/pkg/dom"
	"github.com/entrhq/modelpin/pkg/logging"
)

// Page is a chromedp tab implementing dom.Page.
type Page struct {
	log *logging.Logger

	allocCancel context.CancelFunc
	tab         context.Context
	tabCancel   context.CancelFunc

	observers browser.Observers

	mu     sync.Mutex
	closed bool
}

var _ dom.Page = (*Page)(nil)

// Launch starts Chrome with a persistent profile, or connects to the
// browser at opts.CDPURL, and opens a tab at opts.URL. Attached browsers
// always get a fresh tab since closing a chromedp tab closes its target.
func Launch(ctx context.Context, opts browser.LaunchOptions, log *logging.Logger) (*Page, error) {
	if log == nil {
		log = logging.NewNop()
	}
	opts = opts.WithDefaults()

	var (
		allocCtx    context.Context
		allocCancel context.CancelFunc
	)
	if opts.CDPURL != "" {
		allocCtx, allocCancel = chromedp.NewRemoteAllocator(context.Background(), opts.CDPURL)
		log.Infof("attaching to browser at %s", opts.CDPURL)
	} else {
		allocOpts := append(chromedp.DefaultExecAllocatorOptions[:],
			chromedp.Flag("headless", opts.Headless),
			chromedp.WindowSize(browser.DefaultViewportWidth, browser.DefaultViewportHeight),
		)
		if opts.UserDataDir != "" {
			allocOpts = append(allocOpts, chromedp.UserDataDir(opts.UserDataDir))
		}
		if opts.BrowserPath != "" {
			allocOpts = append(allocOpts, chromedp.ExecPath(opts.BrowserPath))
		}
		allocCtx, allocCancel = chromedp.NewExecAllocator(context.Background(), allocOpts...)
		log.Infof("launching chrome with profile %s", opts.UserDataDir)
	}

	tab, tabCancel := chromedp.NewContext(allocCtx)
	p := &Page{
		log:         log,
		allocCancel: allocCancel,
		tab:         tab,
		tabCancel:   tabCancel,
	}

	// The first Run starts the browser; it is bound to the tab context,
	// not to ctx, so a short startup deadline cannot kill the browser.
	started := make(chan error, 1)
	go func() { started <- chromedp.Run(tab) }()
	select {
	case err := <-started:
		if err != nil {
			p.shutdown()
			return nil, fmt.Errorf("failed to start browser: %w", err)
		}
	case <-ctx.Done():
		p.shutdown()
		return nil, ctx.Err()
	}

	if opts.URL != "" {
		if err := p.Navigate(ctx, opts.URL); err != nil {
			p.shutdown()
			return nil, err
		}
	}
	return p, nil
}

// run executes actions on the tab, bounded by both ctx and the tab's
// lifetime.
func (p *Page) run(ctx context.Context, actions ...chromedp.Action) error {
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return browser.ErrClosed
	}

	c := chromedp.FromContext(p.tab)
	if c == nil || c.Target == nil {
		return browser.ErrClosed
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(p.tab, cancel)
	defer stop()

	return chromedp.Tasks(actions).Do(cdp.WithExecutor(ctx, c.Target))
}

// QuerySelector returns the first element matching a CSS selector.
func (p *Page) QuerySelector(ctx context.Context, selector string) (dom.Element, error) {
	var nodes []*cdp.Node
	err := p.run(ctx, chromedp.Nodes(selector, &nodes, chromedp.ByQuery, chromedp.AtLeast(0)))
	if err != nil {
		return nil, queryError(selector, err)
	}
	if len(nodes) == 0 {
		return nil, nil
	}
	return &element{page: p, node: nodes[0]}, nil
}

// QueryXPath returns every element matching an XPath expression.
func (p *Page) QueryXPath(ctx context.Context, expr string) ([]dom.Element, error) {
	var nodes []*cdp.Node
	err := p.run(ctx, chromedp.Nodes(expr, &nodes, chromedp.BySearch, chromedp.AtLeast(0)))
	if err != nil {
		return nil, queryError(expr, err)
	}

	elements := make([]dom.Element, 0, len(nodes))
	for _, n := range nodes {
		elements = append(elements, &element{page: p, node: n})
	}
	return elements, nil
}

func queryError(selector string, err error) error {
	if errors.Is(err, browser.ErrClosed) {
		return err
	}
	return browser.QueryError(selector, err)
}

// URL returns the tab's current URL.
func (p *Page) URL(ctx context.Context) (string, error) {
	var url string
	if err := p.run(ctx, chromedp.Location(&url)); err != nil {
		return "", err
	}
	return url, nil
}

// Observe calls fn for each batch of DOM mutations in the tab.
func (p *Page) Observe(ctx context.Context, fn dom.MutationFunc) error {
	if !p.observers.Add(fn) {
		return nil
	}

	chromedp.ListenTarget(p.tab, func(ev any) {
		if called, ok := ev.(*runtime.EventBindingCalled); ok && called.Name == browser.Binding {
			p.observers.Notify()
		}
	})

	script := browser.ObserverScript(browser.Binding)
	var installed bool
	return p.run(ctx,
		runtime.AddBinding(browser.Binding),
		chromedp.ActionFunc(func(ctx context.Context) error {
			_, err := page.AddScriptToEvaluateOnNewDocument(script).Do(ctx)
			return err
		}),
		chromedp.Evaluate(script+"\ntrue", &installed),
	)
}

// Navigate loads url and waits for it to finish loading.
func (p *Page) Navigate(ctx context.Context, url string) error {
	if err := p.run(ctx, chromedp.Navigate(url)); err != nil {
		return fmt.Errorf("navigation failed: %w", err)
	}
	return nil
}

// Close closes the tab and, for launched browsers, the browser.
func (p *Page) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	p.shutdown()
	return nil
}

func (p *Page) shutdown() {
	p.tabCancel()
	p.allocCancel()
}

type element struct {
	page *Page
	node *cdp.Node
}

// call invokes an element script with the node bound to this.
func (e *element) call(ctx context.Context, script string, res any, args ...any) error {
	return e.page.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		obj, err := cdpdom.ResolveNode().WithNodeID(e.node.NodeID).Do(ctx)
		if err != nil {
			return err
		}
		defer func() { _ = runtime.ReleaseObject(obj.ObjectID).Do(ctx) }()

		return chromedp.CallFunctionOn(browser.Method(script), res,
			func(p *runtime.CallFunctionOnParams) *runtime.CallFunctionOnParams {
				return p.WithObjectID(obj.ObjectID)
			},
			args...,
		).Do(ctx)
	}))
}

func (e *element) Text(ctx context.Context) (string, error) {
	var text string
	if err := e.call(ctx, browser.ScriptText, &text); err != nil {
		return "", err
	}
	return text, nil
}

func (e *element) Click(ctx context.Context) error {
	var ignored any
	return e.call(ctx, browser.ScriptClick, &ignored)
}

func (e *element) ClickClosest(ctx context.Context, selector string) (bool, error) {
	var clicked bool
	if err := e.call(ctx, browser.ScriptClickClosest, &clicked, selector); err != nil {
		return false, browser.QueryError(selector, err)
	}
	return clicked, nil
}

func (e *element) Focus(ctx context.Context) error {
	var ignored any
	return e.call(ctx, browser.ScriptFocus, &ignored)
}
