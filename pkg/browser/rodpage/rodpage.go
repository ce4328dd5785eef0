// Package rodpage implements dom.Page with go-rod.
package rodpage

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/ysmood/gson"

	"github.com/entrhq/modelpin/pkg/browser"
	"github.com/entrhq/modelpin/pkg/dom"
	"github.com/entrhq/modelpin/pkg/logging"
)

// Page is a rod tab implementing dom.Page.
type Page struct {
	log      *logging.Logger
	browser  *rod.Browser
	page     *rod.Page
	launcher *launcher.Launcher // nil when attached
	cancel   func()
	opts     browser.LaunchOptions

	observers  browser.Observers
	stopExpose func() error

	mu     sync.Mutex
	closed bool
}

var _ dom.Page = (*Page)(nil)

// Launch starts a browser with a persistent profile, or connects to the
// one at opts.CDPURL, and returns a tab. When attaching, an open tab
// accepted by opts.Match is reused.
func Launch(ctx context.Context, opts browser.LaunchOptions, log *logging.Logger) (*Page, error) {
	if log == nil {
		log = logging.NewNop()
	}
	opts = opts.WithDefaults()
	p := &Page{log: log, opts: opts}

	controlURL, err := p.controlURL()
	if err != nil {
		return nil, err
	}

	// The browser outlives ctx; Close cancels the connection.
	b, cancel := rod.New().ControlURL(controlURL).WithCancel()
	if err := b.Connect(); err != nil {
		cancel()
		p.killLauncher()
		return nil, fmt.Errorf("failed to connect to browser: %w", err)
	}
	p.browser = b
	p.cancel = cancel

	page, err := p.pickPage(ctx)
	if err != nil {
		_ = p.Close()
		return nil, err
	}
	p.page = page
	return p, nil
}

func (p *Page) controlURL() (string, error) {
	if p.opts.CDPURL != "" {
		u, err := launcher.ResolveURL(p.opts.CDPURL)
		if err != nil {
			return "", fmt.Errorf("failed to resolve %s: %w", p.opts.CDPURL, err)
		}
		p.log.Infof("attaching to browser at %s", u)
		return u, nil
	}

	l := launcher.New().
		Headless(p.opts.Headless).
		UserDataDir(p.opts.UserDataDir)
	if p.opts.BrowserPath != "" {
		l = l.Bin(p.opts.BrowserPath)
	}

	u, err := l.Launch()
	if err != nil {
		return "", fmt.Errorf("failed to launch browser: %w", err)
	}
	p.launcher = l
	p.log.Infof("launched browser with profile %s", p.opts.UserDataDir)
	return u, nil
}

func (p *Page) pickPage(ctx context.Context) (*rod.Page, error) {
	if p.launcher == nil {
		pages, err := p.browser.Pages()
		if err != nil {
			return nil, fmt.Errorf("failed to list tabs: %w", err)
		}
		for _, page := range pages {
			info, err := page.Info()
			if err != nil || info.Type != proto.TargetTargetInfoTypePage {
				continue
			}
			if info.URL != "about:blank" && p.opts.Matches(info.URL) {
				return page, nil
			}
		}
	}

	page, err := p.browser.Page(proto.TargetCreateTarget{})
	if err != nil {
		return nil, fmt.Errorf("failed to create page: %w", err)
	}
	p.setupFailed("set viewport", proto.EmulationSetDeviceMetricsOverride{
		Width:  browser.DefaultViewportWidth,
		Height: browser.DefaultViewportHeight,
	}.Call(page))

	if p.opts.URL != "" {
		if err := navigate(ctx, page, p.opts.URL); err != nil {
			return nil, err
		}
	}
	return page, nil
}

// setupFailed logs a page setup step that may fail without harm.
func (p *Page) setupFailed(step string, err error) {
	if err != nil {
		p.log.Debugf("failed to %s: %v", step, err)
	}
}

func navigate(ctx context.Context, page *rod.Page, url string) error {
	page = page.Context(ctx)
	if err := page.Navigate(url); err != nil {
		return fmt.Errorf("navigation failed: %w", err)
	}
	if err := page.WaitLoad(); err != nil {
		return fmt.Errorf("navigation failed: %w", err)
	}
	return nil
}

func (p *Page) check() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return browser.ErrClosed
	}
	return nil
}

// QuerySelector returns the first element matching a CSS selector.
func (p *Page) QuerySelector(ctx context.Context, selector string) (dom.Element, error) {
	if err := p.check(); err != nil {
		return nil, err
	}
	els, err := p.page.Context(ctx).Elements(selector)
	if err != nil {
		return nil, browser.QueryError(selector, err)
	}
	if els.Empty() {
		return nil, nil
	}
	return &element{el: els.First()}, nil
}

// QueryXPath returns every element matching an XPath expression.
func (p *Page) QueryXPath(ctx context.Context, expr string) ([]dom.Element, error) {
	if err := p.check(); err != nil {
		return nil, err
	}
	els, err := p.page.Context(ctx).ElementsX(expr)
	if err != nil {
		return nil, browser.QueryError(expr, err)
	}

	elements := make([]dom.Element, 0, len(els))
	for _, el := range els {
		elements = append(elements, &element{el: el})
	}
	return elements, nil
}

// URL returns the tab's current URL.
func (p *Page) URL(ctx context.Context) (string, error) {
	if err := p.check(); err != nil {
		return "", err
	}
	info, err := p.page.Context(ctx).Info()
	if err != nil {
		return "", err
	}
	return info.URL, nil
}

// Observe calls fn for each batch of DOM mutations in the tab.
func (p *Page) Observe(ctx context.Context, fn dom.MutationFunc) error {
	if err := p.check(); err != nil {
		return err
	}
	if !p.observers.Add(fn) {
		return nil
	}

	// Expose is bound to the page's own context so the binding lives as
	// long as the tab, not as long as ctx.
	stop, err := p.page.Expose(browser.Binding, func(gson.JSON) (interface{}, error) {
		p.observers.Notify()
		return nil, nil
	})
	if err != nil {
		return fmt.Errorf("failed to expose mutation binding: %w", err)
	}
	p.stopExpose = stop

	script := browser.ObserverScript(browser.Binding)
	if _, err := p.page.EvalOnNewDocument(script); err != nil {
		return fmt.Errorf("failed to add observer script: %w", err)
	}
	if _, err := p.page.Context(ctx).Eval("() => {\n" + script + "\n}"); err != nil {
		return fmt.Errorf("failed to install observer: %w", err)
	}
	return nil
}

// Navigate loads url and waits for it to finish loading.
func (p *Page) Navigate(ctx context.Context, url string) error {
	if err := p.check(); err != nil {
		return err
	}
	return navigate(ctx, p.page, url)
}

// Close releases the tab. A launched browser is closed with it; an
// attached one is only disconnected.
func (p *Page) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	var errs []error
	if p.stopExpose != nil {
		_ = p.stopExpose()
	}
	// An attached browser is left running.
	if p.browser != nil && p.launcher != nil {
		errs = append(errs, p.browser.Close())
	}
	if p.cancel != nil {
		p.cancel()
	}
	p.killLauncher()
	return errors.Join(errs...)
}

func (p *Page) killLauncher() {
	if p.launcher != nil {
		p.launcher.Kill()
	}
}

type element struct {
	el *rod.Element
}

func (e *element) eval(ctx context.Context, script string, args ...interface{}) (*proto.RuntimeRemoteObject, error) {
	return e.el.Context(ctx).Eval(browser.Method(script), args...)
}

func (e *element) Text(ctx context.Context) (string, error) {
	res, err := e.eval(ctx, browser.ScriptText)
	if err != nil {
		return "", err
	}
	return res.Value.Str(), nil
}

func (e *element) Click(ctx context.Context) error {
	_, err := e.eval(ctx, browser.ScriptClick)
	return err
}

func (e *element) ClickClosest(ctx context.Context, selector string) (bool, error) {
	res, err := e.eval(ctx, browser.ScriptClickClosest, selector)
	if err != nil {
		return false, browser.QueryError(selector, err)
	}
	return res.Value.Bool(), nil
}

func (e *element) Focus(ctx context.Context) error {
	_, err := e.eval(ctx, browser.ScriptFocus)
	return err
}
