package pwpage

import (
	"context"
	"fmt"
	"sync"

	"github.com/playwright-community/playwright-go"

	"github.com/entrhq/modelpin/pkg/browser"
	"github.com/entrhq/modelpin/pkg/dom"
)

// Page is a Playwright tab implementing dom.Page.
type Page struct {
	manager     *Manager
	browser     playwright.Browser // set when attached over CDP
	context     playwright.BrowserContext
	page        playwright.Page
	opts        browser.LaunchOptions
	ownsManager bool

	observers browser.Observers

	mu     sync.Mutex
	closed bool
}

var _ dom.Page = (*Page)(nil)

func newPage(m *Manager, b playwright.Browser, bctx playwright.BrowserContext, p playwright.Page, opts browser.LaunchOptions) *Page {
	return &Page{
		manager: m,
		browser: b,
		context: bctx,
		page:    p,
		opts:    opts,
	}
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
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	handle, err := p.page.QuerySelector(selector)
	if err != nil {
		return nil, browser.QueryError(selector, err)
	}
	if handle == nil {
		return nil, nil
	}
	return &element{handle: handle}, nil
}

// QueryXPath returns every element matching an XPath expression.
func (p *Page) QueryXPath(ctx context.Context, expr string) ([]dom.Element, error) {
	if err := p.check(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	handles, err := p.page.QuerySelectorAll("xpath=" + expr)
	if err != nil {
		return nil, browser.QueryError(expr, err)
	}

	elements := make([]dom.Element, 0, len(handles))
	for _, h := range handles {
		elements = append(elements, &element{handle: h})
	}
	return elements, nil
}

// URL returns the tab's current URL.
func (p *Page) URL(ctx context.Context) (string, error) {
	if err := p.check(); err != nil {
		return "", err
	}
	return p.page.URL(), nil
}

// Observe calls fn for each batch of DOM mutations in the tab.
func (p *Page) Observe(ctx context.Context, fn dom.MutationFunc) error {
	if err := p.check(); err != nil {
		return err
	}
	if !p.observers.Add(fn) {
		return nil
	}

	err := p.page.ExposeFunction(browser.Binding, func(args ...interface{}) interface{} {
		p.observers.Notify()
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to expose mutation binding: %w", err)
	}

	script := browser.ObserverScript(browser.Binding)
	if err := p.page.AddInitScript(playwright.Script{Content: &script}); err != nil {
		return fmt.Errorf("failed to add observer script: %w", err)
	}
	if _, err := p.page.Evaluate(script); err != nil {
		return fmt.Errorf("failed to install observer: %w", err)
	}
	return nil
}

// Navigate loads url and waits for the DOM to be ready.
func (p *Page) Navigate(ctx context.Context, url string) error {
	if err := p.check(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	_, err := p.page.Goto(url, playwright.PageGotoOptions{
		WaitUntil: playwright.WaitUntilStateDomcontentloaded,
	})
	if err != nil {
		return fmt.Errorf("navigation failed: %w", err)
	}
	return nil
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

	var firstErr error
	if p.browser != nil {
		if err := p.browser.Close(); err != nil {
			firstErr = fmt.Errorf("failed to disconnect browser: %w", err)
		}
	} else if p.context != nil {
		if err := p.context.Close(); err != nil {
			firstErr = fmt.Errorf("failed to close browser: %w", err)
		}
	}

	if p.ownsManager {
		if err := p.manager.Shutdown(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

type element struct {
	handle playwright.ElementHandle
}

func (e *element) Text(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	v, err := e.handle.Evaluate(browser.ScriptText)
	if err != nil {
		return "", err
	}
	s, _ := v.(string)
	return s, nil
}

func (e *element) Click(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := e.handle.Evaluate(browser.ScriptClick)
	return err
}

func (e *element) ClickClosest(ctx context.Context, selector string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	v, err := e.handle.Evaluate(browser.ScriptClickClosest, selector)
	if err != nil {
		return false, browser.QueryError(selector, err)
	}
	clicked, _ := v.(bool)
	return clicked, nil
}

func (e *element) Focus(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := e.handle.Evaluate(browser.ScriptFocus)
	return err
}
