// Package pwpage implements dom.Page with Playwright.
package pwpage

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/playwright-community/playwright-go"

	"github.com/entrhq/modelpin/pkg/browser"
	"github.com/entrhq/modelpin/pkg/logging"
)

// Manager owns the Playwright driver process.
type Manager struct {
	mu          sync.Mutex
	playwright  *playwright.Playwright
	initialized bool
	log         *logging.Logger
}

// NewManager creates a manager. Initialize must be called before Open.
func NewManager(log *logging.Logger) *Manager {
	if log == nil {
		log = logging.NewNop()
	}
	return &Manager{log: log}
}

// Initialize starts the Playwright driver, installing it and Chromium
// first when install is set.
func (m *Manager) Initialize(install bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.initialized {
		return nil
	}

	// Keep driver chatter off the terminal
	opts := &playwright.RunOptions{
		Browsers: []string{"chromium"},
		Verbose:  false,
		Stdout:   io.Discard,
		Stderr:   io.Discard,
	}

	if install {
		m.log.Infof("installing playwright driver and chromium")
		if err := playwright.Install(opts); err != nil {
			return fmt.Errorf("failed to install playwright: %w", err)
		}
	}

	pw, err := playwright.Run(opts)
	if err != nil {
		return fmt.Errorf("failed to start playwright: %w", err)
	}

	m.playwright = pw
	m.initialized = true
	return nil
}

// Open launches a persistent-profile browser, or attaches to one when
// opts.CDPURL is set, and returns the page to reconcile.
func (m *Manager) Open(ctx context.Context, opts browser.LaunchOptions) (*Page, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.initialized {
		return nil, fmt.Errorf("playwright manager not initialized")
	}
	opts = opts.WithDefaults()

	if opts.CDPURL != "" {
		return m.attach(opts)
	}
	return m.launch(opts)
}

func (m *Manager) launch(opts browser.LaunchOptions) (*Page, error) {
	launchOpts := playwright.BrowserTypeLaunchPersistentContextOptions{
		Headless: playwright.Bool(opts.Headless),
		Viewport: &playwright.Size{
			Width:  browser.DefaultViewportWidth,
			Height: browser.DefaultViewportHeight,
		},
	}
	if opts.BrowserPath != "" {
		launchOpts.ExecutablePath = playwright.String(opts.BrowserPath)
	}

	bctx, err := m.playwright.Chromium.LaunchPersistentContext(opts.UserDataDir, launchOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}
	m.log.Infof("launched chromium with profile %s", opts.UserDataDir)

	page, err := pickPage(bctx, opts)
	if err != nil {
		bctx.Close()
		return nil, err
	}

	return newPage(m, nil, bctx, page, opts), nil
}

func (m *Manager) attach(opts browser.LaunchOptions) (*Page, error) {
	b, err := m.playwright.Chromium.ConnectOverCDP(opts.CDPURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", opts.CDPURL, err)
	}
	m.log.Infof("attached to browser at %s", opts.CDPURL)

	var bctx playwright.BrowserContext
	if contexts := b.Contexts(); len(contexts) > 0 {
		bctx = contexts[0]
	} else {
		bctx, err = b.NewContext()
		if err != nil {
			b.Close()
			return nil, fmt.Errorf("failed to create context: %w", err)
		}
	}

	page, err := pickPage(bctx, opts)
	if err != nil {
		b.Close()
		return nil, err
	}

	return newPage(m, b, bctx, page, opts), nil
}

// pickPage returns the first open tab accepted by opts, or a new tab at
// opts.URL.
func pickPage(bctx playwright.BrowserContext, opts browser.LaunchOptions) (playwright.Page, error) {
	for _, p := range bctx.Pages() {
		if p.URL() != "about:blank" && opts.Matches(p.URL()) {
			p.SetDefaultTimeout(opts.Timeout)
			return p, nil
		}
	}

	var page playwright.Page
	if pages := bctx.Pages(); len(pages) > 0 && pages[0].URL() == "about:blank" {
		page = pages[0]
	} else {
		var err error
		page, err = bctx.NewPage()
		if err != nil {
			return nil, fmt.Errorf("failed to create page: %w", err)
		}
	}
	page.SetDefaultTimeout(opts.Timeout)

	if opts.URL != "" {
		if _, err := page.Goto(opts.URL, playwright.PageGotoOptions{
			WaitUntil: playwright.WaitUntilStateDomcontentloaded,
		}); err != nil {
			return nil, fmt.Errorf("navigation failed: %w", err)
		}
	}
	return page, nil
}

// Shutdown stops the Playwright driver.
func (m *Manager) Shutdown() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.initialized && m.playwright != nil {
		if err := m.playwright.Stop(); err != nil {
			return fmt.Errorf("failed to stop playwright: %w", err)
		}
		m.initialized = false
	}
	return nil
}

// Launch initializes a manager and opens a page. Closing the page stops
// the manager.
func Launch(ctx context.Context, opts browser.LaunchOptions, log *logging.Logger) (*Page, error) {
	m := NewManager(log)
	if err := m.Initialize(opts.Install); err != nil {
		return nil, err
	}
	page, err := m.Open(ctx, opts)
	if err != nil {
		_ = m.Shutdown()
		return nil, err
	}
	page.ownsManager = true
	return page, nil
}
