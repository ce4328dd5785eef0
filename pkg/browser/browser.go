// Package browser holds what the browser drivers share: launch options, the
// page-side scripts and error classification.
//
// # Drivers
//
// Three drivers implement dom.Page over the DevTools protocol:
//
//   - pwpage: Playwright (default). Downloads its own driver and Chromium
//     on first use when Install is set.
//   - cdp: chromedp, talking to a system Chrome or Chromium.
//   - rodpage: go-rod, with its own browser launcher.
//
// Every driver can either launch Chromium with a persistent profile, so the
// user stays signed in to the host application, or attach to a running
// browser started with --remote-debugging-port.
//
// # Mutation delivery
//
// Drivers expose a page binding (Binding) and install ObserverScript in
// every new document and in the current one. The observer calls the
// binding for each batch of subtree mutations; the driver fans the call
// out to the functions registered with Observe.
package browser

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/entrhq/modelpin/pkg/dom"
)

// Default values for launch options.
const (
	DefaultTimeout        = 30000.0 // milliseconds
	DefaultViewportWidth  = 1280
	DefaultViewportHeight = 900
)

// LaunchOptions configures how a driver obtains its page.
type LaunchOptions struct {
	// Headless runs the browser without a window. Signing in to the
	// host application needs a window, so it defaults to false.
	Headless bool

	// UserDataDir is the persistent browser profile.
	UserDataDir string

	// CDPURL attaches to a running browser instead of launching one.
	CDPURL string

	// BrowserPath overrides the browser executable.
	BrowserPath string

	// URL is opened when no existing tab is picked.
	URL string

	// Match picks an existing tab when attaching. Nil matches any tab.
	Match func(url string) bool

	// Timeout is the default operation timeout in milliseconds.
	Timeout float64

	// Install downloads the Playwright driver and browsers when missing.
	Install bool
}

// WithDefaults fills unset fields.
func (o LaunchOptions) WithDefaults() LaunchOptions {
	if o.Timeout <= 0 {
		o.Timeout = DefaultTimeout
	}
	return o
}

// Matches reports whether a tab at url should be picked.
func (o LaunchOptions) Matches(url string) bool {
	return o.Match == nil || o.Match(url)
}

var invalidSelectorMarkers = []string{
	"is not a valid",
	"SyntaxError",
	"Unexpected token",
	"DOM Error while querying",
	"Failed to execute 'evaluate'",
	"Failed to execute 'querySelector",
}

// QueryError wraps a failed query, marking it with dom.ErrInvalidSelector
// when the browser rejected the selector itself.
func QueryError(selector string, err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	for _, marker := range invalidSelectorMarkers {
		if strings.Contains(msg, marker) {
			return fmt.Errorf("query %q: %w: %v", selector, dom.ErrInvalidSelector, err)
		}
	}
	return fmt.Errorf("query %q: %w", selector, err)
}

// ErrClosed is returned by pages used after Close.
var ErrClosed = errors.New("page closed")

// Observers fans binding calls out to registered mutation functions.
type Observers struct {
	mu  sync.Mutex
	fns []dom.MutationFunc
}

// Add registers fn. It reports whether fn is the first one, in which case
// the caller installs the binding.
func (o *Observers) Add(fn dom.MutationFunc) (first bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.fns = append(o.fns, fn)
	return len(o.fns) == 1
}

// Notify calls every registered function.
func (o *Observers) Notify() {
	o.mu.Lock()
	fns := make([]dom.MutationFunc, len(o.fns))
	copy(fns, o.fns)
	o.mu.Unlock()

	for _, fn := range fns {
		fn()
	}
}
