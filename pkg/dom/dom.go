// Package dom is the narrow boundary between modelpin and the host page.
//
// Browser drivers implement Document, Element and Page. Everything that
// knows about the host application's markup (class names, roles, the
// shape of the option list) lives in Locator and Markup so that a change
// on the host side touches only this package.
package dom

import (
	"context"
	"errors"
)

// ErrInvalidSelector is returned by drivers that can tell a malformed
// selector or XPath expression apart from one that simply matches nothing.
var ErrInvalidSelector = errors.New("invalid selector")

// Element is a handle to a node in the live document. Handles go stale
// when the host re-renders; every method may then fail.
type Element interface {
	// Text returns the rendered text (innerText) of the element.
	Text(ctx context.Context) (string, error)

	// Click dispatches a synthetic activation on the element.
	Click(ctx context.Context) error

	// ClickClosest clicks the nearest ancestor-or-self matching the CSS
	// selector. It reports false when there is none.
	ClickClosest(ctx context.Context, selector string) (bool, error)

	// Focus focuses the element without scrolling it into view.
	Focus(ctx context.Context) error
}

// Document answers structural queries against the live page.
type Document interface {
	// QuerySelector returns the first element matching the CSS selector,
	// or nil when nothing matches.
	QuerySelector(ctx context.Context, selector string) (Element, error)

	// QueryXPath evaluates expr against the document and returns the
	// matching elements in document order.
	QueryXPath(ctx context.Context, expr string) ([]Element, error)

	// URL returns the address of the current document.
	URL(ctx context.Context) (string, error)
}

// MutationFunc is called after the document subtree changed. Calls carry
// no payload; consumers re-query the document.
type MutationFunc func()

// Page is a Document owned by a browser driver.
type Page interface {
	Document

	// Observe installs a subtree mutation observer that survives
	// navigations and calls fn for every batch of mutations. fn must not
	// block.
	Observe(ctx context.Context, fn MutationFunc) error

	// Navigate loads url in the page.
	Navigate(ctx context.Context, url string) error

	// Close releases the page and the browser resources behind it.
	Close() error
}
