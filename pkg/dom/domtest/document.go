// Package domtest provides an in-memory dom.Page for tests.
package domtest

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/entrhq/modelpin/pkg/dom"
)

// ErrStale is returned by elements that were detached with Detach.
var ErrStale = errors.New("stale element")

// Element is a fake node. Text is used for both rendered text and XPath
// string-value.
type Element struct {
	Name    string
	Class   string
	Matches []string // CSS selectors this element answers to in ClickClosest
	Parent  *Element

	// OnClick runs after a successful click, with no locks held.
	OnClick func()

	mu       sync.Mutex
	text     string
	clicks   int
	focuses  int
	detached bool
}

// NewElement creates an element with the given text.
func NewElement(name, text string) *Element {
	return &Element{Name: name, text: text}
}

// SetText replaces the element's text.
func (e *Element) SetText(text string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.text = text
}

// Detach makes every later call on the element fail with ErrStale.
func (e *Element) Detach() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.detached = true
}

// Clicks returns how many times the element was clicked.
func (e *Element) Clicks() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.clicks
}

// Focuses returns how many times the element was focused.
func (e *Element) Focuses() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.focuses
}

func (e *Element) String() string {
	return e.Name
}

// Text implements dom.Element.
func (e *Element) Text(context.Context) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.detached {
		return "", ErrStale
	}
	return e.text, nil
}

// Click implements dom.Element.
func (e *Element) Click(context.Context) error {
	e.mu.Lock()
	if e.detached {
		e.mu.Unlock()
		return ErrStale
	}
	e.clicks++
	onClick := e.OnClick
	e.mu.Unlock()

	if onClick != nil {
		onClick()
	}
	return nil
}

// ClickClosest implements dom.Element.
func (e *Element) ClickClosest(ctx context.Context, selector string) (bool, error) {
	for el := e; el != nil; el = el.Parent {
		if slices.Contains(el.Matches, selector) {
			return true, el.Click(ctx)
		}
	}
	return false, nil
}

// Focus implements dom.Element.
func (e *Element) Focus(context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.detached {
		return ErrStale
	}
	e.focuses++
	return nil
}

// Document is a fake dom.Page. CSS queries are answered from an explicit
// selector table; XPath queries must be dom.TextQuery expressions and are
// evaluated against the option list.
type Document struct {
	mu        sync.Mutex
	selectors map[string]*Element
	invalid   map[string]bool
	options   []*Element
	url       string
	observers []dom.MutationFunc
	xpaths    []string
	closed    bool
}

// NewDocument creates an empty document at url.
func NewDocument(url string) *Document {
	return &Document{
		selectors: make(map[string]*Element),
		invalid:   make(map[string]bool),
		url:       url,
	}
}

// Set makes selector resolve to el (nil removes it).
func (d *Document) Set(selector string, el *Element) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if el == nil {
		delete(d.selectors, selector)
		return
	}
	d.selectors[selector] = el
}

// SetInvalid makes queries for selector fail with dom.ErrInvalidSelector.
func (d *Document) SetInvalid(selector string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.invalid[selector] = true
}

// SetOptions replaces the option list, in document order.
func (d *Document) SetOptions(options ...*Element) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.options = options
}

// XPathQueries returns every XPath expression evaluated so far.
func (d *Document) XPathQueries() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return slices.Clone(d.xpaths)
}

// SetURL changes the document address.
func (d *Document) SetURL(url string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.url = url
}

// Mutate notifies every observer.
func (d *Document) Mutate() {
	d.mu.Lock()
	observers := slices.Clone(d.observers)
	d.mu.Unlock()

	for _, fn := range observers {
		fn()
	}
}

// Closed reports whether Close was called.
func (d *Document) Closed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}

// QuerySelector implements dom.Document.
func (d *Document) QuerySelector(_ context.Context, selector string) (dom.Element, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.invalid[selector] {
		return nil, fmt.Errorf("query %q: %w", selector, dom.ErrInvalidSelector)
	}
	el, ok := d.selectors[selector]
	if !ok {
		return nil, nil
	}
	return el, nil
}

// QueryXPath implements dom.Document.
func (d *Document) QueryXPath(ctx context.Context, expr string) ([]dom.Element, error) {
	class, terms, err := ParseTextQuery(expr)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", dom.ErrInvalidSelector, err)
	}

	d.mu.Lock()
	d.xpaths = append(d.xpaths, expr)
	options := slices.Clone(d.options)
	d.mu.Unlock()

	var out []dom.Element
	for _, opt := range options {
		if !strings.Contains(opt.Class, class) {
			continue
		}
		text, err := opt.Text(ctx)
		if err != nil {
			continue
		}
		ok := true
		for _, term := range terms {
			if !strings.Contains(text, term) {
				ok = false
				break
			}
		}
		if ok {
			out = append(out, opt)
		}
	}
	return out, nil
}

// URL implements dom.Document.
func (d *Document) URL(context.Context) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.url, nil
}

// Observe implements dom.Page.
func (d *Document) Observe(_ context.Context, fn dom.MutationFunc) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.observers = append(d.observers, fn)
	return nil
}

// Navigate implements dom.Page.
func (d *Document) Navigate(_ context.Context, url string) error {
	d.SetURL(url)
	return nil
}

// Close implements dom.Page.
func (d *Document) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	return nil
}
