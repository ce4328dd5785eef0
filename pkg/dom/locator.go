package dom

import (
	"context"
	"errors"
	"strings"

	"github.com/entrhq/modelpin/pkg/logging"
)

// Default markup of the host application.
const (
	DefaultOptionTextClass    = "mat-mdc-menu-item-text"
	DefaultActionableSelector = `button, [role="menuitem"], [role="menuitemradio"]`
	DefaultPrimaryInput       = `rich-textarea div[contenteditable="true"], div.ql-editor[contenteditable="true"], textarea`
)

// Markup holds the structural assumptions made about the host page.
type Markup struct {
	// OptionTextClass is the class of the text container inside each
	// menu entry.
	OptionTextClass string

	// ActionableSelector matches the clickable ancestor of a menu entry.
	ActionableSelector string

	// PrimaryInput locates the text-entry surface that gets focus back
	// after the menu closes.
	PrimaryInput string
}

// DefaultMarkup returns the markup for the current host layout.
func DefaultMarkup() Markup {
	return Markup{
		OptionTextClass:    DefaultOptionTextClass,
		ActionableSelector: DefaultActionableSelector,
		PrimaryInput:       DefaultPrimaryInput,
	}
}

// WithDefaults fills empty fields from DefaultMarkup.
func (m Markup) WithDefaults() Markup {
	def := DefaultMarkup()
	if strings.TrimSpace(m.OptionTextClass) == "" {
		m.OptionTextClass = def.OptionTextClass
	}
	if strings.TrimSpace(m.ActionableSelector) == "" {
		m.ActionableSelector = def.ActionableSelector
	}
	if strings.TrimSpace(m.PrimaryInput) == "" {
		m.PrimaryInput = def.PrimaryInput
	}
	return m
}

// Locator finds the control, its options and the primary input. Query
// failures never leave the Locator: they are logged and reported as
// "not found".
type Locator struct {
	doc    Document
	markup Markup
	log    *logging.Logger
}

// NewLocator creates a locator over doc.
func NewLocator(doc Document, markup Markup, log *logging.Logger) *Locator {
	if log == nil {
		log = logging.NewNop()
	}
	return &Locator{
		doc:    doc,
		markup: markup.WithDefaults(),
		log:    log,
	}
}

// Markup returns the effective markup.
func (l *Locator) Markup() Markup {
	return l.markup
}

// FindControl returns the element matching selector, or nil.
func (l *Locator) FindControl(ctx context.Context, selector string) Element {
	return l.query(ctx, "control", selector)
}

// FindPrimaryInput returns the primary text-entry surface, or nil.
func (l *Locator) FindPrimaryInput(ctx context.Context) Element {
	return l.query(ctx, "primary input", l.markup.PrimaryInput)
}

func (l *Locator) query(ctx context.Context, what, selector string) Element {
	if strings.TrimSpace(selector) == "" {
		return nil
	}
	el, err := l.doc.QuerySelector(ctx, selector)
	if err != nil {
		if errors.Is(err, ErrInvalidSelector) {
			l.log.Warnf("invalid %s selector %q: %v", what, selector, err)
		} else {
			l.log.Debugf("%s query failed: %v", what, err)
		}
		return nil
	}
	return el
}

// FindOptionCandidates returns the menu entries whose text contains both
// filters (an empty filter is ignored). Nothing is queried until the
// result is first read.
func (l *Locator) FindOptionCandidates(nameFilter, descFilter string) *Candidates {
	return &Candidates{
		doc:   l.doc,
		log:   l.log,
		query: TextQuery(l.markup.OptionTextClass, nameFilter, descFilter),
	}
}

// Candidates is a lazily evaluated, document-ordered snapshot of menu
// entries.
type Candidates struct {
	doc   Document
	log   *logging.Logger
	query string

	loaded bool
	items  []Element
}

// Query returns the XPath expression the candidates are drawn from.
func (c *Candidates) Query() string {
	return c.query
}

// All returns every candidate, running the query on first use. A failed
// query yields no candidates.
func (c *Candidates) All(ctx context.Context) []Element {
	if !c.loaded {
		items, err := c.doc.QueryXPath(ctx, c.query)
		if err != nil {
			c.log.Warnf("option query failed: %v", err)
			items = nil
		}
		c.items = items
		c.loaded = true
	}
	return c.items
}

// First returns the first candidate in document order, or nil.
func (c *Candidates) First(ctx context.Context) Element {
	items := c.All(ctx)
	if len(items) == 0 {
		return nil
	}
	return items[0]
}

// Len returns the number of candidates.
func (c *Candidates) Len(ctx context.Context) int {
	return len(c.All(ctx))
}
