package dom

import (
	"strings"
)

// EscapeLiteral quotes s as an XPath 1.0 string literal. XPath has no
// escape sequences, so a value holding both quote characters is split on
// the apostrophe and rebuilt with concat().
func EscapeLiteral(s string) string {
	if !strings.Contains(s, "'") {
		return "'" + s + "'"
	}
	if !strings.Contains(s, `"`) {
		return `"` + s + `"`
	}

	parts := strings.Split(s, "'")
	var b strings.Builder
	b.WriteString("concat(")
	for i, part := range parts {
		if i > 0 {
			b.WriteString(`, "'", `)
		}
		b.WriteString("'")
		b.WriteString(part)
		b.WriteString("'")
	}
	b.WriteString(")")
	return b.String()
}

// TextQuery builds an XPath selecting span elements whose class attribute
// contains class and whose text content contains every non-empty term.
// Containment is evaluated by the document, so lazily rendered text is
// seen as the browser sees it.
func TextQuery(class string, terms ...string) string {
	preds := []string{"contains(@class, " + EscapeLiteral(class) + ")"}
	for _, term := range terms {
		if term == "" {
			continue
		}
		preds = append(preds, "contains(., "+EscapeLiteral(term)+")")
	}
	return "//span[" + strings.Join(preds, " and ") + "]"
}
