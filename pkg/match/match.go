// Package match locates the menu entry for a target model.
package match

import (
	"context"
	"regexp"
	"strings"

	"github.com/entrhq/modelpin/pkg/dom"
)

// Type tells how strongly a result matched.
type Type string

const (
	// TypeNameAndDesc means both the name and the description were found.
	TypeNameAndDesc Type = "name+desc"

	// TypeNameOnly means only the name was found; the host wording for
	// the description may have drifted.
	TypeNameOnly Type = "name-only"
)

// Result is the entry chosen for one attempt. It is never cached: the host
// rebuilds the menu on every render.
type Result struct {
	Element         dom.Element
	DescriptionText string
	Type            Type
}

// Finder is the subset of dom.Locator the engine needs.
type Finder interface {
	FindOptionCandidates(nameFilter, descFilter string) *dom.Candidates
}

// Engine runs the two-phase match.
type Engine struct {
	finder Finder
}

// NewEngine creates a match engine over finder.
func NewEngine(finder Finder) *Engine {
	return &Engine{finder: finder}
}

// FindBestMatch returns the first entry containing both name and desc,
// falling back to the first entry containing name alone. It returns nil
// when neither phase finds anything. Multiple candidates are not ranked.
func (e *Engine) FindBestMatch(ctx context.Context, name, desc string) *Result {
	if name == "" {
		return nil
	}

	if desc != "" {
		if r := e.first(ctx, name, desc, TypeNameAndDesc); r != nil {
			return r
		}
	}
	return e.first(ctx, name, "", TypeNameOnly)
}

func (e *Engine) first(ctx context.Context, name, desc string, typ Type) *Result {
	el := e.finder.FindOptionCandidates(name, desc).First(ctx)
	if el == nil {
		return nil
	}

	// Unreadable text leaves the description empty; the entry is still
	// the best match.
	text, _ := el.Text(ctx)
	return &Result{
		Element:         el,
		DescriptionText: ExtractDescription(text, name),
		Type:            typ,
	}
}

var spaceRun = regexp.MustCompile(`\s+`)

// LabelShows reports whether a selector label already names the target,
// ignoring case.
func LabelShows(label, name string) bool {
	return strings.Contains(strings.ToLower(label), strings.ToLower(name))
}

// ExtractDescription returns the descriptive part of an entry's rendered
// text. With several non-empty lines it is every line after the first;
// with a single line it is that line minus a leading name.
func ExtractDescription(text, name string) string {
	var lines []string
	for _, line := range strings.Split(text, "\n") {
		if strings.TrimSpace(line) != "" {
			lines = append(lines, line)
		}
	}

	switch len(lines) {
	case 0:
		return ""
	case 1:
		line := strings.TrimSpace(normalizeSpace(lines[0]))
		if name != "" && len(line) >= len(name) && strings.EqualFold(line[:len(name)], name) {
			line = line[len(name):]
		}
		return strings.TrimSpace(line)
	default:
		return strings.TrimSpace(normalizeSpace(strings.Join(lines[1:], " ")))
	}
}

func normalizeSpace(s string) string {
	s = strings.ReplaceAll(s, "\u00a0", " ")
	return spaceRun.ReplaceAllString(s, " ")
}
