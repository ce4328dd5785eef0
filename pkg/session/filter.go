package session

import (
	"fmt"
	"strings"

	"github.com/gobwas/glob"
)

// URLFilter decides which page addresses the agent works on. Patterns are
// globs where * matches any run of characters, including slashes, as in
// https://gemini.google.com/*.
type URLFilter struct {
	patterns []string
	globs    []glob.Glob
}

// NewURLFilter compiles the patterns.
func NewURLFilter(patterns []string) (*URLFilter, error) {
	f := &URLFilter{}
	for _, p := range patterns {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		g, err := glob.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("invalid url pattern %q: %w", p, err)
		}
		f.patterns = append(f.patterns, p)
		f.globs = append(f.globs, g)
	}
	if len(f.globs) == 0 {
		return nil, fmt.Errorf("at least one url pattern is required")
	}
	return f, nil
}

// Match reports whether url matches any pattern.
func (f *URLFilter) Match(url string) bool {
	for _, g := range f.globs {
		if g.Match(url) {
			return true
		}
	}
	return false
}

// Patterns returns the compiled patterns.
func (f *URLFilter) Patterns() []string {
	return f.patterns
}
