// Package ratelimit suspends switching to a target the host reports as
// unavailable.
package ratelimit

import (
	"strings"
	"time"
	"unicode"

	"github.com/entrhq/modelpin/pkg/logging"
)

// Marker is the leading word of a description that marks an entry as
// unavailable ("Limit reached, try again later").
const Marker = "limit"

// IsUnavailable reports whether a menu entry's description says the
// option cannot be used right now.
func IsUnavailable(description string) bool {
	d := strings.TrimLeftFunc(description, unicode.IsSpace)
	return strings.HasPrefix(strings.ToLower(d), Marker)
}

// Block records a target found to be unavailable.
type Block struct {
	ModelName       string
	DescriptionText string
	BlockedAt       time.Time
}

// Guard holds at most one Block. It never expires on its own: only Clear,
// called when the target configuration changes, lifts it. Guard is not
// safe for concurrent use; the reconciliation loop owns it.
type Guard struct {
	log    *logging.Logger
	now    func() time.Time
	active *Block
}

// NewGuard creates an empty guard.
func NewGuard(log *logging.Logger) *Guard {
	if log == nil {
		log = logging.NewNop()
	}
	return &Guard{log: log, now: time.Now}
}

// Record blocks name.
func (g *Guard) Record(name, description string) Block {
	b := Block{ModelName: name, DescriptionText: description, BlockedAt: g.now()}
	g.active = &b
	g.log.Warnf("%s is unavailable (%q); switching paused until the target changes", name, description)
	return b
}

// ShouldSuppress reports whether switching to name is blocked.
func (g *Guard) ShouldSuppress(name string) bool {
	return g.active != nil && g.active.ModelName == name
}

// Active returns the current block, if any.
func (g *Guard) Active() (Block, bool) {
	if g.active == nil {
		return Block{}, false
	}
	return *g.active, true
}

// Clear lifts the block. It reports whether there was one.
func (g *Guard) Clear(reason string) bool {
	if g.active == nil {
		return false
	}
	g.log.Infof("rate-limit block for %s cleared: %s", g.active.ModelName, reason)
	g.active = nil
	return true
}
