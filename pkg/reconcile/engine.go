// Package reconcile keeps the host page's model selector on the configured
// target.
//
// An Engine is a state machine driven by three kinds of events: DOM
// mutations, configuration changes and its own timer continuations. All of
// them must be delivered on one goroutine, normally through a Loop. A
// burst of mutations is debounced into a single attempt; an attempt opens
// the selector, waits for the menu to settle, matches the target entry and
// either clicks it or backs off.
package reconcile

import (
	"context"
	"fmt"
	"maps"
	"reflect"
	"runtime/debug"
	"strings"
	"time"

	"github.com/entrhq/modelpin/pkg/config"
	"github.com/entrhq/modelpin/pkg/dom"
	"github.com/entrhq/modelpin/pkg/logging"
	"github.com/entrhq/modelpin/pkg/match"
	"github.com/entrhq/modelpin/pkg/ratelimit"
)

// State is the engine's position in the attempt cycle.
type State int

const (
	Idle State = iota
	Debouncing
	Inspecting
	MenuOpen
	Matching
	Clicking
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Debouncing:
		return "debouncing"
	case Inspecting:
		return "inspecting"
	case MenuOpen:
		return "menu-open"
	case Matching:
		return "matching"
	case Clicking:
		return "clicking"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Defaults for Config.
const (
	DefaultRefocusInterval = 100 * time.Millisecond
	DefaultRefocusRetries  = 8
	DefaultOpTimeout       = 5 * time.Second
)

// Store receives settings write-backs. Set must not block.
type Store interface {
	Set(patch config.Items)
}

// Config wires an Engine to its collaborators.
type Config struct {
	Scheduler Scheduler
	Locator   *dom.Locator
	Resolver  *config.Resolver
	Store     Store
	Logger    *logging.Logger

	// RefocusInterval and RefocusRetries bound the search for the
	// primary input after the menu closes.
	RefocusInterval time.Duration
	RefocusRetries  int

	// OpTimeout bounds each continuation's DOM calls.
	OpTimeout time.Duration

	// OnTransition, when set, is called on every state change.
	OnTransition func(from, to State)
}

// Stats counts what the engine did.
type Stats struct {
	Inspections   int
	Attempts      int
	Switches      int
	StrongMatches int
	WeakMatches   int
	Misses        int
	Blocks        int
	Suppressed    int
	Panics        int
}

func (s Stats) String() string {
	return fmt.Sprintf("inspections=%d attempts=%d switches=%d strong=%d weak=%d misses=%d blocks=%d suppressed=%d panics=%d",
		s.Inspections, s.Attempts, s.Switches, s.StrongMatches, s.WeakMatches, s.Misses, s.Blocks, s.Suppressed, s.Panics)
}

// attempt is the state carried across one attempt's continuations. The
// settings are those in force when the attempt started.
type attempt struct {
	control  dom.Element
	settings config.Settings
}

// Engine is the reconciliation state machine. It is not safe for
// concurrent use.
type Engine struct {
	cfg     Config
	log     *logging.Logger
	locator *dom.Locator
	matcher *match.Engine
	guard   *ratelimit.Guard

	ctx      context.Context
	stored   config.Items
	settings config.Settings
	started  bool

	state       State
	debounce    Timer
	debounceSeq int
	rearm       bool

	stats Stats
}

// NewEngine creates an engine. Start must be called before events are
// delivered.
func NewEngine(cfg Config) *Engine {
	if cfg.Logger == nil {
		cfg.Logger = logging.NewNop()
	}
	if cfg.Resolver == nil {
		cfg.Resolver = config.NewResolver(nil)
	}
	if cfg.RefocusInterval <= 0 {
		cfg.RefocusInterval = DefaultRefocusInterval
	}
	if cfg.RefocusRetries <= 0 {
		cfg.RefocusRetries = DefaultRefocusRetries
	}
	if cfg.OpTimeout <= 0 {
		cfg.OpTimeout = DefaultOpTimeout
	}

	return &Engine{
		cfg:     cfg,
		log:     cfg.Logger,
		locator: cfg.Locator,
		matcher: match.NewEngine(cfg.Locator),
		guard:   ratelimit.NewGuard(cfg.Logger.Named("ratelimit")),
		ctx:     context.Background(),
		state:   Idle,
	}
}

// Start resolves the initial stored settings and enters Idle. ctx bounds
// every DOM call the engine makes.
func (e *Engine) Start(ctx context.Context, stored config.Items) {
	e.protect("start", func() {
		e.ctx = ctx
		e.stored = stored.Clone()
		res := e.cfg.Resolver.Resolve(e.stored)
		e.settings = res.Settings
		e.writeBack(res.Patch)
		e.started = true

		s := e.settings
		e.log.Infof("started: enabled=%t preset=%s target=%q desc=%q delay=%s",
			s.Enabled, s.ModelPreset, s.TargetModelName, s.TargetModelDesc, s.Delay)
	})
}

// Settings returns the settings currently in force.
func (e *Engine) Settings() config.Settings {
	return e.settings
}

// State returns the current state.
func (e *Engine) State() State {
	return e.state
}

// Stats returns the counters.
func (e *Engine) Stats() Stats {
	return e.stats
}

// Blocked returns the active rate-limit block, if any.
func (e *Engine) Blocked() (ratelimit.Block, bool) {
	return e.guard.Active()
}

// HandleMutation restarts the debounce timer.
func (e *Engine) HandleMutation() {
	e.protect("mutation", func() {
		if !e.started {
			return
		}
		e.armDebounce()
	})
}

// HandleConfigChange folds a store notification into the settings. It
// clears the rate-limit block when the target changed and attempts a
// switch right away when the feature was just enabled. An attempt already
// in flight keeps the settings it started with.
func (e *Engine) HandleConfigChange(changes config.Changes) {
	e.protect("config change", func() {
		if !e.started || len(changes) == 0 {
			return
		}

		prev := e.settings
		retarget := e.targetChanged(changes)
		var res config.Resolution
		e.stored, res = e.cfg.Resolver.Apply(e.stored, changes)
		e.settings = res.Settings
		e.writeBack(res.Patch)

		s := e.settings
		e.log.Debugf("settings changed (%s): enabled=%t preset=%s target=%q desc=%q",
			changedKeys(changes), s.Enabled, s.ModelPreset, s.TargetModelName, s.TargetModelDesc)

		if retarget {
			e.guard.Clear("target configuration changed")
		}

		if !prev.Enabled && s.Enabled {
			e.log.Infof("switching enabled")
			e.attemptNow()
		}
	})
}

// targetChanged reports whether changes carry a preset, name or
// description that differs from what the engine already stored. Echoes of
// the engine's own write-backs do not count.
func (e *Engine) targetChanged(changes config.Changes) bool {
	for _, key := range []string{config.KeyModelPreset, config.KeyTargetModelName, config.KeyTargetModelDesc} {
		ch, ok := changes[key]
		if ok && !reflect.DeepEqual(ch.NewValue, e.stored[key]) {
			return true
		}
	}
	return false
}

func (e *Engine) writeBack(patch config.Items) {
	if patch == nil {
		return
	}
	maps.Copy(e.stored, patch)
	if e.cfg.Store != nil {
		e.cfg.Store.Set(patch)
	}
}

func (e *Engine) inFlight() bool {
	return e.state >= Inspecting
}

func (e *Engine) armDebounce() {
	if e.debounce != nil {
		e.debounce.Stop()
	}
	e.debounceSeq++
	seq := e.debounceSeq
	e.rearm = false
	if !e.inFlight() {
		e.transition(Debouncing)
	}
	e.debounce = e.cfg.Scheduler.AfterFunc(e.settings.Delay, func() {
		e.protect("debounce", func() { e.debounceFired(seq) })
	})
}

func (e *Engine) debounceFired(seq int) {
	if seq != e.debounceSeq {
		return
	}
	e.debounce = nil
	if e.inFlight() {
		e.rearm = true
		return
	}
	e.inspect()
}

func (e *Engine) attemptNow() {
	if e.debounce != nil {
		e.debounce.Stop()
		e.debounce = nil
	}
	e.debounceSeq++
	if e.inFlight() {
		e.rearm = true
		return
	}
	e.inspect()
}

// inspect decides whether an attempt is needed and opens the menu.
func (e *Engine) inspect() {
	e.transition(Inspecting)
	e.stats.Inspections++

	s := e.settings
	name := s.TargetModelName
	switch {
	case !s.Enabled:
		e.finish()
		return
	case strings.TrimSpace(name) == "":
		e.finish()
		return
	case e.guard.ShouldSuppress(name):
		e.stats.Suppressed++
		e.log.Debugf("%s is rate-limited; skipping", name)
		e.finish()
		return
	}

	ctx, cancel := e.opContext()
	defer cancel()

	control := e.locator.FindControl(ctx, s.ModelSwitcherSelector)
	if control == nil {
		e.finish()
		return
	}

	label, err := control.Text(ctx)
	if err != nil {
		e.log.Debugf("reading selector label failed: %v", err)
		e.finish()
		return
	}
	if match.LabelShows(label, name) {
		e.finish()
		return
	}

	e.stats.Attempts++
	e.log.Infof("selector shows %q; switching to %s", strings.TrimSpace(label), name)

	if err := control.Click(ctx); err != nil {
		e.log.Warnf("opening selector failed: %v", err)
		e.finish()
		return
	}

	e.transition(MenuOpen)
	a := &attempt{control: control, settings: s}
	e.cfg.Scheduler.AfterFunc(s.Delay, func() {
		e.protect("match", func() { e.matchMenu(a) })
	})
}

// matchMenu finds the target entry in the open menu and acts on it.
func (e *Engine) matchMenu(a *attempt) {
	e.transition(Matching)

	ctx, cancel := e.opContext()
	defer cancel()

	if !e.settings.Enabled {
		e.log.Infof("switching disabled while the menu was open; closing it")
		e.closeMenu(ctx, a)
		e.finish()
		return
	}

	name, desc := a.settings.TargetModelName, a.settings.TargetModelDesc
	r := e.matcher.FindBestMatch(ctx, name, desc)

	switch {
	case r == nil:
		e.stats.Misses++
		e.log.Warnf("no menu entry for %s", name)
		e.closeMenu(ctx, a)

	case ratelimit.IsUnavailable(r.DescriptionText):
		e.stats.Blocks++
		e.guard.Record(name, r.DescriptionText)
		e.closeMenu(ctx, a)

	default:
		if r.Type == match.TypeNameOnly {
			e.stats.WeakMatches++
			e.log.Warnf("matched %s by name only (entry reads %q)", name, r.DescriptionText)
		} else {
			e.stats.StrongMatches++
		}

		e.transition(Clicking)
		if err := e.clickEntry(ctx, r.Element); err != nil {
			e.log.Warnf("selecting %s failed: %v", name, err)
		} else {
			e.stats.Switches++
			e.log.Infof("switched to %s (%s)", name, r.Type)
		}
	}

	e.scheduleRefocus(a.settings.Delay)
	e.finish()
}

func (e *Engine) clickEntry(ctx context.Context, el dom.Element) error {
	clicked, err := el.ClickClosest(ctx, e.locator.Markup().ActionableSelector)
	if err != nil {
		return err
	}
	if !clicked {
		return el.Click(ctx)
	}
	return nil
}

func (e *Engine) closeMenu(ctx context.Context, a *attempt) {
	if err := a.control.Click(ctx); err != nil {
		e.log.Debugf("closing menu failed: %v", err)
	}
}

func (e *Engine) scheduleRefocus(delay time.Duration) {
	e.cfg.Scheduler.AfterFunc(delay, func() {
		e.protect("refocus", func() { e.refocus(0) })
	})
}

func (e *Engine) refocus(try int) {
	ctx, cancel := e.opContext()
	defer cancel()

	input := e.locator.FindPrimaryInput(ctx)
	if input == nil {
		if try < e.cfg.RefocusRetries {
			e.cfg.Scheduler.AfterFunc(e.cfg.RefocusInterval, func() {
				e.protect("refocus", func() { e.refocus(try + 1) })
			})
		} else {
			e.log.Debugf("primary input not found; giving up on refocus")
		}
		return
	}
	if err := input.Focus(ctx); err != nil {
		e.log.Debugf("refocus failed: %v", err)
	}
}

// finish ends the current attempt, or inspection, and replays a debounce
// that expired while it ran.
func (e *Engine) finish() {
	if e.debounce != nil {
		e.transition(Debouncing)
		return
	}
	e.transition(Idle)
	if e.rearm {
		e.rearm = false
		e.armDebounce()
	}
}

func (e *Engine) transition(to State) {
	from := e.state
	if from == to {
		return
	}
	e.state = to
	e.log.Debugf("%s -> %s", from, to)
	if e.cfg.OnTransition != nil {
		e.cfg.OnTransition(from, to)
	}
}

func (e *Engine) opContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(e.ctx, e.cfg.OpTimeout)
}

// protect runs fn and turns a panic into a logged reset to Idle, so a
// driver fault cannot stop the engine.
func (e *Engine) protect(what string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			e.stats.Panics++
			e.log.Errorf("%s panicked: %v\n%s", what, r, debug.Stack())
			e.rearm = false
			e.state = Idle
		}
	}()
	fn()
}

func changedKeys(changes config.Changes) string {
	keys := make([]string, 0, len(changes))
	for _, k := range config.Keys() {
		if changes.Has(k) {
			keys = append(keys, k)
		}
	}
	return strings.Join(keys, ",")
}
