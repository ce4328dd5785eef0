package reconcile

import (
	"context"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/entrhq/modelpin/pkg/config"
	"github.com/entrhq/modelpin/pkg/dom"
	"github.com/entrhq/modelpin/pkg/dom/domtest"
)

// fakeClock is a virtual-time Scheduler. Timers run synchronously inside
// Advance, in due order.
type fakeClock struct {
	now    time.Duration
	seq    int
	timers []*fakeTimer
}

type fakeTimer struct {
	at      time.Duration
	seq     int
	fn      func()
	stopped bool
	fired   bool
}

func (t *fakeTimer) Stop() bool {
	if t.stopped || t.fired {
		return false
	}
	t.stopped = true
	return true
}

func (c *fakeClock) AfterFunc(d time.Duration, fn func()) Timer {
	c.seq++
	t := &fakeTimer{at: c.now + d, seq: c.seq, fn: fn}
	c.timers = append(c.timers, t)
	return t
}

func (c *fakeClock) Advance(d time.Duration) {
	target := c.now + d
	for {
		var due []*fakeTimer
		for _, t := range c.timers {
			if !t.stopped && !t.fired && t.at <= target {
				due = append(due, t)
			}
		}
		if len(due) == 0 {
			break
		}
		sort.Slice(due, func(i, j int) bool {
			if due[i].at != due[j].at {
				return due[i].at < due[j].at
			}
			return due[i].seq < due[j].seq
		})
		next := due[0]
		c.now = next.at
		next.fired = true
		next.fn()
	}
	c.now = target
}

type fakeStore struct {
	patches []config.Items
}

func (s *fakeStore) Set(patch config.Items) {
	s.patches = append(s.patches, patch)
}

const (
	testVersion  = "9.9.9"
	testSelector = "button.switch"
	proDesc      = "Advanced math and code with 3.1 Pro"
	delay        = 10 * time.Millisecond
)

type harness struct {
	clock       *fakeClock
	doc         *domtest.Document
	control     *domtest.Element
	input       *domtest.Element
	store       *fakeStore
	engine      *Engine
	transitions []State
}

func storedItems(overrides config.Items) config.Items {
	items := config.Items{
		config.KeyEnabled:               true,
		config.KeyModelPreset:           config.PresetPro,
		config.KeyModelConfigVersion:    testVersion,
		config.KeyTargetModelName:       "Pro",
		config.KeyTargetModelDesc:       proDesc,
		config.KeyModelSwitcherSelector: testSelector,
		config.KeyDelay:                 float64(delay.Milliseconds()),
	}
	for k, v := range overrides {
		items[k] = v
	}
	return items
}

func newHarness(t *testing.T, stored config.Items) *harness {
	t.Helper()

	h := &harness{
		clock:   &fakeClock{},
		doc:     domtest.NewDocument("https://gemini.google.com/app"),
		control: domtest.NewElement("control", "Fast"),
		input:   domtest.NewElement("input", ""),
		store:   &fakeStore{},
	}
	h.doc.Set(testSelector, h.control)
	h.doc.Set(dom.DefaultPrimaryInput, h.input)

	h.engine = NewEngine(Config{
		Scheduler: h.clock,
		Locator:   dom.NewLocator(h.doc, dom.Markup{}, nil),
		Resolver:  &config.Resolver{Catalog: config.BuiltinCatalog(), Version: testVersion},
		Store:     h.store,
		OnTransition: func(_, to State) {
			h.transitions = append(h.transitions, to)
		},
	})
	h.engine.Start(context.Background(), stored)
	return h
}

// menuEntry adds an option whose clickable ancestor is a menu item button.
// Selecting it relabels the control the way the host does.
func (h *harness) menuEntry(label, text string) (span, item *domtest.Element) {
	item = &domtest.Element{Name: label + "-item", Matches: []string{dom.DefaultActionableSelector}}
	item.OnClick = func() { h.control.SetText(label) }
	span = &domtest.Element{Name: label, Class: dom.DefaultOptionTextClass, Parent: item}
	span.SetText(text)
	return span, item
}

func (h *harness) count(s State) int {
	n := 0
	for _, st := range h.transitions {
		if st == s {
			n++
		}
	}
	return n
}

func TestSwitchesToTarget(t *testing.T) {
	h := newHarness(t, storedItems(nil))
	fast, _ := h.menuEntry("Fast", "Fast\nAnswers quickly")
	pro, proItem := h.menuEntry("Pro", "Pro\n"+proDesc)
	h.doc.SetOptions(fast, pro)

	h.engine.HandleMutation()
	assert.Equal(t, Debouncing, h.engine.State())

	h.clock.Advance(delay)
	assert.Equal(t, 1, h.control.Clicks(), "control opened")
	assert.Equal(t, MenuOpen, h.engine.State())
	assert.Zero(t, proItem.Clicks(), "menu needs time to settle")

	h.clock.Advance(delay)
	assert.Equal(t, 1, h.control.Clicks())
	assert.Equal(t, 1, proItem.Clicks(), "entry selected through its menu item")
	assert.Equal(t, 1, h.engine.Stats().StrongMatches)
	assert.Equal(t, 1, h.engine.Stats().Switches)
	assert.Equal(t, Idle, h.engine.State())
	assert.Zero(t, h.input.Focuses())

	h.clock.Advance(delay)
	assert.Equal(t, 1, h.input.Focuses(), "primary input refocused after the delay")

	assert.Equal(t, []State{Debouncing, Inspecting, MenuOpen, Matching, Clicking, Idle}, h.transitions)

	// The host re-renders; the control already reads the target.
	h.engine.HandleMutation()
	h.clock.Advance(delay)
	assert.Equal(t, 1, h.control.Clicks())
	assert.Equal(t, 1, h.engine.Stats().Attempts)
	assert.Equal(t, 2, h.engine.Stats().Inspections)
}

func TestRateLimitedTargetIsBlocked(t *testing.T) {
	h := newHarness(t, storedItems(nil))
	pro, proItem := h.menuEntry("Pro", "Pro\nLimit reached")
	h.doc.SetOptions(pro)

	h.engine.HandleMutation()
	h.clock.Advance(delay)
	h.clock.Advance(delay)

	assert.Equal(t, 2, h.control.Clicks(), "opened then closed")
	assert.Zero(t, proItem.Clicks())

	block, ok := h.engine.Blocked()
	require.True(t, ok)
	assert.Equal(t, "Pro", block.ModelName)
	assert.Equal(t, "Limit reached", block.DescriptionText)
	assert.Equal(t, 1, h.engine.Stats().Blocks)

	h.clock.Advance(delay)
	assert.Equal(t, 1, h.input.Focuses(), "refocus follows a blocked attempt too")

	h.transitions = nil
	h.engine.HandleMutation()
	h.clock.Advance(delay)

	assert.Equal(t, 2, h.control.Clicks(), "suppressed at inspection")
	assert.Equal(t, []State{Debouncing, Inspecting, Idle}, h.transitions)
	assert.Equal(t, 1, h.engine.Stats().Suppressed)
}

func TestTargetChangeClearsBlock(t *testing.T) {
	h := newHarness(t, storedItems(nil))
	pro, _ := h.menuEntry("Pro", "Pro\nLimit reached")
	thinking, thinkingItem := h.menuEntry("Thinking", "Thinking\nSolves complex problems")
	h.doc.SetOptions(pro, thinking)

	h.engine.HandleMutation()
	h.clock.Advance(2 * delay)
	_, blocked := h.engine.Blocked()
	require.True(t, blocked)

	h.engine.HandleConfigChange(config.Changes{
		config.KeyTargetModelName: {OldValue: "Pro", NewValue: "Thinking"},
	})
	_, blocked = h.engine.Blocked()
	assert.False(t, blocked)
	assert.Equal(t, "Thinking", h.engine.Settings().TargetModelName)

	h.transitions = nil
	h.engine.HandleMutation()
	h.clock.Advance(delay)
	assert.Equal(t, []State{Debouncing, Inspecting, MenuOpen}, h.transitions)

	h.clock.Advance(delay)
	assert.Equal(t, 1, thinkingItem.Clicks())
}

func TestOwnWriteBackDoesNotClearBlock(t *testing.T) {
	h := newHarness(t, storedItems(nil))
	pro, _ := h.menuEntry("Pro", "Pro\nLimit reached")
	h.doc.SetOptions(pro)

	h.engine.HandleMutation()
	h.clock.Advance(2 * delay)

	h.engine.HandleConfigChange(config.Changes{
		config.KeyTargetModelName: {OldValue: "Old", NewValue: "Pro"},
		config.KeyEnabled:         {OldValue: true, NewValue: true},
	})
	_, blocked := h.engine.Blocked()
	assert.True(t, blocked)
}

func TestDebounceCoalescesBurst(t *testing.T) {
	h := newHarness(t, storedItems(nil))
	pro, _ := h.menuEntry("Pro", "Pro\n"+proDesc)
	h.doc.SetOptions(pro)

	const burst = 20
	for i := 0; i < burst; i++ {
		h.engine.HandleMutation()
		h.clock.Advance(delay / 2)
	}
	assert.Zero(t, h.engine.Stats().Inspections, "no inspection while mutations keep arriving")

	// The last mutation was delay/2 ago.
	h.clock.Advance(delay/2 - time.Millisecond)
	assert.Zero(t, h.engine.Stats().Inspections)

	h.clock.Advance(time.Millisecond)
	assert.Equal(t, 1, h.engine.Stats().Inspections)
	assert.Equal(t, 1, h.count(Inspecting))
}

func TestMutationDuringAttemptWaitsForIt(t *testing.T) {
	h := newHarness(t, storedItems(nil))
	pro, proItem := h.menuEntry("Pro", "Pro\n"+proDesc)
	h.doc.SetOptions(pro)

	h.engine.HandleMutation()
	h.clock.Advance(delay)
	require.Equal(t, MenuOpen, h.engine.State())

	// A shorter delay makes the next debounce expire mid-attempt.
	h.engine.HandleConfigChange(config.Changes{
		config.KeyDelay: {OldValue: 10.0, NewValue: 2.0},
	})
	h.clock.Advance(time.Millisecond)
	h.engine.HandleMutation()
	assert.Equal(t, MenuOpen, h.engine.State(), "mutations do not interrupt an attempt")

	h.clock.Advance(2 * time.Millisecond)
	assert.Equal(t, 1, h.engine.Stats().Inspections, "expired debounce is held back")
	assert.Equal(t, MenuOpen, h.engine.State())

	// The attempt completes with the delay it started with.
	h.clock.Advance(7 * time.Millisecond)
	assert.Equal(t, 1, proItem.Clicks())
	assert.Equal(t, Debouncing, h.engine.State())

	h.clock.Advance(2 * time.Millisecond)
	assert.Equal(t, 2, h.engine.Stats().Inspections)
	assert.Equal(t, 1, h.engine.Stats().Attempts, "control already shows the target")
}

func TestDisabledDoesNothing(t *testing.T) {
	h := newHarness(t, storedItems(config.Items{config.KeyEnabled: false}))
	pro, _ := h.menuEntry("Pro", "Pro\n"+proDesc)
	h.doc.SetOptions(pro)

	h.engine.HandleMutation()
	h.clock.Advance(delay)

	assert.Zero(t, h.control.Clicks())
	assert.Equal(t, Idle, h.engine.State())
	assert.Equal(t, 1, h.engine.Stats().Inspections)
}

func TestEnablingAttemptsImmediately(t *testing.T) {
	h := newHarness(t, storedItems(config.Items{config.KeyEnabled: false}))
	pro, proItem := h.menuEntry("Pro", "Pro\n"+proDesc)
	h.doc.SetOptions(pro)

	h.engine.HandleConfigChange(config.Changes{
		config.KeyEnabled: {OldValue: false, NewValue: true},
	})
	assert.Equal(t, 1, h.control.Clicks(), "no mutation needed")

	h.clock.Advance(delay)
	assert.Equal(t, 1, proItem.Clicks())
}

func TestDisablingMidAttemptClosesMenu(t *testing.T) {
	h := newHarness(t, storedItems(nil))
	pro, proItem := h.menuEntry("Pro", "Pro\n"+proDesc)
	h.doc.SetOptions(pro)

	h.engine.HandleMutation()
	h.clock.Advance(delay)
	require.Equal(t, 1, h.control.Clicks())

	h.engine.HandleConfigChange(config.Changes{
		config.KeyEnabled: {OldValue: true, NewValue: false},
	})
	h.clock.Advance(delay)

	assert.Zero(t, proItem.Clicks())
	assert.Equal(t, 2, h.control.Clicks())
	assert.Equal(t, Idle, h.engine.State())
}

func TestNameOnlyMatch(t *testing.T) {
	h := newHarness(t, storedItems(nil))
	pro, proItem := h.menuEntry("Pro", "Pro\nOur most capable model")
	h.doc.SetOptions(pro)

	h.engine.HandleMutation()
	h.clock.Advance(2 * delay)

	assert.Equal(t, 1, proItem.Clicks())
	assert.Equal(t, 1, h.engine.Stats().WeakMatches)
	assert.Zero(t, h.engine.Stats().StrongMatches)
}

func TestNoMatchClosesMenu(t *testing.T) {
	h := newHarness(t, storedItems(nil))
	fast, fastItem := h.menuEntry("Fast", "Fast\nAnswers quickly")
	h.doc.SetOptions(fast)

	h.engine.HandleMutation()
	h.clock.Advance(2 * delay)

	assert.Equal(t, 2, h.control.Clicks())
	assert.Zero(t, fastItem.Clicks())
	assert.Equal(t, 1, h.engine.Stats().Misses)

	_, blocked := h.engine.Blocked()
	assert.False(t, blocked, "a miss is not a block")
}

func TestAbortsWithoutControl(t *testing.T) {
	h := newHarness(t, storedItems(config.Items{config.KeyModelSwitcherSelector: "button.other"}))

	h.engine.HandleMutation()
	h.clock.Advance(delay)

	assert.Zero(t, h.control.Clicks())
	assert.Equal(t, Idle, h.engine.State())
	assert.Zero(t, h.engine.Stats().Attempts)
}

func TestLabelComparisonIgnoresCase(t *testing.T) {
	h := newHarness(t, storedItems(nil))
	h.control.SetText("  2.5 PRO ")

	h.engine.HandleMutation()
	h.clock.Advance(delay)
	assert.Zero(t, h.control.Clicks())
}

func TestRefocusRetries(t *testing.T) {
	h := newHarness(t, storedItems(nil))
	h.doc.Set(dom.DefaultPrimaryInput, nil)
	pro, _ := h.menuEntry("Pro", "Pro\n"+proDesc)
	h.doc.SetOptions(pro)

	h.engine.HandleMutation()
	h.clock.Advance(3 * delay)
	h.clock.Advance(3 * DefaultRefocusInterval)
	assert.Zero(t, h.input.Focuses())

	h.doc.Set(dom.DefaultPrimaryInput, h.input)
	h.clock.Advance(DefaultRefocusInterval)
	assert.Equal(t, 1, h.input.Focuses())

	// Retries are bounded.
	h.doc.Set(dom.DefaultPrimaryInput, nil)
	h.control.SetText("Fast")
	h.engine.HandleMutation()
	h.clock.Advance(3 * delay)
	h.doc.Set(dom.DefaultPrimaryInput, h.input)
	h.clock.Advance(time.Duration(DefaultRefocusRetries+2) * DefaultRefocusInterval)
	assert.Equal(t, 2, h.input.Focuses())

	h.doc.Set(dom.DefaultPrimaryInput, nil)
	h.control.SetText("Fast")
	h.engine.HandleMutation()
	h.clock.Advance(3*delay + time.Duration(DefaultRefocusRetries+1)*DefaultRefocusInterval)
	h.doc.Set(dom.DefaultPrimaryInput, h.input)
	h.clock.Advance(time.Second)
	assert.Equal(t, 2, h.input.Focuses(), "gave up after the last retry")
}

func TestStartWritesBackStaleSettings(t *testing.T) {
	h := newHarness(t, storedItems(config.Items{
		config.KeyModelConfigVersion: "0.1.0",
		config.KeyTargetModelDesc:    "Old wording",
	}))

	require.Len(t, h.store.patches, 1)
	assert.Equal(t, testVersion, h.store.patches[0][config.KeyModelConfigVersion])
	assert.Equal(t, proDesc, h.store.patches[0][config.KeyTargetModelDesc])
	assert.Equal(t, proDesc, h.engine.Settings().TargetModelDesc)

	// The echo of the write-back settles.
	h.engine.HandleConfigChange(config.Changes{
		config.KeyModelConfigVersion: {OldValue: "0.1.0", NewValue: testVersion},
		config.KeyTargetModelDesc:    {OldValue: "Old wording", NewValue: proDesc},
	})
	assert.Len(t, h.store.patches, 1)
}

func TestWriteBackEchoKeepsStampedWording(t *testing.T) {
	store, err := config.NewSettingsStore(filepath.Join(t.TempDir(), "settings.json"), nil)
	require.NoError(t, err)
	require.NoError(t, store.Write(config.Items{
		config.KeyModelConfigVersion: testVersion,
		config.KeyTargetModelName:    "Fast",
		config.KeyTargetModelDesc:    "My own wording",
	}))

	doc := domtest.NewDocument("https://gemini.google.com/app")
	engine := NewEngine(Config{
		Scheduler: &fakeClock{},
		Locator:   dom.NewLocator(doc, dom.Markup{}, nil),
		Resolver:  &config.Resolver{Catalog: config.BuiltinCatalog(), Version: testVersion},
		Store:     store,
	})
	unsubscribe := store.OnChange(engine.HandleConfigChange)
	defer unsubscribe()

	// The preset inferred at start is written back and echoed.
	engine.Start(context.Background(), store.Get(config.DefaultItems()))
	store.Flush()

	assert.Equal(t, config.PresetFast, engine.Settings().ModelPreset)
	assert.Equal(t, "My own wording", engine.Settings().TargetModelDesc)
	stored := store.Get(nil)
	assert.Equal(t, config.PresetFast, stored[config.KeyModelPreset])
	assert.Equal(t, "My own wording", stored[config.KeyTargetModelDesc])
}

func TestPresetChangeRetargets(t *testing.T) {
	h := newHarness(t, storedItems(nil))

	h.engine.HandleConfigChange(config.Changes{
		config.KeyModelPreset: {OldValue: config.PresetPro, NewValue: config.PresetFast},
	})

	assert.Equal(t, "Fast", h.engine.Settings().TargetModelName)
	require.Len(t, h.store.patches, 1)
	assert.Equal(t, "Fast", h.store.patches[0][config.KeyTargetModelName])
}

func TestPanicResetsToIdle(t *testing.T) {
	h := newHarness(t, storedItems(nil))
	h.control.OnClick = func() { panic("driver fault") }

	h.engine.HandleMutation()
	assert.NotPanics(t, func() { h.clock.Advance(delay) })

	assert.Equal(t, Idle, h.engine.State())
	assert.Equal(t, 1, h.engine.Stats().Panics)

	// The engine keeps working.
	h.control.OnClick = nil
	h.engine.HandleMutation()
	h.clock.Advance(delay)
	assert.Equal(t, MenuOpen, h.engine.State())
}

func TestEventsBeforeStartAreIgnored(t *testing.T) {
	clock := &fakeClock{}
	e := NewEngine(Config{
		Scheduler: clock,
		Locator:   dom.NewLocator(domtest.NewDocument(""), dom.Markup{}, nil),
	})

	e.HandleMutation()
	e.HandleConfigChange(config.Changes{config.KeyEnabled: {NewValue: true}})
	clock.Advance(time.Second)

	assert.Equal(t, Idle, e.State())
	assert.Zero(t, e.Stats().Inspections)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "menu-open", MenuOpen.String())
	assert.Equal(t, "state(42)", State(42).String())
}
