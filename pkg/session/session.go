// Package session runs one reconciliation engine against one browser page.
//
// A session opens the page through a driver, starts the engine on a
// reconcile.Loop and feeds it three event sources: settings changes from
// the store, DOM mutations from the page and the page address. Mutations
// only reach the engine while the address matches the URL filter.
package session

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/entrhq/modelpin/pkg/config"
	"github.com/entrhq/modelpin/pkg/dom"
	"github.com/entrhq/modelpin/pkg/logging"
	"github.com/entrhq/modelpin/pkg/reconcile"
)

// Default polling for the page address.
const (
	DefaultURLPollInterval = 500 * time.Millisecond
	DefaultMaxURLFailures  = 10
)

// Config wires a Session.
type Config struct {
	Options *config.Options
	Store   *config.SettingsStore
	Catalog *config.Catalog
	Logger  *logging.Logger

	// Open obtains the page. It defaults to the driver named in Options.
	Open Opener

	// URLPollInterval is how often the page address is checked.
	URLPollInterval time.Duration

	// MaxURLFailures ends the session after that many consecutive
	// failed address checks, which is how a closed browser shows up.
	MaxURLFailures int

	// Engine tunes the engine. Scheduler, Locator, Resolver, Store and
	// Logger are filled in by the session.
	Engine reconcile.Config
}

// Session is a running agent.
type Session struct {
	cfg    Config
	log    *logging.Logger
	filter *URLFilter
	open   Opener

	loop   *reconcile.Loop
	engine *reconcile.Engine

	active  atomic.Bool
	pending atomic.Bool
	stats   reconcile.Stats
}

// New validates cfg and prepares a session.
func New(cfg Config) (*Session, error) {
	if cfg.Options == nil {
		return nil, fmt.Errorf("session options are required")
	}
	if cfg.Store == nil {
		return nil, fmt.Errorf("settings store is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.NewNop()
	}
	if cfg.Catalog == nil {
		cfg.Catalog = config.BuiltinCatalog()
	}
	if cfg.URLPollInterval <= 0 {
		cfg.URLPollInterval = DefaultURLPollInterval
	}
	if cfg.MaxURLFailures <= 0 {
		cfg.MaxURLFailures = DefaultMaxURLFailures
	}

	filter, err := NewURLFilter(cfg.Options.Matches)
	if err != nil {
		return nil, err
	}

	open := cfg.Open
	if open == nil {
		open, err = DriverOpener(cfg.Options.Driver)
		if err != nil {
			return nil, err
		}
	}

	return &Session{
		cfg:    cfg,
		log:    cfg.Logger,
		filter: filter,
		open:   open,
	}, nil
}

// Run opens the page and reconciles it until ctx is done or the page
// becomes unreachable.
func (s *Session) Run(ctx context.Context) error {
	launch, err := LaunchOptions(s.cfg.Options, s.filter)
	if err != nil {
		return err
	}

	page, err := s.open(ctx, launch, s.log.Named("browser"))
	if err != nil {
		return fmt.Errorf("failed to open page: %w", err)
	}
	defer func() {
		if err := page.Close(); err != nil {
			s.log.Warnf("closing page: %v", err)
		}
	}()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(runCtx)

	s.loop = reconcile.NewLoop(s.log.Named("loop"))
	g.Go(func() error { return s.loop.Run(gctx) })

	ecfg := s.cfg.Engine
	ecfg.Scheduler = s.loop
	ecfg.Locator = dom.NewLocator(page, Markup(s.cfg.Options), s.log.Named("locator"))
	ecfg.Resolver = config.NewResolver(s.cfg.Catalog)
	ecfg.Store = s.cfg.Store
	ecfg.Logger = s.log.Named("engine")
	s.engine = reconcile.NewEngine(ecfg)

	store := s.cfg.Store
	unsubscribe := store.OnChange(func(changes config.Changes) {
		s.loop.Post(func() { s.engine.HandleConfigChange(changes) })
	})
	defer unsubscribe()

	s.loop.Post(func() { s.engine.Start(gctx, store.Get(config.DefaultItems())) })

	if err := page.Observe(gctx, s.mutated); err != nil {
		cancel()
		_ = g.Wait()
		return fmt.Errorf("failed to observe page: %w", err)
	}

	g.Go(func() error { return store.Watch(gctx) })
	g.Go(func() error { return s.followURL(gctx, page) })

	s.log.Infof("watching pages matching %v", s.filter.Patterns())
	err = g.Wait()

	store.Flush()
	s.stats = s.engine.Stats()
	s.log.Infof("session ended: %s", s.stats)
	return err
}

// Stats returns the engine counters of a finished Run.
func (s *Session) Stats() reconcile.Stats {
	return s.stats
}

// mutated runs on driver goroutines. Bursts collapse into one queued
// task, which the engine's debounce would merge anyway.
func (s *Session) mutated() {
	if !s.active.Load() {
		return
	}
	if !s.pending.CompareAndSwap(false, true) {
		return
	}
	posted := s.loop.Post(func() {
		s.pending.Store(false)
		s.engine.HandleMutation()
	})
	if !posted {
		s.pending.Store(false)
	}
}

// followURL tracks the page address. Entering a matching page counts as
// a mutation so the engine inspects a page that is already settled.
func (s *Session) followURL(ctx context.Context, doc dom.Document) error {
	ticker := time.NewTicker(s.cfg.URLPollInterval)
	defer ticker.Stop()

	var (
		last     string
		failures int
	)
	for {
		opCtx, cancel := context.WithTimeout(ctx, reconcile.DefaultOpTimeout)
		url, err := doc.URL(opCtx)
		cancel()

		switch {
		case ctx.Err() != nil:
			return nil
		case err != nil:
			failures++
			s.log.Debugf("reading page address failed (%d): %v", failures, err)
			if failures >= s.cfg.MaxURLFailures {
				return fmt.Errorf("page unreachable: %w", err)
			}
		default:
			failures = 0
			s.updateURL(last, url)
			last = url
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func (s *Session) updateURL(last, url string) {
	active := s.filter.Match(url)
	was := s.active.Swap(active)

	switch {
	case active && (!was || url != last):
		s.log.Infof("reconciling %s", url)
		s.loop.Post(s.engine.HandleMutation)
	case !active && was:
		s.log.Infof("paused: %s does not match", url)
	}
}
