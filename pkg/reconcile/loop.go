package reconcile

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/entrhq/modelpin/pkg/logging"
)

// Timer is a pending continuation.
type Timer interface {
	// Stop prevents the continuation from being scheduled if it has not
	// been already. A continuation that was already queued may still run.
	Stop() bool
}

// Scheduler defers continuations.
type Scheduler interface {
	AfterFunc(d time.Duration, fn func()) Timer
}

const taskQueueSize = 256

// Loop runs tasks one at a time on a single goroutine. Driver callbacks,
// store notifications and timers post to it, so the engine never needs a
// lock.
type Loop struct {
	log   *logging.Logger
	tasks chan func()
	done  chan struct{}
}

// NewLoop creates a loop. Tasks are accepted before Run starts and queue
// until it does.
func NewLoop(log *logging.Logger) *Loop {
	if log == nil {
		log = logging.NewNop()
	}
	return &Loop{
		log:   log,
		tasks: make(chan func(), taskQueueSize),
		done:  make(chan struct{}),
	}
}

// Post queues fn. It reports false once the loop has stopped.
func (l *Loop) Post(fn func()) bool {
	select {
	case <-l.done:
		return false
	default:
	}

	select {
	case l.tasks <- fn:
		return true
	case <-l.done:
		return false
	}
}

// Run executes tasks until ctx is done.
func (l *Loop) Run(ctx context.Context) error {
	defer close(l.done)
	for {
		select {
		case <-ctx.Done():
			return nil
		case fn := <-l.tasks:
			l.exec(fn)
		}
	}
}

// Do runs fn on the loop and waits for it to finish.
func (l *Loop) Do(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	if !l.Post(func() {
		defer close(finished)
		fn()
	}) {
		return fmt.Errorf("loop stopped")
	}
	select {
	case <-finished:
		return nil
	case <-l.done:
		return fmt.Errorf("loop stopped")
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *Loop) exec(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			l.log.Errorf("task panicked: %v\n%s", r, debug.Stack())
		}
	}()
	fn()
}

// AfterFunc implements Scheduler with wall-clock timers whose callbacks
// run on the loop.
func (l *Loop) AfterFunc(d time.Duration, fn func()) Timer {
	return time.AfterFunc(d, func() {
		l.Post(fn)
	})
}
