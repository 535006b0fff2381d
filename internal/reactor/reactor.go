// Package reactor owns a vector.Scheduler and drives it from one goroutine.
//
// Stream pumps call Wake when readiness may have changed; the loop then ticks
// the scheduler until a pass moves nothing. Calls from other goroutines are
// marshalled onto the loop with Do and Post, so the scheduler and its relays
// are only ever touched by the loop goroutine.
package reactor

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/dimspell/vector/internal/vector"
)

const (
	defaultInterval = 50 * time.Millisecond
	defaultMaxSpin  = 64
)

var ErrStopped = errors.New("reactor is not running")

type Reactor struct {
	vec      *vector.Scheduler
	logger   *slog.Logger
	interval time.Duration
	maxSpin  int

	wake  chan struct{}
	calls chan func(*vector.Scheduler)
	done  chan struct{}
}

type Option func(*Reactor)

// WithInterval sets the period of the safety tick run even without wake-ups.
func WithInterval(d time.Duration) Option {
	return func(r *Reactor) {
		if d > 0 {
			r.interval = d
		}
	}
}

// WithMaxSpin bounds the ticks run back to back after a single wake-up.
func WithMaxSpin(n int) Option {
	return func(r *Reactor) {
		if n > 0 {
			r.maxSpin = n
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(r *Reactor) {
		r.logger = logger
	}
}

func New(vec *vector.Scheduler, opts ...Option) *Reactor {
	r := &Reactor{
		vec:      vec,
		interval: defaultInterval,
		maxSpin:  defaultMaxSpin,
		wake:     make(chan struct{}, 1),
		calls:    make(chan func(*vector.Scheduler), 64),
		done:     make(chan struct{}),
	}
	for _, fn := range opts {
		fn(r)
	}
	if r.logger == nil {
		r.logger = slog.Default().With("component", "reactor")
	}
	return r
}

// Scheduler returns the driven scheduler. It may only be used from the loop,
// that is from within Do, Post or a relay hook.
func (r *Reactor) Scheduler() *vector.Scheduler { return r.vec }

// Wake requests a tick. It never blocks and may be called from any goroutine.
func (r *Reactor) Wake() {
	select {
	case r.wake <- struct{}{}:
	default:
	}
}

// Run drives the scheduler until ctx is done.
func (r *Reactor) Run(ctx context.Context) error {
	defer close(r.done)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.logger.Debug("Reactor started", "interval", r.interval.String())
	for {
		select {
		case <-ctx.Done():
			r.logger.Debug("Reactor stopped")
			return ctx.Err()
		case fn := <-r.calls:
			fn(r.vec)
			r.spin()
		case <-r.wake:
			r.spin()
		case <-ticker.C:
			r.spin()
		}
	}
}

// Done is closed when Run returns.
func (r *Reactor) Done() <-chan struct{} { return r.done }

func (r *Reactor) spin() {
	for i := 0; i < r.maxSpin; i++ {
		if !r.vec.Tick().Progress() {
			return
		}
	}
	// Still busy: come back after pending calls had a chance to run.
	r.Wake()
}

// Post queues fn to run on the loop. It blocks only while the call queue is
// full, and fails once ctx is done or the loop has stopped.
func (r *Reactor) Post(ctx context.Context, fn func(*vector.Scheduler)) error {
	select {
	case r.calls <- fn:
		return nil
	case <-r.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Do runs fn on the loop and waits for it to return.
func (r *Reactor) Do(ctx context.Context, fn func(*vector.Scheduler)) error {
	finished := make(chan struct{})
	if err := r.Post(ctx, func(vec *vector.Scheduler) {
		defer close(finished)
		fn(vec)
	}); err != nil {
		return err
	}
	select {
	case <-finished:
		return nil
	case <-r.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}
