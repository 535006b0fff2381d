package vector

import (
	"errors"
	"fmt"

	"github.com/dimspell/vector/internal/metrics"
	"github.com/eapache/queue"
	"github.com/google/uuid"
)

// DefaultQueueLimit is the queue bound used when none is configured.
const DefaultQueueLimit = 64

var errInvalidEvent = errors.New("invalid event")

// Hook is invoked synchronously whenever an event enters a relay's queue,
// before the event can be delivered to the sink. vec is nil when the relay is
// not registered. A hook may change the relay's state (disable an endpoint,
// rebind) or register and unregister relays, but it must not block.
type Hook func(vec *Scheduler, r *Relay, ev Event)

// Relay couples one Source to one Sink through a bounded FIFO of events.
//
// The relay is the only authority on whether its endpoints may be used: the
// Source and Sink have no notion of being enabled. A relay is not safe for
// concurrent use; it belongs to the goroutine driving its scheduler.
type Relay struct {
	id   uuid.UUID
	name string

	src Source
	snk Sink

	queue *queue.Queue
	limit int

	// vec is a non-owning back-link, valid only while handle resolves to this
	// relay in vec's registry.
	vec    *Scheduler
	handle Handle

	srcEnabled  bool
	snkEnabled  bool
	srcShutdown bool
	snkShutdown bool

	hook Hook

	enqueued  uint64
	delivered uint64
	discarded uint64

	doneReported bool
}

type RelayOption func(*Relay)

// WithQueueLimit sets the bound on queued data events. Values below one are
// raised to one.
func WithQueueLimit(n int) RelayOption {
	return func(r *Relay) {
		if n < 1 {
			n = 1
		}
		r.limit = n
	}
}

func WithHook(h Hook) RelayOption {
	return func(r *Relay) {
		r.hook = h
	}
}

// WithName labels the relay in logs and diagnostics.
func WithName(name string) RelayOption {
	return func(r *Relay) {
		r.name = name
	}
}

// NewRelay creates an unbound relay.
func NewRelay(opts ...RelayOption) *Relay {
	r := &Relay{
		id:    uuid.New(),
		queue: queue.New(),
		limit: DefaultQueueLimit,
	}
	for _, fn := range opts {
		fn(r)
	}
	return r
}

func (r *Relay) ID() uuid.UUID { return r.id }
func (r *Relay) Name() string  { return r.name }

// Handle returns the registry handle of the relay, or zero when the relay is
// not vectored.
func (r *Relay) Handle() Handle { return r.handle }

// Scheduler returns the scheduler vectoring the relay, if any.
func (r *Relay) Scheduler() *Scheduler { return r.vec }

func (r *Relay) Source() Source { return r.src }
func (r *Relay) Sink() Sink     { return r.snk }

func (r *Relay) Len() int   { return r.queue.Length() }
func (r *Relay) Limit() int { return r.limit }

// Room returns how many data events can be admitted before the bound is hit.
func (r *Relay) Room() int {
	if n := r.limit - r.queue.Length(); n > 0 {
		return n
	}
	return 0
}

func (r *Relay) SourceEnabled() bool  { return r.srcEnabled }
func (r *Relay) SinkEnabled() bool    { return r.snkEnabled }
func (r *Relay) SourceShutdown() bool { return r.srcShutdown }
func (r *Relay) SinkShutdown() bool   { return r.snkShutdown }

// Done reports whether both endpoints have shut down.
func (r *Relay) Done() bool { return r.srcShutdown && r.snkShutdown }

func (r *Relay) Enqueued() uint64  { return r.enqueued }
func (r *Relay) Delivered() uint64 { return r.delivered }
func (r *Relay) Discarded() uint64 { return r.discarded }

// BindSource replaces the source. Binding an unbound endpoint enables it;
// rebinding keeps the current enable flag. Passing nil unbinds the source.
func (r *Relay) BindSource(src Source) error {
	if r.srcShutdown {
		return fmt.Errorf("source: %w", ErrInvalidRebind)
	}
	if r.vec != nil && r.src != nil && r.srcEnabled {
		return fmt.Errorf("source: %w", ErrInvalidRebind)
	}
	if r.src == nil && src != nil {
		r.srcEnabled = true
	}
	r.src = src
	return nil
}

// BindSink replaces the sink under the same rules as BindSource.
func (r *Relay) BindSink(snk Sink) error {
	if r.snkShutdown {
		return fmt.Errorf("sink: %w", ErrInvalidRebind)
	}
	if r.vec != nil && r.snk != nil && r.snkEnabled {
		return fmt.Errorf("sink: %w", ErrInvalidRebind)
	}
	if r.snk == nil && snk != nil {
		r.snkEnabled = true
	}
	r.snk = snk
	return nil
}

// SetEventHook installs or replaces the hook. It applies to events enqueued
// from now on.
func (r *Relay) SetEventHook(h Hook) {
	r.hook = h
}

func (r *Relay) EnableSource() {
	if !r.srcShutdown {
		r.srcEnabled = true
	}
}

func (r *Relay) DisableSource() { r.srcEnabled = false }

func (r *Relay) EnableSink() {
	if !r.snkShutdown {
		r.snkEnabled = true
	}
}

func (r *Relay) DisableSink() { r.snkEnabled = false }

// Enqueue appends ev to the queue and runs the hook.
//
// Data is refused with ErrCapacityExceeded when the queue is at its bound and
// with ErrSourceShutdown once a terminal marker has been admitted. Shutdown
// and Error markers are admitted regardless of the bound and shut the source
// side down.
func (r *Relay) Enqueue(ev Event) error {
	if !ev.valid() {
		return errInvalidEvent
	}
	if r.srcShutdown {
		return ErrSourceShutdown
	}
	if ev.kind == KindData && r.queue.Length() >= r.limit {
		metrics.CapacityRejections.Inc()
		return ErrCapacityExceeded
	}

	r.queue.Add(ev)
	r.enqueued++
	metrics.EventsEnqueued.WithLabelValues(ev.kind.String()).Inc()

	if ev.IsTerminal() {
		r.shutdownSource()
	}
	if r.hook != nil {
		r.hook(r.vec, r, ev)
	}
	return nil
}

// TryFlushOne delivers the head of the queue when the relay is registered with
// a scheduler and its sink is enabled, not shut down and writable. It reports
// whether an event was delivered. An unregistered relay is inert.
//
// When the sink fails for good the sink side is shut down, the queue is
// discarded and the returned error wraps ErrSinkFatal.
func (r *Relay) TryFlushOne() (bool, error) {
	if r.vec == nil || !r.snkEnabled || r.snkShutdown || r.snk == nil || r.queue.Length() == 0 {
		return false, nil
	}
	if !r.snk.IsWritable() {
		return false, nil
	}

	ev := r.queue.Peek().(Event)
	if err := r.snk.Accept(ev); err != nil {
		if errors.Is(err, ErrWouldBlock) {
			return false, nil
		}
		r.abortSink()
		return false, fmt.Errorf("%w: %w", ErrSinkFatal, err)
	}

	r.queue.Remove()
	r.delivered++
	metrics.EventsDelivered.WithLabelValues(ev.kind.String()).Inc()

	if ev.IsTerminal() {
		r.shutdownSink()
	}
	return true, nil
}

func (r *Relay) shutdownSource() {
	if r.srcShutdown {
		return
	}
	r.srcShutdown = true
	r.srcEnabled = false
	if r.src != nil {
		r.src.Stop()
	}
}

func (r *Relay) shutdownSink() {
	if r.snkShutdown {
		return
	}
	r.snkShutdown = true
	r.snkEnabled = false
	if r.snk != nil {
		r.snk.Stop()
	}
}

// abortSink force-shuts the sink side after a fatal delivery failure. Nothing
// the source produces can be delivered any more, so the source is stopped too.
func (r *Relay) abortSink() int {
	n := r.queue.Length()
	r.queue = queue.New()
	r.discarded += uint64(n)
	metrics.EventsDiscarded.Add(float64(n))

	r.shutdownSink()
	r.shutdownSource()
	return n
}

// events returns a copy of the queued events in delivery order.
func (r *Relay) events() []Event {
	out := make([]Event, r.queue.Length())
	for i := range out {
		out[i] = r.queue.Get(i).(Event)
	}
	return out
}
