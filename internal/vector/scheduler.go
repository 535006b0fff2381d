package vector

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dimspell/vector/internal/app/logger/logging"
	"github.com/dimspell/vector/internal/metrics"
	"github.com/kelindar/event"
)

// Handle identifies a registered relay. The low half is the slot index plus
// one, the high half the slot generation, so a stale handle never resolves to
// a relay registered later in the same slot. The zero Handle is never issued.
type Handle uint64

func makeHandle(index int, gen uint32) Handle {
	return Handle(uint64(gen)<<32 | uint64(index+1))
}

func (h Handle) index() int  { return int(uint32(h)) - 1 }
func (h Handle) gen() uint32 { return uint32(h >> 32) }

func (h Handle) String() string {
	if h == 0 {
		return "-"
	}
	return fmt.Sprintf("#%d.%d", h.index(), h.gen())
}

type slot struct {
	relay *Relay
	gen   uint32
	// armed is false for relays registered during a tick until it ends.
	armed bool
}

// TickStats summarises one scheduler pass.
type TickStats struct {
	Relays    int
	Drained   int
	Delivered int
	Faults    int
	Queued    int
}

// Progress reports whether the tick moved any event.
func (s TickStats) Progress() bool {
	return s.Drained > 0 || s.Delivered > 0
}

// Scheduler vectors a set of relays. It is driven one Tick at a time by a
// single goroutine; none of its methods are safe for concurrent use.
//
// Relays are kept in an arena of slots addressed by handles. Each tick visits
// the slots round-robin, starting one slot after where the previous tick
// started, so no relay is always served first. Relays registered while a tick
// is running are first visited by the next tick; relays unregistered during a
// tick are skipped from that point on.
//
// A relay whose endpoints have both shut down is not removed automatically: a
// Done event is published once and the owner is expected to Unregister it.
type Scheduler struct {
	logger *slog.Logger
	bus    *event.Dispatcher

	slots   []slot
	free    []int
	count   int
	cursor  int
	ticking bool
	pending []int
}

type Option func(*Scheduler)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Scheduler) {
		s.logger = logger
	}
}

// WithDispatcher publishes Fault and Done events on bus.
func WithDispatcher(bus *event.Dispatcher) Option {
	return func(s *Scheduler) {
		s.bus = bus
	}
}

func NewScheduler(opts ...Option) *Scheduler {
	s := &Scheduler{}
	for _, fn := range opts {
		fn(s)
	}
	if s.logger == nil {
		s.logger = slog.Default().With("component", "vector")
	}
	return s
}

// Dispatcher returns the dispatcher faults are published on, or nil.
func (s *Scheduler) Dispatcher() *event.Dispatcher { return s.bus }

// Len returns the number of registered relays.
func (s *Scheduler) Len() int { return s.count }

// Register adds r to the active set and returns its handle.
func (s *Scheduler) Register(r *Relay) (Handle, error) {
	if r == nil {
		return 0, errors.New("cannot register a nil relay")
	}
	if r.vec != nil {
		return 0, fmt.Errorf("relay %s: %w", r.id, ErrAlreadyRegistered)
	}

	var idx int
	if n := len(s.free); n > 0 {
		idx = s.free[n-1]
		s.free = s.free[:n-1]
	} else {
		idx = len(s.slots)
		s.slots = append(s.slots, slot{})
	}

	sl := &s.slots[idx]
	sl.relay = r
	sl.armed = !s.ticking
	if s.ticking {
		s.pending = append(s.pending, idx)
	}

	h := makeHandle(idx, sl.gen)
	r.vec, r.handle = s, h
	s.count++
	metrics.RelaysRegistered.Inc()

	s.logger.Debug("Registered relay", logging.RelayID(r.id), logging.Handle(h), "name", r.name)
	return h, nil
}

// Unregister removes the relay behind h from the active set. It may be called
// at any time, including from a hook during a tick. Queued events and bound
// endpoints are left untouched.
func (s *Scheduler) Unregister(h Handle) error {
	idx, ok := s.lookup(h)
	if !ok {
		return fmt.Errorf("handle %s: %w", h, ErrNotRegistered)
	}

	r := s.slots[idx].relay
	s.slots[idx] = slot{gen: s.slots[idx].gen + 1}
	s.free = append(s.free, idx)
	r.vec, r.handle = nil, 0
	s.count--
	metrics.RelaysRegistered.Dec()

	s.logger.Debug("Unregistered relay", logging.RelayID(r.id), logging.Handle(h), "name", r.name)
	return nil
}

// Relay resolves a handle.
func (s *Scheduler) Relay(h Handle) (*Relay, bool) {
	idx, ok := s.lookup(h)
	if !ok {
		return nil, false
	}
	return s.slots[idx].relay, true
}

// Relays returns the registered relays in slot order.
func (s *Scheduler) Relays() []*Relay {
	out := make([]*Relay, 0, s.count)
	for _, sl := range s.slots {
		if sl.relay != nil {
			out = append(out, sl.relay)
		}
	}
	return out
}

func (s *Scheduler) lookup(h Handle) (int, bool) {
	idx := h.index()
	if h == 0 || idx < 0 || idx >= len(s.slots) {
		return 0, false
	}
	sl := s.slots[idx]
	if sl.relay == nil || sl.gen != h.gen() {
		return 0, false
	}
	return idx, true
}

// active reports whether r is registered here and already visited by ticks.
// A relay re-registered by a hook during the current tick is not.
func (s *Scheduler) active(r *Relay) bool {
	if r.vec != s || r.handle == 0 {
		return false
	}
	idx, ok := s.lookup(r.handle)
	return ok && s.slots[idx].armed
}

// Tick runs a single reactor pass over every registered relay: ready sources
// are drained into their queues while there is room, then queued events are
// flushed into ready sinks. A failing relay never aborts the pass for the
// others.
func (s *Scheduler) Tick() TickStats {
	var stats TickStats
	if s.ticking {
		s.logger.Warn("Nested scheduler tick ignored")
		return stats
	}

	started := time.Now()
	s.ticking = true

	n := len(s.slots)
	if n > 0 {
		first := s.cursor % n
		for k := 0; k < n; k++ {
			sl := s.slots[(first+k)%n]
			if sl.relay == nil || !sl.armed {
				continue
			}
			s.vector(sl.relay, &stats)
		}
		s.cursor = first + 1
	}

	s.ticking = false
	for _, idx := range s.pending {
		if s.slots[idx].relay != nil {
			s.slots[idx].armed = true
		}
	}
	s.pending = s.pending[:0]

	metrics.QueuedEvents.Set(float64(stats.Queued))
	metrics.TickDuration.Observe(time.Since(started).Seconds())
	return stats
}

func (s *Scheduler) vector(r *Relay, stats *TickStats) {
	stats.Relays++

	if r.srcEnabled && !r.srcShutdown && r.src != nil && r.Room() > 0 && r.src.IsReadable() {
		stats.Drained += s.admit(r, r.src.Drain(r.Room()), stats)
	}

	for s.active(r) {
		pending := r.Len()
		ok, err := r.TryFlushOne()
		if err != nil {
			stats.Faults++
			s.fault(r, FaultSinkFatal, err, pending)
			break
		}
		if !ok {
			break
		}
		stats.Delivered++
	}

	stats.Queued += r.Len()

	if r.Done() && !r.doneReported {
		r.doneReported = true
		s.logger.Debug("Relay finished", logging.RelayID(r.id), logging.Handle(r.handle), "name", r.name,
			"delivered", r.delivered, "discarded", r.discarded)
		if s.bus != nil {
			event.Publish(s.bus, Done{RelayID: r.id, Name: r.name, Handle: r.handle})
		}
	}
}

// admit enqueues drained events. Events already handed over by the source are
// admitted even if a hook unregisters the relay half way through the batch.
func (s *Scheduler) admit(r *Relay, events []Event, stats *TickStats) int {
	admitted := 0
	for _, ev := range events {
		err := r.Enqueue(ev)
		switch {
		case err == nil:
			admitted++
			if ev.kind == KindError {
				stats.Faults++
				s.fault(r, FaultSourceFatal, fmt.Errorf("%w: %w", ErrSourceFatal, ev.err), 0)
			}
		case errors.Is(err, ErrCapacityExceeded):
			r.discarded++
			metrics.EventsDiscarded.Inc()
			stats.Faults++
			s.fault(r, FaultCapacityExceeded, err, 1)
		default:
			r.discarded++
			metrics.EventsDiscarded.Inc()
			s.logger.Warn("Dropped event offered by source", logging.RelayID(r.id), logging.Error(err), "event", ev.String())
		}
	}
	return admitted
}

func (s *Scheduler) fault(r *Relay, kind FaultKind, err error, discarded int) {
	f := Fault{
		Kind:      kind,
		RelayID:   r.id,
		Name:      r.name,
		Handle:    r.handle,
		Err:       err,
		Discarded: discarded,
	}
	metrics.Faults.WithLabelValues(kind.String()).Inc()
	s.logger.Warn("Relay fault", "fault", f)
	if s.bus != nil {
		event.Publish(s.bus, f)
	}
}
