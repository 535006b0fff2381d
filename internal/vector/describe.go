package vector

import (
	"fmt"
	"strings"
)

// EndpointState is the lifecycle position of one side of a relay.
type EndpointState uint8

const (
	StateUnbound EndpointState = iota
	StateEnabled
	StateDisabled
	StateShutdown
)

func (s EndpointState) String() string {
	switch s {
	case StateUnbound:
		return "unbound"
	case StateEnabled:
		return "enabled"
	case StateDisabled:
		return "disabled"
	case StateShutdown:
		return "shutdown"
	default:
		return "unknown"
	}
}

func endpointState(bound, enabled, shutdown bool) EndpointState {
	switch {
	case shutdown:
		return StateShutdown
	case !bound:
		return StateUnbound
	case enabled:
		return StateEnabled
	default:
		return StateDisabled
	}
}

func (r *Relay) SourceState() EndpointState {
	return endpointState(r.src != nil, r.srcEnabled, r.srcShutdown)
}

func (r *Relay) SinkState() EndpointState {
	return endpointState(r.snk != nil, r.snkEnabled, r.snkShutdown)
}

// Describe renders the relay state as text. Level 0 is a single line, level 1
// adds bindings and counters, level 2 and above list the queued events.
// Describe never changes the relay.
func (r *Relay) Describe(level int, prefix string) string {
	var b strings.Builder

	fmt.Fprintf(&b, "%srelay %s", prefix, r.id)
	if r.name != "" {
		fmt.Fprintf(&b, " (%s)", r.name)
	}
	fmt.Fprintf(&b, " handle=%s queue=%d/%d source=%s sink=%s\n",
		r.handle, r.queue.Length(), r.limit, r.SourceState(), r.SinkState())

	if level < 1 {
		return b.String()
	}
	fmt.Fprintf(&b, "%s  source: %s enabled=%t shutdown=%t\n", prefix, typeName(r.src), r.srcEnabled, r.srcShutdown)
	fmt.Fprintf(&b, "%s  sink:   %s enabled=%t shutdown=%t\n", prefix, typeName(r.snk), r.snkEnabled, r.snkShutdown)
	fmt.Fprintf(&b, "%s  hook=%t enqueued=%d delivered=%d discarded=%d\n", prefix, r.hook != nil, r.enqueued, r.delivered, r.discarded)

	if level < 2 {
		return b.String()
	}
	for i, ev := range r.events() {
		fmt.Fprintf(&b, "%s  [%d] %s\n", prefix, i, ev)
	}
	return b.String()
}

// Describe renders every registered relay in slot order.
func (s *Scheduler) Describe(level int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "scheduler relays=%d\n", s.count)
	for _, r := range s.Relays() {
		b.WriteString(r.Describe(level, "  "))
	}
	return b.String()
}

func typeName(v any) string {
	if v == nil {
		return "<none>"
	}
	return fmt.Sprintf("%T", v)
}

// Snapshot is a machine readable copy of a relay's state.
type Snapshot struct {
	ID          string   `json:"id" cbor:"id"`
	Name        string   `json:"name,omitempty" cbor:"name,omitempty"`
	Handle      string   `json:"handle" cbor:"handle"`
	Source      string   `json:"source" cbor:"source"`
	Sink        string   `json:"sink" cbor:"sink"`
	SourceState string   `json:"sourceState" cbor:"sourceState"`
	SinkState   string   `json:"sinkState" cbor:"sinkState"`
	Queued      int      `json:"queued" cbor:"queued"`
	Limit       int      `json:"limit" cbor:"limit"`
	Enqueued    uint64   `json:"enqueued" cbor:"enqueued"`
	Delivered   uint64   `json:"delivered" cbor:"delivered"`
	Discarded   uint64   `json:"discarded" cbor:"discarded"`
	Events      []string `json:"events,omitempty" cbor:"events,omitempty"`
}

// Snapshot copies the relay state. Queued events are listed from level 2.
func (r *Relay) Snapshot(level int) Snapshot {
	snap := Snapshot{
		ID:          r.id.String(),
		Name:        r.name,
		Handle:      r.handle.String(),
		Source:      typeName(r.src),
		Sink:        typeName(r.snk),
		SourceState: r.SourceState().String(),
		SinkState:   r.SinkState().String(),
		Queued:      r.queue.Length(),
		Limit:       r.limit,
		Enqueued:    r.enqueued,
		Delivered:   r.delivered,
		Discarded:   r.discarded,
	}
	if level >= 2 {
		for _, ev := range r.events() {
			snap.Events = append(snap.Events, ev.String())
		}
	}
	return snap
}
