package vector

// Source produces events for a relay. Implementations must never block in
// any of these calls: the scheduler polls IsReadable before draining.
type Source interface {
	// IsReadable reports whether Drain would return at least one event.
	IsReadable() bool

	// Drain returns the events that are immediately available, at most max of
	// them. A stream that ended returns a trailing Shutdown or Error marker.
	Drain(max int) []Event

	// Stop asks the source to cease producing. It must be idempotent.
	Stop()
}

// Sink consumes events delivered by a relay.
type Sink interface {
	// IsWritable reports whether Accept is expected to take an event now.
	IsWritable() bool

	// Accept takes ownership of ev. It returns nil when the event was taken,
	// ErrWouldBlock when it should be offered again later, and any other error
	// when the sink failed for good.
	Accept(ev Event) error

	// Stop tells the sink that no more events will be offered. It must be
	// idempotent.
	Stop()
}
