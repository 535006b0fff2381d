package vector

import (
	"fmt"
)

// Kind tags the payload carried by an Event.
type Kind uint8

const (
	KindData Kind = iota + 1
	KindShutdown
	KindError
)

func (k Kind) String() string {
	switch k {
	case KindData:
		return "data"
	case KindShutdown:
		return "shutdown"
	case KindError:
		return "error"
	default:
		return "unknown"
	}
}

// Event is an immutable unit flowing through a relay: a chunk of data, a
// shutdown marker (one direction closed) or an error marker. The zero Event is
// invalid and is never admitted by a relay.
type Event struct {
	kind Kind
	data []byte
	err  error
}

// NewData creates a data event holding a private copy of p.
func NewData(p []byte) Event {
	buf := make([]byte, len(p))
	copy(buf, p)
	return Event{kind: KindData, data: buf}
}

// NewShutdown creates the marker signalling that the producing direction has
// been closed cleanly.
func NewShutdown() Event {
	return Event{kind: KindShutdown}
}

// NewError creates the marker signalling that the producing direction failed.
func NewError(err error) Event {
	if err == nil {
		err = ErrSourceFatal
	}
	return Event{kind: KindError, err: err}
}

func (e Event) Kind() Kind { return e.kind }

// Bytes returns the payload of a data event. The returned slice must not be
// modified.
func (e Event) Bytes() []byte { return e.data }

// Len returns the payload length of a data event and zero otherwise.
func (e Event) Len() int { return len(e.data) }

// Err returns the cause of an error event.
func (e Event) Err() error { return e.err }

// IsTerminal reports whether the event closes its direction.
func (e Event) IsTerminal() bool {
	return e.kind == KindShutdown || e.kind == KindError
}

func (e Event) valid() bool {
	return e.kind >= KindData && e.kind <= KindError
}

func (e Event) String() string {
	switch e.kind {
	case KindData:
		return fmt.Sprintf("data(%d)", len(e.data))
	case KindError:
		return fmt.Sprintf("error(%v)", e.err)
	default:
		return e.kind.String()
	}
}
