package vector

import (
	"log/slog"

	"github.com/google/uuid"
)

// Event types published on the scheduler's dispatcher.
const (
	TypeFault uint32 = 0x01
	TypeDone  uint32 = 0x02
)

// FaultKind classifies a condition reported for a single relay.
type FaultKind uint8

const (
	// FaultCapacityExceeded means a source handed over more data than the
	// queue had room for; the excess was rejected.
	FaultCapacityExceeded FaultKind = iota + 1
	// FaultSourceFatal means a source ended its stream with an error marker.
	FaultSourceFatal
	// FaultSinkFatal means a sink failed for good; the remaining queue was
	// discarded.
	FaultSinkFatal
)

func (k FaultKind) String() string {
	switch k {
	case FaultCapacityExceeded:
		return "capacity_exceeded"
	case FaultSourceFatal:
		return "source_fatal"
	case FaultSinkFatal:
		return "sink_fatal"
	default:
		return "unknown"
	}
}

// Fault describes a condition that affected one relay only.
type Fault struct {
	Kind      FaultKind
	RelayID   uuid.UUID
	Name      string
	Handle    Handle
	Err       error
	Discarded int
}

func (Fault) Type() uint32 { return TypeFault }

func (f Fault) LogValue() slog.Value {
	attrs := []slog.Attr{
		slog.String("kind", f.Kind.String()),
		slog.String("relayId", f.RelayID.String()),
		slog.String("handle", f.Handle.String()),
	}
	if f.Name != "" {
		attrs = append(attrs, slog.String("name", f.Name))
	}
	if f.Err != nil {
		attrs = append(attrs, slog.String("error", f.Err.Error()))
	}
	if f.Discarded > 0 {
		attrs = append(attrs, slog.Int("discarded", f.Discarded))
	}
	return slog.GroupValue(attrs...)
}

// Done is published once when both endpoints of a relay have shut down. The
// relay stays registered until its owner unregisters it.
type Done struct {
	RelayID uuid.UUID
	Name    string
	Handle  Handle
}

func (Done) Type() uint32 { return TypeDone }
