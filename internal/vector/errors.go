package vector

import (
	"errors"
)

var (
	// ErrCapacityExceeded is returned when a data event is offered to a relay
	// whose queue is already at its limit.
	ErrCapacityExceeded = errors.New("relay queue is full")

	// ErrSourceShutdown is returned when a data event is offered after the
	// source side has already been closed by a terminal marker.
	ErrSourceShutdown = errors.New("relay source is shut down")

	// ErrInvalidRebind is returned when an endpoint is rebound while the relay
	// is actively vectoring it, or after it has shut down.
	ErrInvalidRebind = errors.New("cannot rebind an active or shut down endpoint")

	// ErrWouldBlock is returned by a Sink that cannot take an event right now.
	ErrWouldBlock = errors.New("sink would block")

	ErrSinkFatal   = errors.New("sink failed")
	ErrSourceFatal = errors.New("source failed")

	ErrNotRegistered     = errors.New("relay is not registered")
	ErrAlreadyRegistered = errors.New("relay is already registered")
)
