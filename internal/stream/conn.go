// Package stream adapts byte streams (TCP connections, websockets, QUIC
// streams) to the Source and Sink capabilities used by relays.
//
// Each Conn runs one reader and one writer goroutine. The relay side only
// looks at channel occupancy, so none of the capability methods block.
package stream

import (
	"errors"
	"io"
	"log/slog"
	"net"
	"sync"

	"github.com/dimspell/vector/internal/app/logger/logging"
	"github.com/dimspell/vector/internal/vector"
	"golang.org/x/sync/errgroup"
)

const (
	defaultReadBuffer = 32 * 1024
	defaultReadAhead  = 16
	defaultWriteDepth = 16
)

var errSinkStopped = errors.New("sink is stopped")

type closeWriter interface {
	CloseWrite() error
}

type closeReader interface {
	CloseRead() error
}

// Conn owns a byte stream and exposes it as a Source and a Sink.
type Conn struct {
	rwc        io.ReadWriteCloser
	closeWrite func() error
	closer     func() error
	wake       func()
	logger     *slog.Logger

	readBuffer int
	readAhead  int
	writeDepth int

	in       chan vector.Event
	out      chan vector.Event
	quit     chan struct{}
	flushed  chan struct{}
	readDone chan struct{}

	// deferClose is set when the stream has no half-close: a delivered
	// Shutdown then closes it only once the read side has ended too.
	deferClose bool

	mu        sync.Mutex
	writeErr  error
	outClosed bool

	source *Source
	sink   *Sink
	group  errgroup.Group

	rwcOnce   sync.Once
	rwcErr    error
	closeOnce sync.Once
	closeErr  error
	done      chan struct{}
}

type Option func(*Conn)

// WithWake registers a function called whenever the readiness of the source
// or the sink may have changed. It is called from the pump goroutines.
func WithWake(fn func()) Option {
	return func(c *Conn) {
		c.wake = fn
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *Conn) {
		c.logger = logger
	}
}

// WithReadBuffer sets the size of a single read, and so the largest data
// event the source produces.
func WithReadBuffer(n int) Option {
	return func(c *Conn) {
		if n > 0 {
			c.readBuffer = n
		}
	}
}

// WithReadAhead sets how many events the reader may buffer before the relay
// drains them.
func WithReadAhead(n int) Option {
	return func(c *Conn) {
		if n > 0 {
			c.readAhead = n
		}
	}
}

// WithWriteDepth sets how many events the sink accepts before it reports
// ErrWouldBlock.
func WithWriteDepth(n int) Option {
	return func(c *Conn) {
		if n > 0 {
			c.writeDepth = n
		}
	}
}

// WithCloseWrite overrides how a delivered Shutdown half-closes the stream.
// Without it, a stream lacking CloseWrite stays open after a Shutdown until
// its read side ends.
func WithCloseWrite(fn func() error) Option {
	return func(c *Conn) {
		c.closeWrite = fn
	}
}

// WithCloser adds a teardown step run by Close after the stream is closed.
func WithCloser(fn func() error) Option {
	return func(c *Conn) {
		c.closer = fn
	}
}

// New starts the pumps for rwc. Close must be called to release them.
func New(rwc io.ReadWriteCloser, opts ...Option) *Conn {
	c := &Conn{
		rwc:        rwc,
		wake:       func() {},
		readBuffer: defaultReadBuffer,
		readAhead:  defaultReadAhead,
		writeDepth: defaultWriteDepth,
		quit:       make(chan struct{}),
		flushed:    make(chan struct{}),
		readDone:   make(chan struct{}),
		done:       make(chan struct{}),
	}
	for _, fn := range opts {
		fn(c)
	}
	if c.logger == nil {
		c.logger = slog.Default().With("component", "stream")
	}
	if c.closeWrite == nil {
		if cw, ok := rwc.(closeWriter); ok {
			c.closeWrite = cw.CloseWrite
		} else {
			c.deferClose = true
			c.closeWrite = func() error { return nil }
		}
	}

	c.in = make(chan vector.Event, c.readAhead)
	c.out = make(chan vector.Event, c.writeDepth)
	c.source = &Source{c: c, stop: make(chan struct{})}
	c.sink = &Sink{c: c}

	c.group.Go(c.readLoop)
	c.group.Go(c.writeLoop)
	if c.deferClose {
		c.group.Go(c.closeWhenDrained)
	}
	return c
}

func (c *Conn) Source() *Source { return c.source }
func (c *Conn) Sink() *Sink     { return c.sink }

// Flushed is closed once the writer has stopped: after a terminal event was
// handled, a write failed, the sink was stopped or the Conn was closed.
func (c *Conn) Flushed() <-chan struct{} { return c.flushed }

// Done is closed once Close has released the pumps.
func (c *Conn) Done() <-chan struct{} { return c.done }

// Close closes the stream and waits for both pumps to exit. Events still in
// flight are dropped.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		close(c.quit)
		err := c.closeStream()
		if errors.Is(err, net.ErrClosed) || errors.Is(err, io.ErrClosedPipe) {
			err = nil
		}
		if c.closer != nil {
			err = errors.Join(err, c.closer())
		}
		_ = c.group.Wait()
		c.closeErr = err
		close(c.done)
	})
	return c.closeErr
}

func (c *Conn) closeStream() error {
	c.rwcOnce.Do(func() { c.rwcErr = c.rwc.Close() })
	return c.rwcErr
}

func (c *Conn) closing() bool {
	select {
	case <-c.quit:
		return true
	default:
		return false
	}
}

func (c *Conn) readLoop() error {
	defer close(c.readDone)
	buf := make([]byte, c.readBuffer)
	for {
		n, err := c.rwc.Read(buf)
		if n > 0 {
			if !c.push(vector.NewData(buf[:n])) {
				return nil
			}
		}
		if err == nil {
			continue
		}
		if c.closing() {
			return nil
		}
		if errors.Is(err, io.EOF) {
			c.logger.Debug("Stream reached EOF")
			c.push(vector.NewShutdown())
			return nil
		}
		c.logger.Debug("Error reading from stream", logging.Error(err))
		c.push(vector.NewError(err))
		return nil
	}
}

func (c *Conn) push(ev vector.Event) bool {
	select {
	case c.in <- ev:
		c.wake()
		return true
	case <-c.source.stop:
		return false
	case <-c.quit:
		return false
	}
}

// closeWhenDrained closes a stream without half-close once the writer has
// stopped and the read side has ended.
func (c *Conn) closeWhenDrained() error {
	for _, ch := range []<-chan struct{}{c.flushed, c.readDone} {
		select {
		case <-ch:
		case <-c.quit:
			return nil
		}
	}
	c.logger.Debug("Both directions ended, closing the stream")
	_ = c.closeStream()
	return nil
}

func (c *Conn) writeLoop() error {
	defer close(c.flushed)
	for {
		select {
		case <-c.quit:
			return nil
		case ev, ok := <-c.out:
			if !ok {
				return nil
			}
			switch ev.Kind() {
			case vector.KindData:
				if _, err := c.rwc.Write(ev.Bytes()); err != nil {
					c.failWrite(err)
					return nil
				}
			case vector.KindShutdown:
				if err := c.closeWrite(); err != nil && !c.closing() {
					c.logger.Debug("Could not half-close the stream", logging.Error(err))
				}
				return nil
			case vector.KindError:
				c.logger.Debug("Aborting stream after upstream error", logging.Error(ev.Err()))
				_ = c.closeStream()
				return nil
			}
			c.wake()
		}
	}
}

func (c *Conn) failWrite(err error) {
	if c.closing() {
		return
	}
	c.logger.Debug("Error writing to stream", logging.Error(err))
	c.mu.Lock()
	c.writeErr = err
	c.mu.Unlock()
	c.wake()
}

// Source is the reading half of a Conn.
type Source struct {
	c        *Conn
	stop     chan struct{}
	stopOnce sync.Once
}

var _ vector.Source = (*Source)(nil)

func (s *Source) IsReadable() bool {
	return len(s.c.in) > 0
}

// Drain returns up to max buffered events, stopping after a terminal marker.
func (s *Source) Drain(max int) []vector.Event {
	var events []vector.Event
	for len(events) < max {
		select {
		case ev := <-s.c.in:
			events = append(events, ev)
			if ev.IsTerminal() {
				return events
			}
		default:
			return events
		}
	}
	return events
}

// Stop stops the reader from producing further events.
func (s *Source) Stop() {
	s.stopOnce.Do(func() {
		close(s.stop)
		if cr, ok := s.c.rwc.(closeReader); ok {
			_ = cr.CloseRead()
		}
	})
}

// Sink is the writing half of a Conn.
type Sink struct {
	c *Conn
}

var _ vector.Sink = (*Sink)(nil)

// IsWritable also reports true after a write failure, so that the next Accept
// surfaces the failure to the relay.
func (s *Sink) IsWritable() bool {
	c := s.c
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.writeErr != nil {
		return true
	}
	return !c.outClosed && len(c.out) < cap(c.out)
}

func (s *Sink) Accept(ev vector.Event) error {
	c := s.c
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.writeErr != nil {
		return c.writeErr
	}
	if c.outClosed {
		return errSinkStopped
	}
	select {
	case c.out <- ev:
		if ev.IsTerminal() {
			c.outClosed = true
			close(c.out)
		}
		return nil
	default:
		return vector.ErrWouldBlock
	}
}

// Stop closes the write queue; events already accepted are still written.
func (s *Sink) Stop() {
	c := s.c
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.outClosed {
		c.outClosed = true
		close(c.out)
	}
}
