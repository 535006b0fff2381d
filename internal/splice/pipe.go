// Package splice joins two streams into a bidirectional pipe made of two
// relays registered with one reactor.
package splice

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/dimspell/vector/internal/app/logger/logging"
	"github.com/dimspell/vector/internal/inspect"
	"github.com/dimspell/vector/internal/reactor"
	"github.com/dimspell/vector/internal/stream"
	"github.com/dimspell/vector/internal/vector"
	"github.com/google/uuid"
	"github.com/kelindar/event"
)

const defaultLinger = 5 * time.Second

var ErrNoDispatcher = errors.New("splice: scheduler has no dispatcher")

type Config struct {
	QueueLimit int
	// Quota caps the data bytes admitted per direction. Zero means no limit.
	Quota int64
	Trace bool
	// Linger bounds how long a finished pipe waits for both writers to flush
	// before the streams are closed.
	Linger time.Duration
	Logger *slog.Logger
}

type Option func(*Config)

func WithQueueLimit(n int) Option { return func(c *Config) { c.QueueLimit = n } }
func WithQuota(n int64) Option    { return func(c *Config) { c.Quota = n } }
func WithTrace(v bool) Option     { return func(c *Config) { c.Trace = v } }

func WithLinger(d time.Duration) Option {
	return func(c *Config) { c.Linger = d }
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *Config) { c.Logger = logger }
}

// Pipe relays client bytes to the server ("up") and server bytes back to the
// client ("down").
type Pipe struct {
	ID     uuid.UUID
	re     *reactor.Reactor
	client *stream.Conn
	server *stream.Conn
	logger *slog.Logger
	linger time.Duration

	up   *vector.Relay
	down *vector.Relay

	unsubscribe context.CancelFunc

	mu       sync.Mutex
	upH      vector.Handle
	downH    vector.Handle
	finished map[uuid.UUID]bool

	closeOnce sync.Once
	closeErr  error
	done      chan struct{}
}

// Open registers both relays of the pipe with re. The pipe takes ownership of
// client and server and closes them once both directions are done.
func Open(ctx context.Context, re *reactor.Reactor, client, server *stream.Conn, opts ...Option) (*Pipe, error) {
	cfg := Config{QueueLimit: vector.DefaultQueueLimit, Linger: defaultLinger}
	for _, fn := range opts {
		fn(&cfg)
	}
	bus := re.Scheduler().Dispatcher()
	if bus == nil {
		return nil, ErrNoDispatcher
	}

	p := &Pipe{
		ID:       uuid.New(),
		re:       re,
		client:   client,
		server:   server,
		linger:   cfg.Linger,
		finished: make(map[uuid.UUID]bool, 2),
		done:     make(chan struct{}),
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	p.logger = cfg.Logger.With(logging.PipeID(p.ID))

	p.up = p.newRelay("up", client.Source(), server.Sink(), cfg)
	p.down = p.newRelay("down", server.Source(), client.Sink(), cfg)

	p.unsubscribe = event.SubscribeTo(bus, vector.TypeDone, p.onDone)

	var regErr error
	err := re.Do(ctx, func(vec *vector.Scheduler) {
		upH, err := vec.Register(p.up)
		if err != nil {
			regErr = err
			return
		}
		downH, err := vec.Register(p.down)
		if err != nil {
			_ = vec.Unregister(upH)
			regErr = err
			return
		}
		p.mu.Lock()
		p.upH, p.downH = upH, downH
		p.mu.Unlock()
	})
	if err = errors.Join(err, regErr); err != nil {
		p.unsubscribe()
		return nil, err
	}
	p.logger.Info("Pipe opened")
	return p, nil
}

func (p *Pipe) newRelay(direction string, src vector.Source, snk vector.Sink, cfg Config) *vector.Relay {
	hooks := []vector.Hook{inspect.Meter(direction)}
	if cfg.Trace {
		hooks = append(hooks, inspect.Log(p.logger.With("direction", direction)))
	}
	hooks = append(hooks, inspect.Quota(cfg.Quota, func(r *vector.Relay) {
		p.logger.Warn("Quota exceeded, ending direction", "direction", direction, logging.RelayID(r.ID()))
	}))

	r := vector.NewRelay(
		vector.WithName(p.ID.String()+"/"+direction),
		vector.WithQueueLimit(cfg.QueueLimit),
		vector.WithHook(inspect.Chain(hooks...)),
	)
	// Fresh relays accept their first binding.
	_ = r.BindSource(src)
	_ = r.BindSink(snk)
	return r
}

// onDone runs on the dispatcher goroutine.
func (p *Pipe) onDone(ev vector.Done) {
	if ev.RelayID != p.up.ID() && ev.RelayID != p.down.ID() {
		return
	}
	p.mu.Lock()
	p.finished[ev.RelayID] = true
	both := len(p.finished) == 2
	p.mu.Unlock()

	p.logger.Debug("Pipe direction finished", logging.RelayID(ev.RelayID))
	if both {
		go p.finish()
	}
}

// finish closes the pipe once both writers have flushed what the relays
// handed them, or once the linger period is over.
func (p *Pipe) finish() {
	timer := time.NewTimer(p.linger)
	defer timer.Stop()
	for _, c := range []*stream.Conn{p.client, p.server} {
		select {
		case <-c.Flushed():
		case <-timer.C:
			p.logger.Warn("Pipe writers did not flush in time", "linger", p.linger.String())
			_ = p.Close()
			return
		}
	}
	_ = p.Close()
}

// Relays returns the up and down relays. They may only be inspected from the
// reactor loop.
func (p *Pipe) Relays() (up, down *vector.Relay) { return p.up, p.down }

// Done is closed once the pipe has been torn down.
func (p *Pipe) Done() <-chan struct{} { return p.done }

// Wait blocks until the pipe is torn down or ctx is done.
func (p *Pipe) Wait(ctx context.Context) error {
	select {
	case <-p.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close unregisters both relays and closes both streams. It is safe to call
// more than once and from any goroutine other than the reactor loop.
func (p *Pipe) Close() error {
	p.closeOnce.Do(func() {
		p.unsubscribe()

		p.mu.Lock()
		upH, downH := p.upH, p.downH
		p.mu.Unlock()

		err := p.re.Do(context.Background(), func(vec *vector.Scheduler) {
			_ = vec.Unregister(upH)
			_ = vec.Unregister(downH)
		})
		if errors.Is(err, reactor.ErrStopped) {
			err = nil
		}
		p.closeErr = errors.Join(err, p.client.Close(), p.server.Close())
		if p.closeErr != nil {
			p.logger.Warn("Pipe closed with error", logging.Error(p.closeErr))
		} else {
			p.logger.Info("Pipe closed")
		}
		close(p.done)
	})
	return p.closeErr
}
