package stream

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/coder/websocket"
	"github.com/dimspell/vector/internal/app/logger/logging"
	"github.com/quic-go/quic-go"
)

// Dialer opens endpoints given as URLs: tcp://host:port, ws://..., wss://...
// and quic://host:port. Failed attempts are retried with exponential backoff
// until MaxElapsedTime passes or the context is cancelled.
type Dialer struct {
	// Timeout bounds a single attempt.
	Timeout time.Duration
	// MaxElapsedTime bounds all attempts; zero retries until ctx is done.
	MaxElapsedTime time.Duration
	// TLSConfig is used for quic:// endpoints. A nil config skips
	// certificate verification.
	TLSConfig *tls.Config
}

var DefaultDialer = &Dialer{
	Timeout:        5 * time.Second,
	MaxElapsedTime: 30 * time.Second,
}

// Dial opens endpoint using DefaultDialer.
func Dial(ctx context.Context, endpoint string, opts ...Option) (*Conn, error) {
	return DefaultDialer.Dial(ctx, endpoint, opts...)
}

func (d *Dialer) Dial(ctx context.Context, endpoint string, opts ...Option) (*Conn, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid endpoint %q: %w", endpoint, err)
	}
	switch u.Scheme {
	case "tcp", "ws", "wss", "quic":
	default:
		return nil, fmt.Errorf("unsupported endpoint scheme %q", u.Scheme)
	}

	exponentialBackOff := backoff.NewExponentialBackOff()
	exponentialBackOff.MaxElapsedTime = d.MaxElapsedTime

	return backoff.RetryNotifyWithData(
		func() (*Conn, error) {
			return d.dialOnce(ctx, u, opts)
		},
		backoff.WithContext(exponentialBackOff, ctx),
		func(err error, duration time.Duration) {
			slog.Warn("Retrying dial",
				logging.Endpoint(endpoint),
				"duration", duration.String(),
				logging.Error(err))
		},
	)
}

func (d *Dialer) dialOnce(ctx context.Context, u *url.URL, opts []Option) (*Conn, error) {
	if d.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.Timeout)
		defer cancel()
	}

	switch u.Scheme {
	case "tcp":
		var dialer net.Dialer
		conn, err := dialer.DialContext(ctx, "tcp", u.Host)
		if err != nil {
			return nil, fmt.Errorf("could not connect to %s: %w", u.Host, err)
		}
		slog.Info("Connected TCP", "local", conn.LocalAddr().String(), "remote", conn.RemoteAddr().String())
		return New(conn, opts...), nil

	case "ws", "wss":
		wsConn, _, err := websocket.Dial(ctx, u.String(), nil)
		if err != nil {
			return nil, fmt.Errorf("could not open websocket %s: %w", u.Redacted(), err)
		}
		slog.Info("Connected websocket", logging.Endpoint(u.Redacted()))
		// The websocket has no half-close, so a delivered shutdown closes it
		// once the peer has finished sending too.
		return New(websocket.NetConn(context.Background(), wsConn, websocket.MessageBinary), opts...), nil

	case "quic":
		tlsConf := d.TLSConfig
		if tlsConf == nil {
			tlsConf = &tls.Config{
				InsecureSkipVerify: true,
				NextProtos:         []string{"vector"},
			}
		}
		conn, err := quic.DialAddr(ctx, u.Host, tlsConf, &quic.Config{
			MaxIdleTimeout:  30 * time.Second,
			KeepAlivePeriod: 15 * time.Second,
		})
		if err != nil {
			return nil, fmt.Errorf("quic dial failed: %w", err)
		}
		qs, err := conn.OpenStreamSync(ctx)
		if err != nil {
			_ = conn.CloseWithError(0, "open stream failed")
			return nil, fmt.Errorf("quic open stream failed: %w", err)
		}
		slog.Info("Connected QUIC", "local", conn.LocalAddr().String(), "remote", conn.RemoteAddr().String())

		// Closing a QUIC stream only closes its send direction.
		opts = append(append([]Option(nil), opts...),
			WithCloseWrite(qs.Close),
			WithCloser(func() error { return conn.CloseWithError(0, "done") }),
		)
		return New(qs, opts...), nil
	}

	return nil, backoff.Permanent(fmt.Errorf("unsupported endpoint scheme %q", u.Scheme))
}
