package console

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/dimspell/vector/internal/app/logger/logging"
	"github.com/dimspell/vector/internal/reactor"
	"github.com/dimspell/vector/internal/vector"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
)

// Console exposes health, metrics and relay diagnostics of a running reactor
// over HTTP.
type Console struct {
	Config  *Config
	Reactor *reactor.Reactor
}

func NewConsole(re *reactor.Reactor, opts ...Option) *Console {
	config := DefaultConfig()
	for _, fn := range opts {
		if err := fn(config); err != nil {
			panic("failed to initialize config: " + err.Error())
		}
	}
	return &Console{
		Config:  config,
		Reactor: re,
	}
}

type Option func(*Config) error

type Config struct {
	BindAddr           string
	CORSAllowedOrigins []string
	Version            string
	// MaxLevel caps the detail level served by /debug/relays.
	MaxLevel int
}

func DefaultConfig() *Config {
	return &Config{
		BindAddr:           "localhost:2137",
		CORSAllowedOrigins: []string{"*"},
		Version:            "dev",
		MaxLevel:           2,
	}
}

func WithCORSAllowedOrigins(allowedOrigins []string) Option {
	return func(c *Config) error {
		c.CORSAllowedOrigins = allowedOrigins
		return nil
	}
}

func WithBindAddr(bindAddr string) Option {
	return func(c *Config) error {
		if bindAddr == "" {
			return errors.New("console bind address is empty")
		}
		c.BindAddr = bindAddr
		return nil
	}
}

func WithVersion(version string) Option {
	return func(c *Config) error {
		c.Version = version
		return nil
	}
}

func (c *Console) HttpRouter() http.Handler {
	mux := chi.NewRouter()

	mux.Use(middleware.Recoverer)
	mux.Use(middleware.Throttle(100))

	{ // Meta routes (liveness, metrics)
		mux.Get("/_health", func(w http.ResponseWriter, r *http.Request) {
			select {
			case <-c.Reactor.Done():
				withStatus(r, http.StatusServiceUnavailable)
				renderJSON(w, r, map[string]string{
					"status":    "ERROR",
					"component": "reactor",
					"error":     reactor.ErrStopped.Error(),
				})
			default:
				renderJSON(w, r, map[string]string{"status": "OK"})
			}
		})
		mux.Get("/_metrics", promhttp.Handler().ServeHTTP)
	}

	{ // Diagnostics
		debug := chi.NewRouter()
		debug.Use(middleware.Timeout(5 * time.Second))
		debug.Use(cors.New(cors.Options{
			AllowedOrigins:   c.Config.CORSAllowedOrigins,
			AllowCredentials: false,
			Debug:            false,
			AllowedMethods:   []string{http.MethodGet},
			AllowedHeaders:   []string{"Accept", "Content-Type"},
			MaxAge:           7200,
		}).Handler)

		debug.Get("/relays", c.ListRelays())
		debug.Get("/info", c.Info())
		mux.Mount("/debug", debug)
	}

	return mux
}

// ListRelays renders every registered relay at the detail level given by the
// "level" query parameter.
func (c *Console) ListRelays() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		level := 0
		if v := r.URL.Query().Get("level"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 0 {
				http.Error(w, "invalid level", http.StatusBadRequest)
				return
			}
			level = min(n, c.Config.MaxLevel)
		}

		var (
			text      string
			snapshots []vector.Snapshot
		)
		err := c.Reactor.Do(r.Context(), func(vec *vector.Scheduler) {
			text = vec.Describe(level)
			for _, relay := range vec.Relays() {
				snapshots = append(snapshots, relay.Snapshot(level))
			}
		})
		if err != nil {
			slog.Warn("Could not read relays", logging.Error(err))
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}

		switch negotiate(r) {
		case formatJSON:
			renderJSON(w, r, relaysDocument{Relays: snapshots})
		case formatCBOR:
			renderCBOR(w, r, relaysDocument{Relays: snapshots})
		default:
			renderText(w, r, text)
		}
	}
}

type relaysDocument struct {
	Relays []vector.Snapshot `json:"relays" cbor:"relays"`
}

type infoDocument struct {
	Version string `json:"version"`
	Relays  int    `json:"relays"`
}

func (c *Console) Info() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doc := infoDocument{Version: c.Config.Version}
		if err := c.Reactor.Do(r.Context(), func(vec *vector.Scheduler) {
			doc.Relays = vec.Len()
		}); err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		renderJSON(w, r, doc)
	}
}

type GracefulFunc func(context.Context) error

func (c *Console) Handlers() (start GracefulFunc, shutdown GracefulFunc) {
	httpServer := &http.Server{
		Addr:         c.Config.BindAddr,
		Handler:      h2c.NewHandler(c.HttpRouter(), &http2.Server{}),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	start = func(ctx context.Context) error {
		slog.Info("Configured console server", "addr", c.Config.BindAddr)
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}

	shutdown = func(ctx context.Context) error {
		slog.Info("Started shutting down the console server")
		if err := httpServer.Shutdown(ctx); err != nil {
			slog.Error("Failed shutting down the console server", logging.Error(err))
			return err
		}
		slog.Info("Successfully shut down the console server")
		return nil
	}

	return start, shutdown
}
