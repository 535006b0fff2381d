package console

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/dimspell/vector/internal/reactor"
	"github.com/dimspell/vector/internal/vector"
	"github.com/fxamacker/cbor/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	slog.SetDefault(slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError})))
}

type idle struct{}

func (idle) IsReadable() bool             { return false }
func (idle) Drain(int) []vector.Event     { return nil }
func (idle) IsWritable() bool             { return false }
func (idle) Accept(ev vector.Event) error { return vector.ErrWouldBlock }
func (idle) Stop()                        {}

func helperGet(ctx context.Context, link, accept string) (*http.Response, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, link, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("could not create request: %w", err)
	}
	if accept != "" {
		req.Header.Set("Accept", accept)
	}
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("error executing request: %w", err)
	}
	defer res.Body.Close()

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, nil, fmt.Errorf("error reading response: %w", err)
	}
	return res, body, nil
}

// startConsole runs a reactor with one idle relay holding a queued event.
func startConsole(t *testing.T) (*Console, *httptest.Server, context.CancelFunc) {
	t.Helper()

	re := reactor.New(vector.NewScheduler(), reactor.WithInterval(time.Hour))
	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = re.Run(ctx) }()

	var setupErr error
	require.NoError(t, re.Do(ctx, func(vec *vector.Scheduler) {
		r := vector.NewRelay(vector.WithName("fixture"), vector.WithQueueLimit(4))
		setupErr = errors.Join(
			r.BindSource(idle{}),
			r.BindSink(idle{}),
			r.Enqueue(vector.NewData([]byte("hello"))),
		)
		_, err := vec.Register(r)
		setupErr = errors.Join(setupErr, err)
	}))
	require.NoError(t, setupErr)

	c := NewConsole(re, WithVersion("2.13.7"))
	ts := httptest.NewServer(c.HttpRouter())
	return c, ts, func() {
		ts.Close()
		cancel()
		<-re.Done()
	}
}

func TestConsole_Handlers(t *testing.T) {
	_, ts, stop := startConsole(t)
	defer stop()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	t.Run("GET /_health", func(t *testing.T) {
		res, body, err := helperGet(ctx, ts.URL+"/_health", "")
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, res.StatusCode)
		assert.JSONEq(t, `{"status":"OK"}`, string(body))
	})

	t.Run("GET /_metrics", func(t *testing.T) {
		res, _, err := helperGet(ctx, ts.URL+"/_metrics", "")
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, res.StatusCode)
	})

	t.Run("GET /debug/info", func(t *testing.T) {
		res, body, err := helperGet(ctx, ts.URL+"/debug/info", "")
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, res.StatusCode)

		var doc infoDocument
		require.NoError(t, json.Unmarshal(body, &doc))
		assert.Equal(t, "2.13.7", doc.Version)
		assert.Equal(t, 1, doc.Relays)
	})

	t.Run("GET /debug/relays as text", func(t *testing.T) {
		res, body, err := helperGet(ctx, ts.URL+"/debug/relays?level=2", "")
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, res.StatusCode)
		assert.Contains(t, res.Header.Get("Content-Type"), "text/plain")
		assert.Contains(t, string(body), "scheduler relays=1")
		assert.Contains(t, string(body), "(fixture)")
		assert.Contains(t, string(body), "data(5)")
	})

	t.Run("GET /debug/relays as JSON", func(t *testing.T) {
		res, body, err := helperGet(ctx, ts.URL+"/debug/relays?level=1", "application/json")
		require.NoError(t, err)
		assert.Equal(t, "application/json", res.Header.Get("Content-Type"))

		var doc relaysDocument
		require.NoError(t, json.Unmarshal(body, &doc))
		require.Len(t, doc.Relays, 1)
		assert.Equal(t, "fixture", doc.Relays[0].Name)
		assert.Equal(t, 1, doc.Relays[0].Queued)
		assert.Equal(t, 4, doc.Relays[0].Limit)
		assert.Empty(t, doc.Relays[0].Events)
	})

	t.Run("GET /debug/relays as CBOR", func(t *testing.T) {
		res, body, err := helperGet(ctx, ts.URL+"/debug/relays?level=5", "application/cbor")
		require.NoError(t, err)
		assert.Equal(t, "application/cbor", res.Header.Get("Content-Type"))

		var doc relaysDocument
		require.NoError(t, cbor.Unmarshal(body, &doc))
		require.Len(t, doc.Relays, 1)
		assert.Equal(t, []string{"data(5)"}, doc.Relays[0].Events)
	})

	t.Run("GET /debug/relays with a bad level", func(t *testing.T) {
		res, _, err := helperGet(ctx, ts.URL+"/debug/relays?level=x", "")
		require.NoError(t, err)
		assert.Equal(t, http.StatusBadRequest, res.StatusCode)
	})
}

func TestConsole_HealthAfterStop(t *testing.T) {
	c, ts, stop := startConsole(t)
	defer ts.Close()
	stop()
	<-c.Reactor.Done()

	ts = httptest.NewServer(c.HttpRouter())
	defer ts.Close()

	res, body, err := helperGet(context.Background(), ts.URL+"/_health", "")
	require.NoError(t, err)
	assert.Equal(t, http.StatusServiceUnavailable, res.StatusCode)
	assert.Contains(t, string(body), "reactor")
}

func TestNegotiate(t *testing.T) {
	for accept, want := range map[string]format{
		"":                                   formatText,
		"text/plain":                         formatText,
		"application/json":                   formatJSON,
		"application/cbor;q=0.9, text/plain": formatCBOR,
		"image/png, application/json":        formatJSON,
	} {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.Header.Set("Accept", accept)
		assert.Equal(t, want, negotiate(r), accept)
	}
}
