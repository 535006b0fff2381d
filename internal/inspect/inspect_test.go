package inspect

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/dimspell/vector/internal/metrics"
	"github.com/dimspell/vector/internal/vector"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChain(t *testing.T) {
	assert.Nil(t, Chain())
	assert.Nil(t, Chain(nil, nil))

	var calls []string
	a := func(*vector.Scheduler, *vector.Relay, vector.Event) { calls = append(calls, "a") }
	b := func(*vector.Scheduler, *vector.Relay, vector.Event) { calls = append(calls, "b") }

	r := vector.NewRelay(vector.WithHook(Chain(a, nil, b)))
	require.NoError(t, r.Enqueue(vector.NewData([]byte("x"))))
	require.NoError(t, r.Enqueue(vector.NewShutdown()))

	assert.Equal(t, []string{"a", "b", "a", "b"}, calls)
}

func TestLog(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	r := vector.NewRelay(vector.WithName("up"), vector.WithHook(Log(logger)))
	require.NoError(t, r.Enqueue(vector.NewData([]byte("hello"))))

	out := buf.String()
	assert.Contains(t, out, `msg="Event admitted"`)
	assert.Contains(t, out, "kind=data")
	assert.Contains(t, out, "length=5")
	assert.Contains(t, out, "name=up")

	buf.Reset()
	quiet := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo}))
	r.SetEventHook(Log(quiet))
	require.NoError(t, r.Enqueue(vector.NewData([]byte("again"))))
	assert.Empty(t, buf.String())
}

func TestMeter(t *testing.T) {
	counter := metrics.BytesRelayed.WithLabelValues("test-meter")
	before := testutil.ToFloat64(counter)

	r := vector.NewRelay(vector.WithHook(Meter("test-meter")))
	require.NoError(t, r.Enqueue(vector.NewData([]byte("abcd"))))
	require.NoError(t, r.Enqueue(vector.NewData([]byte("ef"))))
	require.NoError(t, r.Enqueue(vector.NewShutdown()))

	assert.Equal(t, before+6, testutil.ToFloat64(counter))
}

func TestQuota(t *testing.T) {
	assert.Nil(t, Quota(0, nil))

	var exceeded int
	src := &idleSource{}
	r := vector.NewRelay(vector.WithQueueLimit(2), vector.WithHook(Quota(5, func(*vector.Relay) { exceeded++ })))
	require.NoError(t, r.BindSource(src))

	require.NoError(t, r.Enqueue(vector.NewData([]byte("abc"))))
	assert.False(t, r.SourceShutdown())

	require.NoError(t, r.Enqueue(vector.NewData([]byte("def"))))
	assert.True(t, r.SourceShutdown())
	assert.Equal(t, 1, src.stops)
	assert.Equal(t, 3, r.Len(), "the crossing event stays queued ahead of the shutdown")
	assert.Equal(t, 1, exceeded)

	assert.ErrorIs(t, r.Enqueue(vector.NewData([]byte("g"))), vector.ErrSourceShutdown)
	assert.Equal(t, 1, exceeded)
	assert.Contains(t, r.Describe(2, ""), "[2] shutdown")
}

type idleSource struct {
	stops int
}

func (*idleSource) IsReadable() bool         { return false }
func (*idleSource) Drain(int) []vector.Event { return nil }
func (s *idleSource) Stop()                  { s.stops++ }
