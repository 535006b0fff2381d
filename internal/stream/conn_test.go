package stream

import (
	"io"
	"net"
	"testing"
	"time"

	"github.com/dimspell/vector/internal/vector"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestConn_Source(t *testing.T) {
	defer goleak.VerifyNone(t)

	local, remote := net.Pipe()
	woke := make(chan struct{}, 64)
	c := New(local, WithWake(func() {
		select {
		case woke <- struct{}{}:
		default:
		}
	}))
	defer c.Close()

	for _, chunk := range []string{"a", "bb", "ccc"} {
		_, err := remote.Write([]byte(chunk))
		require.NoError(t, err)
	}
	require.Eventually(t, func() bool { return len(c.in) == 3 }, time.Second, time.Millisecond)
	assert.True(t, c.Source().IsReadable())
	assert.NotEmpty(t, woke)

	events := c.Source().Drain(2)
	require.Len(t, events, 2)
	assert.Equal(t, "a", string(events[0].Bytes()))
	assert.Equal(t, "bb", string(events[1].Bytes()))

	events = c.Source().Drain(2)
	require.Len(t, events, 1)
	assert.Equal(t, "ccc", string(events[0].Bytes()))
	assert.False(t, c.Source().IsReadable())
	assert.Empty(t, c.Source().Drain(2))

	require.NoError(t, remote.Close())
	require.Eventually(t, c.Source().IsReadable, time.Second, time.Millisecond)
	events = c.Source().Drain(2)
	require.Len(t, events, 1)
	assert.Equal(t, vector.KindShutdown, events[0].Kind())
}

func TestConn_Sink(t *testing.T) {
	defer goleak.VerifyNone(t)

	local, remote := net.Pipe()
	halfClosed := make(chan struct{})
	c := New(local, WithCloseWrite(func() error {
		close(halfClosed)
		return local.Close()
	}))
	defer c.Close()
	snk := c.Sink()

	require.True(t, snk.IsWritable())
	require.NoError(t, snk.Accept(vector.NewData([]byte("ping"))))

	buf := make([]byte, 4)
	_, err := io.ReadFull(remote, buf)
	require.NoError(t, err)
	assert.Equal(t, "ping", string(buf))

	require.NoError(t, snk.Accept(vector.NewShutdown()))
	_, err = remote.Read(buf)
	assert.ErrorIs(t, err, io.EOF)
	select {
	case <-halfClosed:
	default:
		t.Fatal("shutdown did not use the configured half-close")
	}

	select {
	case <-c.Flushed():
	case <-time.After(time.Second):
		t.Fatal("writer did not stop after shutdown")
	}
	assert.False(t, snk.IsWritable())
	assert.ErrorIs(t, snk.Accept(vector.NewData([]byte("late"))), errSinkStopped)
}

func TestConn_ShutdownWithoutHalfClose(t *testing.T) {
	defer goleak.VerifyNone(t)

	local, remote := net.Pipe()
	c := New(local)
	defer c.Close()

	require.NoError(t, c.Sink().Accept(vector.NewShutdown()))
	select {
	case <-c.Flushed():
	case <-time.After(time.Second):
		t.Fatal("writer did not stop after shutdown")
	}

	// The reverse direction keeps flowing after the shutdown was delivered.
	_, err := remote.Write([]byte("late reply"))
	require.NoError(t, err)
	require.NoError(t, remote.Close())

	events := drainUntilTerminal(t, c.Source())
	require.Len(t, events, 2)
	assert.Equal(t, "late reply", string(events[0].Bytes()))
	assert.Equal(t, vector.KindShutdown, events[1].Kind())
}

func TestConn_SinkWouldBlock(t *testing.T) {
	defer goleak.VerifyNone(t)

	local, remote := net.Pipe()
	c := New(local, WithWriteDepth(1))
	defer c.Close()
	defer remote.Close()
	snk := c.Sink()

	require.NoError(t, snk.Accept(vector.NewData([]byte("1"))))
	// The writer takes the first event and blocks writing it.
	require.Eventually(t, func() bool { return len(c.out) == 0 }, time.Second, time.Millisecond)

	require.NoError(t, snk.Accept(vector.NewData([]byte("2"))))
	assert.False(t, snk.IsWritable())
	assert.ErrorIs(t, snk.Accept(vector.NewData([]byte("3"))), vector.ErrWouldBlock)

	buf := make([]byte, 1)
	_, err := io.ReadFull(remote, buf)
	require.NoError(t, err)
	assert.Equal(t, "1", string(buf))
	require.Eventually(t, snk.IsWritable, time.Second, time.Millisecond)
}

func TestConn_SinkWriteFailure(t *testing.T) {
	defer goleak.VerifyNone(t)

	local, remote := net.Pipe()
	c := New(local)
	defer c.Close()
	snk := c.Sink()

	require.NoError(t, remote.Close())
	require.NoError(t, snk.Accept(vector.NewData([]byte("lost"))))

	require.Eventually(t, func() bool {
		c.mu.Lock()
		defer c.mu.Unlock()
		return c.writeErr != nil
	}, time.Second, time.Millisecond)

	assert.True(t, snk.IsWritable(), "a failed sink reports writable to surface the error")
	err := snk.Accept(vector.NewData([]byte("next")))
	assert.ErrorIs(t, err, io.ErrClosedPipe)
	assert.NotErrorIs(t, err, vector.ErrWouldBlock)
}

func TestConn_Close(t *testing.T) {
	defer goleak.VerifyNone(t)

	local, remote := net.Pipe()
	c := New(local, WithReadAhead(1))

	writes := make(chan error, 3)
	go func() {
		for _, chunk := range []string{"1", "2", "3"} {
			_, err := remote.Write([]byte(chunk))
			writes <- err
			if err != nil {
				return
			}
		}
	}()
	require.Eventually(t, c.Source().IsReadable, time.Second, time.Millisecond)

	c.Source().Stop()
	c.Source().Stop()

	require.NoError(t, c.Close())
	require.NoError(t, c.Close())
	<-c.Done()

	require.NoError(t, remote.Close())
	for err := range writes {
		if err != nil {
			break
		}
	}
}
