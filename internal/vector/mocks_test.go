package vector

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

var errBrokenPipe = errors.New("broken pipe")

// vectored registers r with a fresh scheduler so that it may be flushed.
func vectored(t *testing.T, r *Relay) *Relay {
	t.Helper()
	_, err := NewScheduler().Register(r)
	require.NoError(t, err)
	return r
}

// scriptedSource hands out one batch per Drain call.
type scriptedSource struct {
	batches   [][]Event
	ignoreMax bool
	drains    int
	stops     int
	onDrain   func()
}

func newScriptedSource(batches ...[]Event) *scriptedSource {
	return &scriptedSource{batches: batches}
}

func (s *scriptedSource) IsReadable() bool { return len(s.batches) > 0 }

func (s *scriptedSource) Drain(max int) []Event {
	s.drains++
	if s.onDrain != nil {
		s.onDrain()
	}
	if len(s.batches) == 0 {
		return nil
	}
	batch := s.batches[0]
	s.batches = s.batches[1:]
	if !s.ignoreMax && len(batch) > max {
		s.batches = append([][]Event{batch[max:]}, s.batches...)
		batch = batch[:max]
	}
	return batch
}

func (s *scriptedSource) Stop() { s.stops++ }

// streamSource produces n numbered data events followed by a shutdown.
type streamSource struct {
	prefix string
	n      int
	next   int
	closed bool
	stops  int
}

func (s *streamSource) IsReadable() bool { return !s.closed }

func (s *streamSource) Drain(max int) []Event {
	var out []Event
	for len(out) < max && s.next < s.n {
		out = append(out, NewData([]byte{s.prefix[0], byte(s.next)}))
		s.next++
	}
	if s.next == s.n && len(out) < max {
		out = append(out, NewShutdown())
		s.closed = true
	}
	return out
}

func (s *streamSource) Stop() { s.stops++ }

// recordingSink keeps every accepted event. Responses queued in results are
// returned by the following Accept calls, nil meaning success. When budget is
// non-negative the sink is writable only while it is positive.
type recordingSink struct {
	writable bool
	budget   int
	results  []error
	got      []Event
	accepts  int
	stops    int
}

func newRecordingSink(writable bool) *recordingSink {
	return &recordingSink{writable: writable, budget: -1}
}

func (s *recordingSink) IsWritable() bool {
	if s.budget >= 0 {
		return s.writable && s.budget > 0
	}
	return s.writable
}

func (s *recordingSink) Accept(ev Event) error {
	s.accepts++
	if len(s.results) > 0 {
		err := s.results[0]
		s.results = s.results[1:]
		if err != nil {
			return err
		}
	}
	if s.budget > 0 {
		s.budget--
	}
	s.got = append(s.got, ev)
	return nil
}

func (s *recordingSink) Stop() { s.stops++ }

func (s *recordingSink) payloads() []string {
	var out []string
	for _, ev := range s.got {
		if ev.Kind() == KindData {
			out = append(out, string(ev.Bytes()))
		} else {
			out = append(out, ev.Kind().String())
		}
	}
	return out
}

func data(s string) Event { return NewData([]byte(s)) }
