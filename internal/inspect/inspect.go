// Package inspect provides event hooks that observe or steer relays while
// events are admitted into their queues.
package inspect

import (
	"context"
	"log/slog"

	"github.com/dimspell/vector/internal/app/logger/logging"
	"github.com/dimspell/vector/internal/metrics"
	"github.com/dimspell/vector/internal/vector"
)

// Chain runs the hooks in order. Nil hooks are skipped.
func Chain(hooks ...vector.Hook) vector.Hook {
	var active []vector.Hook
	for _, h := range hooks {
		if h != nil {
			active = append(active, h)
		}
	}
	switch len(active) {
	case 0:
		return nil
	case 1:
		return active[0]
	}
	return func(vec *vector.Scheduler, r *vector.Relay, ev vector.Event) {
		for _, h := range active {
			h(vec, r, ev)
		}
	}
}

// Log writes every admitted event to logger at debug level.
func Log(logger *slog.Logger) vector.Hook {
	return func(_ *vector.Scheduler, r *vector.Relay, ev vector.Event) {
		if !logger.Enabled(context.Background(), slog.LevelDebug) {
			return
		}
		attrs := []any{
			logging.RelayID(r.ID()),
			"name", r.Name(),
			"kind", ev.Kind().String(),
			"queued", r.Len(),
		}
		switch ev.Kind() {
		case vector.KindData:
			attrs = append(attrs, "length", ev.Len())
		case vector.KindError:
			attrs = append(attrs, logging.Error(ev.Err()))
		}
		logger.Debug("Event admitted", attrs...)
	}
}

// Meter counts admitted data bytes under the given direction label.
func Meter(direction string) vector.Hook {
	counter := metrics.BytesRelayed.WithLabelValues(direction)
	return func(_ *vector.Scheduler, _ *vector.Relay, ev vector.Event) {
		if ev.Kind() == vector.KindData {
			counter.Add(float64(ev.Len()))
		}
	}
}

// Quota ends the relay's source once more than limit data bytes have been
// admitted: a Shutdown marker is queued right behind the event that crossed
// the limit, so the sink sees everything admitted so far and then
// end-of-stream, and the relay still converges. A non-positive limit disables
// the quota.
func Quota(limit int64, onExceeded func(r *vector.Relay)) vector.Hook {
	if limit <= 0 {
		return nil
	}
	var total int64
	return func(_ *vector.Scheduler, r *vector.Relay, ev vector.Event) {
		if ev.Kind() != vector.KindData || r.SourceShutdown() {
			return
		}
		total += int64(ev.Len())
		if total <= limit {
			return
		}
		if onExceeded != nil {
			onExceeded(r)
		}
		// Terminal markers bypass the bound and stop the source.
		_ = r.Enqueue(vector.NewShutdown())
	}
}
