package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	EventsEnqueued = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vector_events_enqueued_total",
			Help: "Total number of events admitted into relay queues by kind",
		},
		[]string{"kind"},
	)

	EventsDelivered = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vector_events_delivered_total",
			Help: "Total number of events delivered to sinks by kind",
		},
		[]string{"kind"},
	)

	EventsDiscarded = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "vector_events_discarded_total",
			Help: "Total number of queued events discarded after a sink failure",
		})

	CapacityRejections = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "vector_capacity_rejections_total",
			Help: "Total number of data events rejected because the relay queue was full",
		})

	BytesRelayed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vector_bytes_relayed_total",
			Help: "Total data bytes admitted by metered relays by direction",
		},
		[]string{"direction"},
	)

	Faults = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vector_faults_total",
			Help: "Total number of relay faults by type",
		},
		[]string{"type"},
	)

	RelaysRegistered = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "vector_relays_registered",
			Help: "Current number of relays registered with schedulers",
		})

	QueuedEvents = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "vector_queued_events",
			Help: "Number of events waiting in relay queues after the last tick",
		})

	TickDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "vector_tick_duration_seconds",
			Help:    "Time taken by a single scheduler tick in seconds",
			Buckets: prometheus.ExponentialBuckets(0.00001, 2, 14),
		},
	)
)

var initOnce sync.Once

// Init registers the collectors with the default registry. Later calls are
// no-ops.
func Init() {
	initOnce.Do(register)
}

func register() {
	prometheus.MustRegister(
		EventsEnqueued,
		EventsDelivered,
		EventsDiscarded,
		CapacityRejections,
		BytesRelayed,
		Faults,
		RelaysRegistered,
		QueuedEvents,
		TickDuration,
	)
}
