// Package metrics exposes process-wide prometheus instrumentation for the
// orchestrator. Collectors register on the default registry; the HTTP
// surface serves them on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SessionsStarted counts executions started since process start.
	SessionsStarted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "covey",
		Subsystem: "engine",
		Name:      "sessions_started_total",
		Help:      "Number of execution sessions started.",
	})

	// SessionsCompleted counts sessions by terminal status.
	SessionsCompleted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "covey",
		Subsystem: "engine",
		Name:      "sessions_completed_total",
		Help:      "Number of execution sessions reaching a terminal status.",
	}, []string{"status"})

	// ActiveSessions gauges sessions currently running.
	ActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "covey",
		Subsystem: "engine",
		Name:      "active_sessions",
		Help:      "Number of currently active execution sessions.",
	})

	// BusEventsPublished counts events published on the bus.
	BusEventsPublished = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "covey",
		Subsystem: "bus",
		Name:      "events_published_total",
		Help:      "Number of events published to the event bus.",
	})

	// BusEventsDropped counts events dropped by full subscriber queues.
	BusEventsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "covey",
		Subsystem: "bus",
		Name:      "events_dropped_total",
		Help:      "Number of events dropped due to full subscriber queues.",
	})

	// BusSubscribers gauges active bus subscribers.
	BusSubscribers = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "covey",
		Subsystem: "bus",
		Name:      "subscribers",
		Help:      "Number of active event bus subscribers.",
	})

	// StoreErrors counts state store operation failures by kind.
	StoreErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "covey",
		Subsystem: "store",
		Name:      "errors_total",
		Help:      "Number of state store operation failures.",
	}, []string{"kind"})
)
