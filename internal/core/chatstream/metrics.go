package chatstream

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// eventsTotal counts events written to clients.
	// Labels: kind (delta, tool_call, error, done), format (ndjson, sse)
	eventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sunlytics",
		Subsystem: "chat_stream",
		Name:      "events_total",
		Help:      "Total normalized stream events by kind",
	}, []string{"kind", "format"})

	suppressedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "sunlytics",
		Subsystem: "chat_stream",
		Name:      "suppressed_tool_messages_total",
		Help:      "Tool role messages withheld from clients",
	})

	// persistFailures counts messages that could not be written to memory.
	// Labels: reason (store_error, queue_full)
	persistFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sunlytics",
		Subsystem: "chat_stream",
		Name:      "persist_failures_total",
		Help:      "Chat messages that failed to persist",
	}, []string{"reason"})

	upstreamErrors = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "sunlytics",
		Subsystem: "chat_stream",
		Name:      "upstream_errors_total",
		Help:      "Upstream read failures that ended a stream",
	})

	// streamDuration measures a whole chat stream from first read to close.
	// Labels: outcome (completed, upstream_error, client_gone)
	streamDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "sunlytics",
		Subsystem: "chat_stream",
		Name:      "duration_seconds",
		Help:      "Chat stream duration in seconds",
		Buckets:   []float64{0.25, 0.5, 1, 2, 5, 10, 20, 30, 60, 120},
	}, []string{"outcome"})
)
