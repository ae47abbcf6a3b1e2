// Package metrics holds the Prometheus collectors exported on the admin /metrics endpoint.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "nearchat"

// Result label values.
const (
	ResultOK    = "ok"
	ResultError = "error"
	// ResultStale marks a response that arrived after a newer one was applied.
	ResultStale = "stale"
	ResultSkip  = "skip"
)

var (
	ConversationRefreshes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "conversation_refreshes_total",
		Help:      "Conversation list aggregation passes by result.",
	}, []string{"result"})

	ThreadLoads = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "thread_loads_total",
		Help:      "Thread loads by result.",
	}, []string{"result"})

	MessagesSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "messages_sent_total",
		Help:      "Message sends by result.",
	}, []string{"result"})

	ReadReceipts = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "read_receipts_total",
		Help:      "Messages marked read by thread loads.",
	})

	EventsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "realtime",
		Name:      "events_published_total",
		Help:      "Row-change events published to the hub.",
	}, []string{"table", "type"})

	EventsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "realtime",
		Name:      "events_dropped_total",
		Help:      "Events dropped because a subscriber queue was full.",
	})

	Subscriptions = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "realtime",
		Name:      "subscriptions",
		Help:      "Active hub subscriptions.",
	})
)
