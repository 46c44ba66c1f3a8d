package outbox

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	eventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "doorstep",
		Subsystem: "outbox",
		Name:      "events_total",
		Help:      "Outbox events handled, labeled by type and disposition.",
	}, []string{"event_type", "disposition"})

	batchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "doorstep",
		Subsystem: "outbox",
		Name:      "batch_duration_seconds",
		Help:      "Wall time of one dispatcher batch.",
		Buckets:   prometheus.DefBuckets,
	})
)
