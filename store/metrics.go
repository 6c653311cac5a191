package store

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	notificationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "slackmirror_notifications_total",
		Help: "Notifications emitted to listeners, by kind.",
	}, []string{"kind"})

	suppressedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "slackmirror_suppressed_notifications_total",
		Help: "Notifications swallowed by a team's startup window.",
	})

	droppedFragmentsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "slackmirror_dropped_fragments_total",
		Help: "Inbound fragments dropped because their identity could not be resolved.",
	})
)

func init() {
	prometheus.MustRegister(notificationsTotal, suppressedTotal, droppedFragmentsTotal)
}
