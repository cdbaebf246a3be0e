package reconcile

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	notificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "habits_notifications_total",
			Help: "Notification state changes applied by reconciliation, by outcome",
		},
		[]string{"outcome"},
	)

	dispatchFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "habits_dispatch_failures_total",
			Help: "Failed dispatcher calls by operation and kind",
		},
		[]string{"op", "kind"},
	)

	reconcileDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "habits_reconcile_duration_seconds",
			Help:    "Duration of reconciliation passes in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)
)
