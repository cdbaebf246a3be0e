package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	rolloversTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "habits_rollovers_total",
			Help: "Total number of day rollovers processed",
		},
	)

	reconcileRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "habits_reconcile_requests_total",
			Help: "Reconciliation requests by whether they started a pass or joined a waiting one",
		},
		[]string{"mode"},
	)

	activeHabits = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "habits_active_habits_total",
			Help: "Number of habits in the store",
		},
	)
)
