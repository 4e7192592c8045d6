package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Session metrics
	SessionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "barrage_sessions_active",
			Help: "Live room sessions managed by the fleet",
		},
	)

	Reconnects = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "barrage_reconnects_total",
			Help: "Gateway connect attempts",
		},
		[]string{"room"},
	)

	// Ingest metrics
	FramesReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "barrage_frames_received_total",
			Help: "Reassembled logical frames received",
		},
		[]string{"room"},
	)

	EventsStored = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "barrage_events_stored_total",
			Help: "Chat events handed to storage",
		},
		[]string{"room"},
	)

	InsertFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "barrage_insert_failures_total",
			Help: "Dropped event batches due to storage failure",
		},
		[]string{"room"},
	)

	// Controller metrics
	ReconcileTicks = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "barrage_reconcile_ticks_total",
			Help: "Completed reconciliation ticks",
		},
	)

	ReconcileFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "barrage_reconcile_failures_total",
			Help: "Ticks skipped due to a failed desired-state fetch",
		},
	)

	// Infrastructure metrics
	StoreLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "barrage_store_latency_seconds",
			Help:    "Event batch insert latency",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5},
		},
	)
)
