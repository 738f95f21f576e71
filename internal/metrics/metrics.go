// Package metrics registers the engine's prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	DrainDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "futures_drain_duration_seconds",
		Help:    "Duration of one matching engine queue drain.",
		Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14),
	})

	MatchedOrders = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "futures_matched_orders_total",
		Help: "Orders touched by a persisted match, by symbol.",
	}, []string{"symbol"})

	QueuedOrders = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "futures_queued_orders",
		Help: "Open orders held in the in-memory queue, by symbol.",
	}, []string{"symbol"})

	LockContention = promauto.NewCounter(prometheus.CounterOpts{
		Name: "futures_batch_lock_contention_total",
		Help: "Batches skipped because one of their orders was locked.",
	})

	BatchFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "futures_batch_write_failures_total",
		Help: "Batched writes that failed and were left for the next drain.",
	})

	SelfTrades = promauto.NewCounter(prometheus.CounterOpts{
		Name: "futures_self_trades_total",
		Help: "Matches where both sides belong to the same user.",
	})

	Liquidations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "futures_liquidations_total",
		Help: "Liquidations applied to positions, by kind.",
	}, []string{"kind"})

	RejectedOrders = promauto.NewCounter(prometheus.CounterOpts{
		Name: "futures_rejected_orders_total",
		Help: "Orders skipped by validation on load or enqueue.",
	})
)
