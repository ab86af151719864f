// Package metrics exposes the engine's Prometheus collectors. All workers
// share these process-wide vectors; the counters themselves are safe for
// concurrent use.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// BalanceOpsTotal counts credits and debits by outcome.
	BalanceOpsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "clob_balance_operations_total",
			Help: "Total number of balance operations by type and status",
		},
		[]string{"operation", "status"},
	)

	// OrdersTotal counts order placements by side, type and outcome.
	OrdersTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "clob_orders_total",
			Help: "Total number of order placements by side, type and status",
		},
		[]string{"side", "type", "status"},
	)

	// TradesTotal counts executed trades per symbol.
	TradesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "clob_trades_total",
			Help: "Total number of executed trades per symbol",
		},
		[]string{"symbol"},
	)

	// SettlementsTotal counts settlement messages applied by the sequencers.
	SettlementsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "clob_settlements_total",
			Help: "Total number of settlement messages applied by kind",
		},
		[]string{"kind"},
	)

	// CancelsTotal counts cancellation requests by outcome.
	CancelsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "clob_cancels_total",
			Help: "Total number of cancellation requests by status",
		},
		[]string{"status"},
	)
)
