// Package metrics exposes the reconciliation counters. A callback the HTTP
// layer answered with 200 can still be an anomaly internally; these counters
// are the alerting path for that gap.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CallbacksApplied counts callbacks that transitioned a PENDING entry.
	CallbacksApplied = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wallet_callbacks_applied_total",
		Help: "Provider callbacks that finalized a pending transaction.",
	}, []string{"type", "status"})

	// CallbacksDuplicate counts callbacks for already-terminal entries.
	CallbacksDuplicate = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wallet_callbacks_duplicate_total",
		Help: "Provider callbacks replayed after the entry was already terminal.",
	}, []string{"type"})

	// CallbacksOrphaned counts callbacks with no matching entry. Any growth
	// here means a reference drifted between us and the provider.
	CallbacksOrphaned = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wallet_callbacks_orphaned_total",
		Help: "Provider callbacks that matched no known transaction.",
	}, []string{"type"})
)
