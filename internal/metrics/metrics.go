// Package metrics exposes Prometheus collectors for the reconciliation
// engine and the submission coordinator.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ReconcileTicks counts reconciliation ticks by outcome (ok, stale).
	ReconcileTicks = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "agreement_portal",
		Subsystem: "reconcile",
		Name:      "ticks_total",
		Help:      "Reconciliation ticks by outcome.",
	}, []string{"result"})

	// ActiveLoops tracks the number of running reconciliation loops.
	ActiveLoops = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "agreement_portal",
		Subsystem: "reconcile",
		Name:      "active_loops",
		Help:      "Currently running reconciliation loops.",
	})

	// StatusTransitions counts observed ledger status transitions.
	StatusTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "agreement_portal",
		Subsystem: "reconcile",
		Name:      "status_transitions_total",
		Help:      "Observed ledger status transitions.",
	}, []string{"to"})

	// Anomalies counts reconciliation anomalies by kind.
	Anomalies = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "agreement_portal",
		Subsystem: "reconcile",
		Name:      "anomalies_total",
		Help:      "Reconciliation anomalies by kind.",
	}, []string{"kind"})

	// Submissions counts ledger submissions by action and outcome
	// (ok, sync_pending, rejected, unavailable, conflict).
	Submissions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "agreement_portal",
		Subsystem: "submit",
		Name:      "submissions_total",
		Help:      "Ledger submissions by action and outcome.",
	}, []string{"action", "result"})
)
