package settlr

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	paymentsRecorded = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "settlr_payments_recorded_total",
		Help: "Payment intents accepted into the ledger, by category.",
	}, []string{"category"})

	submissionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "settlr_submissions_total",
		Help: "Settlement submissions by outcome (accepted, rejected, unavailable).",
	}, []string{"outcome"})

	settlementsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "settlr_settlements_total",
		Help: "Intents reaching a terminal status.",
	}, []string{"status"})

	retriesScheduled = promauto.NewCounter(prometheus.CounterOpts{
		Name: "settlr_retries_scheduled_total",
		Help: "Reconciliation steps rescheduled with backoff.",
	})

	recoveredIntents = promauto.NewCounter(prometheus.CounterOpts{
		Name: "settlr_recovered_intents_total",
		Help: "Stale intents re-driven by the recovery processor.",
	})
)
