// Package metrics exposes the coordinator's Prometheus instrumentation:
// registry generations, scheduler penalties, outbox depth, submit
// outcomes, and autotuner batch size.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	RegistryGeneration = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "coordinator",
		Name:      "registry_generation",
		Help:      "Current generation counter of each registry slot.",
	}, []string{"source_id"})

	SchedulerPenalty = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "coordinator",
		Name:      "scheduler_penalty",
		Help:      "Current backpressure penalty applied to each source's scheduler weight.",
	}, []string{"source_id"})

	SchedulerEffectiveWeight = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "coordinator",
		Name:      "scheduler_effective_weight",
		Help:      "Current effective dispatch weight of each source.",
	}, []string{"source_id"})

	OutboxDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "coordinator",
		Name:      "outbox_depth",
		Help:      "Number of submissions pending replay in the outbox.",
	})

	LedgerSize = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "coordinator",
		Name:      "ledger_size",
		Help:      "Number of work items tracked in the ledger.",
	})

	SharesAccepted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "coordinator",
		Name:      "shares_accepted_total",
		Help:      "Total shares accepted by an upstream source.",
	}, []string{"source_id"})

	SharesRejected = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "coordinator",
		Name:      "shares_rejected_total",
		Help:      "Total shares rejected by an upstream source.",
	}, []string{"source_id"})

	BlocksFound = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "coordinator",
		Name:      "blocks_found_total",
		Help:      "Total blocks found (hash <= block target) across all sources.",
	})

	BlockSubmissions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "coordinator",
		Name:      "block_submissions_total",
		Help:      "submitblock attempts by result.",
	}, []string{"result"})

	VerificationFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "coordinator",
		Name:      "local_verification_failures_total",
		Help:      "Device hits that failed host-side sha256d re-verification.",
	})

	AutotunerBatchSize = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "coordinator",
		Name:      "autotuner_batch_size",
		Help:      "Current micro-batch size chosen by the autotuner.",
	})

	StratumConnectFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "coordinator",
		Name:      "stratum_connect_failures_total",
		Help:      "Sum of the Stratum runners' consecutive connection-failure streaks per source, added at each rotation check.",
	}, []string{"source_id"})

	UptimeSeconds = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "coordinator",
		Name:      "uptime_seconds",
		Help:      "Coordinator process uptime in seconds.",
	})
)

func init() {
	prometheus.MustRegister(
		RegistryGeneration,
		SchedulerPenalty,
		SchedulerEffectiveWeight,
		OutboxDepth,
		LedgerSize,
		SharesAccepted,
		SharesRejected,
		BlocksFound,
		BlockSubmissions,
		VerificationFailures,
		AutotunerBatchSize,
		StratumConnectFailures,
		UptimeSeconds,
	)
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
