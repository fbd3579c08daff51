// Package metrics holds the Prometheus collectors of the reconciler.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "reconciler"

var (
	BalanceEvents = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "balance_events_total",
		Help:      "Balance events by outcome (applied, discarded).",
	}, []string{"outcome", "bucket"})

	DroppedRecords = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "dropped_token_records_total",
		Help:      "Token records that produced no derivable key.",
	})

	MalformedAmounts = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "malformed_amounts_total",
		Help:      "Token amounts that could not be parsed and were stored as zero.",
	})

	BucketTransitions = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "bucket_transitions_total",
		Help:      "ShieldPending to Spendable transitions detected.",
	})

	ScanSoftTimeouts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "scan_soft_timeouts_total",
		Help:      "Watchdog soft timeouts per scan kind.",
	}, []string{"kind"})

	ScanProgress = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "scan_progress_ratio",
		Help:      "Last reported scan progress per kind.",
	}, []string{"kind"})

	ConnectAttempts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "connect_attempts_total",
		Help:      "Connect executions by result. Coalesced callers are not counted.",
	}, []string{"result"})

	BootstrapRuns = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "engine_bootstrap_runs_total",
		Help:      "Engine bootstrap sequences executed.",
	})

	ProviderRegistrations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "provider_registrations_total",
		Help:      "Provider registration outcomes per network (verified, degraded).",
	}, []string{"network", "outcome"})

	EngineRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "engine_request_duration_seconds",
		Help:      "Latency of calls to the engine bridge.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method"})
)

var registerOnce sync.Once

// MustRegisterMetrics registers every collector with the default registry. Safe to call more than once.
func MustRegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			BalanceEvents,
			DroppedRecords,
			MalformedAmounts,
			BucketTransitions,
			ScanSoftTimeouts,
			ScanProgress,
			ConnectAttempts,
			BootstrapRuns,
			ProviderRegistrations,
			EngineRequestDuration,
		)
	})
}
