package app

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	searchesTotalCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "provisioning",
			Name:      "searches_total",
			Help:      "Total aggregated number searches served.",
		},
		[]string{"degraded"}, // "true" / "false"
	)

	providerSearchDurationHist = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "provisioning",
			Name:      "provider_search_duration_seconds",
			Help:      "Duration of search calls to a single provider.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"provider_name", "outcome"}, // outcome: "success", "error"
	)

	providerSearchSkippedCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "provisioning",
			Name:      "provider_search_skipped_total",
			Help:      "Search calls skipped before reaching the provider.",
		},
		[]string{"provider_name", "reason"}, // reason: "circuit_open", "rate_budget"
	)

	reservationOutcomeCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "provisioning",
			Name:      "reservation_transitions_total",
			Help:      "Reservation lifecycle transitions by resulting state.",
		},
		[]string{"state"}, // "held", "activated", "released", "expired"
	)

	circuitStateGauge = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "provisioning",
			Name:      "circuit_state",
			Help:      "Current breaker state per provider (0 closed, 1 half_open, 2 open).",
		},
		[]string{"provider_name"},
	)

	healthProbesCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "provisioning",
			Name:      "health_probes_total",
			Help:      "Background health probes by result.",
		},
		[]string{"provider_name", "result"}, // "success", "failure"
	)
)
