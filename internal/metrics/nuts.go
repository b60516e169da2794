package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// NutsIssued tracks nuts minted, by conversation position
	NutsIssued = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "nuts",
			Name:      "issued_total",
			Help:      "Total number of nuts issued",
		},
		[]string{"kind"}, // origin, followup
	)

	// NutsConsumed tracks nuts successfully presented and consumed
	NutsConsumed = promauto.With(Registry).NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "nuts",
			Name:      "consumed_total",
			Help:      "Total number of nuts consumed by protocol requests",
		},
	)

	// NutsRejected tracks presentations of unknown or already-used nuts
	NutsRejected = promauto.With(Registry).NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "nuts",
			Name:      "rejected_total",
			Help:      "Total number of unknown or reused nut presentations",
		},
	)

	// NutsEvicted tracks TTL evictions
	NutsEvicted = promauto.With(Registry).NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "nuts",
			Name:      "evicted_total",
			Help:      "Total number of nuts evicted on TTL expiry",
		},
	)

	// NutsActive tracks live registry occupancy
	NutsActive = promauto.With(Registry).NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "nuts",
			Name:      "active",
			Help:      "Number of live nut records in the registry",
		},
	)
)
