package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestsTotal tracks protocol requests by command and outcome
	RequestsTotal = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "protocol",
			Name:      "requests_total",
			Help:      "Total number of SQRL protocol requests",
		},
		[]string{"command", "outcome"}, // query/ident/..., success/refused/rejected/error
	)

	// RequestDuration tracks end-to-end request handling duration
	RequestDuration = promauto.With(Registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "protocol",
			Name:      "request_duration_seconds",
			Help:      "SQRL request handling duration in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 15), // 0.1ms to 1.6s
		},
		[]string{"command"},
	)

	// SignatureVerifications tracks envelope signature checks
	SignatureVerifications = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "protocol",
			Name:      "signature_verifications_total",
			Help:      "Total number of envelope signature verifications",
		},
		[]string{"result"}, // valid, invalid
	)

	// RejectionsTotal tracks rejected requests by failure kind
	RejectionsTotal = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "protocol",
			Name:      "rejections_total",
			Help:      "Total number of rejected SQRL requests by failure kind",
		},
		[]string{"kind"},
	)

	// PollRequests tracks login-poll lookups by result
	PollRequests = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "poll",
			Name:      "requests_total",
			Help:      "Total number of login poll requests",
		},
		[]string{"result"}, // unknown, pending, logged_in
	)
)
