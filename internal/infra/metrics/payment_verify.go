package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() {
	register(
		PaymentVerifyRequests,
		PaymentVerifyDuration,
	)
}

var (
	// Count of IPN verifications grouped by result and bounded reason.
	// result: ok|fail
	// reason (fail only): missing_key|transport|http_status|bad_json|not_confirmed|invalid_callback
	PaymentVerifyRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payment_verify_requests_total",
			Help: "Count of IPN callback verifications by result and reason.",
		},
		[]string{"result", "reason"},
	)

	// Latency of the callback handler grouped by result.
	PaymentVerifyDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "payment_verify_duration_seconds",
			Help:    "Duration of IPN callback handling in seconds.",
			Buckets: []float64{0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
		[]string{"result"},
	)
)

func IncVerify(result, reason string) {
	PaymentVerifyRequests.WithLabelValues(norm(result), norm(reason)).Inc()
}
