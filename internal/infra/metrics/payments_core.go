package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() {
	register(
		paymentsTotal,
		paymentsAmountTotal,
	)
}

var (
	paymentsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payments_total",
			Help: "Payment flow events by kind (deposit/withdrawal/callback) and status.",
		},
		[]string{"kind", "status"},
	)

	paymentsAmountTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payments_amount_total",
			Help: "Sum of requested amounts, labeled by kind and currency.",
		},
		[]string{"kind", "currency"},
	)
)

func IncPayment(kind, status string) {
	paymentsTotal.WithLabelValues(norm(kind), norm(status)).Inc()
}

func AddPaymentAmount(kind, currency string, amount float64) {
	paymentsAmountTotal.WithLabelValues(norm(kind), norm(currency)).Add(amount)
}
