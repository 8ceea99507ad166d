package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() { register(paymentsTotal) }

var paymentsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "enrollment_payments_total",
		Help: "Payment status transitions by source and outcome.",
	},
	[]string{"source", "outcome"}, // source: manual, callback, promo. outcome: paid, already_paid, ignored
)

func IncPayment(source, outcome string) {
	paymentsTotal.WithLabelValues(norm(source), norm(outcome)).Inc()
}
