package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() {
	register(
		activationsTotal,
		enrollmentsCreatedTotal,
		promoOutcomesTotal,
	)
}

var (
	activationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "activations_total",
			Help: "Activation attempts by invite path and outcome.",
		},
		[]string{"path", "outcome"}, // path: personal, shared. outcome: activated, already_active, forbidden, not_found, error
	)

	enrollmentsCreatedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "enrollments_created_total",
			Help: "Enrollments materialized, by origin.",
		},
		[]string{"origin"}, // invite, shared_link
	)

	promoOutcomesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "promo_outcomes_total",
			Help: "Promo code validations and applications by outcome.",
		},
		[]string{"op", "outcome"},
	)
)

func IncActivation(path, outcome string) {
	activationsTotal.WithLabelValues(norm(path), norm(outcome)).Inc()
}

func IncEnrollmentCreated(origin string) {
	enrollmentsCreatedTotal.WithLabelValues(norm(origin)).Inc()
}

func IncPromo(op, outcome string) {
	promoOutcomesTotal.WithLabelValues(norm(op), norm(outcome)).Inc()
}
