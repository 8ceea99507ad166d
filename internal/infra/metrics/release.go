package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() {
	register(
		lessonsOpenedTotal,
		notificationsTotal,
		sweepRunsTotal,
		sweepDurationSeconds,
	)
}

var (
	lessonsOpenedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lessons_opened_total",
			Help: "Schedule entries flipped to opened, by trigger.",
		},
		[]string{"trigger"}, // sweep, open_all
	)

	notificationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notifications_total",
			Help: "Outgoing student notifications by kind and result.",
		},
		[]string{"kind", "result"}, // kind: welcome, lesson_opened, lessons_opened_all. result: sent, failed
	)

	sweepRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "release_sweep_runs_total",
			Help: "Release sweep ticks by result.",
		},
		[]string{"result"}, // ok, error, skipped
	)

	sweepDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "release_sweep_duration_seconds",
			Help:    "Wall time of a release sweep tick.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 60, 300},
		},
	)
)

func AddLessonsOpened(trigger string, n int) {
	if n <= 0 {
		return
	}
	lessonsOpenedTotal.WithLabelValues(norm(trigger)).Add(float64(n))
}

func IncNotification(kind, result string) {
	notificationsTotal.WithLabelValues(norm(kind), norm(result)).Inc()
}

func IncSweepRun(result string) {
	sweepRunsTotal.WithLabelValues(norm(result)).Inc()
}

func ObserveSweepDuration(seconds float64) {
	sweepDurationSeconds.Observe(seconds)
}
