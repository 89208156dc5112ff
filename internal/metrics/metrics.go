package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	once sync.Once

	polls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "daso",
			Name:      "poll_total",
			Help:      "Count of polling refreshes by source and result.",
		},
		[]string{"source", "result"},
	)

	staffActions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "daso",
			Name:      "staff_action_total",
			Help:      "Count of staff actions posted by action and result.",
		},
		[]string{"action", "result"},
	)

	bookings = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "daso",
			Name:      "booking_submitted_total",
			Help:      "Count of booking submissions by mode and result.",
		},
		[]string{"mode", "result"},
	)

	checkIns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "daso",
			Name:      "checkin_total",
			Help:      "Count of proximity check-in lookups by result.",
		},
		[]string{"result"},
	)

	queueAnomalies = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "daso",
			Name:      "queue_anomaly_total",
			Help:      "Count of data-integrity anomalies seen in queue snapshots.",
		},
	)

	serviceMinutes = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "daso",
			Name:      "service_elapsed_minutes",
			Help:      "Elapsed service time observed when a session completes.",
			Buckets:   []float64{1, 2, 5, 10, 15, 20, 30, 45, 60},
		},
	)
)

// Register registers metrics (idempotent).
func Register() {
	once.Do(func() {
		prometheus.MustRegister(polls, staffActions, bookings, checkIns, queueAnomalies, serviceMinutes)
	})
}

func IncPoll(source, result string) {
	polls.WithLabelValues(source, result).Inc()
}

func IncStaffAction(action, result string) {
	staffActions.WithLabelValues(action, result).Inc()
}

func IncBooking(mode, result string) {
	bookings.WithLabelValues(mode, result).Inc()
}

func IncCheckIn(result string) {
	checkIns.WithLabelValues(result).Inc()
}

func IncQueueAnomaly() {
	queueAnomalies.Inc()
}

func ObserveServiceMinutes(minutes float64) {
	serviceMinutes.Observe(minutes)
}
