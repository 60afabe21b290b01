package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	once sync.Once

	bookingCreated = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "vehiql",
			Name:      "test_drive_created_total",
			Help:      "Count of test drive bookings created by status.",
		},
		[]string{"status"},
	)

	bookingRejected = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "vehiql",
			Name:      "test_drive_rejected_total",
			Help:      "Count of test drive requests rejected by reason.",
		},
		[]string{"reason"},
	)

	statusTransition = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "vehiql",
			Name:      "test_drive_status_transition_total",
			Help:      "Count of test drive status changes.",
		},
		[]string{"from", "to"},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "vehiql",
			Name:      "http_requests_total",
			Help:      "Count of API requests by route.",
		},
		[]string{"route"},
	)

	aiExtraction = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "vehiql",
			Name:      "ai_extraction_total",
			Help:      "Count of car image extractions by outcome.",
		},
		[]string{"outcome"},
	)
)

// Register registers metrics (idempotent).
func Register() {
	once.Do(func() {
		prometheus.MustRegister(bookingCreated, bookingRejected, statusTransition, httpRequests, aiExtraction)
	})
}

func IncBookingCreated(status string) {
	bookingCreated.WithLabelValues(status).Inc()
}

func IncBookingRejected(reason string) {
	bookingRejected.WithLabelValues(reason).Inc()
}

func IncStatusTransition(from, to string) {
	statusTransition.WithLabelValues(from, to).Inc()
}

func IncHTTP(route string) {
	httpRequests.WithLabelValues(route).Inc()
}

func IncAIExtraction(outcome string) {
	aiExtraction.WithLabelValues(outcome).Inc()
}
