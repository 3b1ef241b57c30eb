package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	checkouts       *prometheus.CounterVec
	checkoutLatency *prometheus.HistogramVec
	notifications   *prometheus.CounterVec
	gatherer        prometheus.Gatherer
}

// NewMetrics registers the storefront collectors on reg. Pass a fresh
// prometheus.NewRegistry() in tests.
func NewMetrics(reg *prometheus.Registry) *Metrics {
	checkouts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "storefront",
		Subsystem: "checkout",
		Name:      "attempts_total",
		Help:      "Checkout attempts by outcome.",
	}, []string{"outcome"})
	latency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "storefront",
		Subsystem: "checkout",
		Name:      "duration_ms",
		Help:      "Checkout latency in milliseconds.",
		Buckets:   []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
	}, []string{"outcome"})
	notifications := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "storefront",
		Subsystem: "notification",
		Name:      "deliveries_total",
		Help:      "Order confirmation deliveries by result.",
	}, []string{"result"})

	reg.MustRegister(checkouts, latency, notifications)
	return &Metrics{
		checkouts:       checkouts,
		checkoutLatency: latency,
		notifications:   notifications,
		gatherer:        reg,
	}
}

func (m *Metrics) ObserveCheckout(outcome string, elapsed time.Duration) {
	m.checkouts.WithLabelValues(outcome).Inc()
	m.checkoutLatency.WithLabelValues(outcome).Observe(float64(elapsed) / float64(time.Millisecond))
}

func (m *Metrics) ObserveNotification(result string) {
	m.notifications.WithLabelValues(result).Inc()
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
