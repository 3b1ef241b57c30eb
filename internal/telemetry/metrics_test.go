package telemetry

import (
	"context"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Observe(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.ObserveCheckout("confirmed", 12*time.Millisecond)
	m.ObserveCheckout("confirmed", 3*time.Millisecond)
	m.ObserveCheckout("stock_changed", time.Millisecond)
	m.ObserveNotification("sent")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.checkouts.WithLabelValues("confirmed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.checkouts.WithLabelValues("stock_changed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.notifications.WithLabelValues("sent")))
}

func TestMetrics_Handler(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())
	m.ObserveCheckout("out_of_stock", time.Millisecond)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `storefront_checkout_attempts_total{outcome="out_of_stock"} 1`)
}

func TestInitTracer_WithoutEndpoint(t *testing.T) {
	shutdown, err := InitTracer(context.Background(), TracingConfig{ServiceName: "storefront"})
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
}
