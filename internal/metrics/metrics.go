package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/tm-acme-shop/acme-shop-order-sync/internal/models"
)

const namespace = "ordersync"

// Metrics holds the service's Prometheus collectors. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	OrdersCreated      *prometheus.CounterVec
	OrderTransitions   *prometheus.CounterVec
	PaymentTransitions *prometheus.CounterVec
	OrdersExpired      prometheus.Counter
	SweepDuration      prometheus.Histogram
	HTTPRequests       *prometheus.CounterVec
	HTTPLatency        *prometheus.HistogramVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		OrdersCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "orders_created_total",
			Help:      "Orders created, by payment method.",
		}, []string{"method"}),
		OrderTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "order_status_transitions_total",
			Help:      "Order status changes.",
		}, []string{"from", "to"}),
		PaymentTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payment_status_transitions_total",
			Help:      "Payment status changes.",
		}, []string{"from", "to"}),
		OrdersExpired: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "orders_expired_total",
			Help:      "Orders expired by the sweeper.",
		}),
		SweepDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "expiry_sweep_duration_seconds",
			Help:      "Duration of expiry sweeps.",
			Buckets:   prometheus.DefBuckets,
		}),
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests.",
		}, []string{"method", "route", "status"}),
		HTTPLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency.",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		}, []string{"method", "route"}),
	}

	reg.MustRegister(
		m.OrdersCreated,
		m.OrderTransitions,
		m.PaymentTransitions,
		m.OrdersExpired,
		m.SweepDuration,
		m.HTTPRequests,
		m.HTTPLatency,
	)
	return m
}

func (m *Metrics) OrderCreated(method models.PaymentMethod) {
	if m == nil {
		return
	}
	m.OrdersCreated.WithLabelValues(string(method)).Inc()
}

// OrderTransition counts a status change. Unchanged writes are not counted.
func (m *Metrics) OrderTransition(from, to models.OrderStatus) {
	if m == nil || from == to {
		return
	}
	m.OrderTransitions.WithLabelValues(string(from), string(to)).Inc()
}

func (m *Metrics) PaymentTransition(from, to models.PaymentStatus) {
	if m == nil || from == to {
		return
	}
	m.PaymentTransitions.WithLabelValues(string(from), string(to)).Inc()
}

func (m *Metrics) SweepFinished(expired int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.OrdersExpired.Add(float64(expired))
	m.SweepDuration.Observe(elapsed.Seconds())
}

// GinMiddleware records request counts and latency per matched route.
func (m *Metrics) GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		if m == nil {
			return
		}
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		m.HTTPRequests.WithLabelValues(c.Request.Method, route, strconv.Itoa(c.Writer.Status())).Inc()
		m.HTTPLatency.WithLabelValues(c.Request.Method, route).Observe(time.Since(start).Seconds())
	}
}
