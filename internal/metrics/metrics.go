// Package metrics holds the Prometheus instruments of the POS backend.
//
// A nil *Metrics is valid and records nothing, so engine components can be
// built without a registry in tests.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "retailpos"

type Metrics struct {
	registry *prometheus.Registry

	salesTotal       *prometheus.CounterVec
	saleAmount       prometheus.Histogram
	finalizeFailures *prometheus.CounterVec
	cartSyncDropped  prometheus.Counter
	requestDuration  *prometheus.HistogramVec
	requestsInFlight prometheus.Gauge
}

// New creates a registry with the Go runtime and process collectors plus the
// POS instruments.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m := &Metrics{
		registry: reg,
		salesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sales_total",
			Help:      "Finalized sales by status.",
		}, []string{"status"}),
		saleAmount: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sale_amount_cents",
			Help:      "Amount of finalized sales in minor units.",
			Buckets:   []float64{500, 1_000, 5_000, 10_000, 50_000, 100_000, 500_000, 1_000_000},
		}),
		finalizeFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "finalize_failures_total",
			Help:      "Sale and refund finalization failures by the step that failed.",
		}, []string{"stage"}),
		cartSyncDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cart_sync_dropped_lines_total",
			Help:      "Cart lines removed by stock synchronization.",
		}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
		requestsInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_in_flight",
			Help:      "Number of HTTP requests currently being served.",
		}),
	}
	reg.MustRegister(
		m.salesTotal,
		m.saleAmount,
		m.finalizeFailures,
		m.cartSyncDropped,
		m.requestDuration,
		m.requestsInFlight,
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) SaleRecorded(status string, amountCents int64) {
	if m == nil {
		return
	}
	m.salesTotal.WithLabelValues(status).Inc()
	if amountCents > 0 {
		m.saleAmount.Observe(float64(amountCents))
	}
}

func (m *Metrics) FinalizeFailed(stage string) {
	if m == nil {
		return
	}
	m.finalizeFailures.WithLabelValues(stage).Inc()
}

func (m *Metrics) CartLinesDropped(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.cartSyncDropped.Add(float64(n))
}

type responseRecorder struct {
	http.ResponseWriter
	status int
}

func (r *responseRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Middleware records request duration labelled by the matched chi route
// pattern rather than the raw path.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		m.requestsInFlight.Inc()
		defer m.requestsInFlight.Dec()

		rr := &responseRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rr, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		m.requestDuration.WithLabelValues(r.Method, route, strconv.Itoa(rr.status)).Observe(time.Since(start).Seconds())
	})
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
}
