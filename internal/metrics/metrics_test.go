package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNilMetricsRecordNothing(t *testing.T) {
	var m *Metrics
	m.SaleRecorded("paid", 100)
	m.FinalizeFailed("stock")
	m.CartLinesDropped(2)

	called := false
	h := m.Middleware(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { called = true }))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	if !called {
		t.Fatalf("expected nil middleware to pass through")
	}
}

func TestCountersTrackSalesAndFailures(t *testing.T) {
	m := New()
	m.SaleRecorded("paid", 864)
	m.SaleRecorded("paid", 100)
	m.SaleRecorded("refunded", -400)
	m.FinalizeFailed("credit")
	m.CartLinesDropped(0)
	m.CartLinesDropped(3)

	if got := testutil.ToFloat64(m.salesTotal.WithLabelValues("paid")); got != 2 {
		t.Fatalf("expected 2 paid sales, got %v", got)
	}
	if got := testutil.ToFloat64(m.finalizeFailures.WithLabelValues("credit")); got != 1 {
		t.Fatalf("expected 1 credit failure, got %v", got)
	}
	if got := testutil.ToFloat64(m.cartSyncDropped); got != 3 {
		t.Fatalf("expected 3 dropped lines, got %v", got)
	}
}

func TestMiddlewareLabelsByRoutePattern(t *testing.T) {
	m := New()
	r := chi.NewRouter()
	r.Use(m.Middleware)
	r.Get("/api/sales/{id}/receipt", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})
	r.Handle("/metrics", m.Handler())

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/sales/sale-1/receipt", nil))

	if got := testutil.ToFloat64(m.requestsInFlight); got != 0 {
		t.Fatalf("expected no requests in flight, got %v", got)
	}

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body := rec.Body.String()
	if !strings.Contains(body, `route="/api/sales/{id}/receipt"`) || !strings.Contains(body, `status="418"`) {
		t.Fatalf("expected route pattern label in exposition, got:\n%s", body)
	}
	if strings.Contains(body, "sale-1") {
		t.Fatalf("expected raw path to stay out of labels")
	}
}
