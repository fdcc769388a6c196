package observe

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func serveThrough(t *testing.T, m *Metrics, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	handler := Middleware(m)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func httpDurationCount(t *testing.T, rm metricdata.ResourceMetrics) uint64 {
	t.Helper()
	met := findMetric(rm, "vocalis.http.request.duration")
	if met == nil {
		return 0
	}
	hist, ok := met.Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatal("request duration metric is not a histogram")
	}
	var n uint64
	for _, dp := range hist.DataPoints {
		n += dp.Count
	}
	return n
}

func TestMiddlewareRecordsRequestDuration(t *testing.T) {
	m, reader := newTestMetrics(t)

	rec := serveThrough(t, m, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusNoContent {
		t.Errorf("status = %d, want 204", rec.Code)
	}

	if got := httpDurationCount(t, collect(t, reader)); got != 1 {
		t.Errorf("duration samples = %d, want 1", got)
	}
}

func TestMiddlewareSkipsUpgradeInDurationHistogram(t *testing.T) {
	m, reader := newTestMetrics(t)

	req := httptest.NewRequest(http.MethodGet, "/ws/stream", nil)
	req.Header.Set("Connection", "Upgrade")
	req.Header.Set("Upgrade", "websocket")
	serveThrough(t, m, req)

	// The stream's lifetime is not a request latency sample.
	if got := httpDurationCount(t, collect(t, reader)); got != 0 {
		t.Errorf("duration samples = %d, want 0 for a websocket upgrade", got)
	}
}

func TestMiddlewareSetsCorrelationIDFromTraceContext(t *testing.T) {
	m, _ := newTestMetrics(t)

	const traceID = "0af7651916cd43dd8448eb211c80319c"
	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	req.Header.Set("traceparent", "00-"+traceID+"-b7ad6b7169203331-01")

	rec := serveThrough(t, m, req)
	if got := rec.Header().Get("X-Correlation-ID"); got != traceID {
		t.Errorf("X-Correlation-ID = %q, want %q", got, traceID)
	}
}
