package metrics

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/trace"
)

func serve(h http.Handler, method, path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, path, http.NoBody))
	return rec
}

func statusHandler(code int) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(code)
	})
}

// statusWriter

func TestStatusWriter_Write_DefaultsTo200(t *testing.T) {
	sw := &statusWriter{ResponseWriter: httptest.NewRecorder()}

	n, err := sw.Write([]byte("hello"))
	if err != nil || n != 5 {
		t.Fatalf("Write = %d, %v", n, err)
	}
	if sw.status != http.StatusOK {
		t.Fatalf("status = %d, want 200", sw.status)
	}
}

func TestStatusWriter_FirstHeaderWins(t *testing.T) {
	sw := &statusWriter{ResponseWriter: httptest.NewRecorder()}
	sw.WriteHeader(http.StatusCreated)
	sw.WriteHeader(http.StatusInternalServerError)
	_, _ = sw.Write([]byte("aaa"))
	_, _ = sw.Write([]byte("bbbbb"))

	if sw.status != http.StatusCreated {
		t.Fatalf("status = %d, want 201", sw.status)
	}
	if sw.n != 8 {
		t.Fatalf("bytes = %d, want 8", sw.n)
	}
}

// Middleware

func TestMiddleware_CorrectLabels(t *testing.T) {
	m := New()
	serve(m.Middleware(nil)(statusHandler(http.StatusNotFound)), http.MethodPost, "/api/missing")

	f := gatherMetric(t, m.reg, "http_requests_total")
	if f == nil {
		t.Fatal("metric not found")
	}
	labels := labelMap(f.GetMetric()[0])
	if labels["method"] != http.MethodPost {
		t.Fatalf("method = %q, want POST", labels["method"])
	}
	if labels["status"] != "404" {
		t.Fatalf("status = %q, want 404", labels["status"])
	}
	if labels["route"] != "unmatched" {
		t.Fatalf("route = %q, want unmatched", labels["route"])
	}
}

func TestMiddleware_NoWriteDefaultsTo200(t *testing.T) {
	m := New()
	serve(m.Middleware(nil)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {})), http.MethodGet, "/")

	f := gatherMetric(t, m.reg, "http_requests_total")
	if s := labelMap(f.GetMetric()[0])["status"]; s != "200" {
		t.Fatalf("status = %q, want 200", s)
	}
}

func TestMiddleware_ChiRoutePattern(t *testing.T) {
	m := New()

	r := chi.NewRouter()
	r.Use(m.Middleware(nil))
	r.Get("/users/{id}", statusHandler(http.StatusOK).ServeHTTP)
	serve(r, http.MethodGet, "/users/42")

	f := gatherMetric(t, m.reg, "http_requests_total")
	if route := labelMap(f.GetMetric()[0])["route"]; route != "/users/{id}" {
		t.Fatalf("route = %q, want /users/{id}", route)
	}
}

func TestMiddleware_OuterSeesRouterPattern(t *testing.T) {
	m := New()

	r := chi.NewRouter()
	r.Get("/items/{id}", statusHandler(http.StatusOK).ServeHTTP)
	serve(m.Middleware(nil)(r), http.MethodGet, "/items/1")

	f := gatherMetric(t, m.reg, "http_requests_total")
	if route := labelMap(f.GetMetric()[0])["route"]; route != "/items/{id}" {
		t.Fatalf("route = %q, want /items/{id}", route)
	}
}

func TestMiddleware_FallbackNamesProbePaths(t *testing.T) {
	m := New()
	fallback := func(r *http.Request) string {
		if r.URL.Path == "/readyz" {
			return r.URL.Path
		}
		return ""
	}
	h := m.Middleware(fallback)(statusHandler(http.StatusServiceUnavailable))
	serve(h, http.MethodGet, "/readyz")
	serve(h, http.MethodGet, "/random/123")

	routes := map[string]bool{}
	for _, metric := range gatherMetric(t, m.reg, "http_requests_total").GetMetric() {
		routes[labelMap(metric)["route"]] = true
	}
	if !routes["/readyz"] || !routes["unmatched"] || len(routes) != 2 {
		t.Fatalf("routes = %v", routes)
	}
}

func TestMiddleware_5xxIncrementsErrorCounter(t *testing.T) {
	m := New()
	h := m.Middleware(nil)
	serve(h(statusHandler(http.StatusBadGateway)), http.MethodGet, "/")
	serve(h(statusHandler(http.StatusNotFound)), http.MethodGet, "/")
	serve(h(statusHandler(http.StatusOK)), http.MethodGet, "/")

	if v := counterValue(t, m.reg, "http_errors_total"); v != 1 {
		t.Fatalf("http_errors_total = %f, want 1", v)
	}
}

func TestMiddleware_MultipleRequests(t *testing.T) {
	m := New()
	h := m.Middleware(nil)(statusHandler(http.StatusOK))

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			serve(h, http.MethodGet, "/api/data")
		}()
	}
	wg.Wait()

	if v := counterValue(t, m.reg, "http_requests_total"); v != 10 {
		t.Fatalf("total requests = %f, want 10", v)
	}
	if c := histogramCount(t, m.reg, "http_request_duration_seconds"); c != 10 {
		t.Fatalf("duration count = %d, want 10", c)
	}
	if v := gaugeValue(t, m.reg, "http_inflight_requests"); v != 0 {
		t.Fatalf("inflight = %f, want 0", v)
	}
}

func TestMiddleware_InflightDuringRequest(t *testing.T) {
	m := New()
	var during float64
	h := m.Middleware(nil)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		during = gaugeValue(t, m.reg, "http_inflight_requests")
	}))
	serve(h, http.MethodGet, "/")
	if during != 1 {
		t.Fatalf("inflight during request = %f, want 1", during)
	}
}

func TestMiddleware_ResponsePassthrough(t *testing.T) {
	m := New()
	h := m.Middleware(nil)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("X-Custom", "test")
		w.WriteHeader(http.StatusTeapot)
		_, _ = w.Write([]byte("teapot"))
	}))

	rec := serve(h, http.MethodGet, "/")
	if rec.Code != http.StatusTeapot {
		t.Fatalf("status = %d, want 418", rec.Code)
	}
	if rec.Header().Get("X-Custom") != "test" {
		t.Fatal("custom header not passed through")
	}
	if !strings.Contains(rec.Body.String(), "teapot") {
		t.Fatalf("body = %q", rec.Body.String())
	}
	f := gatherMetric(t, m.reg, "http_response_size_bytes")
	if sum := f.GetMetric()[0].GetHistogram().GetSampleSum(); sum != 6 {
		t.Fatalf("response size sum = %f, want 6", sum)
	}
}

// traceExemplar

func spanCtx(flags trace.TraceFlags) context.Context {
	traceID, _ := trace.TraceIDFromHex("0102030405060708090a0b0c0d0e0f10")
	spanID, _ := trace.SpanIDFromHex("0102030405060708")
	sc := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     spanID,
		TraceFlags: flags,
	})
	return trace.ContextWithSpanContext(context.Background(), sc)
}

func TestTraceExemplar(t *testing.T) {
	if l := traceExemplar(spanCtx(trace.FlagsSampled)); l["trace_id"] != "0102030405060708090a0b0c0d0e0f10" {
		t.Fatalf("sampled exemplar = %v", l)
	}
	if l := traceExemplar(spanCtx(0)); l != nil {
		t.Fatal("non-sampled trace should not produce exemplar")
	}
	if l := traceExemplar(context.Background()); l != nil {
		t.Fatal("no trace context should return nil")
	}
}
