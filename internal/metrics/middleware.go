package metrics

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/trace"
)

const unmatchedRoute = "unmatched"

type statusWriter struct {
	http.ResponseWriter
	status int
	n      int
}

func (w *statusWriter) WriteHeader(code int) {
	if w.status == 0 {
		w.status = code
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Write(p []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	n, err := w.ResponseWriter.Write(p)
	w.n += n
	return n, err
}

func (w *statusWriter) Unwrap() http.ResponseWriter { return w.ResponseWriter }

// RouteFunc names requests that were answered before reaching the chi
// router, such as probe paths. It returns "" when it has no name.
type RouteFunc func(*http.Request) string

// Middleware measures inflight, total, duration, size and 5xx errors.
// The route label is chi's matched pattern, then fallback(r), then
// "unmatched"; raw paths are never used as label values.
func (m *ServerMetrics) Middleware(fallback RouteFunc) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			// chi reuses an existing route context, so the pattern is
			// visible here after the router returns
			if chi.RouteContext(r.Context()) == nil {
				rctx := chi.NewRouteContext()
				r = r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
			}

			m.inflight.Inc()
			defer m.inflight.Dec()

			sw := &statusWriter{ResponseWriter: w}
			next.ServeHTTP(sw, r)

			statusCode := sw.status
			if statusCode == 0 {
				statusCode = http.StatusOK
			}
			method := r.Method
			ctx := r.Context()
			route := routeLabel(r, fallback)

			m.reqTotal.WithLabelValues(method, route, strconv.Itoa(statusCode)).Inc()
			if statusCode >= 500 {
				m.errorsTotal.WithLabelValues(method, route).Inc()
			}

			lat := time.Since(start).Seconds()
			obs := m.reqDur.WithLabelValues(method, route)
			if ex := traceExemplar(ctx); ex != nil {
				if eo, ok := obs.(prometheus.ExemplarObserver); ok {
					eo.ObserveWithExemplar(lat, ex)
				} else {
					obs.Observe(lat)
				}
			} else {
				obs.Observe(lat)
			}

			m.respBytes.WithLabelValues(method, route).Observe(float64(sw.n))
		})
	}
}

func routeLabel(r *http.Request, fallback RouteFunc) string {
	if rc := chi.RouteContext(r.Context()); rc != nil {
		if p := rc.RoutePattern(); p != "" {
			return p
		}
	}
	if fallback != nil {
		if s := fallback(r); s != "" {
			return s
		}
	}
	return unmatchedRoute
}

// if a sampled trace is present attach its trace_id as an exemplar
func traceExemplar(ctx context.Context) prometheus.Labels {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.IsValid() || !sc.IsSampled() {
		return nil
	}
	return prometheus.Labels{"trace_id": sc.TraceID().String()}
}
