package probehttp

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/keithlinneman/kprobe/internal/readiness"
)

// LiveHandler always answers 200 Ok.
func LiveHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeOutcome(w, readiness.Ready())
	})
}

// ReadyHandler answers with the evaluator's outcome.
func ReadyHandler(ev *readiness.Evaluator) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := readiness.WithSurface(r.Context(), readiness.SurfaceRoute)
		writeOutcome(w, ev.Evaluate(ctx))
	})
}

// Routes mounts the dedicated probe handlers on a router.
type Routes struct {
	Evaluator *readiness.Evaluator
	Table     *PathTable
}

// RegisterRoutes adds a GET route per configured path.
func (rt Routes) RegisterRoutes(r chi.Router) {
	live := LiveHandler()
	for _, p := range rt.Table.HealthPaths() {
		r.Method(http.MethodGet, p, live)
	}
	ready := ReadyHandler(rt.Evaluator)
	for _, p := range rt.Table.ReadyPaths() {
		r.Method(http.MethodGet, p, ready)
	}
}
