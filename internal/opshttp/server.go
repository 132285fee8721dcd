// Package opshttp serves the admin listener: prometheus metrics, pprof
// and the dedicated probe routes. It is meant for a private port.
package opshttp

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/keithlinneman/kprobe/internal/httpmw"
	"github.com/keithlinneman/kprobe/internal/httpserver"
	"github.com/keithlinneman/kprobe/internal/log"
)

// NewHandler builds the admin router. pprof paths answer 404 unless
// enabled so they cannot fall through to anything else.
func NewHandler(L log.Logger, opts Options) http.Handler {
	r := chi.NewRouter()
	if opts.UseRecoverMW {
		r.Use(httpmw.Recover(L, opts.OnPanic))
	}

	if opts.Probes != nil {
		opts.Probes.RegisterRoutes(r)
	}
	if opts.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", opts.Metrics)
	}
	if opts.EnablePprof {
		r.Mount("/debug", middleware.Profiler())
	} else {
		r.HandleFunc("/debug/pprof/*", http.NotFound)
	}
	return r
}

// Start runs the admin listener. Stop it with the returned Running.
func Start(ctx context.Context, L log.Logger, opts Options) (*httpserver.Running, error) {
	addr := opts.Addr
	if addr == "" {
		addr = ":9000"
	}
	return httpserver.Serve(ctx, L, "admin", addr, NewHandler(L, opts))
}
