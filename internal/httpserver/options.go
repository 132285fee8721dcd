package httpserver

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/keithlinneman/kprobe/internal/log"
	"github.com/keithlinneman/kprobe/internal/probehttp"
)

type Options struct {
	Logger log.Logger
	// Addr defaults to ":8080"
	Addr string

	// Interceptor answers probe paths before routing, tracing and access
	// logging. nil disables probe interception.
	Interceptor *probehttp.Interceptor

	// Routes mounts the host application on the router.
	Routes func(chi.Router)

	// MetricsMW is built from metrics.ServerMetrics.Middleware.
	MetricsMW func(http.Handler) http.Handler
	// RateLimitMW throttles the host routes. It runs behind the
	// interceptor, so probe answers are never limited.
	RateLimitMW  func(http.Handler) http.Handler
	UseRecoverMW bool
	OnPanic      func()
	// TrustedHops is the number of reverse proxies allowed to set
	// X-Forwarded-For.
	TrustedHops int
	// MaxBodyBytes caps request bodies, default 1 MiB.
	MaxBodyBytes int64
}
