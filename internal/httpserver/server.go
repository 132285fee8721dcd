// Package httpserver builds and runs the public HTTP listener: the probe
// interceptor in front of the host application's chi router.
package httpserver

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/keithlinneman/kprobe/internal/httpmw"
	"github.com/keithlinneman/kprobe/internal/log"
	"github.com/keithlinneman/kprobe/internal/otelx"
	"github.com/keithlinneman/kprobe/internal/xerrors"
)

const defaultMaxBody = 1 << 20

// NewHandler composes the middleware chain around the host router.
// main() owns the listener so it can sequence graceful shutdown.
func NewHandler(opts *Options) http.Handler {
	L := opts.Logger
	if L == nil {
		L = log.Nop()
	}
	maxBody := opts.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = defaultMaxBody
	}

	r := chi.NewRouter()
	r.Use(middleware.Compress(5, "application/json", "text/plain"))
	r.Use(httpmw.AnnotateHTTPRoute)
	r.Use(httpmw.AccessLog(nil))
	r.Use(httpmw.MaxBody(maxBody))
	if opts.Routes != nil {
		opts.Routes(r)
	}

	isProbe := func(r *http.Request) bool {
		return opts.Interceptor != nil && opts.Interceptor.Matches(r)
	}

	var recoverMW func(http.Handler) http.Handler
	if opts.UseRecoverMW {
		recoverMW = httpmw.Recover(L, opts.OnPanic)
	}
	var probeMW func(http.Handler) http.Handler
	if opts.Interceptor != nil {
		probeMW = opts.Interceptor.Middleware
	}

	traced := otelhttp.NewHandler(
		httpmw.Chain(r,
			httpmw.TraceResponseHeaders("X-Trace-Id", "X-Span-Id"),
			httpmw.WithLogger(L),
		),
		"http.server",
		otelhttp.WithFilter(otelx.SkipPaths(isProbe)),
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			// AnnotateHTTPRoute renames the span to the route pattern
			return r.Method + " " + r.URL.Path
		}),
		otelhttp.WithPublicEndpointFn(func(*http.Request) bool { return true }),
	)

	// outermost first
	return httpmw.Chain(traced,
		httpmw.SecurityHeaders,
		recoverMW,
		httpmw.RequestID("X-Request-Id"),
		httpmw.ClientIP(opts.TrustedHops),
		opts.MetricsMW,
		probeMW,
		opts.RateLimitMW,
	)
}

// Server timeout defaults, shared with opshttp.
const (
	DefaultReadHeaderTimeout = 5 * time.Second
	DefaultReadTimeout       = 10 * time.Second
	DefaultWriteTimeout      = 10 * time.Second
	DefaultIdleTimeout       = 60 * time.Second
	DefaultMaxHeaderBytes    = 1 << 20
)

func NewServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: DefaultReadHeaderTimeout,
		ReadTimeout:       DefaultReadTimeout,
		WriteTimeout:      DefaultWriteTimeout,
		IdleTimeout:       DefaultIdleTimeout,
		MaxHeaderBytes:    DefaultMaxHeaderBytes,
	}
}

// Running is a started listener.
type Running struct {
	Addr net.Addr
	stop func(context.Context) error
}

// Stop shuts the server down gracefully. Only the first call does work.
func (r *Running) Stop(ctx context.Context) error { return r.stop(ctx) }

// Serve listens on addr and serves handler until Stop. name labels log
// lines ("http", "admin").
func Serve(ctx context.Context, L log.Logger, name, addr string, handler http.Handler) (*Running, error) {
	if L == nil {
		L = log.Nop()
	}
	ln, err := (&net.ListenConfig{}).Listen(ctx, "tcp", addr)
	if err != nil {
		return nil, xerrors.Wrapf(err, "%s listen on %s", name, addr)
	}
	srv := NewServer(addr, handler)

	go func() {
		L.Info(ctx, "server listening", "server", name, "addr", ln.Addr().String())
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			L.Error(ctx, xerrors.EnsureTrace(err), "server error", "server", name)
		}
	}()

	var once sync.Once
	var stopErr error
	stop := func(sctx context.Context) error {
		once.Do(func() {
			L.Info(sctx, "server shutting down", "server", name)
			stopErr = srv.Shutdown(sctx)
		})
		return stopErr
	}
	return &Running{Addr: ln.Addr(), stop: stop}, nil
}

// Start runs the public server built from opts.
func Start(ctx context.Context, opts *Options) (*Running, error) {
	addr := opts.Addr
	if addr == "" {
		addr = ":8080"
	}
	return Serve(ctx, opts.Logger, "http", addr, NewHandler(opts))
}
