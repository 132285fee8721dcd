package cli

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/keithlinneman/kprobe/internal/app"
	"github.com/keithlinneman/kprobe/internal/cfg"
	"github.com/keithlinneman/kprobe/internal/httpserver"
	"github.com/keithlinneman/kprobe/internal/log"
	"github.com/keithlinneman/kprobe/internal/metrics"
	"github.com/keithlinneman/kprobe/internal/opshttp"
	"github.com/keithlinneman/kprobe/internal/otelx"
	"github.com/keithlinneman/kprobe/internal/probegrpc"
	"github.com/keithlinneman/kprobe/internal/probehttp"
	"github.com/keithlinneman/kprobe/internal/prof"
	"github.com/keithlinneman/kprobe/internal/ratelimit"
	"github.com/keithlinneman/kprobe/internal/readiness"
	"github.com/keithlinneman/kprobe/internal/version"
)

func newServeCommand(st *state) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the host application behind the probe interceptor",
		Long: `serve starts three listeners: the public HTTP server with probe paths
intercepted in front of the application routes, the admin server with
metrics, pprof and dedicated probe routes, and optionally the gRPC health
service. On SIGINT or SIGTERM readiness starts failing, the drain delay
elapses (a second signal skips it) and the listeners are shut down.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return st.runServe(cmd.Context())
		},
	}
	cfg.RegisterServe(cmd.Flags(), &st.conf)
	st.scopes[cmd] = func() (cfg.Scope, error) { return cfg.ScopeServe, nil }
	return cmd
}

func (st *state) runServe(ctx context.Context) error {
	conf := st.conf
	L := st.logger
	vi := version.Get()

	L.Info(ctx, "initializing application",
		"version", vi.Version,
		"commit", vi.Commit,
		"build_date", vi.BuildDate,
		"go_version", vi.GoVersion,
		"readiness_checks", conf.ReadinessChecks,
		"ready_paths", conf.ReadyPaths,
		"health_paths", conf.HealthPaths,
		"backends_file", conf.BackendsFile,
		"http_port", conf.HTTPPort,
		"admin_port", conf.AdminPort,
		"grpc_port", conf.GRPCPort,
		"enable_pprof", conf.EnablePprof,
		"enable_pyroscope", conf.EnablePyroscope,
		"enable_tracing", conf.EnableTracing,
		"otlp_endpoint", conf.OTLPEndpoint,
		"trace_sample", conf.TraceSample,
		"drain_delay", conf.DrainDelay,
		"shutdown_timeout", conf.ShutdownTimeout,
	)

	m := metrics.New()
	m.SetBuildInfoFromVersion(appName, "serve", &vi)

	// Insecure: the collector is expected on localhost
	shutdownOTEL, err := otelx.Init(ctx, otelx.Options{
		Enabled:   conf.EnableTracing,
		Endpoint:  conf.OTLPEndpoint,
		Insecure:  true,
		Sample:    conf.TraceSample,
		Service:   appName,
		Component: "serve",
		Version:   vi.Version,
	})
	if err != nil {
		L.Error(ctx, err, "otel init failed")
		shutdownOTEL = func(context.Context) error { return nil }
	}

	stopProf, err := prof.Start(ctx, prof.Options{
		Enabled:       conf.EnablePyroscope,
		AppName:       appName,
		ServerAddress: conf.PyroServer,
		TenantID:      conf.PyroTenantID,
		Tags: map[string]string{
			"app":       appName,
			"component": "serve",
			"version":   vi.Version,
			"commit":    vi.Commit,
		},
		OnState: m.SetProfilingActive,
	})
	if err != nil {
		L.Error(ctx, err, "pyroscope start failed", "pyro_server", conf.PyroServer)
	}
	defer stopProf()

	ev, deps, err := st.buildEvaluator(ctx, readiness.WithObserver(m))
	if err != nil {
		_ = shutdownOTEL(context.Background())
		return err
	}
	defer func() { _ = deps.Close() }()
	L.Info(ctx, "readiness chain resolved", "checks", ev.Names())

	ic, err := probehttp.NewInterceptor(ev, app.Paths(conf), probehttp.WithLogger(L))
	if err != nil {
		_ = shutdownOTEL(context.Background())
		return err
	}
	hostRoutes, hostCache := app.HostRoutes(deps.Caches, vi)
	if _, shared := deps.Caches.Get(app.HostCacheName); !shared {
		defer func() { _ = hostCache.Close() }()
	}

	// probe answers never reach chi, name them by path
	probeRoute := func(r *http.Request) string {
		if ic.Matches(r) {
			return r.URL.Path
		}
		return ""
	}

	var rateMW func(http.Handler) http.Handler
	if conf.RateLimit > 0 {
		limiter := ratelimit.New(ctx,
			ratelimit.WithRate(conf.RateLimit, conf.RateBurst),
			ratelimit.WithOnDenied(func(addr string, first bool) {
				m.IncRateLimitDenied()
				if first {
					L.Warn(ctx, "rate limit triggered", "client_ip", addr)
				}
			}),
			ratelimit.WithOnCapacity(func() {
				m.IncRateLimitCapacity()
				L.Warn(ctx, "rate limiter at capacity, rejecting new clients until idle ones are evicted")
			}),
		)
		rateMW = limiter.Middleware
	}

	srv, err := startListeners(ctx, L,
		&httpserver.Options{
			Logger:       L,
			Addr:         fmt.Sprintf(":%d", conf.HTTPPort),
			Interceptor:  ic,
			Routes:       hostRoutes,
			MetricsMW:    m.Middleware(probeRoute),
			RateLimitMW:  rateMW,
			UseRecoverMW: true,
			OnPanic:      m.IncHttpPanic,
		},
		// metrics, pprof and dedicated probe routes; keep off the public network
		opshttp.Options{
			Addr:         fmt.Sprintf(":%d", conf.AdminPort),
			Metrics:      m.Handler(),
			EnablePprof:  conf.EnablePprof,
			Probes:       &probehttp.Routes{Evaluator: ev, Table: ic.Table()},
			UseRecoverMW: true,
			OnPanic:      m.IncHttpPanic,
		},
		conf.GRPCPort, ev,
	)
	if err != nil {
		_ = shutdownOTEL(context.Background())
		return err
	}

	if err := notifySystemd(); err != nil {
		// systemd kills us after its start timeout at worst
		L.Warn(ctx, "failed to notify systemd of readiness", "error", err)
	}

	<-ctx.Done()
	bg := context.WithoutCancel(ctx)
	L.Info(bg, "shutdown signal received")

	deps.Gate.Set("shutting down")
	L.Info(bg, "shutdown gate closed")

	if conf.DrainDelay > 0 {
		L.Info(bg, "waiting for load balancers to observe not ready", "drain_delay", conf.DrainDelay)
		forceCh := make(chan os.Signal, 1)
		signal.Notify(forceCh, os.Interrupt, syscall.SIGTERM)
		select {
		case <-time.After(conf.DrainDelay):
			L.Info(bg, "drain period complete")
		case <-forceCh:
			L.Warn(bg, "second signal received, skipping drain")
		}
		signal.Stop(forceCh)
	}

	shutdownCtx, cancel := context.WithTimeout(bg, conf.ShutdownTimeout)
	defer cancel()

	srv.stop(shutdownCtx, L)
	if err := shutdownOTEL(shutdownCtx); err != nil {
		L.Error(bg, err, "otel shutdown")
	}
	stopProf()

	L.Info(bg, "shutdown complete")
	return nil
}

type listeners struct {
	http  *httpserver.Running
	admin *httpserver.Running
	grpc  *probegrpc.Listener
}

// startListeners brings up http, admin and, when grpcPort > 0, gRPC. On
// failure the ones already started are stopped.
func startListeners(ctx context.Context, L log.Logger, httpOpts *httpserver.Options, adminOpts opshttp.Options, grpcPort int, ev *readiness.Evaluator) (*listeners, error) {
	var ls listeners
	var err error

	if ls.http, err = httpserver.Start(ctx, httpOpts); err != nil {
		return nil, err
	}
	if ls.admin, err = opshttp.Start(ctx, L, adminOpts); err != nil {
		ls.stop(context.Background(), L)
		return nil, err
	}
	if grpcPort > 0 {
		if ls.grpc, err = probegrpc.Start(ctx, L, fmt.Sprintf(":%d", grpcPort), ev); err != nil {
			ls.stop(context.Background(), L)
			return nil, err
		}
	}
	return &ls, nil
}

func (ls *listeners) stop(ctx context.Context, L log.Logger) {
	if ls.http != nil {
		if err := ls.http.Stop(ctx); err != nil {
			L.Error(ctx, err, "http server shutdown")
		}
	}
	if ls.admin != nil {
		if err := ls.admin.Stop(ctx); err != nil {
			L.Error(ctx, err, "admin server shutdown")
		}
	}
	if ls.grpc != nil {
		ls.grpc.Stop(ctx)
	}
}

// notifySystemd sends READY=1 when started by systemd with Type=notify.
func notifySystemd() error {
	addr := os.Getenv("NOTIFY_SOCKET")
	if addr == "" {
		return nil
	}
	conn, err := net.Dial("unixgram", addr)
	if err != nil {
		return fmt.Errorf("systemd notify failed: dial failed: %w", err)
	}
	if _, err := conn.Write([]byte("READY=1")); err != nil {
		_ = conn.Close()
		return fmt.Errorf("systemd notify failed: write failed: %w", err)
	}
	if err := conn.Close(); err != nil {
		return fmt.Errorf("systemd notify failed: close failed: %w", err)
	}
	return nil
}
