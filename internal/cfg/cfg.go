package cfg

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/spf13/pflag"

	"github.com/keithlinneman/kprobe/internal/log"
)

// EnvPrefix is prepended to upper-cased flag names, so --ready-paths is
// KPROBE_READY_PATHS.
const EnvPrefix = "KPROBE_"

// App is built once at startup and passed down; nothing reads flags or env
// after that.
type App struct {
	// logging
	LogJSON           bool
	LogLevel          string
	StacktraceLevel   string
	IncludeErrorLinks bool
	MaxErrorLinks     int

	// readiness
	ReadinessChecks []string
	ReadyPaths      []string
	HealthPaths     []string
	BackendsFile    string
	S3Bucket        string
	S3Region        string

	// serve
	HTTPPort        int
	AdminPort       int
	GRPCPort        int
	RateLimit       float64
	RateBurst       int
	EnablePprof     bool
	EnablePyroscope bool
	EnableTracing   bool
	PyroServer      string
	PyroTenantID    string
	OTLPEndpoint    string
	TraceSample     float64
	DrainDelay      time.Duration
	ShutdownTimeout time.Duration
}

// RegisterCommon binds the flags every command needs: logging and the
// readiness chain. The exec probe and the server must agree on these.
func RegisterCommon(fs *pflag.FlagSet, c *App) {
	fs.BoolVar(&c.LogJSON, "log-json", true, "JSON logs (true) or logfmt (false)")
	fs.StringVar(&c.LogLevel, "log-level", "info", "debug|info|warn|error")
	fs.StringVar(&c.StacktraceLevel, "stacktrace-level", "error", "debug|info|warn|error")
	fs.BoolVar(&c.IncludeErrorLinks, "include-error-links", true, "Include error links in log messages")
	fs.IntVar(&c.MaxErrorLinks, "max-error-links", 5, "max error chain depth (1..64)")

	fs.StringSliceVar(&c.ReadinessChecks, "readiness-checks", []string{"shutdown", "database", "cache"}, "ordered readiness checks, first failure wins")
	fs.StringSliceVar(&c.ReadyPaths, "ready-paths", []string{"/readyz"}, "paths answered with the readiness verdict")
	fs.StringSliceVar(&c.HealthPaths, "health-paths", []string{"/healthz", "/livez"}, "paths that always answer Ok")
	fs.StringVar(&c.BackendsFile, "backends-file", "", "YAML file describing databases and caches")
	fs.StringVar(&c.S3Bucket, "s3-bucket", "", "bucket for the s3 readiness check")
	fs.StringVar(&c.S3Region, "s3-region", "", "region for the s3 readiness check (default from AWS config)")
}

// RegisterServe binds listener and telemetry flags used only by serve.
func RegisterServe(fs *pflag.FlagSet, c *App) {
	fs.IntVar(&c.HTTPPort, "http-port", 8080, "listen TCP port (1..65535)")
	fs.IntVar(&c.AdminPort, "admin-port", 9000, "admin listen TCP port (1..65535)")
	fs.IntVar(&c.GRPCPort, "grpc-port", 0, "gRPC health listen port, 0 disables")
	fs.Float64Var(&c.RateLimit, "rate-limit", 0, "per-client requests/second for the host routes, 0 disables (probes are never limited)")
	fs.IntVar(&c.RateBurst, "rate-burst", 30, "per-client burst for --rate-limit")
	fs.BoolVar(&c.EnablePprof, "enable-pprof", true, "Enable pprof profiling (on admin port only)")
	fs.BoolVar(&c.EnableTracing, "enable-tracing", false, "Enable OTLP tracing and push to otlp-endpoint")
	fs.BoolVar(&c.EnablePyroscope, "enable-pyroscope", false, "Enable pushing Pyroscope data to server set in --pyro-server")
	fs.Float64Var(&c.TraceSample, "trace-sample", 0.0, "trace sampling ratio (0..1)")
	fs.StringVar(&c.PyroServer, "pyro-server", "", "pyroscope server url to push to")
	fs.StringVar(&c.PyroTenantID, "pyro-tenant", "", "tenant (x-scope-orgid) to use for pyro-server")
	fs.StringVar(&c.OTLPEndpoint, "otlp-endpoint", "", "OTLP endpoint to push to (gRPC) (host:port)")
	fs.DurationVar(&c.DrainDelay, "drain-delay", 5*time.Second, "time between failing readiness and closing listeners on shutdown")
	fs.DurationVar(&c.ShutdownTimeout, "shutdown-timeout", 10*time.Second, "max time to wait for in-flight requests on shutdown")
}

// FillFromEnv sets any flag not explicitly passed on the command line from
// PREFIX_FLAG_NAME. Precedence: flag > env > default. Invalid env values
// are logged and the previous value is kept.
func FillFromEnv(fs *pflag.FlagSet, prefix string, logf func(string, ...any)) {
	if logf == nil {
		logf = func(string, ...any) {}
	}
	fs.VisitAll(func(f *pflag.Flag) {
		key := prefix + strings.ReplaceAll(strings.ToUpper(f.Name), "-", "_")
		envVal, ok := os.LookupEnv(key)
		if !ok {
			return
		}
		if f.Changed {
			logf("flag --%s: cli value %q overrides env %s=%q", f.Name, f.Value.String(), key, envVal)
			return
		}
		if sv, isSlice := f.Value.(pflag.SliceValue); isSlice {
			prev := sv.GetSlice()
			if err := fs.Set(f.Name, envVal); err != nil {
				_ = sv.Replace(prev)
				logf("flag --%s: ignoring invalid env %s=%q: %v", f.Name, key, envVal, err)
			}
			return
		}
		prev := f.Value.String()
		if err := fs.Set(f.Name, envVal); err != nil {
			_ = f.Value.Set(prev)
			logf("flag --%s: ignoring invalid env %s=%q: %v", f.Name, key, envVal, err)
		}
	})
}

// Scope selects how much of App a command depends on. Each scope includes
// the ones before it.
type Scope int

const (
	// ScopeLogging covers the logger settings only.
	ScopeLogging Scope = iota
	// ScopeReadiness adds the check chain, paths and backends file.
	ScopeReadiness
	// ScopeServe adds listeners, rate limiting and telemetry.
	ScopeServe
)

// Validate checks the settings within scope. All problems are reported
// together.
func Validate(c App, scope Scope) error {
	var errs []error

	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("invalid LOG_LEVEL %q: %w", c.LogLevel, err))
	}
	if c.StacktraceLevel != "" {
		if _, err := log.ParseLevel(c.StacktraceLevel); err != nil {
			errs = append(errs, fmt.Errorf("invalid STACKTRACE_LEVEL %q: %w", c.StacktraceLevel, err))
		}
	}
	if c.IncludeErrorLinks && (c.MaxErrorLinks < 1 || c.MaxErrorLinks > 64) {
		errs = append(errs, fmt.Errorf("MAX_ERROR_LINKS must be 1..64 (got %d)", c.MaxErrorLinks))
	}

	if scope < ScopeReadiness {
		return errors.Join(errs...)
	}

	if len(nonBlank(c.ReadinessChecks)) == 0 {
		errs = append(errs, errors.New("READINESS_CHECKS must name at least one check"))
	}
	if len(nonBlank(c.ReadyPaths))+len(nonBlank(c.HealthPaths)) == 0 {
		errs = append(errs, errors.New("at least one of READY_PATHS or HEALTH_PATHS is required"))
	}
	if c.BackendsFile != "" {
		if _, err := os.Stat(c.BackendsFile); err != nil {
			errs = append(errs, fmt.Errorf("BACKENDS_FILE: %w", err))
		}
	}

	if scope < ScopeServe {
		return errors.Join(errs...)
	}

	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid HTTP_PORT %d (must be 1..65535)", c.HTTPPort))
	}
	if c.AdminPort < 1 || c.AdminPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid ADMIN_PORT %d (must be 1..65535)", c.AdminPort))
	}
	if c.GRPCPort < 0 || c.GRPCPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid GRPC_PORT %d (must be 0..65535)", c.GRPCPort))
	}
	ports := map[int]string{}
	for name, p := range map[string]int{"HTTP_PORT": c.HTTPPort, "ADMIN_PORT": c.AdminPort, "GRPC_PORT": c.GRPCPort} {
		if p == 0 {
			continue
		}
		if other, dup := ports[p]; dup {
			errs = append(errs, fmt.Errorf("%s and %s must differ (both %d)", min(name, other), max(name, other), p))
		}
		ports[p] = name
	}

	if c.RateLimit < 0 {
		errs = append(errs, fmt.Errorf("RATE_LIMIT must be >= 0 (got %g)", c.RateLimit))
	}
	if c.RateLimit > 0 && c.RateBurst < 1 {
		errs = append(errs, fmt.Errorf("RATE_BURST must be >= 1 (got %d)", c.RateBurst))
	}

	if c.TraceSample < 0 || c.TraceSample > 1 {
		errs = append(errs, fmt.Errorf("invalid TRACE_SAMPLE %.3f (must be 0..1)", c.TraceSample))
	}
	if c.EnablePyroscope {
		if c.PyroServer == "" {
			errs = append(errs, errors.New("PYRO_SERVER required when ENABLE_PYROSCOPE=true"))
		} else if u, err := url.Parse(c.PyroServer); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("PYRO_SERVER must be a URL (got %q)", c.PyroServer))
		}
		if c.PyroTenantID == "" {
			errs = append(errs, errors.New("PYRO_TENANT required when ENABLE_PYROSCOPE=true"))
		}
	}
	// grpc exporter wants host:port, no scheme
	if c.EnableTracing {
		if c.OTLPEndpoint == "" {
			errs = append(errs, errors.New("OTLP_ENDPOINT required when ENABLE_TRACING=true"))
		} else if strings.Contains(c.OTLPEndpoint, "://") {
			errs = append(errs, fmt.Errorf("OTLP_ENDPOINT must be host:port without a scheme (got %q)", c.OTLPEndpoint))
		} else if _, _, err := net.SplitHostPort(c.OTLPEndpoint); err != nil {
			errs = append(errs, fmt.Errorf("OTLP_ENDPOINT must be host:port (got %q): %v", c.OTLPEndpoint, err))
		}
	}
	if c.DrainDelay < 0 {
		errs = append(errs, fmt.Errorf("DRAIN_DELAY must be >= 0 (got %s)", c.DrainDelay))
	}
	if c.ShutdownTimeout <= 0 {
		errs = append(errs, fmt.Errorf("SHUTDOWN_TIMEOUT must be > 0 (got %s)", c.ShutdownTimeout))
	}

	return errors.Join(errs...)
}

func nonBlank(in []string) []string {
	var out []string
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
