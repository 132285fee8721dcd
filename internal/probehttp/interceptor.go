package probehttp

import (
	"net/http"

	"github.com/keithlinneman/kprobe/internal/log"
	"github.com/keithlinneman/kprobe/internal/readiness"
	"github.com/keithlinneman/kprobe/internal/xerrors"
)

// Interceptor answers probe requests in front of normal routing. GET on a
// health path is always 200 Ok; GET on a ready path runs the evaluator.
// Everything else passes through untouched.
type Interceptor struct {
	ev     *readiness.Evaluator
	table  *PathTable
	logger log.Logger
}

type Option func(*Interceptor)

// WithLogger logs failed readiness probes at debug level.
func WithLogger(l log.Logger) Option {
	return func(i *Interceptor) {
		if l != nil {
			i.logger = l
		}
	}
}

// NewInterceptor validates its inputs; a nil evaluator or a bad path table
// is a *readiness.ConfigError.
func NewInterceptor(ev *readiness.Evaluator, paths Paths, opts ...Option) (*Interceptor, error) {
	if ev == nil {
		return nil, xerrors.WithStack(&readiness.ConfigError{Reason: "interceptor requires a readiness evaluator"})
	}
	table, err := NewPathTable(paths)
	if err != nil {
		return nil, err
	}
	i := &Interceptor{ev: ev, table: table, logger: log.Nop()}
	for _, o := range opts {
		o(i)
	}
	return i, nil
}

func (i *Interceptor) Table() *PathTable { return i.table }

// Matches reports whether r would be answered by the interceptor.
func (i *Interceptor) Matches(r *http.Request) bool {
	return r.Method == http.MethodGet && i.table.Lookup(r.URL.Path) != KindNone
}

func (i *Interceptor) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			next.ServeHTTP(w, r)
			return
		}
		switch i.table.Lookup(r.URL.Path) {
		case KindHealth:
			writeOutcome(w, readiness.Ready())
		case KindReady:
			ctx := readiness.WithSurface(r.Context(), readiness.SurfaceHTTP)
			o := i.ev.Evaluate(ctx)
			if !o.IsReady() {
				i.logger.Debug(ctx, "readiness probe failed", "path", r.URL.Path, "cause", o.Cause(), "status", o.StatusCode())
			}
			writeOutcome(w, o)
		default:
			next.ServeHTTP(w, r)
		}
	})
}
