package readiness

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/keithlinneman/kprobe/internal/log"
	"github.com/keithlinneman/kprobe/internal/xerrors"
)

// Observer receives per-check and per-evaluation results, e.g. to export
// prometheus counters. Implementations must be safe for concurrent use.
type Observer interface {
	ObserveCheck(check string, o Outcome, d time.Duration)
	ObserveEvaluation(surface string, o Outcome)
}

type nopObserver struct{}

func (nopObserver) ObserveCheck(string, Outcome, time.Duration) {}
func (nopObserver) ObserveEvaluation(string, Outcome)           {}

type entry struct {
	name  string
	check Check
}

// Evaluator runs an ordered, non-empty chain of checks.
// Immutable after construction and safe for concurrent use.
type Evaluator struct {
	checks   []entry
	logger   log.Logger
	observer Observer
}

type Option func(*Evaluator)

// WithLogger sets the logger used for recovered check panics. Without it the
// logger carried by the evaluation context is used.
func WithLogger(l log.Logger) Option {
	return func(e *Evaluator) { e.logger = l }
}

func WithObserver(o Observer) Option {
	return func(e *Evaluator) {
		if o != nil {
			e.observer = o
		}
	}
}

// NewEvaluator builds an evaluator over checks, in order. An empty chain or a
// nil entry is a *ConfigError.
func NewEvaluator(checks []Check, opts ...Option) (*Evaluator, error) {
	if len(checks) == 0 {
		return nil, xerrors.WithStack(configErrorf("no readiness checks configured"))
	}
	e := &Evaluator{
		checks:   make([]entry, 0, len(checks)),
		observer: nopObserver{},
	}
	for i, c := range checks {
		if c == nil {
			return nil, xerrors.WithStack(configErrorf("readiness check #%d is nil", i))
		}
		e.checks = append(e.checks, entry{name: CheckName(c), check: c})
	}
	for _, o := range opts {
		o(e)
	}
	return e, nil
}

// Names returns the check labels in evaluation order.
func (e *Evaluator) Names() []string {
	out := make([]string, len(e.checks))
	for i, c := range e.checks {
		out[i] = c.name
	}
	return out
}

// Evaluate runs the checks in order and returns the first NotReady outcome.
// Checks after the first failure are not invoked.
func (e *Evaluator) Evaluate(ctx context.Context) Outcome {
	surface := SurfaceFromContext(ctx)
	for _, c := range e.checks {
		if o := e.run(ctx, c); !o.IsReady() {
			e.observer.ObserveEvaluation(surface, o)
			return o
		}
	}
	o := Ready()
	e.observer.ObserveEvaluation(surface, o)
	return o
}

// run is the containment boundary for a single check: a panic becomes a
// NotReady outcome and is logged with its stack.
func (e *Evaluator) run(ctx context.Context, c entry) (out Outcome) {
	ctx, span := otel.Tracer("kprobe/readiness").Start(ctx, "readiness.check",
		trace.WithAttributes(attribute.String("readiness.check", c.name)),
	)
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			err := xerrors.Newf("readiness check %q panicked: %v", c.name, r)
			e.loggerFor(ctx).Error(ctx, err, "readiness check panicked", "check", c.name)
			span.RecordError(err)
			out = NotReady(c.name + ": check failed")
		}
		e.observer.ObserveCheck(c.name, out, time.Since(start))
		if !out.IsReady() {
			span.SetStatus(codes.Error, out.Cause())
			span.SetAttributes(attribute.Int("readiness.status_code", out.StatusCode()))
		}
		span.End()
	}()

	return c.check.Check(ctx)
}

func (e *Evaluator) loggerFor(ctx context.Context) log.Logger {
	if e.logger != nil {
		return e.logger
	}
	return log.FromContext(ctx)
}
