package readiness

import (
	"context"
	"errors"
	"fmt"
)

// Check reports whether one dependency is ready. Implementations must be
// safe for concurrent use: a single instance serves every probe for the
// lifetime of the process.
type Check interface {
	Check(ctx context.Context) Outcome
}

// Namer is implemented by checks that want a stable label in logs, spans and
// metrics. Unnamed checks are labelled by their Go type.
type Namer interface {
	Name() string
}

// CheckFunc adapts a function into a Check.
type CheckFunc func(context.Context) Outcome

func (f CheckFunc) Check(ctx context.Context) Outcome { return f(ctx) }

type named struct {
	name string
	c    Check
}

func (n named) Name() string { return n.name }

func (n named) Check(ctx context.Context) Outcome { return n.c.Check(ctx) }

// Named attaches a label to a check.
func Named(name string, c Check) Check {
	if c == nil {
		return nil
	}
	return named{name: name, c: c}
}

// ErrorFunc adapts an error-returning probe into a named Check.
// nil = Ready, non-nil = NotReady with err.Error() as the cause, unless the
// error wraps a *NotReadyError which supplies its own cause and status.
func ErrorFunc(name string, fn func(context.Context) error) Check {
	return Named(name, CheckFunc(func(ctx context.Context) Outcome {
		err := fn(ctx)
		if err == nil {
			return Ready()
		}
		var nre *NotReadyError
		if errors.As(err, &nre) {
			return nre.Outcome()
		}
		return NotReady(err.Error())
	}))
}

// CheckName returns the label used for c.
func CheckName(c Check) string {
	if n, ok := c.(Namer); ok {
		if s := n.Name(); s != "" {
			return s
		}
	}
	return fmt.Sprintf("%T", c)
}
