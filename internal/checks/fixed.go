package checks

import (
	"context"

	"github.com/keithlinneman/kprobe/internal/readiness"
)

// Fixed always returns the same outcome.
func Fixed(ok bool, cause string) readiness.Check {
	o := readiness.Ready()
	if !ok {
		o = readiness.NotReady(cause)
	}
	return readiness.CheckFunc(func(context.Context) readiness.Outcome { return o })
}
