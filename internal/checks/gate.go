package checks

import (
	"context"
	"sync/atomic"

	"github.com/keithlinneman/kprobe/internal/readiness"
)

// Gate flips readiness off while the process drains before shutdown.
// The zero value is open.
type Gate struct {
	reason atomic.Pointer[string]
}

// Set closes the gate. An empty reason reports "draining".
func (g *Gate) Set(reason string) {
	if reason == "" {
		reason = "draining"
	}
	g.reason.Store(&reason)
}

// Clear reopens the gate.
func (g *Gate) Clear() { g.reason.Store(nil) }

func (g *Gate) Closed() bool { return g.reason.Load() != nil }

func (g *Gate) Name() string { return "shutdown" }

func (g *Gate) Check(context.Context) readiness.Outcome {
	if r := g.reason.Load(); r != nil {
		return readiness.NotReady(*r)
	}
	return readiness.Ready()
}
