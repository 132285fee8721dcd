package opshttp

import (
	"net/http"

	"github.com/keithlinneman/kprobe/internal/probehttp"
)

type Options struct {
	// Addr defaults to ":9000"
	Addr        string
	Metrics     http.Handler
	EnablePprof bool
	// Probes mounts the dedicated liveness and readiness routes.
	Probes       *probehttp.Routes
	UseRecoverMW bool
	// OnPanic runs after a recovered panic, e.g. to count it.
	OnPanic func()
}
