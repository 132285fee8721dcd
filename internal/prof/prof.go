// Package prof runs continuous profiling against a Pyroscope server.
package prof

import (
	"context"
	"fmt"
	"runtime"
	"sync"

	"github.com/grafana/pyroscope-go"

	"github.com/keithlinneman/kprobe/internal/log"
	"github.com/keithlinneman/kprobe/internal/xerrors"
)

type Options struct {
	Enabled              bool
	AppName              string
	ServerAddress        string
	TenantID             string
	Tags                 map[string]string
	ProfileMutexFraction int
	BlockProfileRate     int
	// OnState reports whether the profiler is running, e.g. to drive the
	// profiling_active gauge.
	OnState func(active bool)
}

var profileTypes = []pyroscope.ProfileType{
	pyroscope.ProfileCPU,
	pyroscope.ProfileAllocObjects,
	pyroscope.ProfileAllocSpace,
	pyroscope.ProfileInuseObjects,
	pyroscope.ProfileInuseSpace,
	pyroscope.ProfileGoroutines,
	pyroscope.ProfileMutexCount,
	pyroscope.ProfileMutexDuration,
	pyroscope.ProfileBlockCount,
	pyroscope.ProfileBlockDuration,
}

// Start launches the profiler. The returned stop func is always non-nil
// and idempotent, even when err is set.
func Start(ctx context.Context, opts Options) (func(), error) {
	L := log.FromContext(ctx)
	state := func(active bool) {
		if opts.OnState != nil {
			opts.OnState(active)
		}
	}

	if !opts.Enabled {
		state(false)
		L.Debug(ctx, "pyroscope disabled")
		return func() {}, nil
	}
	if opts.ServerAddress == "" {
		state(false)
		return func() {}, xerrors.Newf("invalid server address (%q)", opts.ServerAddress)
	}

	if opts.ProfileMutexFraction > 0 {
		runtime.SetMutexProfileFraction(opts.ProfileMutexFraction)
	}
	if opts.BlockProfileRate > 0 {
		runtime.SetBlockProfileRate(opts.BlockProfileRate)
	}

	profiler, err := pyroscope.Start(pyroscope.Config{
		ApplicationName: opts.AppName,
		ServerAddress:   opts.ServerAddress,
		TenantID:        opts.TenantID,
		Tags:            opts.Tags,
		Logger:          pyroLogger{L: L.With("component", "pyroscope")},
		ProfileTypes:    profileTypes,
	})
	if err != nil {
		state(false)
		return func() {}, xerrors.Wrapf(err, "start pyroscope (server %s)", opts.ServerAddress)
	}

	state(true)
	L.Info(ctx, "pyroscope started",
		"server_address", opts.ServerAddress,
		"app_name", opts.AppName,
	)

	var once sync.Once
	return func() {
		once.Do(func() {
			if err := profiler.Stop(); err != nil {
				L.Warn(context.Background(), "pyroscope stop", "err", err)
			}
			state(false)
			L.Info(context.Background(), "pyroscope stopped")
		})
	}, nil
}

// pyroLogger routes the profiler's own diagnostics into our logger.
type pyroLogger struct{ L log.Logger }

func (p pyroLogger) Infof(format string, args ...any) {
	p.L.Debug(context.Background(), fmt.Sprintf(format, args...))
}

func (p pyroLogger) Debugf(format string, args ...any) {
	p.L.Debug(context.Background(), fmt.Sprintf(format, args...))
}

func (p pyroLogger) Errorf(format string, args ...any) {
	p.L.Warn(context.Background(), fmt.Sprintf(format, args...))
}
