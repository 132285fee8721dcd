package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/keithlinneman/kprobe/internal/cfg"
	"github.com/keithlinneman/kprobe/internal/log"
	"github.com/keithlinneman/kprobe/internal/readiness"
)

type probeFlags struct {
	ready   bool
	live    bool
	health  bool
	quiet   bool
	timeout time.Duration
}

func newProbeCommand(st *state) *cobra.Command {
	var f probeFlags
	cmd := &cobra.Command{
		Use:   "probe",
		Short: "Run one probe and report the verdict through the exit code",
		Long: `probe evaluates the same readiness chain the server uses and prints
"Ok" or the first failure cause. Exit codes: 0 ready, 1 not ready, 2 usage
error, 3 configuration error, 4 runtime failure.`,
		Example: `  kprobe probe --ready
  kprobe probe -L -q
  KPROBE_READINESS_CHECKS=database kprobe probe -R --backends-file /etc/kprobe/backends.yaml`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return st.runProbe(cmd.Context(), f)
		},
	}
	st.scopes[cmd] = f.scope
	fl := cmd.Flags()
	fl.BoolVarP(&f.ready, "ready", "R", false, "evaluate the readiness chain")
	fl.BoolVarP(&f.live, "live", "L", false, "liveness probe, always Ok")
	fl.BoolVarP(&f.health, "health", "H", false, "same as --live")
	fl.BoolVarP(&f.quiet, "quiet", "q", false, "print nothing, report through the exit code only")
	fl.DurationVar(&f.timeout, "timeout", 10*time.Second, "deadline for the readiness evaluation")
	return cmd
}

// scope checks the mode flags. Liveness only needs a logger, so a broken
// readiness config cannot fail it.
func (f *probeFlags) scope() (cfg.Scope, error) {
	live := f.live || f.health
	switch {
	case f.ready && live:
		return 0, usageErrorf("--ready cannot be combined with --live or --health")
	case !f.ready && !live:
		return 0, usageErrorf("one of --ready, --live or --health is required")
	case f.ready && f.timeout <= 0:
		return 0, usageErrorf("--timeout must be greater than 0")
	case live:
		return cfg.ScopeLogging, nil
	}
	return cfg.ScopeReadiness, nil
}

func (st *state) runProbe(ctx context.Context, f probeFlags) error {
	if _, err := f.scope(); err != nil {
		return err
	}

	o := readiness.Ready()
	if f.ready {
		ev, deps, err := st.buildEvaluator(ctx)
		if err != nil {
			return err
		}
		defer func() { _ = deps.Close() }()

		ectx, cancel := context.WithTimeout(readiness.WithSurface(ctx, readiness.SurfaceCLI), f.timeout)
		defer cancel()
		o = ev.Evaluate(log.WithContext(ectx, st.logger))
	}

	if !f.quiet {
		fmt.Fprintln(st.opts.Stdout, verdict(o))
	}
	if !o.IsReady() {
		return &ExitError{Code: ExitNotReady}
	}
	return nil
}
