// Package cli is the kprobe command tree: serve, probe, waitdb and
// version. Every command resolves the readiness chain the same way, so
// the exec probe and the server always agree on the verdict.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/keithlinneman/kprobe/internal/app"
	"github.com/keithlinneman/kprobe/internal/cfg"
	"github.com/keithlinneman/kprobe/internal/log"
	"github.com/keithlinneman/kprobe/internal/readiness"
	"github.com/keithlinneman/kprobe/internal/version"
	"github.com/keithlinneman/kprobe/internal/xerrors"
)

const appName = "kprobe"

// annotation marking commands that need neither config nor a logger
const skipSetup = "kprobe/skip-setup"

type Options struct {
	Stdout io.Writer
	Stderr io.Writer
	// Extend registers application checks next to the builtin ones. It runs
	// before the chain is resolved, in every command.
	Extend func(*readiness.Registry, *app.Deps)
}

type state struct {
	opts   Options
	conf   cfg.App
	logger log.Logger
	// set once cobra has parsed flags and args; errors before that are
	// usage errors
	parsed bool
	// per-command flag checks run ahead of config validation; they pick
	// how much of the config the command depends on
	scopes map[*cobra.Command]func() (cfg.Scope, error)
}

// NewRootCommand returns the command tree. Execute is the usual entry.
func NewRootCommand(o Options) *cobra.Command {
	root, _ := newRoot(o)
	return root
}

func newRoot(o Options) (*cobra.Command, *state) {
	if o.Stdout == nil {
		o.Stdout = os.Stdout
	}
	if o.Stderr == nil {
		o.Stderr = os.Stderr
	}
	st := &state{
		opts:   o,
		logger: log.Nop(),
		scopes: make(map[*cobra.Command]func() (cfg.Scope, error)),
	}

	root := &cobra.Command{
		Use:   appName,
		Short: "Liveness and readiness probes for web applications",
		Long: `kprobe evaluates an ordered chain of readiness checks (shutdown gate,
databases, caches, object storage) and reports one verdict on every surface:
HTTP probe paths, dedicated admin routes, gRPC health and this CLI.

Flags can also be set from the environment as KPROBE_<FLAG_NAME>, for
example KPROBE_READINESS_CHECKS=shutdown,database.`,
		SilenceErrors:     true,
		SilenceUsage:      true,
		PersistentPreRunE: st.setup,
	}
	root.SetOut(o.Stdout)
	root.SetErr(o.Stderr)
	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return &UsageError{Err: err}
	})
	cfg.RegisterCommon(root.PersistentFlags(), &st.conf)

	root.AddCommand(
		newServeCommand(st),
		newProbeCommand(st),
		newWaitDBCommand(st),
		newVersionCommand(st),
	)
	return root, st
}

// Execute runs the command tree and returns the process exit code.
func Execute(ctx context.Context, args []string, o Options) int {
	root, st := newRoot(o)
	root.SetArgs(args)
	err := root.ExecuteContext(ctx)
	if err == nil {
		return ExitOK
	}
	if !st.parsed && !readiness.IsConfigError(err) {
		var ue *UsageError
		if !errors.As(err, &ue) {
			err = &UsageError{Err: err}
		}
	}
	st.report(err)
	return ExitCode(err)
}

func (st *state) report(err error) {
	var ee *ExitError
	if errors.As(err, &ee) && ee.Err == nil {
		return
	}
	fmt.Fprintf(st.opts.Stderr, "%s: %v\n", appName, err)
	var ue *UsageError
	if errors.As(err, &ue) {
		fmt.Fprintf(st.opts.Stderr, "Run '%s --help' for usage.\n", appName)
	}
}

// setup fills flags from the environment, validates the part of the config
// the command needs and builds the logger. It runs after cobra has parsed
// the command line.
func (st *state) setup(cmd *cobra.Command, _ []string) error {
	st.parsed = true
	if cmd.Annotations[skipSetup] == "true" {
		return nil
	}

	cfg.FillFromEnv(cmd.Flags(), cfg.EnvPrefix, func(format string, args ...any) {
		fmt.Fprintf(st.opts.Stderr, format+"\n", args...)
	})
	scope := cfg.ScopeReadiness
	if fn := st.scopes[cmd]; fn != nil {
		s, err := fn()
		if err != nil {
			return err
		}
		scope = s
	}
	if err := cfg.Validate(st.conf, scope); err != nil {
		return xerrors.WithStack(&readiness.ConfigError{Reason: "invalid configuration", Err: err})
	}

	L, err := st.newLogger()
	if err != nil {
		return xerrors.WithStack(&readiness.ConfigError{Reason: "logger", Err: err})
	}
	st.logger = L.With("component", cmd.Name())
	cmd.SetContext(log.WithContext(cmd.Context(), st.logger))
	return nil
}

func (st *state) newLogger() (log.Logger, error) {
	lvl, err := log.ParseLevel(st.conf.LogLevel)
	if err != nil {
		return nil, err
	}
	stackLvl := lvl
	if st.conf.StacktraceLevel != "" {
		if stackLvl, err = log.ParseLevel(st.conf.StacktraceLevel); err != nil {
			return nil, err
		}
	}
	links := 0
	if st.conf.IncludeErrorLinks {
		links = st.conf.MaxErrorLinks
	}
	return log.New(log.Options{
		App:             appName,
		Version:         version.Get().Version,
		Level:           lvl,
		StacktraceLevel: stackLvl,
		JSON:            st.conf.LogJSON,
		ErrorLinks:      links,
		Writer:          st.opts.Stderr,
	})
}

// buildEvaluator opens the backends and resolves the configured chain.
// The caller closes the returned deps.
func (st *state) buildEvaluator(ctx context.Context, opts ...readiness.Option) (*readiness.Evaluator, *app.Deps, error) {
	deps, err := app.Open(ctx, st.conf, st.logger)
	if err != nil {
		return nil, nil, err
	}
	reg := app.NewRegistry(deps)
	if st.opts.Extend != nil {
		st.opts.Extend(reg, deps)
	}
	opts = append([]readiness.Option{readiness.WithLogger(st.logger)}, opts...)
	ev, err := app.BuildEvaluator(ctx, reg, st.conf, opts...)
	if err != nil {
		_ = deps.Close()
		return nil, nil, err
	}
	return ev, deps, nil
}

func verdict(o readiness.Outcome) string {
	if o.IsReady() {
		return "Ok"
	}
	return o.Cause()
}
