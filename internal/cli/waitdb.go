package cli

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/keithlinneman/kprobe/internal/app"
	"github.com/keithlinneman/kprobe/internal/readiness"
	"github.com/keithlinneman/kprobe/internal/waitdb"
)

func newWaitDBCommand(st *state) *cobra.Command {
	o := waitdb.DefaultOptions()
	database := "default"
	cmd := &cobra.Command{
		Use:   "waitdb",
		Short: "Block until a database has answered continuously for the stability window",
		Example: `  kprobe waitdb --backends-file backends.yaml
  kprobe waitdb --database all --timeout 60s --stable 10s`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return st.runWaitDB(cmd.Context(), database, o)
		},
	}
	fl := cmd.Flags()
	fl.DurationVar(&o.Timeout, "timeout", o.Timeout, "give up after this long")
	fl.DurationVar(&o.Stable, "stable", o.Stable, "how long the database must answer without a failure")
	fl.DurationVar(&o.Interval, "interval", o.Interval, "time between pings")
	fl.StringVar(&database, "database", database, `database name from the backends file, or "all"`)
	return cmd
}

func (st *state) runWaitDB(ctx context.Context, database string, o waitdb.Options) error {
	if err := o.Validate(); err != nil {
		return &UsageError{Err: err}
	}
	database = strings.TrimSpace(database)
	if database == "" {
		return usageErrorf("--database must be specified")
	}

	deps, err := app.Open(ctx, st.conf, st.logger)
	if err != nil {
		return err
	}
	defer func() { _ = deps.Close() }()

	if database == waitdb.AllDatabases {
		if deps.Databases.Len() == 0 {
			return &readiness.ConfigError{Reason: "no databases configured"}
		}
	} else if _, ok := deps.Databases.Get(database); !ok {
		return &readiness.ConfigError{Reason: fmt.Sprintf("database %q is not configured (configured: %s)",
			database, strings.Join(deps.Databases.Names(), ", "))}
	}

	o.Stdout, o.Stderr = st.opts.Stdout, st.opts.Stderr
	st.logger.Info(ctx, "waiting for database",
		"database", database,
		"timeout", o.Timeout,
		"stable", o.Stable,
		"interval", o.Interval,
	)
	if err := waitdb.WaitDatabases(ctx, deps.Databases, database, o); err != nil {
		if errors.Is(err, waitdb.ErrTimeout) {
			return &ExitError{Code: ExitNotReady, Err: err}
		}
		return err
	}
	fmt.Fprintln(st.opts.Stdout, "Ok")
	return nil
}
