// Package waitdb blocks until a database has answered continuously for a
// stability window, for use as an init step before the application starts.
package waitdb

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/errgroup"

	"github.com/keithlinneman/kprobe/internal/backends"
	"github.com/keithlinneman/kprobe/internal/xerrors"
)

// AllDatabases selects every configured database.
const AllDatabases = "all"

// ErrTimeout is returned when the database did not become stable in time.
var ErrTimeout = errors.New("could not establish database connection")

var errNotStable = errors.New("database not yet stable")

type Options struct {
	Timeout  time.Duration
	Stable   time.Duration
	Interval time.Duration
	// progress lines; nil discards
	Stdout io.Writer
	Stderr io.Writer
}

// DefaultOptions returns a 180s timeout, 5s stability window and 1s interval.
func DefaultOptions() Options {
	return Options{Timeout: 180 * time.Second, Stable: 5 * time.Second, Interval: time.Second}
}

func (o Options) Validate() error {
	var errs []error
	if o.Timeout <= 0 {
		errs = append(errs, errors.New("timeout must be greater than 0"))
	}
	if o.Stable <= 0 {
		errs = append(errs, errors.New("stable must be greater than 0"))
	}
	if o.Interval <= 0 {
		errs = append(errs, errors.New("interval must be greater than 0"))
	}
	return errors.Join(errs...)
}

// Pinger reports whether the database answered.
type Pinger func(ctx context.Context) error

// Wait pings until the database has been alive for o.Stable without a
// failure in between. A failed ping resets the window. After o.Timeout it
// returns an error wrapping ErrTimeout and the last ping error.
func Wait(ctx context.Context, ping Pinger, o Options) error {
	if err := o.Validate(); err != nil {
		return err
	}
	stdout, stderr := orDiscard(o.Stdout), orDiscard(o.Stderr)

	ctx, cancel := context.WithTimeout(ctx, o.Timeout)
	defer cancel()

	start := time.Now()
	var aliveSince time.Time
	var lastErr error

	op := func() error {
		if err := ping(ctx); err != nil {
			aliveSince = time.Time{}
			lastErr = err
			fmt.Fprintf(stderr, "database not ready: (cause: %s, elapsed: %s)\n",
				strings.TrimSpace(err.Error()), time.Since(start).Round(time.Millisecond))
			return err
		}
		if aliveSince.IsZero() {
			aliveSince = time.Now()
		}
		up := time.Since(aliveSince)
		fmt.Fprintf(stdout, "connection alive for > %ds\n", int(up.Seconds()))
		if up >= o.Stable {
			return nil
		}
		return errNotStable
	}

	b := backoff.WithContext(backoff.NewConstantBackOff(o.Interval), ctx)
	if err := backoff.Retry(op, b); err != nil {
		if lastErr != nil && aliveSince.IsZero() {
			return xerrors.WithStack(fmt.Errorf("%w: %w", ErrTimeout, lastErr))
		}
		return xerrors.WithStack(fmt.Errorf("%w: %w", ErrTimeout, err))
	}
	return nil
}

// WaitDatabases waits for one named database, or for every configured
// database concurrently when name is AllDatabases.
func WaitDatabases(ctx context.Context, dbs *backends.Databases, name string, o Options) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return errors.New("database must be specified")
	}
	if name != AllDatabases {
		if _, ok := dbs.Get(name); !ok {
			return fmt.Errorf("database %q is not configured (configured: %s)", name, strings.Join(dbs.Names(), ", "))
		}
		return Wait(ctx, func(ctx context.Context) error { return dbs.Ping(ctx, name) }, o)
	}
	if dbs.Len() == 0 {
		return errors.New("no databases configured")
	}

	stdout, stderr := &lockedWriter{w: orDiscard(o.Stdout)}, &lockedWriter{w: orDiscard(o.Stderr)}
	g, gctx := errgroup.WithContext(ctx)
	for _, db := range dbs.All() {
		po := o
		po.Stdout = prefixed(stdout, db.Name)
		po.Stderr = prefixed(stderr, db.Name)
		g.Go(func() error {
			if err := Wait(gctx, func(ctx context.Context) error { return backends.SelectOne(ctx, db.DB) }, po); err != nil {
				return xerrors.Wrapf(err, "database %q", db.Name)
			}
			return nil
		})
	}
	return g.Wait()
}

func orDiscard(w io.Writer) io.Writer {
	if w == nil {
		return io.Discard
	}
	return w
}

type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (l *lockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(p)
}

type prefixWriter struct {
	w      io.Writer
	prefix []byte
}

func prefixed(w io.Writer, name string) io.Writer {
	return prefixWriter{w: w, prefix: []byte(name + ": ")}
}

// Write assumes one line per call, which holds for Wait's Fprintf calls.
func (p prefixWriter) Write(b []byte) (int, error) {
	if _, err := p.w.Write(append(append([]byte(nil), p.prefix...), b...)); err != nil {
		return 0, err
	}
	return len(b), nil
}
