package waitdb

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/keithlinneman/kprobe/internal/backends"
)

func fast() Options {
	return Options{Timeout: 2 * time.Second, Stable: 30 * time.Millisecond, Interval: 5 * time.Millisecond}
}

func TestOptions_Validate(t *testing.T) {
	if err := DefaultOptions().Validate(); err != nil {
		t.Fatalf("defaults invalid: %v", err)
	}
	err := Options{}.Validate()
	if err == nil {
		t.Fatal("zero options should be invalid")
	}
	for _, want := range []string{"timeout", "stable", "interval"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error missing %q: %v", want, err)
		}
	}
}

func TestWait_Stable(t *testing.T) {
	var stdout, stderr bytes.Buffer
	o := fast()
	o.Stdout, o.Stderr = &stdout, &stderr

	var calls atomic.Int32
	err := Wait(context.Background(), func(context.Context) error {
		calls.Add(1)
		return nil
	}, o)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if calls.Load() < 2 {
		t.Fatalf("calls = %d, want repeated pings across the stability window", calls.Load())
	}
	if !strings.Contains(stdout.String(), "connection alive for > 0s") {
		t.Fatalf("stdout = %q", stdout.String())
	}
	if stderr.Len() != 0 {
		t.Fatalf("stderr = %q, want empty", stderr.String())
	}
}

func TestWait_RecoversAfterFailures(t *testing.T) {
	var stderr bytes.Buffer
	o := fast()
	o.Stderr = &stderr

	var calls atomic.Int32
	err := Wait(context.Background(), func(context.Context) error {
		if calls.Add(1) <= 3 {
			return errors.New("connection refused")
		}
		return nil
	}, o)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if got := strings.Count(stderr.String(), "database not ready: (cause: connection refused, elapsed: "); got != 3 {
		t.Fatalf("not-ready lines = %d, want 3:\n%s", got, stderr.String())
	}
}

func TestWait_FlapResetsWindow(t *testing.T) {
	o := fast()
	o.Stable = 40 * time.Millisecond

	start := time.Now()
	var failedAt atomic.Int64
	err := Wait(context.Background(), func(context.Context) error {
		// fail once, 20ms in
		if time.Since(start) > 20*time.Millisecond && failedAt.CompareAndSwap(0, int64(time.Since(start))) {
			return errors.New("reset")
		}
		return nil
	}, o)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if failedAt.Load() == 0 {
		t.Fatal("flap never happened")
	}
	if elapsed := time.Since(start); elapsed < time.Duration(failedAt.Load())+o.Stable {
		t.Fatalf("returned after %v, before a full window following the flap", elapsed)
	}
}

func TestWait_Timeout(t *testing.T) {
	o := fast()
	o.Timeout = 50 * time.Millisecond
	err := Wait(context.Background(), func(context.Context) error { return errors.New("no route to host") }, o)
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("error = %v, want ErrTimeout", err)
	}
	if !strings.Contains(err.Error(), "no route to host") {
		t.Fatalf("error should carry the last cause: %v", err)
	}
}

func TestWait_InvalidOptions(t *testing.T) {
	called := false
	err := Wait(context.Background(), func(context.Context) error { called = true; return nil }, Options{Timeout: time.Second})
	if err == nil {
		t.Fatal("expected validation error")
	}
	if called {
		t.Fatal("must not ping with invalid options")
	}
}

func openSqlite(t *testing.T, names ...string) *backends.Databases {
	t.Helper()
	specs := map[string]backends.DatabaseSpec{}
	for _, n := range names {
		specs[n] = backends.DatabaseSpec{Driver: "sqlite", DSN: filepath.Join(t.TempDir(), n+".db")}
	}
	set, err := backends.OpenDatabases(specs)
	if err != nil {
		t.Fatalf("OpenDatabases: %v", err)
	}
	t.Cleanup(func() { _ = set.Close() })
	return set
}

func TestWaitDatabases_Named(t *testing.T) {
	dbs := openSqlite(t, "default")
	if err := WaitDatabases(context.Background(), dbs, "default", fast()); err != nil {
		t.Fatalf("WaitDatabases: %v", err)
	}
	if err := WaitDatabases(context.Background(), dbs, "replica", fast()); err == nil {
		t.Fatal("expected error for unconfigured database")
	}
	if err := WaitDatabases(context.Background(), dbs, " ", fast()); err == nil {
		t.Fatal("expected error for empty database name")
	}
}

func TestWaitDatabases_All(t *testing.T) {
	dbs := openSqlite(t, "default", "replica")
	var stdout bytes.Buffer
	o := fast()
	o.Stdout = &stdout
	if err := WaitDatabases(context.Background(), dbs, AllDatabases, o); err != nil {
		t.Fatalf("WaitDatabases(all): %v", err)
	}
	for _, name := range []string{"default: connection alive", "replica: connection alive"} {
		if !strings.Contains(stdout.String(), name) {
			t.Fatalf("stdout missing %q:\n%s", name, stdout.String())
		}
	}
}

func TestWaitDatabases_AllOneClosed(t *testing.T) {
	dbs := openSqlite(t, "default", "replica")
	db, _ := dbs.Get("replica")
	_ = db.Close()

	o := fast()
	o.Timeout = 60 * time.Millisecond
	err := WaitDatabases(context.Background(), dbs, AllDatabases, o)
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("error = %v, want ErrTimeout", err)
	}
	if !strings.Contains(err.Error(), `database "replica"`) {
		t.Fatalf("error should name the database: %v", err)
	}
}

func TestWaitDatabases_NoneConfigured(t *testing.T) {
	if err := WaitDatabases(context.Background(), backends.NewDatabases(nil), AllDatabases, fast()); err == nil {
		t.Fatal("expected error with no databases")
	}
}
