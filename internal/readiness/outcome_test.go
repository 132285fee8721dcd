package readiness

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
)

// Outcome

func TestReady(t *testing.T) {
	o := Ready()
	if !o.IsReady() {
		t.Fatal("Ready() should be ready")
	}
	if o.StatusCode() != http.StatusOK {
		t.Fatalf("status = %d, want 200", o.StatusCode())
	}
	if o.Cause() != "" {
		t.Fatalf("cause = %q, want empty", o.Cause())
	}
}

func TestNotReady_DefaultStatus(t *testing.T) {
	o := NotReady("disk full")
	if o.IsReady() {
		t.Fatal("NotReady should not be ready")
	}
	if o.StatusCode() != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", o.StatusCode())
	}
	if o.Cause() != "disk full" {
		t.Fatalf("cause = %q, want 'disk full'", o.Cause())
	}
}

func TestNotReady_EmptyCause(t *testing.T) {
	if got := NotReady("").Cause(); got != "not ready" {
		t.Fatalf("cause = %q, want 'not ready'", got)
	}
}

func TestNotReadyStatus(t *testing.T) {
	tests := []struct {
		in, want int
	}{
		{http.StatusInternalServerError, http.StatusInternalServerError},
		{http.StatusTooManyRequests, http.StatusTooManyRequests},
		{http.StatusOK, http.StatusServiceUnavailable},
		{0, http.StatusServiceUnavailable},
		{700, http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		if got := NotReadyStatus("x", tt.in).StatusCode(); got != tt.want {
			t.Errorf("NotReadyStatus(%d) status = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestOutcome_ZeroValueIsNotReady(t *testing.T) {
	var o Outcome
	if o.IsReady() {
		t.Fatal("zero Outcome must not be ready")
	}
	if o.StatusCode() != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", o.StatusCode())
	}
	if o.Cause() != "not ready" {
		t.Fatalf("cause = %q, want %q", o.Cause(), "not ready")
	}
}

// Adapters

func TestCheckFunc_ImplementsCheck(t *testing.T) {
	var _ Check = CheckFunc(func(context.Context) Outcome { return Ready() })
}

func TestNamed(t *testing.T) {
	c := Named("db", CheckFunc(func(context.Context) Outcome { return Ready() }))
	if CheckName(c) != "db" {
		t.Fatalf("name = %q, want 'db'", CheckName(c))
	}
	if o := c.Check(context.Background()); !o.IsReady() {
		t.Fatalf("Named check = %v, want ready", o)
	}
	failing := Named("cache", CheckFunc(func(context.Context) Outcome { return NotReady("cache down") }))
	if o := failing.Check(context.Background()); o.Cause() != "cache down" {
		t.Fatalf("Named check cause = %q, want %q", o.Cause(), "cache down")
	}
	if Named("x", nil) != nil {
		t.Fatal("Named(nil) should be nil")
	}
}

func TestCheckName_FallsBackToType(t *testing.T) {
	c := CheckFunc(func(context.Context) Outcome { return Ready() })
	if got := CheckName(c); got != "readiness.CheckFunc" {
		t.Fatalf("name = %q, want type name", got)
	}
}

func TestErrorFunc(t *testing.T) {
	ok := ErrorFunc("ok", func(context.Context) error { return nil })
	if o := ok.Check(context.Background()); !o.IsReady() {
		t.Fatalf("nil error should be ready, got %v", o)
	}

	plain := ErrorFunc("plain", func(context.Context) error { return errors.New("queue: backlog too deep") })
	o := plain.Check(context.Background())
	if o.IsReady() || o.Cause() != "queue: backlog too deep" || o.StatusCode() != 503 {
		t.Fatalf("plain error outcome = %v (%d)", o, o.StatusCode())
	}

	typed := ErrorFunc("typed", func(context.Context) error {
		return fmt.Errorf("wrapped: %w", &NotReadyError{Cause: "maintenance", Status: 500})
	})
	o = typed.Check(context.Background())
	if o.Cause() != "maintenance" || o.StatusCode() != 500 {
		t.Fatalf("typed error outcome = %v (%d), want maintenance/500", o, o.StatusCode())
	}
}

func TestIsConfigError(t *testing.T) {
	if !IsConfigError(fmt.Errorf("wrap: %w", &ConfigError{Reason: "x"})) {
		t.Fatal("wrapped ConfigError not detected")
	}
	if IsConfigError(errors.New("other")) {
		t.Fatal("plain error detected as ConfigError")
	}
}
