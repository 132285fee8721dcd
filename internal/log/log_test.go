package log

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"strings"
	"testing"

	"go.opentelemetry.io/otel/trace"

	"github.com/keithlinneman/kprobe/internal/xerrors"
)

func newJSON(t *testing.T, opts Options) (Logger, *bytes.Buffer) {
	t.Helper()
	var buf bytes.Buffer
	opts.Writer = &buf
	opts.JSON = true
	l, err := New(opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return l, &buf
}

func decodeLast(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	var m map[string]any
	if err := json.Unmarshal([]byte(lines[len(lines)-1]), &m); err != nil {
		t.Fatalf("decode %q: %v", lines[len(lines)-1], err)
	}
	return m
}

// ParseLevel

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"INFO", slog.LevelInfo},
		{" warn ", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"Error", slog.LevelError},
	}
	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		if err != nil {
			t.Errorf("ParseLevel(%q) error: %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestParseLevel_Invalid(t *testing.T) {
	for _, in := range []string{"", "trace", "fatal"} {
		if _, err := ParseLevel(in); err == nil {
			t.Errorf("ParseLevel(%q) expected error", in)
		}
	}
}

// slogLogger

func TestLogger_BaseAttrs(t *testing.T) {
	l, buf := newJSON(t, Options{App: "kprobe", Version: "1.2.3"})
	l.Info(context.Background(), "hello", "k", "v")

	m := decodeLast(t, buf)
	if m["msg"] != "hello" || m["app"] != "kprobe" || m["version"] != "1.2.3" || m["k"] != "v" {
		t.Fatalf("record = %v", m)
	}
}

func TestLogger_LevelFilter(t *testing.T) {
	l, buf := newJSON(t, Options{Level: slog.LevelWarn})
	l.Debug(context.Background(), "dropped")
	l.Info(context.Background(), "dropped")
	if buf.Len() != 0 {
		t.Fatalf("expected no output below warn, got %q", buf.String())
	}
	l.Warn(context.Background(), "kept")
	if !strings.Contains(buf.String(), "kept") {
		t.Fatal("warn record missing")
	}
}

func TestLogger_WithIsCopyOnWrite(t *testing.T) {
	l, buf := newJSON(t, Options{})
	a := l.With("component", "a")
	_ = a.With("component", "b")

	a.Info(context.Background(), "x")
	if m := decodeLast(t, buf); m["component"] != "a" {
		t.Fatalf("component = %v, want a", m["component"])
	}
}

func TestLogger_DropsNonStringKeys(t *testing.T) {
	l, buf := newJSON(t, Options{})
	l.Info(context.Background(), "x", 42, "v", "ok", "yes", "dangling")
	m := decodeLast(t, buf)
	if m["ok"] != "yes" {
		t.Fatalf("record = %v", m)
	}
	if _, ok := m["dangling"]; ok {
		t.Fatal("odd trailing key must be ignored")
	}
}

func TestLogger_Error(t *testing.T) {
	l, buf := newJSON(t, Options{ErrorLinks: 4})
	base := errors.New("connection refused")
	err := xerrors.Wrap(base, "ping database")
	l.Error(context.Background(), err, "check failed", "check", "database")

	m := decodeLast(t, buf)
	if m["err"] != "ping database: connection refused" {
		t.Fatalf("err = %v", m["err"])
	}
	if m["cause_type"] != "*errors.errorString" {
		t.Fatalf("cause_type = %v", m["cause_type"])
	}
	if _, ok := m["stack"]; !ok {
		t.Fatal("error records carry a stack")
	}
	chain, ok := m["error_chain"].([]any)
	if !ok || len(chain) != 2 {
		t.Fatalf("error_chain = %v", m["error_chain"])
	}
	if _, ok := m["error_links"]; !ok {
		t.Fatal("error_links requested but missing")
	}
}

func TestLogger_StackFromError(t *testing.T) {
	l, buf := newJSON(t, Options{})
	l.Error(context.Background(), xerrors.New("boom"), "failed")
	m := decodeLast(t, buf)
	stack, _ := m["stack"].(string)
	if !strings.Contains(stack, "TestLogger_StackFromError") {
		t.Fatalf("stack should start at the error origin, got %q", stack)
	}
}

func TestInternalFrame(t *testing.T) {
	tests := []struct {
		fn, file string
		want     bool
	}{
		{"log/slog.(*Logger).log", "/go/src/log/slog/logger.go", true},
		{"github.com/keithlinneman/kprobe/internal/log.(*logger).Error", "/src/internal/log/slog.go", true},
		{"github.com/keithlinneman/kprobe/internal/xerrors.New", "/src/internal/xerrors/xerrors.go", true},
		{"github.com/keithlinneman/kprobe/internal/log.TestSomething", "/src/internal/log/log_test.go", false},
		{"github.com/keithlinneman/kprobe/internal/app.Open", "/src/internal/app/deps.go", false},
	}
	for _, tt := range tests {
		if got := internalFrame(runtime.Frame{Function: tt.fn, File: tt.file}); got != tt.want {
			t.Fatalf("internalFrame(%s) = %v, want %v", tt.fn, got, tt.want)
		}
	}
}

func TestLogger_TraceIDs(t *testing.T) {
	l, buf := newJSON(t, Options{})
	tid, _ := trace.TraceIDFromHex("0102030405060708090a0b0c0d0e0f10")
	sid, _ := trace.SpanIDFromHex("0102030405060708")
	sc := trace.NewSpanContext(trace.SpanContextConfig{TraceID: tid, SpanID: sid, TraceFlags: trace.FlagsSampled})
	ctx := trace.ContextWithSpanContext(context.Background(), sc)

	l.Info(ctx, "traced")
	m := decodeLast(t, buf)
	if m["trace_id"] != tid.String() || m["span_id"] != sid.String() {
		t.Fatalf("trace attrs = %v/%v", m["trace_id"], m["span_id"])
	}
}

func TestClassifyTypes_SkipsWrappers(t *testing.T) {
	type myErr struct{ error }
	err := fmt.Errorf("outer: %w", xerrors.WithStack(&myErr{errors.New("inner")}))
	surface, root := classifyTypes(err)
	if !strings.HasSuffix(surface, "myErr") {
		t.Fatalf("surface = %q", surface)
	}
	// myErr has no Unwrap so it is also the root
	if root != surface {
		t.Fatalf("root = %q, want %q", root, surface)
	}
}

// context / nop

func TestFromContext(t *testing.T) {
	if FromContext(context.Background()) == nil {
		t.Fatal("FromContext must never return nil")
	}
	l, buf := newJSON(t, Options{})
	ctx := WithContext(context.Background(), l)
	FromContext(ctx).Info(ctx, "via ctx")
	if !strings.Contains(buf.String(), "via ctx") {
		t.Fatal("logger from context not used")
	}
}

func TestNop(t *testing.T) {
	n := Nop()
	n.With("a", 1).Error(context.Background(), errors.New("x"), "ignored")
	if err := n.Sync(); err != nil {
		t.Fatalf("Sync: %v", err)
	}
}
