package otelx

import (
	"context"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

func TestInit_Disabled(t *testing.T) {
	shutdown, err := Init(context.Background(), Options{Enabled: false, Sample: 99})
	if err != nil {
		t.Fatalf("Init disabled: %v", err)
	}
	if _, ok := otel.GetTracerProvider().(*sdktrace.TracerProvider); !ok {
		t.Fatalf("TracerProvider type = %T, want *sdktrace.TracerProvider", otel.GetTracerProvider())
	}

	_, span := otel.Tracer("test").Start(context.Background(), "span")
	if !span.SpanContext().IsValid() {
		t.Fatal("disabled provider should still mint span IDs")
	}
	span.End()

	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("second shutdown: %v", err)
	}
}

func TestInit_SetsPropagator(t *testing.T) {
	if _, err := Init(context.Background(), Options{}); err != nil {
		t.Fatalf("Init: %v", err)
	}
	fields := map[string]bool{}
	for _, f := range otel.GetTextMapPropagator().Fields() {
		fields[f] = true
	}
	if !fields["traceparent"] || !fields["baggage"] {
		t.Fatalf("propagator fields = %v", fields)
	}
}

func TestInit_EnabledRequiresEndpoint(t *testing.T) {
	if _, err := Init(context.Background(), Options{Enabled: true}); err == nil {
		t.Fatal("expected error for missing endpoint")
	}
}

func TestServiceName(t *testing.T) {
	tests := []struct{ svc, comp, want string }{
		{"kprobe", "serve", "kprobe.serve"},
		{"kprobe", "", "kprobe"},
		{"", "serve", "serve"},
	}
	for _, tt := range tests {
		if got := ServiceName(tt.svc, tt.comp); got != tt.want {
			t.Errorf("ServiceName(%q, %q) = %q, want %q", tt.svc, tt.comp, got, tt.want)
		}
	}
}

func TestClampSample(t *testing.T) {
	tests := []struct{ in, want float64 }{
		{-1, 0}, {0, 0}, {0.25, 0.25}, {1, 1}, {7, 1}, {math.NaN(), 0},
	}
	for _, tt := range tests {
		if got := ClampSample(tt.in); got != tt.want {
			t.Errorf("ClampSample(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestSkipPaths(t *testing.T) {
	f := SkipPaths(func(r *http.Request) bool { return r.URL.Path == "/readyz" })
	if f(httptest.NewRequest(http.MethodGet, "/readyz", nil)) {
		t.Fatal("probe path should be filtered out")
	}
	if !f(httptest.NewRequest(http.MethodGet, "/api", nil)) {
		t.Fatal("other paths should be traced")
	}
	if !SkipPaths(nil)(httptest.NewRequest(http.MethodGet, "/readyz", nil)) {
		t.Fatal("nil matcher should trace everything")
	}
}
