// Package probegrpc implements the standard gRPC health checking protocol
// on top of the readiness evaluator.
package probegrpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"

	"github.com/keithlinneman/kprobe/internal/readiness"
)

// Service names understood by Check. The empty name is the overall server
// status and maps to readiness.
const (
	ServiceReadiness = "readiness"
	ServiceLiveness  = "liveness"
)

// Server answers grpc.health.v1.Health/Check. Watch and List are left
// unimplemented; orchestrators poll Check.
type Server struct {
	healthpb.UnimplementedHealthServer
	ev *readiness.Evaluator
}

func NewServer(ev *readiness.Evaluator) (*Server, error) {
	if ev == nil {
		return nil, &readiness.ConfigError{Reason: "grpc health server requires a readiness evaluator"}
	}
	return &Server{ev: ev}, nil
}

// Register attaches the health service to s.
func (h *Server) Register(s grpc.ServiceRegistrar) {
	healthpb.RegisterHealthServer(s, h)
}

func (h *Server) Check(ctx context.Context, req *healthpb.HealthCheckRequest) (*healthpb.HealthCheckResponse, error) {
	switch req.GetService() {
	case "", ServiceReadiness:
		o := h.ev.Evaluate(readiness.WithSurface(ctx, readiness.SurfaceGRPC))
		if !o.IsReady() {
			return &healthpb.HealthCheckResponse{Status: healthpb.HealthCheckResponse_NOT_SERVING}, nil
		}
		return &healthpb.HealthCheckResponse{Status: healthpb.HealthCheckResponse_SERVING}, nil
	case ServiceLiveness:
		return &healthpb.HealthCheckResponse{Status: healthpb.HealthCheckResponse_SERVING}, nil
	default:
		return nil, status.Errorf(codes.NotFound, "unknown service %q", req.GetService())
	}
}
