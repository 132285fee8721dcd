package readiness

import "context"

// Surface names for the entry points that invoke an evaluation.
const (
	SurfaceHTTP    = "http"
	SurfaceRoute   = "route"
	SurfaceGRPC    = "grpc"
	SurfaceCLI     = "cli"
	SurfaceUnknown = "unknown"
)

type surfaceKey struct{}

// WithSurface tags ctx with the entry point performing the evaluation.
func WithSurface(ctx context.Context, surface string) context.Context {
	return context.WithValue(ctx, surfaceKey{}, surface)
}

func SurfaceFromContext(ctx context.Context) string {
	if s, ok := ctx.Value(surfaceKey{}).(string); ok && s != "" {
		return s
	}
	return SurfaceUnknown
}
