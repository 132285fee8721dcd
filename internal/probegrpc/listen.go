package probegrpc

import (
	"context"
	"net"
	"sync"

	"google.golang.org/grpc"

	"github.com/keithlinneman/kprobe/internal/log"
	"github.com/keithlinneman/kprobe/internal/readiness"
	"github.com/keithlinneman/kprobe/internal/xerrors"
)

// Listener is a running gRPC server exposing only the health service.
type Listener struct {
	Addr net.Addr
	srv  *grpc.Server
	once sync.Once
}

// Start listens on addr and serves the health service backed by ev.
func Start(ctx context.Context, L log.Logger, addr string, ev *readiness.Evaluator, opts ...grpc.ServerOption) (*Listener, error) {
	if L == nil {
		L = log.Nop()
	}
	hs, err := NewServer(ev)
	if err != nil {
		return nil, err
	}
	ln, err := (&net.ListenConfig{}).Listen(ctx, "tcp", addr)
	if err != nil {
		return nil, xerrors.Wrapf(err, "grpc listen on %s", addr)
	}
	srv := grpc.NewServer(opts...)
	hs.Register(srv)

	go func() {
		L.Info(ctx, "server listening", "server", "grpc", "addr", ln.Addr().String())
		if err := srv.Serve(ln); err != nil {
			L.Error(ctx, xerrors.EnsureTrace(err), "server error", "server", "grpc")
		}
	}()
	return &Listener{Addr: ln.Addr(), srv: srv}, nil
}

// Stop drains in-flight calls, forcing the stop when ctx ends first.
func (l *Listener) Stop(ctx context.Context) {
	l.once.Do(func() {
		done := make(chan struct{})
		go func() {
			l.srv.GracefulStop()
			close(done)
		}()
		select {
		case <-done:
		case <-ctx.Done():
			l.srv.Stop()
			<-done
		}
	})
}
