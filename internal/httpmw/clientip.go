package httpmw

import (
	"context"
	"net"
	"net/http"
	"strings"
)

type clientIPKey struct{}

// ClientIP stores the client address in the context. X-Forwarded-For is
// only honoured from private peers and only when trustedHops > 0, in which
// case the Nth entry from the right is used. Untrusted forwarding headers
// are stripped.
func ClientIP(trustedHops int) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := WithClientIP(r.Context(), clientAddr(r, trustedHops))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func clientAddr(r *http.Request, trustedHops int) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return "0.0.0.0"
	}
	if (!ip.IsPrivate() && !ip.IsLoopback()) || trustedHops <= 0 {
		stripForwarded(r)
		return host
	}
	xf := r.Header.Get("X-Forwarded-For")
	if xf == "" {
		return host
	}
	parts := strings.Split(xf, ",")
	idx := len(parts) - trustedHops
	if idx < 0 {
		// fewer entries than proxies
		stripForwarded(r)
		return host
	}
	if c := strings.TrimSpace(parts[idx]); net.ParseIP(c) != nil {
		return c
	}
	return host
}

func stripForwarded(r *http.Request) {
	r.Header.Del("X-Forwarded-For")
	r.Header.Del("X-Forwarded-Proto")
}

func ClientIPFromContext(ctx context.Context) string {
	s, _ := ctx.Value(clientIPKey{}).(string)
	return s
}

func WithClientIP(ctx context.Context, ip string) context.Context {
	if ip == "" {
		return ctx
	}
	return context.WithValue(ctx, clientIPKey{}, ip)
}
