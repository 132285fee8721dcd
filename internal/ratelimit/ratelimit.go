package ratelimit

import (
	"context"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/keithlinneman/kprobe/internal/httpmw"
)

type client struct {
	limiter  *rate.Limiter
	lastSeen time.Time
	// reset on eviction so a returning client is reported again
	reported bool
}

// Limiter hands each client address a token bucket and evicts idle ones.
type Limiter struct {
	mu      sync.Mutex
	clients map[string]*client
	full    bool

	perSecond  rate.Limit
	burst      int
	ttl        time.Duration
	maxClients int

	onDenied    func(addr string, first bool)
	onCapacity  func()
	retryAfterS string
}

type Option func(*Limiter)

// WithRate refills perSecond tokens per second into a bucket of burst.
func WithRate(perSecond float64, burst int) Option {
	return func(l *Limiter) {
		l.perSecond = rate.Limit(perSecond)
		l.burst = burst
	}
}

// WithTTL evicts clients idle for longer than d.
func WithTTL(d time.Duration) Option {
	return func(l *Limiter) {
		if d > 0 {
			l.ttl = d
		}
	}
}

// WithMaxClients caps tracked clients. New clients are denied at capacity;
// known ones keep their buckets. 0 disables the cap.
func WithMaxClients(n int) Option {
	return func(l *Limiter) { l.maxClients = n }
}

// WithOnDenied runs on every denial. first is set the first time addr is
// denied since it was last evicted, for log-once reporting.
func WithOnDenied(fn func(addr string, first bool)) Option {
	return func(l *Limiter) { l.onDenied = fn }
}

// WithOnCapacity runs once each time the client table fills up.
func WithOnCapacity(fn func()) Option {
	return func(l *Limiter) { l.onCapacity = fn }
}

// New starts the eviction loop, which ends with ctx.
func New(ctx context.Context, opts ...Option) *Limiter {
	l := &Limiter{
		clients:     make(map[string]*client),
		perSecond:   10,
		burst:       30,
		ttl:         5 * time.Minute,
		maxClients:  10000,
		retryAfterS: "30",
	}
	for _, o := range opts {
		o(l)
	}
	go l.evictLoop(ctx)
	return l
}

// Allow reports whether addr may proceed now.
func (l *Limiter) Allow(addr string) bool {
	now := time.Now()
	l.mu.Lock()
	c, ok := l.clients[addr]
	if !ok {
		if l.maxClients > 0 && len(l.clients) >= l.maxClients {
			notify := !l.full
			l.full = true
			l.mu.Unlock()
			if notify && l.onCapacity != nil {
				l.onCapacity()
			}
			l.denied(addr, false)
			return false
		}
		c = &client{limiter: rate.NewLimiter(l.perSecond, l.burst)}
		l.clients[addr] = c
	}
	c.lastSeen = now
	allowed := c.limiter.AllowN(now, 1)
	first := false
	if !allowed && !c.reported {
		c.reported = true
		first = true
	}
	// hooks may log or touch metrics, never call them under the lock
	l.mu.Unlock()

	if !allowed {
		l.denied(addr, first)
	}
	return allowed
}

func (l *Limiter) denied(addr string, first bool) {
	if l.onDenied != nil {
		l.onDenied(addr, first)
	}
}

// Len returns the number of tracked clients.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.clients)
}

func (l *Limiter) evictLoop(ctx context.Context) {
	t := time.NewTicker(l.ttl / 2)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			l.evict(now)
		}
	}
}

func (l *Limiter) evict(now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for addr, c := range l.clients {
		if now.Sub(c.lastSeen) > l.ttl {
			delete(l.clients, addr)
		}
	}
	if l.maxClients <= 0 || len(l.clients) < l.maxClients {
		l.full = false
	}
}

// Middleware answers 429 for clients over their limit. The client address
// comes from httpmw.ClientIP.
func (l *Limiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !l.Allow(httpmw.ClientIPFromContext(r.Context())) {
			w.Header().Set("Content-Type", "application/json; charset=utf-8")
			w.Header().Set("Retry-After", l.retryAfterS)
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"error":"too many requests"}` + "\n"))
			return
		}
		next.ServeHTTP(w, r)
	})
}
