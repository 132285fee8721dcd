package checks

import (
	"context"
	"fmt"

	"github.com/keithlinneman/kprobe/internal/backends"
	"github.com/keithlinneman/kprobe/internal/log"
	"github.com/keithlinneman/kprobe/internal/readiness"
)

// Cache verifies every cache that can report server stats has all of its
// configured servers reachable. Caches without stats are skipped.
type Cache struct {
	Caches *backends.Caches
	Logger log.Logger
}

func (c *Cache) Name() string { return "cache" }

func (c *Cache) Check(ctx context.Context) readiness.Outcome {
	for _, nc := range c.Caches.All() {
		sr, ok := nc.Cache.(backends.StatsReporter)
		if !ok {
			continue
		}
		st, err := sr.Stats(ctx)
		if err != nil {
			loggerOr(ctx, c.Logger).Warn(ctx, "cache readiness check failed", "cache", nc.Name, "err", err)
			return readiness.NotReady("cache: could not connect to cache '" + nc.Name + "'")
		}
		if st.Healthy < st.Configured {
			return readiness.NotReady(fmt.Sprintf("cache: cache '%s' is not responding (%d/%d servers)", nc.Name, st.Healthy, st.Configured))
		}
	}
	return readiness.Ready()
}
