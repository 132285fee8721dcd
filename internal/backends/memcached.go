package backends

import (
	"context"
	"errors"
	"time"

	"github.com/bradfitz/gomemcache/memcache"
	"golang.org/x/sync/errgroup"
)

const defaultMemcachedTimeout = 500 * time.Millisecond

// Memcached is a memcached cluster client. Stats pings every configured
// server individually so a partially reachable cluster is visible.
type Memcached struct {
	client  *memcache.Client
	servers []string
	// one single-server client per entry in servers
	nodes []*memcache.Client
}

func NewMemcached(servers []string, timeout time.Duration) (*Memcached, error) {
	if len(servers) == 0 {
		return nil, errors.New("memcached: no servers configured")
	}
	if timeout <= 0 {
		timeout = defaultMemcachedTimeout
	}
	var sl memcache.ServerList
	if err := sl.SetServers(servers...); err != nil {
		return nil, err
	}
	m := &Memcached{
		client:  memcache.NewFromSelector(&sl),
		servers: append([]string(nil), servers...),
		nodes:   make([]*memcache.Client, len(servers)),
	}
	m.client.Timeout = timeout
	for i, s := range servers {
		n := memcache.New(s)
		n.Timeout = timeout
		m.nodes[i] = n
	}
	return m, nil
}

func (m *Memcached) Servers() []string { return m.servers }

func (m *Memcached) Get(_ context.Context, key string) ([]byte, bool, error) {
	it, err := m.client.Get(key)
	if errors.Is(err, memcache.ErrCacheMiss) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return it.Value, true, nil
}

// Set stores value for ttl, rounded down to whole seconds (minimum one).
func (m *Memcached) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	secs := int32(ttl / time.Second)
	if secs < 1 {
		secs = 1
	}
	return m.client.Set(&memcache.Item{Key: key, Value: value, Expiration: secs})
}

func (m *Memcached) Delete(_ context.Context, key string) error {
	err := m.client.Delete(key)
	if errors.Is(err, memcache.ErrCacheMiss) {
		return nil
	}
	return err
}

// Stats pings each server concurrently. Unreachable servers lower Healthy;
// the error is reserved for a cancelled or expired ctx.
func (m *Memcached) Stats(ctx context.Context) (Stats, error) {
	alive := make([]bool, len(m.nodes))
	var g errgroup.Group
	for i, n := range m.nodes {
		g.Go(func() error {
			alive[i] = n.Ping() == nil
			return nil
		})
	}

	done := make(chan struct{})
	go func() {
		_ = g.Wait()
		close(done)
	}()
	select {
	case <-ctx.Done():
		return Stats{Configured: len(m.nodes)}, ctx.Err()
	case <-done:
	}

	st := Stats{Configured: len(m.nodes)}
	for _, ok := range alive {
		if ok {
			st.Healthy++
		}
	}
	return st, nil
}

func (m *Memcached) Close() error {
	errs := []error{m.client.Close()}
	for _, n := range m.nodes {
		errs = append(errs, n.Close())
	}
	return errors.Join(errs...)
}

var (
	_ Cache         = (*Memcached)(nil)
	_ StatsReporter = (*Memcached)(nil)
)
