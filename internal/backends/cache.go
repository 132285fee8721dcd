package backends

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Cache is the minimal key/value surface the application uses.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Close() error
}

// Stats is a point-in-time view of a cache cluster.
type Stats struct {
	Configured int
	Healthy    int
}

// StatsReporter is implemented by caches that can report per-server health.
type StatsReporter interface {
	Stats(ctx context.Context) (Stats, error)
}

// NamedCache is one entry in a Caches set.
type NamedCache struct {
	Name  string
	Cache Cache
}

// Caches is an immutable, name-ordered set of caches.
type Caches struct {
	items []NamedCache
}

// OpenCaches builds a cache per spec. Memcached clients dial lazily.
func OpenCaches(specs map[string]CacheSpec) (*Caches, error) {
	set := &Caches{}
	for _, name := range sortedKeys(specs) {
		spec := specs[name]
		var c Cache
		switch spec.kind() {
		case CacheMemcached:
			m, err := NewMemcached(spec.Servers, spec.Timeout)
			if err != nil {
				_ = set.Close()
				return nil, fmt.Errorf("cache %q: %w", name, err)
			}
			c = m
		case CacheMemory:
			c = NewMemory()
		default:
			_ = set.Close()
			return nil, fmt.Errorf("cache %q: unknown backend %q", name, spec.Backend)
		}
		set.items = append(set.items, NamedCache{Name: name, Cache: c})
	}
	return set, nil
}

// NewCaches wraps existing caches, keyed by name.
func NewCaches(caches map[string]Cache) *Caches {
	set := &Caches{}
	for _, name := range sortedKeys(caches) {
		set.items = append(set.items, NamedCache{Name: name, Cache: caches[name]})
	}
	return set
}

func (s *Caches) All() []NamedCache {
	if s == nil {
		return nil
	}
	return s.items
}

func (s *Caches) Len() int { return len(s.All()) }

func (s *Caches) Get(name string) (Cache, bool) {
	for _, c := range s.All() {
		if c.Name == name {
			return c.Cache, true
		}
	}
	return nil, false
}

func (s *Caches) Close() error {
	var errs []error
	for _, c := range s.All() {
		if err := c.Cache.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close cache %q: %w", c.Name, err))
		}
	}
	return errors.Join(errs...)
}
