package backends

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"maps"
	"os"
	"slices"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/keithlinneman/kprobe/internal/xerrors"
)

// File is the on-disk description of the application's backends.
//
//	databases:
//	  default:
//	    driver: postgres
//	    dsn: postgres://app@db:5432/app
//	caches:
//	  default:
//	    backend: memcached
//	    servers: [cache-0:11211, cache-1:11211]
type File struct {
	Databases map[string]DatabaseSpec `yaml:"databases"`
	Caches    map[string]CacheSpec    `yaml:"caches"`
}

type DatabaseSpec struct {
	Driver          string        `yaml:"driver"`
	DSN             string        `yaml:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

type CacheSpec struct {
	// memcached (default when servers are listed) or memory
	Backend string        `yaml:"backend"`
	Servers []string      `yaml:"servers"`
	Timeout time.Duration `yaml:"timeout"`
}

const (
	CacheMemcached = "memcached"
	CacheMemory    = "memory"
)

// LoadFile reads and validates a backends file. An empty path yields an
// empty File.
func LoadFile(path string) (*File, error) {
	if path == "" {
		return &File{}, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, xerrors.Wrapf(err, "read backends file %s", path)
	}
	f, err := ParseFile(b)
	if err != nil {
		return nil, xerrors.Wrapf(err, "backends file %s", path)
	}
	return f, nil
}

// ParseFile decodes YAML, rejecting unknown keys.
func ParseFile(b []byte) (*File, error) {
	f := &File{}
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(f); err != nil && !errors.Is(err, io.EOF) {
		return nil, xerrors.Wrap(err, "decode")
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return f, nil
}

func (f *File) Validate() error {
	var errs []error
	for _, name := range sortedKeys(f.Databases) {
		d := f.Databases[name]
		if name == "" {
			errs = append(errs, errors.New("databases: empty name"))
		}
		if d.Driver == "" {
			errs = append(errs, fmt.Errorf("databases.%s: driver is required", name))
		}
		if d.DSN == "" {
			errs = append(errs, fmt.Errorf("databases.%s: dsn is required", name))
		}
		if d.MaxOpenConns < 0 || d.MaxIdleConns < 0 {
			errs = append(errs, fmt.Errorf("databases.%s: connection limits must be >= 0", name))
		}
	}
	for _, name := range sortedKeys(f.Caches) {
		c := f.Caches[name]
		if name == "" {
			errs = append(errs, errors.New("caches: empty name"))
		}
		switch c.kind() {
		case CacheMemcached:
			if len(c.Servers) == 0 {
				errs = append(errs, fmt.Errorf("caches.%s: memcached requires at least one server", name))
			}
		case CacheMemory:
			if len(c.Servers) > 0 {
				errs = append(errs, fmt.Errorf("caches.%s: memory backend takes no servers", name))
			}
		default:
			errs = append(errs, fmt.Errorf("caches.%s: unknown backend %q (valid: memcached|memory)", name, c.Backend))
		}
		if c.Timeout < 0 {
			errs = append(errs, fmt.Errorf("caches.%s: timeout must be >= 0", name))
		}
	}
	return errors.Join(errs...)
}

func (c CacheSpec) kind() string {
	if c.Backend == "" {
		if len(c.Servers) > 0 {
			return CacheMemcached
		}
		return CacheMemory
	}
	return c.Backend
}

func sortedKeys[V any](m map[string]V) []string {
	return slices.Sorted(maps.Keys(m))
}
