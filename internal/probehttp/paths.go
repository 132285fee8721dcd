package probehttp

import (
	"slices"
	"strconv"
	"strings"

	"github.com/keithlinneman/kprobe/internal/readiness"
	"github.com/keithlinneman/kprobe/internal/xerrors"
)

// Kind says how a probe path is answered.
type Kind int

const (
	KindNone Kind = iota
	// KindHealth always answers 200 Ok without running checks.
	KindHealth
	// KindReady runs the readiness evaluator.
	KindReady
)

func (k Kind) String() string {
	switch k {
	case KindHealth:
		return "health"
	case KindReady:
		return "ready"
	default:
		return "none"
	}
}

// Paths is the configured probe path lists.
type Paths struct {
	Ready  []string
	Health []string
}

// DefaultPaths returns /readyz for readiness and /healthz, /livez for
// liveness.
func DefaultPaths() Paths {
	return Paths{Ready: []string{"/readyz"}, Health: []string{"/healthz", "/livez"}}
}

// PathTable maps exact request paths to a Kind. Immutable.
type PathTable struct {
	kinds  map[string]Kind
	ready  []string
	health []string
}

// NewPathTable validates p. A path in both lists, a path that is relative
// or not clean, or no paths at all is a *readiness.ConfigError.
func NewPathTable(p Paths) (*PathTable, error) {
	t := &PathTable{kinds: make(map[string]Kind)}
	add := func(raw string, k Kind) error {
		path := strings.TrimSpace(raw)
		if path == "" {
			return nil
		}
		if !strings.HasPrefix(path, "/") {
			return &readiness.ConfigError{Reason: "probe path " + strconv.Quote(path) + " must start with /"}
		}
		// request paths are matched verbatim and never carry these
		if hasDotSegment(path) || strings.Contains(path, "//") {
			return &readiness.ConfigError{Reason: "probe path " + strconv.Quote(path) + " must not contain empty, . or .. segments"}
		}
		if prev, ok := t.kinds[path]; ok {
			if prev != k {
				return &readiness.ConfigError{Reason: "probe path " + strconv.Quote(path) + " is both a ready and a health path"}
			}
			return nil
		}
		t.kinds[path] = k
		if k == KindReady {
			t.ready = append(t.ready, path)
		} else {
			t.health = append(t.health, path)
		}
		return nil
	}
	for _, path := range p.Ready {
		if err := add(path, KindReady); err != nil {
			return nil, xerrors.WithStack(err)
		}
	}
	for _, path := range p.Health {
		if err := add(path, KindHealth); err != nil {
			return nil, xerrors.WithStack(err)
		}
	}
	if len(t.kinds) == 0 {
		return nil, xerrors.WithStack(&readiness.ConfigError{Reason: "no probe paths configured"})
	}
	return t, nil
}

// Lookup returns the Kind for an exact path, KindNone when unmatched.
func (t *PathTable) Lookup(path string) Kind {
	return t.kinds[path]
}

func (t *PathTable) ReadyPaths() []string  { return slices.Clone(t.ready) }
func (t *PathTable) HealthPaths() []string { return slices.Clone(t.health) }

func hasDotSegment(p string) bool {
	for _, seg := range strings.Split(p, "/") {
		if seg == "." || seg == ".." {
			return true
		}
	}
	return false
}
