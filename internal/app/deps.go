package app

import (
	"context"
	"errors"

	"github.com/keithlinneman/kprobe/internal/backends"
	"github.com/keithlinneman/kprobe/internal/cfg"
	"github.com/keithlinneman/kprobe/internal/checks"
	"github.com/keithlinneman/kprobe/internal/log"
	"github.com/keithlinneman/kprobe/internal/readiness"
	"github.com/keithlinneman/kprobe/internal/xerrors"
)

// Deps are the collaborators the builtin checks read. They are opened once
// per process and closed on exit.
type Deps struct {
	Logger    log.Logger
	Databases *backends.Databases
	Caches    *backends.Caches
	Gate      *checks.Gate

	S3Bucket string
	S3Region string
	// S3 overrides the client built from the default AWS config.
	S3 checks.HeadBucketAPI
}

// Open loads the backends file and opens its pools. A missing or invalid
// file is a *readiness.ConfigError.
func Open(_ context.Context, c cfg.App, L log.Logger) (*Deps, error) {
	if L == nil {
		L = log.Nop()
	}
	file, err := backends.LoadFile(c.BackendsFile)
	if err != nil {
		return nil, xerrors.WithStack(&readiness.ConfigError{Reason: "backends file", Err: err})
	}
	dbs, err := backends.OpenDatabases(file.Databases)
	if err != nil {
		return nil, xerrors.WithStack(&readiness.ConfigError{Reason: "backends file", Err: err})
	}
	caches, err := backends.OpenCaches(file.Caches)
	if err != nil {
		_ = dbs.Close()
		return nil, xerrors.WithStack(&readiness.ConfigError{Reason: "backends file", Err: err})
	}
	L.Debug(context.Background(), "backends opened",
		"databases", dbs.Names(),
		"caches", caches.Len(),
	)
	return &Deps{
		Logger:    L,
		Databases: dbs,
		Caches:    caches,
		Gate:      &checks.Gate{},
		S3Bucket:  c.S3Bucket,
		S3Region:  c.S3Region,
	}, nil
}

// Close releases every pool and client.
func (d *Deps) Close() error {
	if d == nil {
		return nil
	}
	return errors.Join(d.Databases.Close(), d.Caches.Close())
}
