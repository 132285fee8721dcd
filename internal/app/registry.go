package app

import (
	"context"
	"errors"
	"strings"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/keithlinneman/kprobe/internal/cfg"
	"github.com/keithlinneman/kprobe/internal/checks"
	"github.com/keithlinneman/kprobe/internal/probehttp"
	"github.com/keithlinneman/kprobe/internal/readiness"
	"github.com/keithlinneman/kprobe/internal/xerrors"
)

// Builtin check names accepted by --readiness-checks.
const (
	CheckShutdown    = "shutdown"
	CheckDatabase    = "database"
	CheckCache       = "cache"
	CheckS3          = "s3"
	CheckAlwaysReady = "always-ready"
	CheckAlwaysFail  = "always-fail"
)

// NewRegistry registers the builtin checks over d. Factories run only for
// the checks actually selected, so an unconfigured s3 bucket is an error
// only when "s3" is listed.
func NewRegistry(d *Deps) *readiness.Registry {
	r := readiness.NewRegistry()
	r.RegisterCheck(CheckShutdown, d.Gate)
	r.RegisterCheck(CheckDatabase, &checks.Database{DBs: d.Databases, Logger: d.Logger})
	r.RegisterCheck(CheckCache, &checks.Cache{Caches: d.Caches, Logger: d.Logger})
	r.RegisterCheck(CheckAlwaysReady, checks.Fixed(true, ""))
	r.RegisterCheck(CheckAlwaysFail, checks.Fixed(false, "always-fail: configured to fail"))
	r.Register(CheckS3, func(ctx context.Context) (readiness.Check, error) {
		if d.S3Bucket == "" {
			return nil, errors.New("--s3-bucket is required")
		}
		client := d.S3
		if client == nil {
			var opts []func(*awsconfig.LoadOptions) error
			if d.S3Region != "" {
				opts = append(opts, awsconfig.WithRegion(d.S3Region))
			}
			awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
			if err != nil {
				return nil, xerrors.Wrap(err, "load aws config")
			}
			client = s3.NewFromConfig(awsCfg)
		}
		return &checks.Bucket{Client: client, Bucket: d.S3Bucket, Logger: d.Logger}, nil
	})
	return r
}

// BuildEvaluator resolves --readiness-checks against r. Every surface of a
// process must use the evaluator returned here so verdicts agree.
func BuildEvaluator(ctx context.Context, r *readiness.Registry, c cfg.App, opts ...readiness.Option) (*readiness.Evaluator, error) {
	return r.Build(ctx, c.ReadinessChecks, opts...)
}

// Paths converts the configured path lists, dropping blanks.
func Paths(c cfg.App) probehttp.Paths {
	return probehttp.Paths{Ready: trimmed(c.ReadyPaths), Health: trimmed(c.HealthPaths)}
}

func trimmed(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
