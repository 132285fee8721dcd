package checks

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/keithlinneman/kprobe/internal/log"
	"github.com/keithlinneman/kprobe/internal/readiness"
)

// HeadBucketAPI is the subset of *s3.Client the bucket check needs.
type HeadBucketAPI interface {
	HeadBucket(ctx context.Context, in *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
}

// Bucket verifies an S3 bucket exists and is reachable with the process's
// credentials.
type Bucket struct {
	Client HeadBucketAPI
	Bucket string
	Logger log.Logger
}

func (b *Bucket) Name() string { return "s3" }

func (b *Bucket) Check(ctx context.Context) readiness.Outcome {
	_, err := b.Client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(b.Bucket)})
	if err != nil {
		loggerOr(ctx, b.Logger).Warn(ctx, "s3 readiness check failed", "bucket", b.Bucket, "err", err)
		return readiness.NotReady("s3: could not reach bucket '" + b.Bucket + "'")
	}
	return readiness.Ready()
}
