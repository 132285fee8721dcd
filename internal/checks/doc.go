// Package checks provides the built-in readiness checks: SQL databases,
// cache clusters, an S3 bucket, the shutdown drain gate and static
// outcomes. Every check turns dependency failures into a NotReady outcome
// with a short, stable cause; details go to the log.
package checks
