// Package ratelimit throttles the host application per client address.
//
// Limits are kept in memory for a single process. The limiter sits behind
// the probe interceptor, so liveness and readiness answers are never
// throttled no matter how often an orchestrator polls.
package ratelimit
