// Package readiness evaluates an ordered chain of readiness checks into a
// single ready/not-ready [Outcome].
//
// A [Check] reports on one dependency (a database, a cache cluster, a
// shutdown gate, an application-specific condition). An [Evaluator] runs its
// checks in configured order and returns the first NotReady outcome, or
// [Ready] when every check passes. Checks are built once at startup from a
// [Registry] of named factories, so every surface that reports readiness
// (HTTP middleware, admin routes, gRPC, the exec probe) evaluates the same
// configured chain.
//
// Dependency failures are values, not errors: a check converts whatever went
// wrong into a NotReady outcome. A check that panics is recovered at the
// evaluator boundary and reported as not ready. Misconfiguration (no checks,
// unknown check names) is reported as a [*ConfigError] at construction time
// so a process never starts serving with an empty or unresolvable chain.
package readiness
