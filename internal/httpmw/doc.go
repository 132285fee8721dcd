// Package httpmw provides HTTP middleware for the public server.
//
// httpserver.NewHandler composes them in order: security headers, panic
// recovery, request ID, client IP, metrics, the probe interceptor, OTel
// tracing, trace response headers, logger injection, and finally the chi
// router with access logging.
//
// Probe paths are answered before tracing and logging so orchestrator
// polling does not flood traces or logs.
package httpmw
