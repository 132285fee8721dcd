// Package probehttp exposes readiness over HTTP, both as middleware that
// intercepts probe paths ahead of the application's router and as
// dedicated handlers for an admin listener.
package probehttp
