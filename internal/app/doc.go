// Package app wires configuration to the readiness subsystem: it opens the
// backends named in the backends file, registers the builtin checks, and
// builds the evaluator shared by every probe surface.
package app
