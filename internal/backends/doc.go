// Package backends owns the external collaborators the readiness checks
// inspect: a named set of SQL connection pools and a named set of caches,
// described by a YAML backends file.
//
// Sets are built once at startup and iterated in name order so check
// results are deterministic.
package backends
