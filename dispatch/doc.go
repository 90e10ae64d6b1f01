// Package dispatch performs one-shot query, mutation and action calls.
//
// Every call gets a correlation id, a deadline and an optional retry policy.
// A retry re-sends with a fresh correlation id and deadline; cancellation
// always wins over any remaining retry budget. Mutations are sent in the
// order callers submit them unless a call opts out.
//
// Transports are pluggable: the default rides the persistent socket via the
// connection manager; an HTTP transport wraps the one-shot POST endpoint.
package dispatch
