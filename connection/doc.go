// Package connection owns the persistent socket to the backend.
//
// The Manager runs a five-state machine (Disconnected, Connecting,
// Connected, Reconnecting, Failed) with lazy connect on first use and a
// configurable reconnection policy. It serializes all outbound writes, runs
// a single inbound read pump that routes frames to the subscription registry
// and the request dispatcher, and replays every live subscription before a
// (re)connection is published as Connected.
package connection
