// Package api is the HTTP one-shot boundary: query, mutation and action
// calls as POSTs with convex_encoded_json bodies.
//
// Status 560 is an application-level error envelope, not a transport
// failure; it is parsed, never thrown on.
package api
