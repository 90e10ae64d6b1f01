// Package protocol defines the wire frames exchanged over the persistent
// socket, the HTTP one-shot envelope, and the typed error taxonomy shared by
// every subsystem.
//
// Socket frames, client to server:
//   - {"type":"subscribe", "subscriptionId", "path", "args"}
//   - {"type":"unsubscribe", "subscriptionId"}
//   - {"type":"request", "requestId", "kind", "path", "args"}
//
// Server to client:
//   - {"type":"update", "subscriptionId", "value"}
//   - {"type":"error", "subscriptionId", "error"}
//   - {"type":"response", "requestId", "status", "value"|"errorMessage","errorData"}
package protocol
