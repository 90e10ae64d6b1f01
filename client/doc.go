// Package client wires the full engine together behind one facade: socket
// connection, subscription registry, call dispatcher, HTTP fallback and
// pagination, configured from a single ClientConfig.
package client
