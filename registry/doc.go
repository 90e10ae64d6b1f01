// Package registry multiplexes many observers onto shared live queries.
//
// A live query is keyed by its fingerprint (function path plus canonical
// argument encoding). The first Subscribe for a fingerprint opens one
// wire-level subscription; later subscribers share it and bump a refcount.
// The last Unsubscribe closes it. Server updates replace the cached last
// value and fan out to observers in registration order, outside the
// registry's structural lock. Deliveries for one query are serialized so a
// late observer's cached catch-up never trails a newer update; an observer
// must not subscribe to its own query from inside a callback.
package registry
