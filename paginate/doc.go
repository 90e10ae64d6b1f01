// Package paginate loads query results in cursor-delimited pages and
// reconciles them with a live subscription feed.
//
// A Paginator owns one logical paged query. LoadNext fetches the next
// page through the dispatcher; MergeWithSubscription overlays the
// subscription's current snapshot onto the loaded history, inferring
// deletions inside the window the subscription covers. Both serialize on
// the paginator's lock, and notifications fire outside it.
package paginate
