// Package rowmodel maps rows of an embedded SQLite database to live,
// uniquely identified in-memory instances.
//
// One DB owns everything that belongs to a database file: the access
// queue that serializes every statement onto a single connection, the
// identity map that guarantees at most one live *Instance per
// (type, primary key), the query cache, and the notification center.
// Nothing is process-global; several DBs can be open side by side.
//
// Thread-safety model:
//   - Every DB method is safe for concurrent use.
//   - Database work runs on the DB's worker goroutine in FIFO order.
//     Calling back into the DB with the ctx handed to a callback (a
//     transaction body, an InDatabase op, an event handler) runs inline
//     on the worker instead of queueing behind itself.
//   - Instance field access is guarded per instance.
//
// Event handlers run synchronously on whichever goroutine flushed the
// event. For writes that is the worker, so a handler must use the ctx it
// receives for any further database calls.
package rowmodel
