// Package access serializes every database operation of one open database
// through a single worker goroutine.
//
// Callers submit operations with Queue.Run and block until the worker has
// executed them, in FIFO order. An operation that itself calls Run (with
// the context it was given) runs inline on the worker, so reentrant code
// such as a notification handler that queries the database never
// deadlocks.
//
// Transactions are operations too. Transaction begins, runs its body and
// commits or rolls back before the next queued operation starts, which
// gives multi-statement atomicity. TransactionForPerformance joins an
// already open transaction instead of failing.
//
// Context cancellation is not honored once an operation is queued: the
// worker always runs it to completion. Contexts are still passed through
// for their values.
package access
