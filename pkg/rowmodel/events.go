package rowmodel

import (
	"context"

	"github.com/roach88/rowmodel/pkg/modelerr"
)

// Subscribe registers h for events of t and of types extending it; a nil
// t subscribes to every type. Options narrow the subscription by kind or
// changed fields. The returned function cancels it.
func (db *DB) Subscribe(t *ModelType, h Handler, opts ...SubscribeOption) (cancel func()) {
	return db.center.Subscribe(t, h, opts...)
}

// LastEventSeq returns the sequence number of the last delivered event,
// or 0 when none has been delivered since Open.
func (db *DB) LastEventSeq() int64 {
	return db.center.LastSeq()
}

// BeginBatch starts coalescing events: until EndBatch, changes are merged
// into one event per (type, kind). Batches do not nest.
func (db *DB) BeginBatch() error {
	if db.closed.Load() {
		return modelerr.NewDatabaseClosed()
	}
	return db.center.BeginBatch()
}

// EndBatch closes the batch, delivering the merged events when flush is
// true and dropping them otherwise. Without a matching BeginBatch it
// returns UNMATCHED_END_BATCH.
func (db *DB) EndBatch(ctx context.Context, flush bool) error {
	return db.center.EndBatch(ctx, flush)
}

// Transaction runs body in a database transaction, committing when body
// returns true and a nil error and rolling back otherwise (a panic rolls
// back and is re-raised). Transactions do not nest: calling Transaction
// from within body fails with ALREADY_IN_TRANSACTION.
//
// Events for writes inside body are held back and delivered merged after
// the commit; a rollback drops them. In-memory instances are not
// reverted by a rollback.
//
// body must use the ctx it receives for every database call.
func (db *DB) Transaction(ctx context.Context, body func(ctx context.Context) (commit bool, err error)) error {
	if db.closed.Load() {
		return modelerr.NewDatabaseClosed()
	}
	return db.queue.Transaction(ctx, func(ctx context.Context, _ Executor) (bool, error) {
		return body(ctx)
	})
}

// TransactionForPerformance runs body inside a transaction purely to
// speed up many writes. Within an open transaction it just runs body.
// Otherwise the transaction always commits, and body's error, if any, is
// returned afterwards. Events are deferred as in Transaction.
func (db *DB) TransactionForPerformance(ctx context.Context, body func(ctx context.Context) error) error {
	if db.closed.Load() {
		return modelerr.NewDatabaseClosed()
	}
	return db.queue.TransactionForPerformance(ctx, func(ctx context.Context, _ Executor) error {
		return body(ctx)
	})
}

// IsInTransaction reports whether ctx is running inside a transaction of
// this DB.
func (db *DB) IsInTransaction(ctx context.Context) bool {
	return db.queue.InTransaction(ctx)
}
