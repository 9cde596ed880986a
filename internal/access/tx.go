package access

import (
	"context"
	"fmt"

	"github.com/roach88/rowmodel/pkg/modelerr"
)

// TxBody is the body of a Transaction. Returning commit=false (or an
// error) rolls back.
type TxBody func(ctx context.Context, ex Executor) (commit bool, err error)

// Transaction runs body inside a database transaction as a single queued
// operation. Nesting fails with ALREADY_IN_TRANSACTION.
func (q *Queue) Transaction(ctx context.Context, body TxBody) error {
	return q.Run(ctx, func(ctx context.Context, _ Executor) error {
		if q.tx != nil {
			return modelerr.NewAlreadyInTransaction()
		}
		return q.inTx(ctx, body)
	})
}

// TransactionForPerformance runs body in a transaction that always
// commits, even when body returns an error; that error is returned after
// the commit. Only a panic rolls back. Inside an open transaction it
// simply runs body there.
func (q *Queue) TransactionForPerformance(ctx context.Context, body Op) error {
	return q.Run(ctx, func(ctx context.Context, ex Executor) error {
		if q.tx != nil {
			return body(ctx, ex)
		}
		var bodyErr error
		err := q.inTx(ctx, func(ctx context.Context, ex Executor) (bool, error) {
			bodyErr = body(ctx, ex)
			return true, nil
		})
		if err != nil {
			return err
		}
		return bodyErr
	})
}

// inTx runs on the worker with no transaction open.
func (q *Queue) inTx(ctx context.Context, body TxBody) (err error) {
	tx, err := q.conn.BeginTx(ctx, nil)
	if err != nil {
		return QueryFailed("BEGIN", err)
	}
	q.tx = tx
	q.logger.Debug("transaction begin")
	for _, o := range q.observers {
		o.TxBegan(ctx)
	}

	committed := false
	defer func() {
		q.tx = nil
		if committed {
			return
		}
		if rbErr := tx.Rollback(); rbErr != nil {
			q.logger.Warn("rollback failed", "error", rbErr)
		}
		q.logger.Debug("transaction rolled back")
		for _, o := range q.observers {
			o.TxRolledBack(ctx)
		}
	}()

	commit, err := body(ctx, executor{raw: tx})
	if err != nil || !commit {
		return err
	}
	if err := tx.Commit(); err != nil {
		return QueryFailed("COMMIT", err)
	}
	committed = true
	q.tx = nil
	q.logger.Debug("transaction committed")
	for _, o := range q.observers {
		o.TxCommitted(ctx)
	}
	return nil
}

// MustNotBeInTransaction returns an error when ctx is inside a transaction
// of q. Operations such as VACUUM use it.
func (q *Queue) MustNotBeInTransaction(ctx context.Context, what string) error {
	if q.InTransaction(ctx) {
		return fmt.Errorf("%s: %w", what, modelerr.NewAlreadyInTransaction())
	}
	return nil
}
