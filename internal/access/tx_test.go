package access

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/rowmodel/pkg/modelerr"
)

type recordingObserver struct {
	events []string
}

func (r *recordingObserver) OpFinished(time.Duration, time.Duration, error) {}
func (r *recordingObserver) TxBegan(context.Context)                      { r.events = append(r.events, "begin") }
func (r *recordingObserver) TxCommitted(context.Context)                  { r.events = append(r.events, "commit") }
func (r *recordingObserver) TxRolledBack(context.Context)                 { r.events = append(r.events, "rollback") }

func TestQueue_TransactionCommits(t *testing.T) {
	obs := &recordingObserver{}
	q, mock := newMockQueue(t, WithObserver(obs))
	mock.ExpectBegin()
	mock.ExpectExec("UPDATE people").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := q.Transaction(context.Background(), func(ctx context.Context, ex Executor) (bool, error) {
		assert.True(t, q.InTransaction(ctx))
		_, err := ex.ExecContext(ctx, "UPDATE people SET name = 'x'")
		return true, err
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
	assert.Equal(t, []string{"begin", "commit"}, obs.events)
}

func TestQueue_TransactionRollsBackOnFalse(t *testing.T) {
	obs := &recordingObserver{}
	q, mock := newMockQueue(t, WithObserver(obs))
	mock.ExpectBegin()
	mock.ExpectRollback()

	err := q.Transaction(context.Background(), func(context.Context, Executor) (bool, error) {
		return false, nil
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
	assert.Equal(t, []string{"begin", "rollback"}, obs.events)
}

func TestQueue_TransactionRollsBackOnError(t *testing.T) {
	q, mock := newMockQueue(t)
	mock.ExpectBegin()
	mock.ExpectRollback()
	want := errors.New("validation")

	err := q.Transaction(context.Background(), func(context.Context, Executor) (bool, error) {
		return true, want
	})
	assert.ErrorIs(t, err, want)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestQueue_TransactionRollsBackOnPanic(t *testing.T) {
	q, mock := newMockQueue(t)
	mock.ExpectBegin()
	mock.ExpectRollback()

	assert.Panics(t, func() {
		_ = q.Transaction(context.Background(), func(context.Context, Executor) (bool, error) {
			panic("in tx")
		})
	})
	assert.NoError(t, mock.ExpectationsWereMet())
	assert.False(t, q.InTransaction(context.Background()))
}

func TestQueue_TransactionNestingFails(t *testing.T) {
	q, mock := newMockQueue(t)
	mock.ExpectBegin()
	mock.ExpectCommit()

	var nested error
	err := q.Transaction(context.Background(), func(ctx context.Context, _ Executor) (bool, error) {
		nested = q.Transaction(ctx, func(context.Context, Executor) (bool, error) {
			return true, nil
		})
		return true, nil
	})
	require.NoError(t, err)
	assert.True(t, modelerr.IsAlreadyInTransaction(nested))
	assert.ErrorIs(t, nested, modelerr.ErrAlreadyInTransaction)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestQueue_TransactionForPerformanceJoinsOpenTransaction(t *testing.T) {
	q, mock := newMockQueue(t)
	mock.ExpectBegin()
	mock.ExpectExec("INSERT").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	err := q.Transaction(context.Background(), func(ctx context.Context, _ Executor) (bool, error) {
		err := q.TransactionForPerformance(ctx, func(ctx context.Context, ex Executor) error {
			_, err := ex.ExecContext(ctx, "INSERT INTO t VALUES (1)")
			return err
		})
		return err == nil, err
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestQueue_TransactionForPerformanceCommits(t *testing.T) {
	q, mock := newMockQueue(t)
	mock.ExpectBegin()
	mock.ExpectExec("INSERT").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT").WillReturnResult(sqlmock.NewResult(2, 1))
	mock.ExpectCommit()

	err := q.TransactionForPerformance(context.Background(), func(ctx context.Context, ex Executor) error {
		for range 2 {
			if _, err := ex.ExecContext(ctx, "INSERT INTO t DEFAULT VALUES"); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestQueue_TransactionForPerformanceCommitsDespiteError(t *testing.T) {
	q := newSQLiteQueue(t)
	boom := errors.New("boom")

	err := q.TransactionForPerformance(context.Background(), func(ctx context.Context, ex Executor) error {
		if _, err := ex.ExecContext(ctx, `UPDATE counter SET n = 7 WHERE id = 1`); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 7, readCounter(t, q))
	assert.False(t, q.InTransaction(context.Background()))
}

func TestQueue_TransactionRollbackLeavesSQLiteUnchanged(t *testing.T) {
	q := newSQLiteQueue(t)

	err := q.Transaction(context.Background(), func(ctx context.Context, ex Executor) (bool, error) {
		_, err := ex.ExecContext(ctx, `UPDATE counter SET n = 99 WHERE id = 1`)
		return false, err
	})
	require.NoError(t, err)
	assert.Equal(t, 0, readCounter(t, q))

	err = q.Transaction(context.Background(), func(ctx context.Context, ex Executor) (bool, error) {
		_, err := ex.ExecContext(ctx, `UPDATE counter SET n = 7 WHERE id = 1`)
		return true, err
	})
	require.NoError(t, err)
	assert.Equal(t, 7, readCounter(t, q))
}

func TestQueue_MustNotBeInTransaction(t *testing.T) {
	q, mock := newMockQueue(t)
	mock.ExpectBegin()
	mock.ExpectRollback()

	assert.NoError(t, q.MustNotBeInTransaction(context.Background(), "vacuum"))
	_ = q.Transaction(context.Background(), func(ctx context.Context, _ Executor) (bool, error) {
		err := q.MustNotBeInTransaction(ctx, "vacuum")
		assert.True(t, modelerr.IsAlreadyInTransaction(err))
		return false, nil
	})
}
