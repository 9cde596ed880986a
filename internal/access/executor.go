package access

import (
	"context"
	"database/sql"
	"errors"

	"github.com/mattn/go-sqlite3"

	"github.com/roach88/rowmodel/pkg/modelerr"
)

// Executor is the database handle an operation receives. It is backed by
// the queue's connection or, inside a transaction, by the open *sql.Tx.
//
// Errors returned by ExecContext and QueryContext are already converted to
// QUERY_FAILED *modelerr.Error values.
type Executor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// rawExecutor is satisfied by *sql.Conn and *sql.Tx.
type rawExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type executor struct {
	raw rawExecutor
}

func (e executor) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	res, err := e.raw.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, QueryFailed(query, err)
	}
	return res, nil
}

func (e executor) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	rows, err := e.raw.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, QueryFailed(query, err)
	}
	return rows, nil
}

func (e executor) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	return e.raw.QueryRowContext(ctx, query, args...)
}

// QueryFailed converts a driver error into a QUERY_FAILED error. The
// SQLite result code is kept in DBCode when the driver reports one.
// Errors that already carry a modelerr code are returned unchanged.
func QueryFailed(query string, err error) error {
	if err == nil {
		return nil
	}
	var me *modelerr.Error
	if errors.As(err, &me) {
		return err
	}
	code := 0
	var se sqlite3.Error
	if errors.As(err, &se) {
		code = int(se.Code)
	}
	qf := modelerr.NewQueryFailed(code, err.Error(), err)
	if query != "" {
		qf.Message = query + ": " + qf.Message
	}
	return qf
}

// asQueryFailed extracts the QUERY_FAILED error in err's chain, converting
// a bare sqlite3.Error (surfaced by Scan or Rows.Err) on the way.
func asQueryFailed(err error) (*modelerr.Error, bool) {
	var me *modelerr.Error
	if errors.As(err, &me) {
		return me, me.Code == modelerr.CodeQueryFailed
	}
	var se sqlite3.Error
	if errors.As(err, &se) {
		return modelerr.NewQueryFailed(int(se.Code), se.Error(), err), true
	}
	return nil, false
}
