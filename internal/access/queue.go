package access

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync/atomic"
	"time"

	"github.com/roach88/rowmodel/pkg/modelerr"
)

// Op is an operation executed on the worker. ctx carries the caller's
// values and marks the worker so nested Run calls execute inline.
type Op func(ctx context.Context, ex Executor) error

// FailureHandler decides what happens to a QUERY_FAILED error. The
// returned error replaces the failure; returning nil recovers.
type FailureHandler func(err *modelerr.Error) error

// PanicOnFailure is the default FailureHandler. Query failures are
// programming or storage errors and stop the process.
func PanicOnFailure(err *modelerr.Error) error {
	panic(err)
}

// ReturnFailure is a FailureHandler that hands the error back to the
// caller unchanged.
func ReturnFailure(err *modelerr.Error) error {
	return err
}

// Observer receives queue measurements and transaction boundaries.
// All methods are called on the worker goroutine.
type Observer interface {
	OpFinished(wait, run time.Duration, err error)
	TxBegan(ctx context.Context)
	TxCommitted(ctx context.Context)
	TxRolledBack(ctx context.Context)
}

// Option configures a Queue.
type Option func(*Queue)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(q *Queue) { q.logger = l }
}

// WithFailureHandler sets the QUERY_FAILED handler. Defaults to
// PanicOnFailure.
func WithFailureHandler(h FailureHandler) Option {
	return func(q *Queue) { q.onFailure = h }
}

// WithObserver registers an observer. Later observers run after earlier.
func WithObserver(o Observer) Option {
	return func(q *Queue) { q.observers = append(q.observers, o) }
}

// Queue owns one database connection and runs operations against it one
// at a time on a dedicated goroutine.
type Queue struct {
	conn      *sql.Conn
	jobs      *jobQueue
	done      chan struct{}
	logger    *slog.Logger
	onFailure FailureHandler
	observers []Observer

	// Worker-owned.
	tx *sql.Tx
}

// marker records which queues the current goroutine is running an op for.
// A marker is active only while its op runs; a ctx that outlives its op
// queues like any other.
type marker struct {
	q      *Queue
	parent *marker
	active atomic.Bool
}

type markerKey struct{}

// New takes a dedicated connection from db and starts the worker.
func New(ctx context.Context, db *sql.DB, opts ...Option) (*Queue, error) {
	conn, err := db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire connection: %w", err)
	}
	q := &Queue{
		conn:      conn,
		jobs:      newJobQueue(),
		done:      make(chan struct{}),
		logger:    slog.Default(),
		onFailure: PanicOnFailure,
	}
	for _, opt := range opts {
		opt(q)
	}
	go q.loop()
	return q, nil
}

// Run executes op on the worker and blocks until it returns. Called from
// within an op (with that op's ctx) it runs inline. A panic in op is
// re-raised in the caller's goroutine.
//
// A QUERY_FAILED error escaping a top-level op goes through the failure
// handler, whose result is returned.
func (q *Queue) Run(ctx context.Context, op Op) error {
	if q.Running(ctx) {
		return op(ctx, q.executor())
	}

	j := &job{
		ctx:      ctx,
		op:       op,
		enqueued: time.Now(),
		done:     make(chan result, 1),
	}
	if !q.jobs.Enqueue(j) {
		return modelerr.NewDatabaseClosed()
	}
	res := <-j.done
	if res.panicked {
		panic(res.panicVal)
	}
	return q.handle(res.err)
}

// Running reports whether ctx belongs to an op this queue is running,
// meaning a Run with ctx would execute inline.
func (q *Queue) Running(ctx context.Context) bool {
	if ctx == nil {
		return false
	}
	m, _ := ctx.Value(markerKey{}).(*marker)
	for ; m != nil; m = m.parent {
		if m.q == q && m.active.Load() {
			return true
		}
	}
	return false
}

// InTransaction reports whether ctx is running inside an open transaction
// of this queue.
func (q *Queue) InTransaction(ctx context.Context) bool {
	return q.Running(ctx) && q.tx != nil
}

// Pending returns the number of operations waiting for the worker.
func (q *Queue) Pending() int {
	return q.jobs.Len()
}

// Close stops accepting operations, lets queued ones finish, and releases
// the connection. Close must not be called from within an op.
func (q *Queue) Close() error {
	q.jobs.Close()
	<-q.done
	return q.conn.Close()
}

func (q *Queue) executor() Executor {
	if q.tx != nil {
		return executor{raw: q.tx}
	}
	return executor{raw: q.conn}
}

func (q *Queue) loop() {
	defer close(q.done)
	for {
		if j, ok := q.jobs.TryDequeue(); ok {
			q.execute(j)
			continue
		}
		if q.jobs.Closed() {
			return
		}
		<-q.jobs.Wait()
	}
}

func (q *Queue) execute(j *job) {
	parent, _ := j.ctx.Value(markerKey{}).(*marker)
	m := &marker{q: q, parent: parent}
	m.active.Store(true)
	ctx := context.WithValue(context.WithoutCancel(j.ctx), markerKey{}, m)

	start := time.Now()
	var res result
	func() {
		defer func() {
			if r := recover(); r != nil {
				q.logger.Error("panic in database operation",
					"panic", r,
					"stack", string(debug.Stack()))
				res = result{panicked: true, panicVal: r}
			}
		}()
		defer m.active.Store(false)
		res.err = j.op(ctx, q.executor())
	}()

	for _, o := range q.observers {
		o.OpFinished(start.Sub(j.enqueued), time.Since(start), res.err)
	}
	j.done <- res
}

func (q *Queue) handle(err error) error {
	if err == nil {
		return nil
	}
	qf, ok := asQueryFailed(err)
	if !ok {
		return err
	}
	q.logger.Error("query failed",
		"code", qf.DBCode,
		"error", qf.Message)
	return q.onFailure(qf)
}
