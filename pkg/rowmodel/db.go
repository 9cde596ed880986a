package rowmodel

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/roach88/rowmodel/internal/access"
	"github.com/roach88/rowmodel/internal/identity"
	"github.com/roach88/rowmodel/internal/metrics"
	"github.com/roach88/rowmodel/internal/monitor"
	"github.com/roach88/rowmodel/internal/notify"
	"github.com/roach88/rowmodel/internal/querycache"
	"github.com/roach88/rowmodel/internal/store"
	"github.com/roach88/rowmodel/pkg/modelerr"
	"github.com/roach88/rowmodel/pkg/schema"
)

// DB is an open database and everything cached for it.
type DB struct {
	path      string
	sqlDB     *sql.DB
	queue     *access.Queue
	registry  *schema.Registry
	instances *identity.Map[Instance]
	cache     *querycache.Cache
	center    *notify.Center[*Instance]
	metrics   *metrics.Metrics
	monitor   *monitor.Monitor
	logger    *slog.Logger

	hooksMu sync.RWMutex
	hooks   map[*ModelType]*typeHooks

	closeMu     sync.Mutex
	closed      atomic.Bool
	dataVersion atomic.Int64

	// Worker-owned. Non-nil while a transaction is open: the types written,
	// whose cache entries a rollback drops, and the row state of every
	// instance written, as it was before its first write.
	touched   map[*ModelType]bool
	txWritten map[*Instance]rowState
}

// Open opens (creating if needed) the SQLite database at path, brings its
// schema up to date and starts the access queue.
//
// Schema work happens in this order: the initializer, goose migrations,
// then the schema builder, whose final version is stored in
// PRAGMA user_version.
func Open(ctx context.Context, path string, opts ...Option) (*DB, error) {
	o := options{
		logger:        slog.Default(),
		onQueryFailed: access.PanicOnFailure,
	}
	for _, opt := range opts {
		opt(&o)
	}

	sqlDB, err := store.Open(path, o.store)
	if err != nil {
		return nil, err
	}
	if err := prepareSchema(ctx, sqlDB, &o); err != nil {
		sqlDB.Close()
		return nil, err
	}

	db := &DB{
		path:      path,
		sqlDB:     sqlDB,
		registry:  schema.NewRegistry(),
		instances: identity.New[Instance](),
		hooks:     make(map[*ModelType]*typeHooks),
		logger:    o.logger,
	}
	db.metrics = metrics.New(func() float64 { return float64(db.instances.Len()) })
	db.cache = querycache.New(
		querycache.WithLogger(o.logger),
		querycache.WithObserver(db.metrics),
	)
	db.center = notify.NewCenter[*Instance](
		notify.WithLogger(o.logger),
		notify.WithObserver(db.metrics),
	)
	db.queue, err = access.New(ctx, sqlDB,
		access.WithLogger(o.logger),
		access.WithFailureHandler(o.onQueryFailed),
		access.WithObserver(db.metrics),
		access.WithObserver(txHooks{db}),
	)
	if err != nil {
		sqlDB.Close()
		return nil, err
	}

	if err := db.start(ctx, &o); err != nil {
		db.Close()
		return nil, err
	}
	db.logger.Info("database opened", "path", path)
	return db, nil
}

func prepareSchema(ctx context.Context, sqlDB *sql.DB, o *options) error {
	if o.initializer != nil {
		if err := o.initializer(ctx, sqlDB); err != nil {
			return fmt.Errorf("initialize database: %w", err)
		}
	}
	if o.migrations != nil {
		if err := store.MigrateFS(sqlDB, o.migrations, o.migrationsDir); err != nil {
			return err
		}
	}
	version, err := store.BuildSchema(ctx, sqlDB, o.builder)
	if err != nil {
		return err
	}
	o.logger.Debug("schema ready", "user_version", version)
	return nil
}

func (db *DB) start(ctx context.Context, o *options) error {
	if len(o.schemaFiles) > 0 {
		ds, err := schema.LoadFiles(o.schemaFiles...)
		if err != nil {
			return err
		}
		if _, err := db.registry.RegisterAll(ds); err != nil {
			return err
		}
	}

	v, err := db.readDataVersion(ctx)
	if err != nil {
		return err
	}
	db.dataVersion.Store(v)

	if !o.watch {
		return nil
	}
	m, err := monitor.New(db.path, monitor.Options{Debounce: o.debounce, Logger: db.logger},
		db.externalChangeCheck, db.onExternalChange)
	if err != nil {
		return err
	}
	if err := m.Start(); err != nil {
		m.Stop()
		return err
	}
	db.monitor = m
	return nil
}

// Path returns the path the database was opened with.
func (db *DB) Path() string { return db.path }

// IsOpen reports whether Close has not been called yet.
func (db *DB) IsOpen() bool { return !db.closed.Load() }

// Close stops the external change monitor, delivers any open batch,
// forgets every loaded instance and closes the connection. Calls made
// after Close fail with DATABASE_CLOSED.
//
// Close must not be called from an event handler or any other callback
// running on the worker.
func (db *DB) Close() error {
	db.closeMu.Lock()
	defer db.closeMu.Unlock()
	if db.closed.Load() {
		return nil
	}

	var errs []error
	if db.monitor != nil {
		errs = append(errs, db.monitor.Stop())
	}
	db.center.FlushPending(context.Background())
	db.closed.Store(true)

	db.instances.Clear()
	db.cache.Clear()
	errs = append(errs, db.queue.Close(), db.sqlDB.Close())
	db.logger.Info("database closed", "path", db.path)
	return errors.Join(errs...)
}

// run executes op on the worker.
func (db *DB) run(ctx context.Context, op access.Op) error {
	if db.closed.Load() {
		return modelerr.NewDatabaseClosed()
	}
	return db.queue.Run(ctx, op)
}

// Vacuum rebuilds the database file. It fails inside a transaction.
func (db *DB) Vacuum(ctx context.Context) error {
	return db.run(ctx, func(ctx context.Context, ex Executor) error {
		if err := db.queue.MustNotBeInTransaction(ctx, "vacuum"); err != nil {
			return err
		}
		start := time.Now()
		if _, err := ex.ExecContext(ctx, "VACUUM"); err != nil {
			return err
		}
		db.logger.Info("database vacuumed", "path", db.path, "duration", time.Since(start))
		return nil
	})
}

// HandleLowMemory drops every query cache entry and prunes identity-map
// entries whose instances have been collected.
func (db *DB) HandleLowMemory() {
	dropped := db.cache.Clear()
	live := db.instances.Sweep()
	db.logger.Info("low memory: caches cleared",
		"cache_entries", dropped,
		"loaded_instances", live)
}

// Metrics returns the Prometheus registry holding this database's
// collectors.
func (db *DB) Metrics() *prometheus.Registry {
	return db.metrics.Registry()
}

// Pending returns the number of operations waiting for the worker.
func (db *DB) Pending() int {
	return db.queue.Pending()
}

func (db *DB) readDataVersion(ctx context.Context) (int64, error) {
	var v int64
	err := db.run(ctx, func(ctx context.Context, ex Executor) error {
		return ex.QueryRowContext(ctx, "PRAGMA data_version").Scan(&v)
	})
	return v, err
}

// externalChangeCheck compares PRAGMA data_version with the last value
// seen. The value only moves for commits made by other connections.
func (db *DB) externalChangeCheck(ctx context.Context) (bool, error) {
	v, err := db.readDataVersion(ctx)
	if err != nil {
		return false, err
	}
	return db.dataVersion.Swap(v) != v, nil
}

func (db *DB) onExternalChange(ctx context.Context) {
	if err := db.NotifyExternalWrite(ctx, nil); err != nil {
		db.logger.Warn("reload after external change failed", "error", err)
	}
}

// PollExternalChanges checks once for commits made by other connections
// and, if there were any, handles them like NotifyExternalWrite(ctx, nil).
// It works whether or not WithWatchExternal is in use.
func (db *DB) PollExternalChanges(ctx context.Context) (bool, error) {
	changed, err := db.externalChangeCheck(ctx)
	if err != nil || !changed {
		return false, err
	}
	return true, db.NotifyExternalWrite(ctx, nil)
}

// txHooks ties transaction boundaries to notification deferral.
type txHooks struct{ db *DB }

func (txHooks) OpFinished(time.Duration, time.Duration, error) {}

func (h txHooks) TxBegan(context.Context) {
	h.db.touched = make(map[*ModelType]bool)
	h.db.txWritten = make(map[*Instance]rowState)
	h.db.center.BeginDeferred()
}

func (h txHooks) TxCommitted(ctx context.Context) {
	h.db.touched = nil
	h.db.txWritten = nil
	h.db.center.CommitDeferred(ctx)
}

func (h txHooks) TxRolledBack(context.Context) {
	h.db.center.DiscardDeferred()
	for t := range h.db.touched {
		h.db.cache.Invalidate(t, nil)
	}
	for inst, st := range h.db.txWritten {
		h.db.restore(inst, st)
	}
	h.db.touched = nil
	h.db.txWritten = nil
}

// remember records inst's row state before its first write inside the
// open transaction. Outside a transaction it does nothing.
func (db *DB) remember(inst *Instance) {
	if db.txWritten == nil {
		return
	}
	if _, ok := db.txWritten[inst]; !ok {
		db.txWritten[inst] = inst.rowState()
	}
}

// restore puts inst's row state back after a rollback. An instance whose
// delete was rolled back rejoins the identity map, unless another
// instance has taken its key meanwhile; then it stays deleted.
func (db *DB) restore(inst *Instance, st rowState) {
	if !st.deleted && inst.IsDeleted() {
		got, err := db.instances.Insert(inst.typ, inst.key, inst)
		if err != nil || got != inst {
			db.logger.Debug("rolled back delete not restored", "type", inst.typ.Name(), "key", inst.key)
			return
		}
	}
	inst.restoreRowState(st)
}

// invalidate drops the cache entries made stale by a write to t's table.
// Every type stored in that table is affected.
func (db *DB) invalidate(t *ModelType, changedFields []string) {
	for _, st := range db.sameTable(t) {
		db.cache.Invalidate(st, changedFields)
		if db.touched != nil {
			db.touched[st] = true
		}
	}
}

func (db *DB) sameTable(t *ModelType) []*ModelType {
	types := db.registry.ByTable(t.Table())
	for _, st := range types {
		if st == t {
			return types
		}
	}
	return append(types, t)
}
