package rowmodel

import (
	"context"
	"database/sql"
	"io/fs"
	"log/slog"
	"time"

	"github.com/roach88/rowmodel/internal/access"
	"github.com/roach88/rowmodel/internal/store"
)

// Option configures Open.
type Option func(*options)

type options struct {
	logger        *slog.Logger
	store         store.Options
	onQueryFailed access.FailureHandler
	initializer   func(ctx context.Context, db *sql.DB) error
	builder       SchemaBuilder
	migrations    fs.FS
	migrationsDir string
	schemaFiles   []string
	watch         bool
	debounce      time.Duration
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithQueryFailedHandler decides what a QUERY_FAILED error turns into
// when it reaches a top-level call. The default panics; pass
// ReturnQueryFailure to get the error back instead.
func WithQueryFailedHandler(h func(err *Error) error) Option {
	return func(o *options) { o.onQueryFailed = h }
}

// WithInitializer runs fn on the freshly opened database before any
// migration or schema builder, for example to set extra pragmas.
func WithInitializer(fn func(ctx context.Context, db *sql.DB) error) Option {
	return func(o *options) { o.initializer = fn }
}

// WithSchemaBuilder sets the version-stepping schema builder. See
// SchemaBuilder.
func WithSchemaBuilder(b SchemaBuilder) Option {
	return func(o *options) { o.builder = b }
}

// WithMigrations applies the goose SQL migrations in dir of fsys at open.
func WithMigrations(fsys fs.FS, dir string) Option {
	return func(o *options) {
		o.migrations = fsys
		o.migrationsDir = dir
	}
}

// WithSchemaFiles registers the model types declared in the given CUE,
// YAML or JSON files.
func WithSchemaFiles(paths ...string) Option {
	return func(o *options) { o.schemaFiles = append(o.schemaFiles, paths...) }
}

// WithJournalMode sets the SQLite journal mode. Defaults to WAL.
func WithJournalMode(mode string) Option {
	return func(o *options) { o.store.JournalMode = mode }
}

// WithBusyTimeout sets how long statements wait on another process's
// lock. Defaults to 5s.
func WithBusyTimeout(d time.Duration) Option {
	return func(o *options) { o.store.BusyTimeout = d }
}

// WithWatchExternal watches the database file for commits made by other
// processes and reloads loaded instances when one is seen. debounce is
// the quiet period after the last file event; zero means 100ms.
func WithWatchExternal(debounce time.Duration) Option {
	return func(o *options) {
		o.watch = true
		o.debounce = debounce
	}
}
