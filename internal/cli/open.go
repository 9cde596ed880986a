package cli

import (
	"context"

	"github.com/roach88/rowmodel/pkg/rowmodel"
)

// openDB opens the configured database with the schema files registered
// and query failures returned as errors.
func openDB(ctx context.Context, opts *RootOptions, extra ...rowmodel.Option) (*rowmodel.DB, error) {
	cfg := opts.Config
	so := cfg.StoreOptions()
	dbOpts := []rowmodel.Option{
		rowmodel.WithLogger(opts.Logger),
		rowmodel.WithQueryFailedHandler(rowmodel.ReturnQueryFailure),
		rowmodel.WithJournalMode(so.JournalMode),
		rowmodel.WithBusyTimeout(so.BusyTimeout),
	}
	if len(cfg.SchemaFiles) > 0 {
		dbOpts = append(dbOpts, rowmodel.WithSchemaFiles(cfg.SchemaFiles...))
	}
	if cfg.WatchExternal {
		dbOpts = append(dbOpts, rowmodel.WithWatchExternal(cfg.WatchDebounce))
	}
	dbOpts = append(dbOpts, extra...)

	db, err := rowmodel.Open(ctx, cfg.Database, dbOpts...)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}
	return db, nil
}

// resolveType returns the registered type named name, registering it
// from the table of the same name when no schema file declares it.
func resolveType(ctx context.Context, db *rowmodel.DB, name string) (*rowmodel.ModelType, error) {
	if t, ok := db.Lookup(name); ok {
		return t, nil
	}
	t, err := db.Introspect(ctx, name, name)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "unknown model type "+name, err)
	}
	return t, nil
}
