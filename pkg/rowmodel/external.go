package rowmodel

import (
	"context"
	"errors"

	"github.com/roach88/rowmodel/internal/notify"
	"github.com/roach88/rowmodel/internal/sqltemplate"
	"github.com/roach88/rowmodel/pkg/modelerr"
)

// NotifyExternalWrite tells the DB that rows of t (every type when t is
// nil) were written behind its back, by another process or a raw
// statement. On the worker it:
//
//   - drops the query cache entries of the affected types,
//   - reloads every loaded instance of them, posting update events for
//     changed columns and delete events for rows that are gone,
//   - posts one KindUnspecified event per affected type, since rows may
//     also have been inserted.
//
// Loaded instances with conflicting unsaved changes go through the
// type's ConflictResolver. Instances whose conflict cannot be resolved
// are left untouched and their RELOAD_CONFLICT errors are returned
// joined; the remaining instances are still reloaded.
func (db *DB) NotifyExternalWrite(ctx context.Context, t *ModelType) error {
	if t != nil {
		if err := db.checkType(t); err != nil {
			return err
		}
	}
	return db.run(ctx, func(ctx context.Context, ex Executor) error {
		return db.externalWrite(ctx, ex, t)
	})
}

func (db *DB) affectedTypes(t *ModelType) []*ModelType {
	if t == nil {
		return db.registry.Types()
	}
	seen := make(map[*ModelType]bool)
	var out []*ModelType
	for _, st := range append(db.sameTable(t), db.registry.Subtypes(t)...) {
		if !seen[st] {
			seen[st] = true
			out = append(out, st)
		}
	}
	return out
}

// externalWrite runs on the worker.
func (db *DB) externalWrite(ctx context.Context, ex Executor, t *ModelType) error {
	types := db.affectedTypes(t)
	for _, at := range types {
		db.invalidate(at, nil)
	}

	var errs []error
	for _, at := range types {
		for _, inst := range db.instances.AllLoaded(at) {
			if inst.typ != at || !inst.ExistsInDatabase() {
				continue
			}
			if err := db.reloadExternal(ctx, ex, inst); err != nil {
				if !modelerr.IsReloadConflict(err) {
					return err
				}
				db.logger.Warn("external reload conflict", "type", at.Name(), "key", inst.key, "error", err)
				errs = append(errs, err)
			}
		}
	}
	for _, at := range types {
		db.center.Post(ctx, notify.Change[*Instance]{Type: at, Kind: KindUnspecified})
	}
	db.logger.Debug("external write handled", "types", len(types), "conflicts", len(errs))
	return errors.Join(errs...)
}

func (db *DB) reloadExternal(ctx context.Context, ex Executor, inst *Instance) error {
	row, err := loadRow(ctx, ex, inst.typ, inst.key)
	if err != nil {
		return err
	}
	if row == nil {
		db.forget(ctx, inst, true)
		return nil
	}
	db.remember(inst)
	res, err := inst.applyRow(row, false, db.hooksFor(inst.typ).resolver)
	if err != nil {
		return err
	}
	db.postReload(ctx, inst, true, res)
	return nil
}

// Exec runs a data-changing statement written against t (with $T and
// $PK expanded) and then handles it like NotifyExternalWrite(ctx, t).
func (db *DB) Exec(ctx context.Context, t *ModelType, query string, args ...any) error {
	if err := db.checkType(t); err != nil {
		return err
	}
	return db.run(ctx, func(ctx context.Context, ex Executor) error {
		if _, err := ex.ExecContext(ctx, sqltemplate.Expand(query, t), args...); err != nil {
			return err
		}
		return db.externalWrite(ctx, ex, t)
	})
}

// InDatabase runs fn on the worker with raw access to the connection.
// Since fn may have written anything, every query cache entry is dropped
// afterwards and a KindUnspecified event is posted for every type.
// Loaded instances are not reloaded; call NotifyExternalWrite for that.
func (db *DB) InDatabase(ctx context.Context, fn func(ctx context.Context, ex Executor) error) error {
	return db.inDatabase(ctx, fn, true)
}

// InDatabaseWithoutNotifications is InDatabase without the events. The
// query cache is still cleared.
func (db *DB) InDatabaseWithoutNotifications(ctx context.Context, fn func(ctx context.Context, ex Executor) error) error {
	return db.inDatabase(ctx, fn, false)
}

func (db *DB) inDatabase(ctx context.Context, fn func(ctx context.Context, ex Executor) error, post bool) error {
	return db.run(ctx, func(ctx context.Context, ex Executor) error {
		if err := fn(ctx, ex); err != nil {
			return err
		}
		types := db.registry.Types()
		for _, t := range types {
			db.invalidate(t, nil)
		}
		if post {
			for _, t := range types {
				db.center.Post(ctx, notify.Change[*Instance]{Type: t, Kind: KindUnspecified})
			}
		}
		return nil
	})
}
