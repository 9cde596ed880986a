package rowmodel

import (
	"context"
	"errors"
	"fmt"

	"github.com/roach88/rowmodel/internal/keygen"
	"github.com/roach88/rowmodel/internal/notify"
	"github.com/roach88/rowmodel/pkg/modelerr"
)

func coerceKey(t *ModelType, key any) (any, error) {
	if key == nil {
		return nil, fmt.Errorf("%s: nil primary key", t.Name())
	}
	k, err := t.PrimaryKeyColumn().Coerce(key)
	if err != nil {
		return nil, fmt.Errorf("%s: primary key: %w", t.Name(), err)
	}
	return k, nil
}

// Instance returns the live instance of t keyed by key, loading it from
// the database when it is not in memory. When no row exists the result
// is a new, unsaved instance holding key and the column defaults.
func (db *DB) Instance(ctx context.Context, t *ModelType, key any) (*Instance, error) {
	return db.fetch(ctx, t, key, true)
}

// Existing is like Instance but returns nil when no row exists.
func (db *DB) Existing(ctx context.Context, t *ModelType, key any) (*Instance, error) {
	return db.fetch(ctx, t, key, false)
}

func (db *DB) fetch(ctx context.Context, t *ModelType, key any, create bool) (*Instance, error) {
	if err := db.checkType(t); err != nil {
		return nil, err
	}
	k, err := coerceKey(t, key)
	if err != nil {
		return nil, err
	}
	if db.closed.Load() {
		return nil, modelerr.NewDatabaseClosed()
	}
	if inst := db.instances.Get(t, k); inst != nil && (create || inst.ExistsInDatabase()) {
		return inst, nil
	}

	// The instance is registered on the worker so an external write
	// queued behind this load finds it and reloads it.
	var inst *Instance
	err = db.run(ctx, func(ctx context.Context, ex Executor) error {
		row, err := loadRow(ctx, ex, t, k)
		if err != nil || (row == nil && !create) {
			return err
		}
		inst, _, err = db.instances.FetchOrInsert(t, k, func() (*Instance, error) {
			if row == nil {
				return newInstance(db, t, k), nil
			}
			return loadedInstance(db, t, row), nil
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	if inst == nil || (!create && !inst.ExistsInDatabase()) {
		return nil, nil
	}
	return inst, nil
}

// New returns a new, unsaved instance of t with a generated primary key
// that is used by no row and no live instance. It gives up with
// PRIMARY_KEY_EXHAUSTED after keygen.MaxAttempts candidates.
func (db *DB) New(ctx context.Context, t *ModelType) (*Instance, error) {
	if err := db.checkType(t); err != nil {
		return nil, err
	}
	gen := db.hooksFor(t).keys

	var inst *Instance
	err := db.run(ctx, func(ctx context.Context, ex Executor) error {
		for attempt := 1; attempt <= keygen.MaxAttempts; attempt++ {
			k, err := coerceKey(t, gen.NewKey(t))
			if err != nil {
				return err
			}
			if db.instances.Get(t, k) != nil {
				continue
			}
			row, err := loadRow(ctx, ex, t, k)
			if err != nil {
				return err
			}
			if row != nil {
				continue
			}
			fresh := newInstance(db, t, k)
			got, err := db.instances.Insert(t, k, fresh)
			if err != nil {
				return err
			}
			if got != fresh {
				continue
			}
			inst = fresh
			return nil
		}
		db.logger.Error("primary key generation exhausted", "type", t.Name(), "attempts", keygen.MaxAttempts)
		return modelerr.NewPrimaryKeyExhausted(t.Name(), keygen.MaxAttempts)
	})
	if err != nil {
		return nil, err
	}
	return inst, nil
}

// Save writes the instance's unsaved changes: an INSERT for new
// instances, an UPDATE of the changed columns otherwise. Nothing is
// written when nothing changed.
//
// Within one worker operation the row is written, the instance marked
// clean, the query cache invalidated and the change event posted.
func (inst *Instance) Save(ctx context.Context) error {
	return inst.db.save(ctx, inst, nil, true)
}

// SaveFunc runs modify on the worker and then saves, so no other
// database operation can interleave between the two. An error from modify
// aborts the save.
func (inst *Instance) SaveFunc(ctx context.Context, modify func(inst *Instance) error) error {
	return inst.db.save(ctx, inst, modify, true)
}

// SaveWithoutNotifications is SaveFunc without the change event. Caches
// are still invalidated. modify may be nil.
func (inst *Instance) SaveWithoutNotifications(ctx context.Context, modify func(inst *Instance) error) error {
	return inst.db.save(ctx, inst, modify, false)
}

func (db *DB) save(ctx context.Context, inst *Instance, modify func(*Instance) error, post bool) error {
	t := inst.typ
	return db.run(ctx, func(ctx context.Context, ex Executor) error {
		if inst.IsDeleted() {
			return modelerr.NewAlreadyDeleted(t.Name(), inst.key)
		}
		if modify != nil {
			if err := modify(inst); err != nil {
				return err
			}
		}
		plan, err := inst.planSave()
		if err != nil || plan == nil {
			return err
		}
		hooks := db.hooksFor(t)
		if err := hooks.check(ctx, inst, plan.kind); err != nil {
			return err
		}
		if err := writeRow(ctx, ex, inst, plan); err != nil {
			hooks.fail(ctx, inst, plan.kind, err)
			return err
		}

		db.remember(inst)
		inst.commitSave(plan)
		if _, err := db.instances.Insert(t, inst.key, inst); err != nil {
			return err
		}
		var changed []string
		if plan.kind == KindUpdate {
			changed = plan.fields
		}
		db.invalidate(t, changed)
		db.logger.Debug("instance saved", "type", t.Name(), "key", inst.key, "kind", plan.kind.String())

		if post {
			db.center.Post(ctx, notify.Change[*Instance]{
				Type:          t,
				Kind:          plan.kind,
				Instance:      inst,
				ChangedFields: changed,
				OldValues:     plan.oldValues,
			})
		}
		if hooks.written != nil {
			hooks.written(ctx, inst, plan.kind)
		}
		return nil
	})
}

func writeRow(ctx context.Context, ex Executor, inst *Instance, plan *savePlan) error {
	t := inst.typ
	args := make([]any, 0, len(plan.fields)+1)
	for _, f := range plan.fields {
		args = append(args, encodeArg(t, f, plan.values[f]))
	}
	if plan.kind == KindInsert {
		_, err := ex.ExecContext(ctx, insertSQL(t, plan.fields), args...)
		return err
	}
	args = append(args, encodeArg(t, t.PrimaryKey(), inst.key))
	res, err := ex.ExecContext(ctx, updateSQL(t, plan.fields), args...)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return modelerr.NewNotFound(t.Name(), inst.key)
	}
	return nil
}

// check consults the save guard. A veto becomes SAVE_REFUSED and is
// reported to the refused hook.
func (h typeHooks) check(ctx context.Context, inst *Instance, kind Kind) error {
	if h.guard == nil {
		return nil
	}
	err := h.guard(ctx, inst, kind)
	if err == nil {
		return nil
	}
	refused := modelerr.NewSaveRefused(inst.typ.Name(), inst.key, err.Error())
	refused.Err = err
	if h.refused != nil {
		h.refused(ctx, inst, kind, refused)
	}
	return refused
}

func (h typeHooks) fail(ctx context.Context, inst *Instance, kind Kind, err error) {
	if h.failed != nil {
		h.failed(ctx, inst, kind, err)
	}
}

// SaveAll saves every loaded instance of t and of the types extending it
// that has unsaved changes, in one transaction. A nil t saves every
// loaded instance. An instance that fails to save does not stop the
// others; the errors are returned joined after the commit.
func (db *DB) SaveAll(ctx context.Context, t *ModelType) error {
	if t != nil {
		if err := db.checkType(t); err != nil {
			return err
		}
	}
	return db.TransactionForPerformance(ctx, func(ctx context.Context) error {
		var loaded []*Instance
		if t == nil {
			loaded = db.instances.All()
		} else {
			loaded = db.instances.AllLoaded(t)
		}
		var errs []error
		saved := 0
		for _, inst := range loaded {
			if !inst.HasUnsavedChanges() {
				continue
			}
			if err := inst.Save(ctx); err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", inst, err))
				continue
			}
			saved++
		}
		db.logger.Debug("save all", "loaded", len(loaded), "saved", saved, "failed", len(errs))
		return errors.Join(errs...)
	})
}

// Delete removes the instance's row and marks it deleted. Deleting an
// unsaved instance only marks it. Deleted instances leave the identity
// map; a later Instance call for the same key yields a different object.
func (inst *Instance) Delete(ctx context.Context) error {
	db, t := inst.db, inst.typ
	return db.run(ctx, func(ctx context.Context, ex Executor) error {
		if inst.IsDeleted() {
			return modelerr.NewAlreadyDeleted(t.Name(), inst.key)
		}
		exists := inst.ExistsInDatabase()
		if !exists {
			db.forget(ctx, inst, false)
			return nil
		}
		hooks := db.hooksFor(t)
		if err := hooks.check(ctx, inst, KindDelete); err != nil {
			return err
		}
		if _, err := ex.ExecContext(ctx, deleteSQL(t), encodeArg(t, t.PrimaryKey(), inst.key)); err != nil {
			hooks.fail(ctx, inst, KindDelete, err)
			return err
		}
		db.forget(ctx, inst, true)
		if hooks.written != nil {
			hooks.written(ctx, inst, KindDelete)
		}
		return nil
	})
}

// forget marks inst deleted and drops it from the identity map. When its
// row existed, caches are invalidated and a delete event posted.
func (db *DB) forget(ctx context.Context, inst *Instance, existed bool) {
	db.remember(inst)
	inst.markDeleted()
	db.instances.RemoveIf(inst.typ, inst.key, inst)
	if !existed {
		return
	}
	db.invalidate(inst.typ, nil)
	db.logger.Debug("instance deleted", "type", inst.typ.Name(), "key", inst.key)
	db.center.Post(ctx, notify.Change[*Instance]{Type: inst.typ, Kind: KindDelete, Instance: inst})
}

// Reload replaces the instance's values with its current row, discarding
// unsaved changes. Columns the database changed since the last load are
// reported in an update event. If the row is gone the instance becomes
// deleted (with a delete event when it had existed) and NOT_FOUND is
// returned.
func (inst *Instance) Reload(ctx context.Context) error {
	db, t := inst.db, inst.typ
	return db.run(ctx, func(ctx context.Context, ex Executor) error {
		if inst.IsDeleted() {
			return modelerr.NewAlreadyDeleted(t.Name(), inst.key)
		}
		row, err := loadRow(ctx, ex, t, inst.key)
		if err != nil {
			return err
		}
		existed := inst.ExistsInDatabase()
		if row == nil {
			if existed {
				db.forget(ctx, inst, true)
			}
			return modelerr.NewNotFound(t.Name(), inst.key)
		}
		db.remember(inst)
		res, err := inst.applyRow(row, true, nil)
		if err != nil {
			return err
		}
		db.postReload(ctx, inst, existed, res)
		return nil
	})
}

func (db *DB) postReload(ctx context.Context, inst *Instance, existed bool, res reloadResult) {
	if !existed || len(res.changed) == 0 {
		return
	}
	db.invalidate(inst.typ, res.changed)
	db.center.Post(ctx, notify.Change[*Instance]{
		Type:          inst.typ,
		Kind:          KindUpdate,
		Instance:      inst,
		ChangedFields: res.changed,
		OldValues:     res.oldValues,
	})
}
