package rowmodel

import (
	"context"
	"fmt"

	"github.com/roach88/rowmodel/internal/keygen"
	"github.com/roach88/rowmodel/internal/store"
)

type typeHooks struct {
	guard    SaveGuard
	resolver ConflictResolver
	keys     KeyGenerator
	written  WriteHook
	refused  WriteFailedHook
	failed   WriteFailedHook
}

// TypeOption attaches behavior to a registered type.
type TypeOption func(*typeHooks)

// WithSaveGuard installs a guard consulted before every insert, update
// and delete of the type.
func WithSaveGuard(g SaveGuard) TypeOption {
	return func(h *typeHooks) { h.guard = g }
}

// WithConflictResolver installs the resolver used when an external reload
// meets unsaved changes. Without one such a reload fails with
// RELOAD_CONFLICT.
func WithConflictResolver(r ConflictResolver) TypeOption {
	return func(h *typeHooks) { h.resolver = r }
}

// WithAfterWrite installs a hook called after each successful insert,
// update or delete of the type, once the instance reflects the write and
// its event has been posted.
func WithAfterWrite(h WriteHook) TypeOption {
	return func(th *typeHooks) { th.written = h }
}

// WithSaveRefused installs a hook called when the save guard vetoes a
// write. err is the SAVE_REFUSED error returned to the caller.
func WithSaveRefused(h WriteFailedHook) TypeOption {
	return func(th *typeHooks) { th.refused = h }
}

// WithSaveFailed installs a hook called when the database rejects a
// write or an update finds its row gone.
func WithSaveFailed(h WriteFailedHook) TypeOption {
	return func(th *typeHooks) { th.failed = h }
}

// WithKeyGenerator sets the primary-key generator used by New.
func WithKeyGenerator(g KeyGenerator) TypeOption {
	return func(h *typeHooks) { h.keys = g }
}

// Register validates d and adds the resulting model type.
func (db *DB) Register(d Descriptor, opts ...TypeOption) (*ModelType, error) {
	t, err := db.registry.Register(d)
	if err != nil {
		return nil, err
	}
	db.setHooks(t, opts)
	db.logger.Debug("model type registered", "type", t.Name(), "table", t.Table())
	return t, nil
}

// Introspect registers a model type named name whose columns and primary
// key are read from table with PRAGMA table_info.
func (db *DB) Introspect(ctx context.Context, name, table string, opts ...TypeOption) (*ModelType, error) {
	var cols []store.ColumnInfo
	err := db.run(ctx, func(ctx context.Context, ex Executor) error {
		var err error
		cols, err = store.TableInfo(ctx, ex, table)
		return err
	})
	if err != nil {
		return nil, err
	}
	d, err := store.DescriptorFromTable(name, table, cols)
	if err != nil {
		return nil, fmt.Errorf("introspect %s: %w", name, err)
	}
	return db.Register(d, opts...)
}

// Lookup returns the registered type named name.
func (db *DB) Lookup(name string) (*ModelType, bool) {
	return db.registry.Lookup(name)
}

// Types returns every registered type in registration order.
func (db *DB) Types() []*ModelType {
	return db.registry.Types()
}

func (db *DB) setHooks(t *ModelType, opts []TypeOption) {
	h := &typeHooks{}
	for _, opt := range opts {
		opt(h)
	}
	db.hooksMu.Lock()
	defer db.hooksMu.Unlock()
	db.hooks[t] = h
}

// hooksFor returns t's hooks, falling back to the nearest registered
// ancestor's for unset ones.
func (db *DB) hooksFor(t *ModelType) typeHooks {
	db.hooksMu.RLock()
	defer db.hooksMu.RUnlock()

	var out typeHooks
	for cur := t; cur != nil; cur = cur.Parent() {
		h := db.hooks[cur]
		if h == nil {
			continue
		}
		if out.guard == nil {
			out.guard = h.guard
		}
		if out.resolver == nil {
			out.resolver = h.resolver
		}
		if out.keys == nil {
			out.keys = h.keys
		}
		if out.written == nil {
			out.written = h.written
		}
		if out.refused == nil {
			out.refused = h.refused
		}
		if out.failed == nil {
			out.failed = h.failed
		}
	}
	if out.keys == nil {
		out.keys = keygen.Default(t)
	}
	return out
}

func (db *DB) checkType(t *ModelType) error {
	if t == nil {
		return fmt.Errorf("nil model type")
	}
	if reg, ok := db.registry.Lookup(t.Name()); !ok || reg != t {
		return fmt.Errorf("model type %s is not registered with this database", t.Name())
	}
	return nil
}

