package rowmodel

import (
	"fmt"
	"maps"
	"sync"

	"github.com/roach88/rowmodel/pkg/modelerr"
	"github.com/roach88/rowmodel/pkg/schema"
)

// State is the lifecycle state of an Instance.
type State int

const (
	// StateNew instances have no row yet.
	StateNew State = iota
	// StateClean instances match their row.
	StateClean
	// StateDirty instances have unsaved changes.
	StateDirty
	// StateDeleted is terminal.
	StateDeleted
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateClean:
		return "clean"
	case StateDirty:
		return "dirty"
	case StateDeleted:
		return "deleted"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Instance is the in-memory representative of one row. At most one live
// Instance exists per (type, primary key) in a DB.
//
// Values are held in canonical form: string, int64, float64, bool, nil,
// or the driver's value for untyped columns.
type Instance struct {
	db  *DB
	typ *ModelType
	key any

	mu     sync.Mutex
	values map[string]any
	// saved is the last known database row; nil until the row exists.
	saved   map[string]any
	deleted bool
}

func newInstance(db *DB, t *ModelType, key any) *Instance {
	inst := &Instance{
		db:     db,
		typ:    t,
		key:    key,
		values: make(map[string]any, len(t.ColumnNames())),
	}
	for _, col := range t.Columns() {
		inst.values[col.Name] = col.InitialValue()
	}
	inst.values[t.PrimaryKey()] = key
	return inst
}

func loadedInstance(db *DB, t *ModelType, row map[string]any) *Instance {
	return &Instance{
		db:     db,
		typ:    t,
		key:    row[t.PrimaryKey()],
		values: maps.Clone(row),
		saved:  maps.Clone(row),
	}
}

// Type returns the model type.
func (inst *Instance) Type() *ModelType { return inst.typ }

// Key returns the primary-key value.
func (inst *Instance) Key() any { return inst.key }

// Get returns the current value of a column or ignored field. Unknown
// fields and unset ignored fields yield nil.
func (inst *Instance) Get(field string) any {
	inst.mu.Lock()
	defer inst.mu.Unlock()
	return inst.values[field]
}

// Set changes a field in memory. Column values are converted to the
// column's canonical type. The primary key cannot be changed.
func (inst *Instance) Set(field string, value any) error {
	inst.mu.Lock()
	defer inst.mu.Unlock()

	if inst.deleted {
		return modelerr.NewAlreadyDeleted(inst.typ.Name(), inst.key)
	}
	if inst.typ.IsIgnored(field) {
		inst.values[field] = value
		return nil
	}
	col, ok := inst.typ.Column(field)
	if !ok {
		return modelerr.NewUnknownField(inst.typ.Name(), field)
	}
	if field == inst.typ.PrimaryKey() {
		if schema.ValuesEqual(inst.values[field], mustCoerce(col, value)) {
			return nil
		}
		return fmt.Errorf("%s.%s: primary key cannot be changed", inst.typ.Name(), field)
	}
	v, err := col.Coerce(value)
	if err != nil {
		return fmt.Errorf("%s.%s: %w", inst.typ.Name(), field, err)
	}
	inst.values[field] = v
	return nil
}

func mustCoerce(col schema.Column, v any) any {
	c, err := col.Coerce(v)
	if err != nil {
		return v
	}
	return c
}

// Values returns a copy of every column and set ignored field.
func (inst *Instance) Values() map[string]any {
	inst.mu.Lock()
	defer inst.mu.Unlock()
	return maps.Clone(inst.values)
}

// ChangedFields lists, in column order, the columns whose value differs
// from the last known database row. For a new instance that is every
// column differing from its initial value. Ignored fields never count.
func (inst *Instance) ChangedFields() []string {
	inst.mu.Lock()
	defer inst.mu.Unlock()
	return inst.changedLocked()
}

func (inst *Instance) changedLocked() []string {
	var out []string
	for _, col := range inst.typ.Columns() {
		var base any
		if inst.saved != nil {
			base = inst.saved[col.Name]
		} else if col.Name == inst.typ.PrimaryKey() {
			continue
		} else {
			base = col.InitialValue()
		}
		if !schema.ValuesEqual(inst.values[col.Name], base) {
			out = append(out, col.Name)
		}
	}
	return out
}

// HasUnsavedChanges reports whether Save would write anything. New
// instances always have unsaved changes.
func (inst *Instance) HasUnsavedChanges() bool {
	inst.mu.Lock()
	defer inst.mu.Unlock()
	if inst.deleted {
		return false
	}
	return inst.saved == nil || len(inst.changedLocked()) > 0
}

// ExistsInDatabase reports whether the instance's row has been saved or
// loaded and not deleted.
func (inst *Instance) ExistsInDatabase() bool {
	inst.mu.Lock()
	defer inst.mu.Unlock()
	return inst.saved != nil && !inst.deleted
}

// IsDeleted reports whether the instance has been deleted.
func (inst *Instance) IsDeleted() bool {
	inst.mu.Lock()
	defer inst.mu.Unlock()
	return inst.deleted
}

// State returns the lifecycle state.
func (inst *Instance) State() State {
	inst.mu.Lock()
	defer inst.mu.Unlock()
	switch {
	case inst.deleted:
		return StateDeleted
	case inst.saved == nil:
		return StateNew
	case len(inst.changedLocked()) > 0:
		return StateDirty
	default:
		return StateClean
	}
}

// Revert discards unsaved column changes. New instances return to their
// initial values. Ignored fields are left alone.
func (inst *Instance) Revert() error {
	inst.mu.Lock()
	defer inst.mu.Unlock()
	if inst.deleted {
		return modelerr.NewAlreadyDeleted(inst.typ.Name(), inst.key)
	}
	for _, col := range inst.typ.Columns() {
		inst.values[col.Name] = inst.baseLocked(col)
	}
	return nil
}

// RevertField discards the unsaved change of one column.
func (inst *Instance) RevertField(field string) error {
	inst.mu.Lock()
	defer inst.mu.Unlock()
	if inst.deleted {
		return modelerr.NewAlreadyDeleted(inst.typ.Name(), inst.key)
	}
	col, ok := inst.typ.Column(field)
	if !ok {
		return modelerr.NewUnknownField(inst.typ.Name(), field)
	}
	inst.values[field] = inst.baseLocked(col)
	return nil
}

func (inst *Instance) baseLocked(col schema.Column) any {
	if inst.saved != nil {
		return inst.saved[col.Name]
	}
	if col.Name == inst.typ.PrimaryKey() {
		return inst.key
	}
	return col.InitialValue()
}

func (inst *Instance) String() string {
	return fmt.Sprintf("%s(%v)", inst.typ.Name(), inst.key)
}

// savePlan is what one Save writes.
type savePlan struct {
	kind      Kind
	fields    []string
	values    map[string]any
	oldValues map[string]any
}

// planSave snapshots the pending write. It returns nil when there is
// nothing to write.
func (inst *Instance) planSave() (*savePlan, error) {
	inst.mu.Lock()
	defer inst.mu.Unlock()

	if inst.deleted {
		return nil, modelerr.NewAlreadyDeleted(inst.typ.Name(), inst.key)
	}
	if inst.saved == nil {
		p := &savePlan{kind: KindInsert, values: make(map[string]any)}
		for _, name := range inst.typ.ColumnNames() {
			p.fields = append(p.fields, name)
			p.values[name] = inst.values[name]
		}
		return p, nil
	}
	changed := inst.changedLocked()
	if len(changed) == 0 {
		return nil, nil
	}
	p := &savePlan{
		kind:      KindUpdate,
		fields:    changed,
		values:    make(map[string]any, len(changed)),
		oldValues: make(map[string]any, len(changed)),
	}
	for _, f := range changed {
		p.values[f] = inst.values[f]
		p.oldValues[f] = inst.saved[f]
	}
	return p, nil
}

// commitSave records a successful write. Fields changed again since the
// plan was taken stay dirty.
func (inst *Instance) commitSave(p *savePlan) {
	inst.mu.Lock()
	defer inst.mu.Unlock()
	if inst.saved == nil {
		inst.saved = make(map[string]any, len(p.values))
	}
	maps.Copy(inst.saved, p.values)
}

// rowState is the part of an Instance that tracks its row. A rollback
// restores it; field values are left as they are.
type rowState struct {
	saved   map[string]any
	deleted bool
}

func (inst *Instance) rowState() rowState {
	inst.mu.Lock()
	defer inst.mu.Unlock()
	return rowState{saved: maps.Clone(inst.saved), deleted: inst.deleted}
}

func (inst *Instance) restoreRowState(st rowState) {
	inst.mu.Lock()
	defer inst.mu.Unlock()
	inst.saved = st.saved
	inst.deleted = st.deleted
}

func (inst *Instance) markDeleted() {
	inst.mu.Lock()
	defer inst.mu.Unlock()
	inst.deleted = true
}

// reloadResult describes how applyRow changed an instance.
type reloadResult struct {
	// changed lists columns whose database value moved since the last
	// known row.
	changed   []string
	oldValues map[string]any
}

// applyRow brings the instance up to date with row. With overwrite set
// unsaved changes are discarded; otherwise a column changed both locally
// and in the database goes through resolve, and without a resolver the
// instance is left untouched and RELOAD_CONFLICT returned.
func (inst *Instance) applyRow(row map[string]any, overwrite bool, resolve ConflictResolver) (reloadResult, error) {
	inst.mu.Lock()
	defer inst.mu.Unlock()

	var res reloadResult
	if inst.deleted {
		return res, modelerr.NewAlreadyDeleted(inst.typ.Name(), inst.key)
	}
	base := inst.saved
	next := maps.Clone(inst.values)
	for _, col := range inst.typ.Columns() {
		f := col.Name
		dbv := row[f]
		var prev any
		if base != nil {
			prev = base[f]
		} else {
			prev = inst.values[f]
		}
		local := inst.values[f]
		dbMoved := !schema.ValuesEqual(dbv, prev)
		if dbMoved {
			res.changed = append(res.changed, f)
			if res.oldValues == nil {
				res.oldValues = make(map[string]any)
			}
			res.oldValues[f] = prev
		}

		localDirty := base != nil && !schema.ValuesEqual(local, prev)
		switch {
		case overwrite, !localDirty, schema.ValuesEqual(local, dbv):
			next[f] = dbv
		case !dbMoved:
			// Local change against an unchanged column survives.
		case resolve != nil:
			v, err := resolve(Conflict{Type: inst.typ, Key: inst.key, Field: f, Local: local, Database: dbv})
			if err != nil {
				return reloadResult{}, modelerr.NewReloadConflict(inst.typ.Name(), inst.key, f, err)
			}
			if next[f], err = col.Coerce(v); err != nil {
				return reloadResult{}, modelerr.NewReloadConflict(inst.typ.Name(), inst.key, f, err)
			}
		default:
			return reloadResult{}, modelerr.NewReloadConflict(inst.typ.Name(), inst.key, f, nil)
		}
	}
	inst.values = next
	inst.saved = maps.Clone(row)
	return res, nil
}
