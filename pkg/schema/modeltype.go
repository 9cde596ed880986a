package schema

import (
	"fmt"
	"slices"
)

// ColumnSpec is the descriptor form of a Column.
type ColumnSpec struct {
	Name     string `yaml:"name" json:"name"`
	Type     string `yaml:"type" json:"type"`
	Nullable bool   `yaml:"nullable,omitempty" json:"nullable,omitempty"`
	Default  any    `yaml:"default,omitempty" json:"default,omitempty"`
}

// Descriptor declares a model type. Table defaults to Name and PrimaryKey
// defaults to "id". Extends names a previously registered parent type.
type Descriptor struct {
	Name       string       `yaml:"name" json:"name"`
	Table      string       `yaml:"table,omitempty" json:"table,omitempty"`
	PrimaryKey string       `yaml:"primary_key,omitempty" json:"primary_key,omitempty"`
	Columns    []ColumnSpec `yaml:"columns" json:"columns"`
	Ignored    []string     `yaml:"ignored,omitempty" json:"ignored,omitempty"`
	Extends    string       `yaml:"extends,omitempty" json:"extends,omitempty"`
}

// ModelType is a registered, immutable model type.
type ModelType struct {
	name       string
	table      string
	primaryKey string
	columns    []Column
	index      map[string]int
	ignored    []string
	parent     *ModelType
}

func newModelType(d Descriptor, parent *ModelType) (*ModelType, error) {
	if d.Name == "" {
		return nil, fmt.Errorf("descriptor: name is required")
	}
	t := &ModelType{
		name:       d.Name,
		table:      d.Table,
		primaryKey: d.PrimaryKey,
		index:      make(map[string]int, len(d.Columns)),
		parent:     parent,
	}
	if t.table == "" {
		t.table = d.Name
	}
	if t.primaryKey == "" {
		t.primaryKey = "id"
	}
	if len(d.Columns) == 0 {
		return nil, fmt.Errorf("descriptor %s: at least one column is required", d.Name)
	}
	for _, cs := range d.Columns {
		if cs.Name == "" {
			return nil, fmt.Errorf("descriptor %s: column without a name", d.Name)
		}
		if _, dup := t.index[cs.Name]; dup {
			return nil, fmt.Errorf("descriptor %s: duplicate column %q", d.Name, cs.Name)
		}
		ft, err := ParseFieldType(cs.Type)
		if err != nil {
			return nil, fmt.Errorf("descriptor %s: column %s: %w", d.Name, cs.Name, err)
		}
		col := Column{Name: cs.Name, Type: ft, Nullable: cs.Nullable, Default: cs.Default}
		if cs.Default != nil {
			if _, err := col.Coerce(cs.Default); err != nil {
				return nil, fmt.Errorf("descriptor %s: column %s default: %w", d.Name, cs.Name, err)
			}
		}
		t.index[cs.Name] = len(t.columns)
		t.columns = append(t.columns, col)
	}
	if _, ok := t.index[t.primaryKey]; !ok {
		return nil, fmt.Errorf("descriptor %s: primary key %q is not a column", d.Name, t.primaryKey)
	}
	for _, name := range d.Ignored {
		if _, clash := t.index[name]; clash {
			return nil, fmt.Errorf("descriptor %s: ignored field %q is also a column", d.Name, name)
		}
		if !slices.Contains(t.ignored, name) {
			t.ignored = append(t.ignored, name)
		}
	}
	return t, nil
}

// Name returns the type name.
func (t *ModelType) Name() string { return t.name }

// Table returns the backing table name.
func (t *ModelType) Table() string { return t.table }

// PrimaryKey returns the primary-key column name.
func (t *ModelType) PrimaryKey() string { return t.primaryKey }

// PrimaryKeyColumn returns the primary-key column.
func (t *ModelType) PrimaryKeyColumn() Column { return t.columns[t.index[t.primaryKey]] }

// Parent returns the type this one extends, or nil.
func (t *ModelType) Parent() *ModelType { return t.parent }

// Columns returns the ordered persisted columns, primary key included.
func (t *ModelType) Columns() []Column { return slices.Clone(t.columns) }

// ColumnNames returns the ordered persisted column names.
func (t *ModelType) ColumnNames() []string {
	names := make([]string, len(t.columns))
	for i, c := range t.columns {
		names[i] = c.Name
	}
	return names
}

// Column looks up a persisted column by name.
func (t *ModelType) Column(name string) (Column, bool) {
	i, ok := t.index[name]
	if !ok {
		return Column{}, false
	}
	return t.columns[i], true
}

// Ignored returns the in-memory-only field names.
func (t *ModelType) Ignored() []string { return slices.Clone(t.ignored) }

// IsIgnored reports whether name is an in-memory-only field.
func (t *ModelType) IsIgnored(name string) bool { return slices.Contains(t.ignored, name) }

// HasField reports whether name is a column or an ignored field.
func (t *ModelType) HasField(name string) bool {
	_, ok := t.index[name]
	return ok || t.IsIgnored(name)
}

// IsA reports whether t is other or extends it.
func (t *ModelType) IsA(other *ModelType) bool {
	for p := t; p != nil; p = p.parent {
		if p == other {
			return true
		}
	}
	return false
}

func (t *ModelType) String() string { return t.name }
