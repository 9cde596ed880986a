package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func personDescriptor() Descriptor {
	return Descriptor{
		Name:  "Person",
		Table: "people",
		Columns: []ColumnSpec{
			{Name: "id", Type: "integer"},
			{Name: "name", Type: "text", Default: ""},
			{Name: "taps", Type: "integer", Default: 0},
			{Name: "nickname", Type: "text", Nullable: true},
		},
		Ignored: []string{"selected"},
	}
}

func TestRegistry_RegisterDefaults(t *testing.T) {
	r := NewRegistry()
	pt, err := r.Register(personDescriptor())
	require.NoError(t, err)

	assert.Equal(t, "Person", pt.Name())
	assert.Equal(t, "people", pt.Table())
	assert.Equal(t, "id", pt.PrimaryKey())
	assert.Equal(t, TypeInteger, pt.PrimaryKeyColumn().Type)
	assert.Equal(t, []string{"id", "name", "taps", "nickname"}, pt.ColumnNames())
	assert.True(t, pt.IsIgnored("selected"))
	assert.True(t, pt.HasField("selected"))
	assert.False(t, pt.HasField("missing"))

	got, ok := r.Lookup("Person")
	require.True(t, ok)
	assert.Same(t, pt, got)
	assert.Equal(t, []*ModelType{pt}, r.ByTable("people"))
}

func TestRegistry_TableDefaultsToName(t *testing.T) {
	r := NewRegistry()
	pt, err := r.Register(Descriptor{Name: "Note", Columns: []ColumnSpec{{Name: "id", Type: "text"}}})
	require.NoError(t, err)
	assert.Equal(t, "Note", pt.Table())
}

func TestRegistry_RejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		d    Descriptor
	}{
		{"no name", Descriptor{Columns: []ColumnSpec{{Name: "id"}}}},
		{"no columns", Descriptor{Name: "A"}},
		{"pk not a column", Descriptor{Name: "A", PrimaryKey: "uuid", Columns: []ColumnSpec{{Name: "id"}}}},
		{"duplicate column", Descriptor{Name: "A", Columns: []ColumnSpec{{Name: "id"}, {Name: "id"}}}},
		{"bad type", Descriptor{Name: "A", Columns: []ColumnSpec{{Name: "id", Type: "decimal"}}}},
		{"ignored clash", Descriptor{Name: "A", Columns: []ColumnSpec{{Name: "id"}}, Ignored: []string{"id"}}},
		{"bad default", Descriptor{Name: "A", Columns: []ColumnSpec{{Name: "id"}, {Name: "n", Type: "integer", Default: "many"}}}},
		{"unknown parent", Descriptor{Name: "A", Columns: []ColumnSpec{{Name: "id"}}, Extends: "Base"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewRegistry().Register(tt.d)
			assert.Error(t, err)
		})
	}
}

func TestRegistry_DuplicateName(t *testing.T) {
	r := NewRegistry()
	_, err := r.Register(personDescriptor())
	require.NoError(t, err)
	_, err = r.Register(personDescriptor())
	assert.Error(t, err)
}

func TestRegistry_Subtypes(t *testing.T) {
	r := NewRegistry()
	base, err := r.Register(personDescriptor())
	require.NoError(t, err)
	emp, err := r.Register(Descriptor{
		Name:    "Employee",
		Table:   "employees",
		Extends: "Person",
		Columns: []ColumnSpec{{Name: "id", Type: "integer"}, {Name: "badge", Type: "text"}},
	})
	require.NoError(t, err)
	other, err := r.Register(Descriptor{Name: "Pet", Columns: []ColumnSpec{{Name: "id", Type: "integer"}}})
	require.NoError(t, err)

	assert.True(t, emp.IsA(base))
	assert.False(t, base.IsA(emp))
	assert.Same(t, base, emp.Parent())
	assert.Equal(t, []*ModelType{base, emp}, r.Subtypes(base))
	assert.Equal(t, []*ModelType{other}, r.Subtypes(other))
}

func TestColumn_Coerce(t *testing.T) {
	tests := []struct {
		name string
		col  Column
		in   any
		want any
	}{
		{"int to integer", Column{Type: TypeInteger}, 5, int64(5)},
		{"string to integer", Column{Type: TypeInteger}, " 42", int64(42)},
		{"integral float to integer", Column{Type: TypeInteger}, 3.0, int64(3)},
		{"bytes to text", Column{Type: TypeText}, []byte("bob"), "bob"},
		{"integer to text", Column{Type: TypeText}, int64(7), "7"},
		{"int to real", Column{Type: TypeReal}, 2, float64(2)},
		{"integer to bool", Column{Type: TypeBool}, int64(1), true},
		{"string to bool", Column{Type: TypeBool}, "false", false},
		{"nil passes through", Column{Type: TypeText}, nil, nil},
		{"other untouched", Column{Type: TypeOther}, 1.5, 1.5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.col.Coerce(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestColumn_CoerceErrors(t *testing.T) {
	_, err := Column{Type: TypeInteger}.Coerce(2.5)
	assert.Error(t, err)
	_, err = Column{Type: TypeBool}.Coerce("maybe")
	assert.Error(t, err)
	_, err = Column{Type: TypeReal}.Coerce(struct{}{})
	assert.Error(t, err)
}

func TestColumn_InitialValue(t *testing.T) {
	assert.Equal(t, "", Column{Type: TypeText}.InitialValue())
	assert.Equal(t, int64(0), Column{Type: TypeInteger}.InitialValue())
	assert.Nil(t, Column{Type: TypeInteger, Nullable: true}.InitialValue())
	assert.Equal(t, int64(9), Column{Type: TypeInteger, Default: 9}.InitialValue())
	assert.Equal(t, true, Column{Type: TypeBool, Default: "true"}.InitialValue())
}

func TestColumn_EncodeBool(t *testing.T) {
	c := Column{Type: TypeBool}
	assert.Equal(t, int64(1), c.Encode(true))
	assert.Equal(t, int64(0), c.Encode(false))
	assert.Equal(t, "x", c.Encode("x"))
}

func TestAffinityType_Mapping(t *testing.T) {
	assert.Equal(t, TypeInteger, AffinityType("INTEGER"))
	assert.Equal(t, TypeInteger, AffinityType("bigint"))
	assert.Equal(t, TypeText, AffinityType("VARCHAR(20)"))
	assert.Equal(t, TypeReal, AffinityType("DOUBLE PRECISION"))
	assert.Equal(t, TypeBool, AffinityType("BOOLEAN"))
	assert.Equal(t, TypeOther, AffinityType("BLOB"))
	assert.Equal(t, TypeOther, AffinityType(""))
}

func TestValuesEqual_Comparisons(t *testing.T) {
	assert.True(t, ValuesEqual(nil, nil))
	assert.False(t, ValuesEqual(nil, int64(0)))
	assert.True(t, ValuesEqual([]byte("a"), []byte("a")))
	assert.False(t, ValuesEqual(int64(1), 1.0))
	assert.True(t, ValuesEqual("x", "x"))
	assert.True(t, ValuesEqual([]string{"a"}, []string{"a"}))
}
