package schema

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const personYAML = `
types:
  - name: Person
    table: people
    columns:
      - {name: id, type: integer}
      - {name: name, type: text, default: ""}
      - {name: taps, type: integer, default: 0}
    ignored: [selected]
  - name: Employee
    table: employees
    extends: Person
    columns:
      - {name: id, type: integer}
`

const personCUE = `
types: Person: {
	table: "people"
	columns: [
		{name: "id", type: "integer"},
		{name: "name", type: "text", default: ""},
		{name: "taps", type: "integer", default: 0},
		{name: "score", type: "real", nullable: true},
	]
	ignored: ["selected"]
}
types: Employee: {
	table:   "employees"
	extends: "Person"
	columns: [{name: "id", type: "integer"}]
}
`

func TestLoadYAML_Descriptors(t *testing.T) {
	ds, err := LoadYAML([]byte(personYAML))
	require.NoError(t, err)
	require.Len(t, ds, 2)

	assert.Equal(t, "Person", ds[0].Name)
	assert.Equal(t, "people", ds[0].Table)
	assert.Len(t, ds[0].Columns, 3)
	assert.Equal(t, []string{"selected"}, ds[0].Ignored)
	assert.Equal(t, "Person", ds[1].Extends)

	r := NewRegistry()
	types, err := r.RegisterAll(ds)
	require.NoError(t, err)
	assert.True(t, types[1].IsA(types[0]))
}

func TestLoadYAML_RejectsUnknownKeys(t *testing.T) {
	_, err := LoadYAML([]byte("types:\n  - name: A\n    colums: []\n"))
	assert.Error(t, err)
}

func TestLoadYAML_Empty(t *testing.T) {
	ds, err := LoadYAML(nil)
	require.NoError(t, err)
	assert.Empty(t, ds)
}

func TestLoadCUE_Descriptors(t *testing.T) {
	ds, err := LoadCUE("schema.cue", []byte(personCUE))
	require.NoError(t, err)
	require.Len(t, ds, 2)

	p := ds[0]
	assert.Equal(t, "Person", p.Name)
	assert.Equal(t, "people", p.Table)
	require.Len(t, p.Columns, 4)
	assert.Equal(t, "", p.Columns[1].Default)
	assert.Equal(t, int64(0), p.Columns[2].Default)
	assert.True(t, p.Columns[3].Nullable)
	assert.Equal(t, []string{"selected"}, p.Ignored)
	assert.Equal(t, "Employee", ds[1].Name)
	assert.Equal(t, "Person", ds[1].Extends)
}

func TestLoadCUE_MissingColumns(t *testing.T) {
	_, err := LoadCUE("bad.cue", []byte(`types: Broken: {table: "b"}`))
	require.Error(t, err)

	var le *LoadError
	require.ErrorAs(t, err, &le)
	assert.Equal(t, "Broken.columns", le.Field)
}

func TestLoadCUE_SyntaxError(t *testing.T) {
	_, err := LoadCUE("bad.cue", []byte(`types: {`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad.cue")
}

func TestLoadFile_ByExtension(t *testing.T) {
	dir := t.TempDir()
	yamlPath := filepath.Join(dir, "schema.yaml")
	cuePath := filepath.Join(dir, "schema.cue")
	require.NoError(t, os.WriteFile(yamlPath, []byte(personYAML), 0o644))
	require.NoError(t, os.WriteFile(cuePath, []byte(personCUE), 0o644))

	fromYAML, err := LoadFile(yamlPath)
	require.NoError(t, err)
	fromCUE, err := LoadFile(cuePath)
	require.NoError(t, err)
	assert.Equal(t, fromYAML[0].Name, fromCUE[0].Name)

	_, err = LoadFile(filepath.Join(dir, "schema.toml"))
	assert.Error(t, err)

	all, err := LoadFiles(yamlPath)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}
