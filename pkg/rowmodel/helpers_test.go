package rowmodel

import (
	"context"
	"database/sql"
	"fmt"
	"maps"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/rowmodel/internal/testutil"
)

var personDescriptor = Descriptor{
	Name:  "Person",
	Table: "people",
	Columns: []ColumnSpec{
		{Name: "id", Type: "integer"},
		{Name: "name", Type: "text"},
		{Name: "taps", Type: "integer"},
		{Name: "color", Type: "text", Nullable: true, Default: "red"},
	},
	Ignored: []string{"selected"},
}

var petDescriptor = Descriptor{
	Name:  "Pet",
	Table: "pets",
	Columns: []ColumnSpec{
		{Name: "id", Type: "text"},
		{Name: "name", Type: "text"},
		{Name: "owner_id", Type: "integer", Nullable: true},
	},
}

func testSchema(ctx context.Context, tx *sql.Tx, version *int) error {
	switch *version {
	case 0:
		if _, err := tx.ExecContext(ctx, `CREATE TABLE people (
			id INTEGER PRIMARY KEY,
			name TEXT NOT NULL DEFAULT '',
			taps INTEGER NOT NULL DEFAULT 0,
			color TEXT DEFAULT 'red'
		)`); err != nil {
			return err
		}
		*version = 1
	case 1:
		if _, err := tx.ExecContext(ctx, `CREATE TABLE pets (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL DEFAULT '',
			owner_id INTEGER
		)`); err != nil {
			return err
		}
		*version = 2
	}
	return nil
}

func openTestDB(t *testing.T, opts ...Option) *DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	opts = append([]Option{
		WithLogger(testutil.NewTestLogger(t)),
		WithSchemaBuilder(testSchema),
	}, opts...)
	db, err := Open(context.Background(), path, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func registerPerson(t *testing.T, db *DB, opts ...TypeOption) *ModelType {
	t.Helper()
	person, err := db.Register(personDescriptor, opts...)
	require.NoError(t, err)
	return person
}

// savePerson creates and saves a person row.
func savePerson(t *testing.T, db *DB, person *ModelType, id int64, name string) *Instance {
	t.Helper()
	ctx := context.Background()
	p, err := db.Instance(ctx, person, id)
	require.NoError(t, err)
	require.NoError(t, p.Set("name", name))
	require.NoError(t, p.Save(ctx))
	return p
}

func externalExec(t *testing.T, db *DB, query string, args ...any) {
	t.Helper()
	testutil.ExecExternal(t, db.Path(), query, args...)
}

type eventLog struct {
	mu     sync.Mutex
	events []Event
}

func (l *eventLog) handle(_ context.Context, ev Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, ev)
}

func (l *eventLog) snapshot() []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	return slices.Clone(l.events)
}

func (l *eventLog) reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = nil
}

func keysOf(ev Event) []any {
	keys := make([]any, 0, len(ev.Instances))
	for _, inst := range ev.Instances {
		keys = append(keys, inst.Key())
	}
	return keys
}

// formatEvent renders an event on one line for traces.
func formatEvent(ev Event) string {
	old := "-"
	if len(ev.OldValues) > 0 {
		parts := make([]string, 0, len(ev.OldValues))
		for _, f := range slices.Sorted(maps.Keys(ev.OldValues)) {
			parts = append(parts, fmt.Sprintf("%s=%v", f, ev.OldValues[f]))
		}
		old = strings.Join(parts, ",")
	}
	return fmt.Sprintf("%d %s %s keys=%v fields=%v old=%s",
		ev.Seq, ev.Kind, ev.Type.Name(), keysOf(ev), ev.ChangedFields, old)
}
