package keygen

import (
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/rowmodel/pkg/schema"
)

func modelType(t *testing.T, pkType string) *schema.ModelType {
	t.Helper()
	mt, err := schema.NewRegistry().Register(schema.Descriptor{
		Name:    "Thing",
		Columns: []schema.ColumnSpec{{Name: "id", Type: pkType}},
	})
	require.NoError(t, err)
	return mt
}

func TestRandomInt64_Positive(t *testing.T) {
	g := RandomInt64{}
	seen := make(map[int64]bool)
	for range 1000 {
		k := g.NewKey(nil).(int64)
		assert.Positive(t, k)
		seen[k] = true
	}
	assert.Greater(t, len(seen), 990)
}

func TestUUIDv7_NewKey(t *testing.T) {
	k := UUIDv7{}.NewKey(nil).(string)
	assert.Len(t, k, 36)
	parsed, err := uuid.Parse(k)
	require.NoError(t, err)
	assert.Equal(t, uuid.Version(7), parsed.Version())
}

func TestDefault_ByKeyType(t *testing.T) {
	assert.IsType(t, UUIDv7{}, Default(modelType(t, "text")))
	assert.IsType(t, RandomInt64{}, Default(modelType(t, "integer")))
}

func TestFixed_ReturnsInOrderThenRepeats(t *testing.T) {
	g := NewFixed(int64(1), int64(2))
	assert.Equal(t, int64(1), g.NewKey(nil))
	assert.Equal(t, int64(2), g.NewKey(nil))
	assert.Equal(t, int64(2), g.NewKey(nil))
	assert.Panics(t, func() { NewFixed() })
}

func TestFixed_ThreadSafe(t *testing.T) {
	g := NewFixed("a")
	var wg sync.WaitGroup
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 100 {
				assert.Equal(t, "a", g.NewKey(nil))
			}
		}()
	}
	wg.Wait()
}

func TestFunc_NewKey(t *testing.T) {
	mt := modelType(t, "integer")
	g := Func(func(t *schema.ModelType) any { return t.Name() })
	assert.Equal(t, "Thing", g.NewKey(mt))
}
