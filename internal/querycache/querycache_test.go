package querycache

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/rowmodel/internal/testutil"
	"github.com/roach88/rowmodel/pkg/schema"
)

func testTypes(t *testing.T) (*schema.ModelType, *schema.ModelType) {
	t.Helper()
	r := schema.NewRegistry()
	cols := []schema.ColumnSpec{{Name: "id", Type: "integer"}, {Name: "name", Type: "text"}, {Name: "taps", Type: "integer"}}
	p, err := r.Register(schema.Descriptor{Name: "Person", Columns: cols})
	require.NoError(t, err)
	pet, err := r.Register(schema.Descriptor{Name: "Pet", Columns: cols})
	require.NoError(t, err)
	return p, pet
}

type countingObserver struct {
	mu                        sync.Mutex
	hits, misses, invalidated int
}

func (o *countingObserver) CacheHit(string)  { o.mu.Lock(); o.hits++; o.mu.Unlock() }
func (o *countingObserver) CacheMiss(string) { o.mu.Lock(); o.misses++; o.mu.Unlock() }
func (o *countingObserver) CacheInvalidated(_ string, n int) {
	o.mu.Lock()
	o.invalidated += n
	o.mu.Unlock()
}

func counter(n *atomic.Int32, v any) Generator {
	return func() (any, error) {
		n.Add(1)
		return v, nil
	}
}

func TestCache_GetMemoizes(t *testing.T) {
	pt, _ := testTypes(t)
	obs := &countingObserver{}
	c := New(WithLogger(testutil.NewTestLogger(t)), WithObserver(obs))
	var calls atomic.Int32

	v, err := c.Get(pt, "all", nil, true, counter(&calls, []int{1}))
	require.NoError(t, err)
	assert.Equal(t, []int{1}, v)

	v, err = c.Get(pt, "all", nil, true, counter(&calls, []int{2}))
	require.NoError(t, err)
	assert.Equal(t, []int{1}, v)
	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, 1, obs.hits)
	assert.Equal(t, 1, obs.misses)
}

func TestCache_InvalidateDropsOnlyThatType(t *testing.T) {
	pt, pet := testTypes(t)
	c := New(WithLogger(testutil.NewTestLogger(t)))
	var calls atomic.Int32

	_, _ = c.Get(pt, "all", nil, true, counter(&calls, "people"))
	_, _ = c.Get(pet, "all", nil, true, counter(&calls, "pets"))
	require.Equal(t, 2, c.Len())

	assert.Equal(t, 1, c.Invalidate(pt, []string{"name"}))
	_, ok := c.Peek(pt, "all")
	assert.False(t, ok)
	_, ok = c.Peek(pet, "all")
	assert.True(t, ok)

	v, err := c.Get(pt, "all", nil, true, counter(&calls, "people v2"))
	require.NoError(t, err)
	assert.Equal(t, "people v2", v)
}

func TestCache_IgnoredFieldsSurviveWrites(t *testing.T) {
	pt, _ := testTypes(t)
	c := New(WithLogger(testutil.NewTestLogger(t)))
	var calls atomic.Int32

	_, _ = c.Get(pt, "names", []string{"taps"}, true, counter(&calls, "x"))

	assert.Zero(t, c.Invalidate(pt, []string{"taps"}))
	_, ok := c.Peek(pt, "names")
	assert.True(t, ok, "write touching only ignored fields keeps the entry")

	assert.Equal(t, 1, c.Invalidate(pt, []string{"taps", "name"}))
	_, ok = c.Peek(pt, "names")
	assert.False(t, ok)

	_, _ = c.Get(pt, "names", []string{"taps"}, true, counter(&calls, "x"))
	assert.Equal(t, 1, c.Invalidate(pt, nil), "inserts and deletes always invalidate")
}

func TestCache_FailuresAreNotCached(t *testing.T) {
	pt, _ := testTypes(t)
	c := New(WithLogger(testutil.NewTestLogger(t)))
	boom := errors.New("boom")

	_, err := c.Get(pt, "k", nil, true, func() (any, error) { return nil, boom })
	assert.ErrorIs(t, err, boom)
	assert.Zero(t, c.Len())

	v, err := c.Get(pt, "k", nil, true, func() (any, error) { return 3, nil })
	require.NoError(t, err)
	assert.Equal(t, 3, v)
}

func TestCache_ConcurrentMissesShareGenerator(t *testing.T) {
	pt, _ := testTypes(t)
	c := New(WithLogger(testutil.NewTestLogger(t)))
	var calls atomic.Int32
	release := make(chan struct{})

	gen := func() (any, error) {
		calls.Add(1)
		<-release
		return "v", nil
	}

	var g errgroup.Group
	for range 8 {
		g.Go(func() error {
			v, err := c.Get(pt, "k", nil, true, gen)
			if err == nil && v != "v" {
				return errors.New("wrong value")
			}
			return err
		})
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	require.NoError(t, g.Wait())
	assert.Equal(t, int32(1), calls.Load())
}

func TestCache_WriteDuringFillIsNotStored(t *testing.T) {
	pt, _ := testTypes(t)
	c := New(WithLogger(testutil.NewTestLogger(t)))

	v, err := c.Get(pt, "k", nil, true, func() (any, error) {
		c.Invalidate(pt, []string{"name"})
		return "stale", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "stale", v)
	_, ok := c.Peek(pt, "k")
	assert.False(t, ok)

	_, err = c.Get(pt, "k", nil, false, func() (any, error) {
		c.Clear()
		return "stale", nil
	})
	require.NoError(t, err)
	_, ok = c.Peek(pt, "k")
	assert.False(t, ok)
}

func TestCache_Clear(t *testing.T) {
	pt, pet := testTypes(t)
	c := New(WithLogger(testutil.NewTestLogger(t)))
	var calls atomic.Int32
	_, _ = c.Get(pt, "a", nil, true, counter(&calls, 1))
	_, _ = c.Get(pet, "b", nil, true, counter(&calls, 2))

	assert.Equal(t, 2, c.Clear())
	assert.Zero(t, c.Len())
}

func TestQueryKey_Normalizes(t *testing.T) {
	a, err := QueryKey("  name =  ?\n AND taps > ?", []any{"Alice", 3})
	require.NoError(t, err)
	b, err := QueryKey("name = ? AND taps > ?", []any{"Alice", int64(3)})
	require.NoError(t, err)
	assert.Equal(t, a, b)

	c, err := QueryKey("name = ? AND taps > ?", []any{"Alice", 4})
	require.NoError(t, err)
	assert.NotEqual(t, a, c)

	// Whitespace inside literals is significant.
	d, err := QueryKey("name = 'a  b'", nil)
	require.NoError(t, err)
	e, err := QueryKey("name = 'a b'", nil)
	require.NoError(t, err)
	assert.NotEqual(t, d, e)

	// NFC.
	f, err := QueryKey("name = 'caf\u00e9'", nil)
	require.NoError(t, err)
	g, err := QueryKey("name = 'cafe\u0301'", nil)
	require.NoError(t, err)
	assert.Equal(t, f, g)
}
