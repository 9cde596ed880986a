package notify

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/rowmodel/internal/testutil"
	"github.com/roach88/rowmodel/pkg/modelerr"
	"github.com/roach88/rowmodel/pkg/schema"
)

type obj struct{ id int }

func testTypes(t *testing.T) (*schema.ModelType, *schema.ModelType, *schema.ModelType) {
	t.Helper()
	r := schema.NewRegistry()
	cols := []schema.ColumnSpec{{Name: "id", Type: "integer"}, {Name: "name", Type: "text"}, {Name: "taps", Type: "integer"}}
	p, err := r.Register(schema.Descriptor{Name: "Person", Columns: cols})
	require.NoError(t, err)
	e, err := r.Register(schema.Descriptor{Name: "Employee", Extends: "Person", Columns: cols})
	require.NoError(t, err)
	pet, err := r.Register(schema.Descriptor{Name: "Pet", Columns: cols})
	require.NoError(t, err)
	return p, e, pet
}

type recorder struct {
	events []Event[*obj]
}

func (r *recorder) handle(_ context.Context, ev Event[*obj]) {
	r.events = append(r.events, ev)
}

func newCenter(t *testing.T) *Center[*obj] {
	return NewCenter[*obj](WithLogger(testutil.NewTestLogger(t)))
}

func TestCenter_PostDeliversImmediately(t *testing.T) {
	pt, _, _ := testTypes(t)
	c := newCenter(t)
	rec := &recorder{}
	c.Subscribe(pt, rec.handle)

	alice := &obj{1}
	c.Post(context.Background(), Change[*obj]{Type: pt, Kind: KindInsert, Instance: alice})
	c.Post(context.Background(), Change[*obj]{
		Type: pt, Kind: KindUpdate, Instance: alice,
		ChangedFields: []string{"name"},
		OldValues:     map[string]any{"name": "Alice"},
	})

	require.Len(t, rec.events, 2)
	assert.Equal(t, KindInsert, rec.events[0].Kind)
	assert.Equal(t, []*obj{alice}, rec.events[0].Instances)
	assert.Equal(t, KindUpdate, rec.events[1].Kind)
	assert.Equal(t, []string{"name"}, rec.events[1].ChangedFields)
	assert.Equal(t, map[string]any{"name": "Alice"}, rec.events[1].OldValues)
	assert.Less(t, rec.events[0].Seq, rec.events[1].Seq)
}

func TestBatch_MergesPerTypeAndKind(t *testing.T) {
	pt, _, _ := testTypes(t)
	c := newCenter(t)
	rec := &recorder{}
	c.Subscribe(pt, rec.handle)
	ctx := context.Background()

	one := &obj{1}
	require.NoError(t, c.BeginBatch())
	c.Post(ctx, Change[*obj]{Type: pt, Kind: KindUpdate, Instance: one,
		ChangedFields: []string{"name"}, OldValues: map[string]any{"name": "Alice"}})
	c.Post(ctx, Change[*obj]{Type: pt, Kind: KindUpdate, Instance: one,
		ChangedFields: []string{"taps", "name"}, OldValues: map[string]any{"taps": int64(0), "name": "Bob"}})
	assert.Empty(t, rec.events)
	require.NoError(t, c.EndBatch(ctx, true))

	require.Len(t, rec.events, 1)
	ev := rec.events[0]
	assert.Equal(t, KindUpdate, ev.Kind)
	assert.Equal(t, []*obj{one}, ev.Instances)
	assert.ElementsMatch(t, []string{"name", "taps"}, ev.ChangedFields)
	assert.Equal(t, map[string]any{"name": "Alice", "taps": int64(0)}, ev.OldValues)
}

func TestBatch_OldValuesOnlyForSingleInstance(t *testing.T) {
	pt, _, _ := testTypes(t)
	c := newCenter(t)
	rec := &recorder{}
	c.Subscribe(pt, rec.handle)
	ctx := context.Background()

	require.NoError(t, c.BeginBatch())
	for i := range 2 {
		c.Post(ctx, Change[*obj]{Type: pt, Kind: KindUpdate, Instance: &obj{i},
			ChangedFields: []string{"name"}, OldValues: map[string]any{"name": "x"}})
	}
	require.NoError(t, c.EndBatch(ctx, true))

	require.Len(t, rec.events, 1)
	assert.Len(t, rec.events[0].Instances, 2)
	assert.Nil(t, rec.events[0].OldValues)
}

func TestBatch_DeleteDominates(t *testing.T) {
	pt, _, _ := testTypes(t)
	c := newCenter(t)
	rec := &recorder{}
	c.Subscribe(nil, rec.handle)
	ctx := context.Background()

	a, b := &obj{1}, &obj{2}
	require.NoError(t, c.BeginBatch())
	c.Post(ctx, Change[*obj]{Type: pt, Kind: KindInsert, Instance: a})
	c.Post(ctx, Change[*obj]{Type: pt, Kind: KindUpdate, Instance: a, ChangedFields: []string{"name"}})
	c.Post(ctx, Change[*obj]{Type: pt, Kind: KindUpdate, Instance: b, ChangedFields: []string{"taps"}})
	c.Post(ctx, Change[*obj]{Type: pt, Kind: KindDelete, Instance: a})
	c.Post(ctx, Change[*obj]{Type: pt, Kind: KindUpdate, Instance: a, ChangedFields: []string{"name"}})
	require.NoError(t, c.EndBatch(ctx, true))

	require.Len(t, rec.events, 2)
	for _, ev := range rec.events {
		switch ev.Kind {
		case KindUpdate:
			assert.Equal(t, []*obj{b}, ev.Instances)
		case KindDelete:
			assert.Equal(t, []*obj{a}, ev.Instances)
		default:
			t.Fatalf("unexpected %s event", ev.Kind)
		}
	}
}

func TestCenter_BatchDiscard(t *testing.T) {
	pt, _, _ := testTypes(t)
	c := newCenter(t)
	rec := &recorder{}
	c.Subscribe(pt, rec.handle)
	ctx := context.Background()

	require.NoError(t, c.BeginBatch())
	c.Post(ctx, Change[*obj]{Type: pt, Kind: KindInsert, Instance: &obj{1}})
	require.NoError(t, c.EndBatch(ctx, false))
	assert.Empty(t, rec.events)
}

func TestCenter_BatchesDoNotNest(t *testing.T) {
	c := newCenter(t)
	require.NoError(t, c.BeginBatch())
	err := c.BeginBatch()
	assert.ErrorIs(t, err, modelerr.ErrBatchAlreadyOpen)
	assert.Equal(t, modelerr.CodeBatchAlreadyOpen, modelerr.CodeOf(err))
	require.NoError(t, c.EndBatch(context.Background(), true))

	err = c.EndBatch(context.Background(), true)
	assert.ErrorIs(t, err, modelerr.ErrUnmatchedEndBatch)
}

func TestCenter_DeferredBatch(t *testing.T) {
	pt, _, _ := testTypes(t)
	c := newCenter(t)
	rec := &recorder{}
	c.Subscribe(pt, rec.handle)
	ctx := context.Background()

	c.BeginDeferred()
	c.Post(ctx, Change[*obj]{Type: pt, Kind: KindInsert, Instance: &obj{1}})
	c.DiscardDeferred()
	assert.Empty(t, rec.events)

	c.BeginDeferred()
	c.Post(ctx, Change[*obj]{Type: pt, Kind: KindInsert, Instance: &obj{2}})
	c.Post(ctx, Change[*obj]{Type: pt, Kind: KindInsert, Instance: &obj{3}})
	c.CommitDeferred(ctx)
	require.Len(t, rec.events, 1)
	assert.Len(t, rec.events[0].Instances, 2)
}

func TestCenter_DeferredCommitInsideUserBatch(t *testing.T) {
	pt, _, _ := testTypes(t)
	c := newCenter(t)
	rec := &recorder{}
	c.Subscribe(pt, rec.handle)
	ctx := context.Background()

	one := &obj{1}
	require.NoError(t, c.BeginBatch())
	c.Post(ctx, Change[*obj]{Type: pt, Kind: KindUpdate, Instance: one, ChangedFields: []string{"name"}})
	c.BeginDeferred()
	c.Post(ctx, Change[*obj]{Type: pt, Kind: KindUpdate, Instance: one, ChangedFields: []string{"taps"}})
	c.CommitDeferred(ctx)
	assert.Empty(t, rec.events)
	require.NoError(t, c.EndBatch(ctx, true))

	require.Len(t, rec.events, 1)
	assert.ElementsMatch(t, []string{"name", "taps"}, rec.events[0].ChangedFields)
}

func TestCenter_FieldFilters(t *testing.T) {
	pt, _, _ := testTypes(t)
	c := newCenter(t)
	only, except := &recorder{}, &recorder{}
	c.Subscribe(pt, only.handle, OnlyFields("name"))
	c.Subscribe(pt, except.handle, ExceptFields("taps"))
	ctx := context.Background()

	c.Post(ctx, Change[*obj]{Type: pt, Kind: KindUpdate, Instance: &obj{1}, ChangedFields: []string{"taps"}})
	assert.Empty(t, only.events)
	assert.Empty(t, except.events)

	c.Post(ctx, Change[*obj]{Type: pt, Kind: KindUpdate, Instance: &obj{1}, ChangedFields: []string{"name", "taps"}})
	assert.Len(t, only.events, 1)
	assert.Len(t, except.events, 1)

	// Inserts and deletes always pass.
	c.Post(ctx, Change[*obj]{Type: pt, Kind: KindInsert, Instance: &obj{2}})
	c.Post(ctx, Change[*obj]{Type: pt, Kind: KindDelete, Instance: &obj{2}})
	assert.Len(t, only.events, 3)
	assert.Len(t, except.events, 3)
}

func TestCenter_SubscriptionScope(t *testing.T) {
	pt, et, pet := testTypes(t)
	c := newCenter(t)
	people, pets, all, deletes := &recorder{}, &recorder{}, &recorder{}, &recorder{}
	c.Subscribe(pt, people.handle)
	c.Subscribe(pet, pets.handle)
	c.Subscribe(nil, all.handle)
	c.Subscribe(nil, deletes.handle, Kinds(KindDelete))
	ctx := context.Background()

	c.Post(ctx, Change[*obj]{Type: et, Kind: KindInsert, Instance: &obj{1}})
	c.Post(ctx, Change[*obj]{Type: pet, Kind: KindDelete, Instance: &obj{2}})

	assert.Len(t, people.events, 1, "subtype events reach the parent's subscribers")
	assert.Len(t, pets.events, 1)
	assert.Len(t, all.events, 2)
	assert.Len(t, deletes.events, 1)
}

func TestCenter_Unsubscribe(t *testing.T) {
	pt, _, _ := testTypes(t)
	c := newCenter(t)
	rec := &recorder{}
	cancel := c.Subscribe(pt, rec.handle)
	cancel()
	cancel()

	c.Post(context.Background(), Change[*obj]{Type: pt, Kind: KindInsert, Instance: &obj{1}})
	assert.Empty(t, rec.events)
}

func TestCenter_HandlerMayPostAndSubscribe(t *testing.T) {
	pt, _, pet := testTypes(t)
	c := newCenter(t)
	rec := &recorder{}
	c.Subscribe(pet, rec.handle)
	c.Subscribe(pt, func(ctx context.Context, ev Event[*obj]) {
		c.Subscribe(pt, func(context.Context, Event[*obj]) {})
		c.Post(ctx, Change[*obj]{Type: pet, Kind: KindInsert, Instance: &obj{9}})
	})

	c.Post(context.Background(), Change[*obj]{Type: pt, Kind: KindInsert, Instance: &obj{1}})
	assert.Len(t, rec.events, 1)
}

func TestCenter_UnspecifiedEventHasNoInstances(t *testing.T) {
	pt, _, _ := testTypes(t)
	c := newCenter(t)
	rec := &recorder{}
	c.Subscribe(pt, rec.handle, OnlyFields("name"))

	c.Post(context.Background(), Change[*obj]{Type: pt, Kind: KindUnspecified})
	require.Len(t, rec.events, 1)
	assert.Empty(t, rec.events[0].Instances)
	_, ok := rec.events[0].Instance()
	assert.False(t, ok)
}

func TestCenter_FlushPending(t *testing.T) {
	pt, _, _ := testTypes(t)
	c := newCenter(t)
	rec := &recorder{}
	c.Subscribe(pt, rec.handle)

	require.NoError(t, c.BeginBatch())
	c.Post(context.Background(), Change[*obj]{Type: pt, Kind: KindInsert, Instance: &obj{1}})
	c.FlushPending(context.Background())
	assert.Len(t, rec.events, 1)
	assert.False(t, c.InBatch())
}

func TestClock_Next(t *testing.T) {
	c := NewClock()
	assert.Zero(t, c.Current())
	assert.Equal(t, int64(1), c.Next())
	assert.Equal(t, int64(2), c.Next())
	assert.Equal(t, int64(2), c.Current())
}

func TestCenter_LastSeq(t *testing.T) {
	pt, _, _ := testTypes(t)
	c := newCenter(t)
	c.Subscribe(pt, (&recorder{}).handle)
	assert.Zero(t, c.LastSeq())

	ctx := context.Background()
	c.Post(ctx, Change[*obj]{Type: pt, Kind: KindInsert, Instance: &obj{1}})
	c.Post(ctx, Change[*obj]{Type: pt, Kind: KindDelete, Instance: &obj{1}})
	assert.Equal(t, int64(2), c.LastSeq())
}
