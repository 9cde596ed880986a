package rowmodel

import (
	"context"
	"fmt"
	"slices"

	"github.com/roach88/rowmodel/internal/canonical"
	"github.com/roach88/rowmodel/internal/querycache"
)

// CachedAllInstances is AllInstances served from the query cache.
func (db *DB) CachedAllInstances(ctx context.Context, t *ModelType) ([]*Instance, error) {
	return db.CachedInstancesWhere(ctx, t, "", nil)
}

// CachedInstancesWhere is InstancesWhere served from the query cache.
// The result stays cached until a write to t's table changes a column
// outside ignoredFields. Each call returns its own copy of the slice.
func (db *DB) CachedInstancesWhere(ctx context.Context, t *ModelType, where string, args []any, ignoredFields ...string) ([]*Instance, error) {
	if err := db.checkType(t); err != nil {
		return nil, err
	}
	key, err := querycache.QueryKey(where, args)
	if err != nil {
		return nil, err
	}
	v, err := db.cache.Get(t, "q:"+key, ignoredFields, !db.queue.Running(ctx), func() (any, error) {
		return db.InstancesWhere(ctx, t, where, args...)
	})
	if err != nil {
		return nil, err
	}
	return slices.Clone(v.([]*Instance)), nil
}

// CachedObject returns the value gen produced for (t, id), calling gen
// only when there is no valid entry. Invalidation follows the rules of
// CachedInstancesWhere. gen receives a ctx it may use for database calls;
// its errors are returned and not cached.
//
// The cached value is shared between callers and must not be mutated.
func (db *DB) CachedObject(ctx context.Context, t *ModelType, id any, ignoredFields []string, gen func(ctx context.Context) (any, error)) (any, error) {
	if err := db.checkType(t); err != nil {
		return nil, err
	}
	key, err := canonical.String(id)
	if err != nil {
		return nil, fmt.Errorf("cache identifier: %w", err)
	}
	return db.cache.Get(t, "o:"+key, ignoredFields, !db.queue.Running(ctx), func() (any, error) {
		return gen(ctx)
	})
}
