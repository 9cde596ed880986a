package rowmodel

import (
	"context"
	"fmt"
	"strings"

	"github.com/roach88/rowmodel/internal/identity"
	"github.com/roach88/rowmodel/internal/sqltemplate"
	"github.com/roach88/rowmodel/internal/store"
)

// maxKeysPerQuery stays below SQLite's default bound-parameter limit.
const maxKeysPerQuery = 500

// Find returns the instances of t selected by q, in result order. Rows
// whose instance is already loaded resolve to that instance as it is in
// memory.
func (db *DB) Find(ctx context.Context, t *ModelType, q Query) ([]*Instance, error) {
	if err := db.checkType(t); err != nil {
		return nil, err
	}
	var out []*Instance
	err := db.run(ctx, func(ctx context.Context, ex Executor) error {
		rs, err := ex.QueryContext(ctx, q.SQL(t), q.Args...)
		if err != nil {
			return err
		}
		rows, err := scanRows(t, rs)
		if err != nil {
			return err
		}
		out, err = db.materialize(t, rows)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// materialize runs on the worker.
func (db *DB) materialize(t *ModelType, rows []map[string]any) ([]*Instance, error) {
	out := make([]*Instance, 0, len(rows))
	for _, row := range rows {
		inst, _, err := db.instances.FetchOrInsert(t, row[t.PrimaryKey()], func() (*Instance, error) {
			return loadedInstance(db, t, row), nil
		})
		if err != nil {
			return nil, err
		}
		out = append(out, inst)
	}
	return out, nil
}

func first(insts []*Instance, err error) (*Instance, error) {
	if err != nil || len(insts) == 0 {
		return nil, err
	}
	return insts[0], nil
}

// AllInstances returns every instance of t.
func (db *DB) AllInstances(ctx context.Context, t *ModelType) ([]*Instance, error) {
	return db.Find(ctx, t, Query{})
}

// InstancesWhere returns the instances matching where, the SQL that
// follows WHERE.
func (db *DB) InstancesWhere(ctx context.Context, t *ModelType, where string, args ...any) ([]*Instance, error) {
	return db.Find(ctx, t, Query{Where: where, Args: args})
}

// FirstInstanceWhere returns the first match, or nil.
func (db *DB) FirstInstanceWhere(ctx context.Context, t *ModelType, where string, args ...any) (*Instance, error) {
	return first(db.Find(ctx, t, Query{Where: where, Args: args, Limit: 1}))
}

// InstancesOrderedBy returns every instance of t in the given order.
func (db *DB) InstancesOrderedBy(ctx context.Context, t *ModelType, orderBy string, args ...any) ([]*Instance, error) {
	return db.Find(ctx, t, Query{OrderBy: orderBy, Args: args})
}

// FirstInstanceOrderedBy returns the first instance in the given order,
// or nil.
func (db *DB) FirstInstanceOrderedBy(ctx context.Context, t *ModelType, orderBy string, args ...any) (*Instance, error) {
	return first(db.Find(ctx, t, Query{OrderBy: orderBy, Args: args, Limit: 1}))
}

// keyed indexes insts by primary key. Byte-slice keys become strings so
// every key is usable as a map key.
func keyed(insts []*Instance, err error) (map[any]*Instance, error) {
	if err != nil {
		return nil, err
	}
	out := make(map[any]*Instance, len(insts))
	for _, inst := range insts {
		k, err := identity.NormalizeKey(inst.key)
		if err != nil {
			return nil, err
		}
		out[k] = inst
	}
	return out, nil
}

// KeyedAllInstances is AllInstances indexed by primary key.
func (db *DB) KeyedAllInstances(ctx context.Context, t *ModelType) (map[any]*Instance, error) {
	return keyed(db.AllInstances(ctx, t))
}

// KeyedInstancesWhere is InstancesWhere indexed by primary key.
func (db *DB) KeyedInstancesWhere(ctx context.Context, t *ModelType, where string, args ...any) (map[any]*Instance, error) {
	return keyed(db.InstancesWhere(ctx, t, where, args...))
}

// Count returns the number of rows of t.
func (db *DB) Count(ctx context.Context, t *ModelType) (int64, error) {
	return db.CountWhere(ctx, t, "")
}

// CountWhere returns the number of rows of t matching where.
func (db *DB) CountWhere(ctx context.Context, t *ModelType, where string, args ...any) (int64, error) {
	if err := db.checkType(t); err != nil {
		return 0, err
	}
	query := "SELECT COUNT(*) FROM $T"
	if where != "" {
		query += " WHERE " + where
	}
	var n int64
	err := db.run(ctx, func(ctx context.Context, ex Executor) error {
		return ex.QueryRowContext(ctx, sqltemplate.Expand(query, t), args...).Scan(&n)
	})
	return n, err
}

// InstancesWithPrimaryKeys returns the instances of t for keys, in the
// order of keys. Keys without a row are skipped.
func (db *DB) InstancesWithPrimaryKeys(ctx context.Context, t *ModelType, keys []any) ([]*Instance, error) {
	if err := db.checkType(t); err != nil {
		return nil, err
	}
	if len(keys) == 0 {
		return nil, nil
	}
	pk := t.PrimaryKey()
	coerced := make([]any, len(keys))
	for i, k := range keys {
		c, err := coerceKey(t, k)
		if err != nil {
			return nil, err
		}
		coerced[i] = c
	}

	byKey := make(map[any]*Instance, len(keys))
	for start := 0; start < len(coerced); start += maxKeysPerQuery {
		chunk := coerced[start:min(start+maxKeysPerQuery, len(coerced))]
		args := make([]any, len(chunk))
		for i, k := range chunk {
			args[i] = encodeArg(t, pk, k)
		}
		where := store.QuoteIdent(pk) + " IN (" + strings.TrimSuffix(strings.Repeat("?, ", len(chunk)), ", ") + ")"
		found, err := db.Find(ctx, t, Query{Where: where, Args: args})
		if err != nil {
			return nil, err
		}
		for _, inst := range found {
			nk, err := identity.NormalizeKey(inst.key)
			if err != nil {
				return nil, err
			}
			byKey[nk] = inst
		}
	}

	out := make([]*Instance, 0, len(byKey))
	for _, k := range coerced {
		nk, err := identity.NormalizeKey(k)
		if err != nil {
			return nil, err
		}
		if inst, ok := byKey[nk]; ok {
			out = append(out, inst)
		}
	}
	return out, nil
}

// KeyedInstancesWithPrimaryKeys is InstancesWithPrimaryKeys indexed by
// primary key.
func (db *DB) KeyedInstancesWithPrimaryKeys(ctx context.Context, t *ModelType, keys []any) (map[any]*Instance, error) {
	return keyed(db.InstancesWithPrimaryKeys(ctx, t, keys))
}

// Rows runs query and returns each row as a map of column name to driver
// value. When t is non-nil $T and $PK are expanded for it.
func (db *DB) Rows(ctx context.Context, t *ModelType, query string, args ...any) ([]map[string]any, error) {
	if t != nil {
		query = sqltemplate.Expand(query, t)
	}
	var out []map[string]any
	err := db.run(ctx, func(ctx context.Context, ex Executor) error {
		rs, err := ex.QueryContext(ctx, query, args...)
		if err != nil {
			return err
		}
		out, err = scanMaps(rs)
		return err
	})
	return out, err
}

// FirstColumn returns the first column of every row of query.
func (db *DB) FirstColumn(ctx context.Context, t *ModelType, query string, args ...any) ([]any, error) {
	if t != nil {
		query = sqltemplate.Expand(query, t)
	}
	var out []any
	err := db.run(ctx, func(ctx context.Context, ex Executor) error {
		rs, err := ex.QueryContext(ctx, query, args...)
		if err != nil {
			return err
		}
		defer rs.Close()
		cols, err := rs.Columns()
		if err != nil {
			return err
		}
		if len(cols) == 0 {
			return fmt.Errorf("query returns no columns")
		}
		raw := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range raw {
			ptrs[i] = &raw[i]
		}
		for rs.Next() {
			if err := rs.Scan(ptrs...); err != nil {
				return err
			}
			out = append(out, driverValue(raw[0]))
		}
		return rs.Err()
	})
	return out, err
}

// FirstValue returns the first column of the first row of query, or nil
// when there are no rows.
func (db *DB) FirstValue(ctx context.Context, t *ModelType, query string, args ...any) (any, error) {
	vals, err := db.FirstColumn(ctx, t, query, args...)
	if err != nil || len(vals) == 0 {
		return nil, err
	}
	return vals[0], nil
}
