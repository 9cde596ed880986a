// Package identity keeps at most one live in-memory object per
// (model type, primary key).
//
// Entries hold weak pointers: the map never keeps an object alive on its
// own. Entries whose object has been collected are pruned lazily on lookup
// and by Sweep.
package identity

import (
	"fmt"
	"math"
	"reflect"
	"sync"
	"weak"

	"github.com/roach88/rowmodel/internal/canonical"
	"github.com/roach88/rowmodel/pkg/schema"
)

type entryKey struct {
	typ *schema.ModelType
	key any
}

// Map is a weak identity map of *T. The zero value is not usable; call New.
type Map[T any] struct {
	mu      sync.Mutex
	entries map[entryKey]weak.Pointer[T]
}

// New creates an empty map.
func New[T any]() *Map[T] {
	return &Map[T]{entries: make(map[entryKey]weak.Pointer[T])}
}

// NormalizeKey maps equal primary-key values to one comparable
// representation: integer kinds become int64, byte slices become strings
// and non-comparable values (slices, maps) become their canonical
// encoding.
func NormalizeKey(key any) (any, error) {
	switch k := key.(type) {
	case nil:
		return nil, fmt.Errorf("nil primary key")
	case string, int64, float64, bool:
		return k, nil
	case int:
		return int64(k), nil
	case int32:
		return int64(k), nil
	case int16:
		return int64(k), nil
	case int8:
		return int64(k), nil
	case uint:
		if uint64(k) <= math.MaxInt64 {
			return int64(k), nil
		}
		return uint64(k), nil
	case uint64:
		if k <= math.MaxInt64 {
			return int64(k), nil
		}
		return k, nil
	case uint32:
		return int64(k), nil
	case uint16:
		return int64(k), nil
	case uint8:
		return int64(k), nil
	case []byte:
		return string(k), nil
	}
	if reflect.TypeOf(key).Comparable() {
		return key, nil
	}
	s, err := canonical.String(key)
	if err != nil {
		return nil, fmt.Errorf("primary key: %w", err)
	}
	return s, nil
}

func (m *Map[T]) entryKey(t *schema.ModelType, key any) (entryKey, error) {
	k, err := NormalizeKey(key)
	if err != nil {
		return entryKey{}, err
	}
	return entryKey{typ: t, key: k}, nil
}

// Get returns the live object for (t, key), or nil.
func (m *Map[T]) Get(t *schema.ModelType, key any) *T {
	ek, err := m.entryKey(t, key)
	if err != nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.liveLocked(ek)
}

func (m *Map[T]) liveLocked(ek entryKey) *T {
	wp, ok := m.entries[ek]
	if !ok {
		return nil
	}
	if v := wp.Value(); v != nil {
		return v
	}
	delete(m.entries, ek)
	return nil
}

// FetchOrInsert returns the live object for (t, key). When there is none
// it calls construct outside the lock and stores the result, unless a
// concurrent caller stored one first, in which case that one is returned
// and the constructed object is dropped. inserted reports whether the
// returned object came from this call's construct.
func (m *Map[T]) FetchOrInsert(t *schema.ModelType, key any, construct func() (*T, error)) (obj *T, inserted bool, err error) {
	ek, err := m.entryKey(t, key)
	if err != nil {
		return nil, false, err
	}

	m.mu.Lock()
	if v := m.liveLocked(ek); v != nil {
		m.mu.Unlock()
		return v, false, nil
	}
	m.mu.Unlock()

	fresh, err := construct()
	if err != nil {
		return nil, false, err
	}
	if fresh == nil {
		return nil, false, fmt.Errorf("identity: constructor for %s returned nil", t.Name())
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if v := m.liveLocked(ek); v != nil {
		return v, false, nil
	}
	m.entries[ek] = weak.Make(fresh)
	return fresh, true, nil
}

// Insert stores obj under (t, key) unless a live object is already there.
// It returns the object now registered.
func (m *Map[T]) Insert(t *schema.ModelType, key any, obj *T) (*T, error) {
	v, _, err := m.FetchOrInsert(t, key, func() (*T, error) { return obj, nil })
	return v, err
}

// Remove drops the entry for (t, key), whatever it points to.
func (m *Map[T]) Remove(t *schema.ModelType, key any) {
	ek, err := m.entryKey(t, key)
	if err != nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, ek)
}

// RemoveIf drops the entry for (t, key) only if it points to obj.
func (m *Map[T]) RemoveIf(t *schema.ModelType, key any, obj *T) bool {
	ek, err := m.entryKey(t, key)
	if err != nil {
		return false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if wp, ok := m.entries[ek]; ok && wp.Value() == obj {
		delete(m.entries, ek)
		return true
	}
	return false
}

// AllLoaded returns a snapshot of the live objects of t and of every type
// extending t. Order is unspecified.
func (m *Map[T]) AllLoaded(t *schema.ModelType) []*T {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*T
	for ek, wp := range m.entries {
		if !ek.typ.IsA(t) {
			continue
		}
		if v := wp.Value(); v != nil {
			out = append(out, v)
		} else {
			delete(m.entries, ek)
		}
	}
	return out
}

// All returns a snapshot of every live object.
func (m *Map[T]) All() []*T {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]*T, 0, len(m.entries))
	for ek, wp := range m.entries {
		if v := wp.Value(); v != nil {
			out = append(out, v)
		} else {
			delete(m.entries, ek)
		}
	}
	return out
}

// Sweep prunes dead entries and returns how many remain.
func (m *Map[T]) Sweep() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	for ek, wp := range m.entries {
		if wp.Value() == nil {
			delete(m.entries, ek)
		}
	}
	return len(m.entries)
}

// Len returns the number of entries, dead ones included until pruned.
func (m *Map[T]) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// Clear drops every entry.
func (m *Map[T]) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	clear(m.entries)
}
