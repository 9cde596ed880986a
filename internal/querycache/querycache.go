// Package querycache memoizes query results and derived objects per model
// type and invalidates them when the type's table is written.
//
// An entry may declare ignored fields. A write whose changed fields are
// all ignored by the entry leaves it valid; any other write to the type
// drops it. There is no capacity eviction: entries live until invalidated
// or until Clear (the low-memory signal).
//
// Concurrent misses for one key run the generator once. A write that
// lands while a generator runs bumps the type's generation, and the
// result is then returned to its callers but not stored.
package querycache

import (
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"strings"
	"sync"
	"unicode"

	"golang.org/x/sync/singleflight"
	"golang.org/x/text/unicode/norm"

	"github.com/roach88/rowmodel/internal/canonical"
	"github.com/roach88/rowmodel/pkg/schema"
)

// Observer receives cache statistics.
type Observer interface {
	CacheHit(typ string)
	CacheMiss(typ string)
	CacheInvalidated(typ string, entries int)
}

type entryKey struct {
	typ *schema.ModelType
	id  string
}

type entry struct {
	value   any
	ignored []string
}

// Cache is safe for concurrent use.
type Cache struct {
	mu       sync.Mutex
	entries  map[entryKey]*entry
	gens     map[*schema.ModelType]uint64
	epoch    uint64
	group    singleflight.Group
	logger   *slog.Logger
	observer Observer
}

// Option configures a Cache.
type Option func(*Cache)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(c *Cache) { c.logger = l }
}

// WithObserver sets the statistics observer.
func WithObserver(o Observer) Option {
	return func(c *Cache) { c.observer = o }
}

// New creates an empty cache.
func New(opts ...Option) *Cache {
	c := &Cache{
		entries: make(map[entryKey]*entry),
		gens:    make(map[*schema.ModelType]uint64),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Generator produces the value for a missing entry.
type Generator func() (any, error)

// Get returns the cached value for (t, id), calling gen on a miss.
// Generator errors are returned and nothing is stored.
//
// With dedupe set, concurrent misses share one gen call. Callers already
// holding the resource gen depends on (for example, code running on the
// database worker) must pass dedupe=false, or they could wait on a
// generator that is itself waiting for them.
func (c *Cache) Get(t *schema.ModelType, id string, ignored []string, dedupe bool, gen Generator) (any, error) {
	c.mu.Lock()
	if e, ok := c.entries[entryKey{t, id}]; ok {
		c.mu.Unlock()
		c.hit(t)
		return e.value, nil
	}
	epoch, gen0 := c.epoch, c.gens[t]
	c.mu.Unlock()
	c.miss(t)

	fill := func() (any, error) {
		v, err := gen()
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.epoch == epoch && c.gens[t] == gen0 {
			c.entries[entryKey{t, id}] = &entry{value: v, ignored: slices.Clone(ignored)}
		} else {
			c.logger.Debug("discarding stale cache fill", "type", t.Name(), "key", id)
		}
		return v, nil
	}

	if !dedupe {
		return fill()
	}
	sfKey := t.Name() + "\x00" + id + "\x00" + strconv.FormatUint(epoch, 10) + "." + strconv.FormatUint(gen0, 10)
	v, err, _ := c.group.Do(sfKey, fill)
	return v, err
}

// Peek returns the cached value without generating one.
func (c *Cache) Peek(t *schema.ModelType, id string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[entryKey{t, id}]
	if !ok {
		return nil, false
	}
	return e.value, true
}

// Invalidate records a write to t that changed changedFields. An empty
// changedFields (inserts, deletes, raw statements) drops every entry of t.
// It returns the number of entries dropped.
func (c *Cache) Invalidate(t *schema.ModelType, changedFields []string) int {
	c.mu.Lock()
	c.gens[t]++
	dropped := 0
	for k, e := range c.entries {
		if k.typ != t {
			continue
		}
		if len(changedFields) > 0 && len(e.ignored) > 0 && subset(changedFields, e.ignored) {
			continue
		}
		delete(c.entries, k)
		dropped++
	}
	c.mu.Unlock()

	if dropped > 0 {
		c.logger.Debug("query cache invalidated", "type", t.Name(), "entries", dropped)
		if c.observer != nil {
			c.observer.CacheInvalidated(t.Name(), dropped)
		}
	}
	return dropped
}

// Clear drops every entry of every type.
func (c *Cache) Clear() int {
	c.mu.Lock()
	n := len(c.entries)
	clear(c.entries)
	c.epoch++
	c.mu.Unlock()

	if n > 0 {
		c.logger.Debug("query cache cleared", "entries", n)
		if c.observer != nil {
			c.observer.CacheInvalidated("", n)
		}
	}
	return n
}

// Len returns the number of stored entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *Cache) hit(t *schema.ModelType) {
	if c.observer != nil {
		c.observer.CacheHit(t.Name())
	}
}

func (c *Cache) miss(t *schema.ModelType) {
	if c.observer != nil {
		c.observer.CacheMiss(t.Name())
	}
}

func subset(fields, of []string) bool {
	for _, f := range fields {
		if !slices.Contains(of, f) {
			return false
		}
	}
	return true
}

// QueryKey builds the cache identifier of a query: the NFC-normalized
// clause with whitespace outside quotes collapsed, followed by the
// canonical encoding of args.
func QueryKey(clause string, args []any) (string, error) {
	var b strings.Builder
	b.WriteString(foldSpace(norm.NFC.String(clause)))
	b.WriteByte(0)
	if args == nil {
		args = []any{}
	}
	enc, err := canonical.String(args)
	if err != nil {
		return "", fmt.Errorf("query cache key: %w", err)
	}
	b.WriteString(enc)
	return b.String(), nil
}

// foldSpace trims s and collapses each run of whitespace outside quoted
// literals or identifiers to one space.
func foldSpace(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	var quote rune
	pendingSpace := false
	for _, r := range strings.TrimSpace(s) {
		if quote == 0 && unicode.IsSpace(r) {
			pendingSpace = true
			continue
		}
		if pendingSpace {
			b.WriteByte(' ')
			pendingSpace = false
		}
		switch {
		case quote == 0 && (r == '\'' || r == '"' || r == '`'):
			quote = r
		case quote != 0 && r == quote:
			quote = 0
		}
		b.WriteRune(r)
	}
	return b.String()
}
