// Package keygen produces primary-key candidates for new instances.
//
// A generator only proposes values. The caller checks each candidate
// against the table and the identity map and asks again on collision.
package keygen

import (
	"math/rand/v2"
	"sync"

	"github.com/google/uuid"

	"github.com/roach88/rowmodel/pkg/schema"
)

// MaxAttempts is how many candidates are tried before giving up.
const MaxAttempts = 100

// Generator proposes a primary key for a new instance of t.
type Generator interface {
	NewKey(t *schema.ModelType) any
}

// Func adapts a function to Generator.
type Func func(t *schema.ModelType) any

// NewKey calls f.
func (f Func) NewKey(t *schema.ModelType) any { return f(t) }

// RandomInt64 proposes positive random int64 values.
//
// Safe for concurrent use.
type RandomInt64 struct{}

// NewKey returns a value in [1, MaxInt64].
func (RandomInt64) NewKey(*schema.ModelType) any {
	return rand.Int64N(1<<63-1) + 1
}

// UUIDv7 proposes time-sortable UUIDv7 strings.
//
// Safe for concurrent use.
type UUIDv7 struct{}

// NewKey returns a hyphenated UUIDv7. Panics if the clock or entropy
// source fails, which should never happen in practice.
func (UUIDv7) NewKey(*schema.ModelType) any {
	return uuid.Must(uuid.NewV7()).String()
}

// Default picks the generator matching the primary-key column: UUIDv7
// for text keys, RandomInt64 otherwise.
func Default(t *schema.ModelType) Generator {
	if t.PrimaryKeyColumn().Type == schema.TypeText {
		return UUIDv7{}
	}
	return RandomInt64{}
}

// Fixed returns predetermined keys in order, for tests.
//
// Safe for concurrent use.
type Fixed struct {
	mu   sync.Mutex
	keys []any
	idx  int
}

// NewFixed creates a generator that returns keys in order and then keeps
// returning the last one.
func NewFixed(keys ...any) *Fixed {
	if len(keys) == 0 {
		panic("keygen.NewFixed: at least one key is required")
	}
	return &Fixed{keys: keys}
}

// NewKey returns the next predetermined key.
func (g *Fixed) NewKey(*schema.ModelType) any {
	g.mu.Lock()
	defer g.mu.Unlock()

	k := g.keys[g.idx]
	if g.idx < len(g.keys)-1 {
		g.idx++
	}
	return k
}
