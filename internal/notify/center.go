// Package notify delivers change events to subscribers, one per change or
// merged per (type, kind) while a batch is open.
//
// Delivery is synchronous: Post and EndBatch return after every matching
// handler has run. Handlers receive the poster's context, so a handler
// running on the database worker can query the database reentrantly.
package notify

import (
	"context"
	"log/slog"
	"slices"
	"sync"

	"github.com/roach88/rowmodel/pkg/modelerr"
	"github.com/roach88/rowmodel/pkg/schema"
)

// Handler receives events.
type Handler[I comparable] func(ctx context.Context, ev Event[I])

// Observer is told about every delivered event.
type Observer interface {
	EventDelivered(typ string, kind string, instances int)
}

type fieldFilterMode int

const (
	allFields fieldFilterMode = iota
	onlyFields
	exceptFields
)

type subscription[I comparable] struct {
	id      uint64
	typ     *schema.ModelType
	handler Handler[I]
	kinds   []Kind
	mode    fieldFilterMode
	fields  []string
}

// SubscribeOption narrows a subscription.
type SubscribeOption func(*subscriptionFilter)

type subscriptionFilter struct {
	kinds  []Kind
	mode   fieldFilterMode
	fields []string
}

// OnlyFields suppresses update events whose changed fields do not include
// any of fields.
func OnlyFields(fields ...string) SubscribeOption {
	return func(f *subscriptionFilter) {
		f.mode = onlyFields
		f.fields = slices.Clone(fields)
	}
}

// ExceptFields suppresses update events whose changed fields are all in
// fields.
func ExceptFields(fields ...string) SubscribeOption {
	return func(f *subscriptionFilter) {
		f.mode = exceptFields
		f.fields = slices.Clone(fields)
	}
}

// Kinds restricts the subscription to the given kinds.
func Kinds(kinds ...Kind) SubscribeOption {
	return func(f *subscriptionFilter) { f.kinds = slices.Clone(kinds) }
}

// Center is the notification hub of one database.
type Center[I comparable] struct {
	mu       sync.Mutex
	subs     []*subscription[I]
	nextID   uint64
	batch    *Batch[I]
	deferred *Batch[I]
	clock    *Clock
	logger   *slog.Logger
	observer Observer
}

// CenterOption configures a Center.
type CenterOption func(*centerConfig)

type centerConfig struct {
	logger   *slog.Logger
	observer Observer
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) CenterOption {
	return func(cfg *centerConfig) { cfg.logger = l }
}

// WithObserver sets the delivery observer.
func WithObserver(o Observer) CenterOption {
	return func(cfg *centerConfig) { cfg.observer = o }
}

// NewCenter creates a Center with no subscribers.
func NewCenter[I comparable](opts ...CenterOption) *Center[I] {
	cfg := centerConfig{logger: slog.Default()}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Center[I]{clock: NewClock(), logger: cfg.logger, observer: cfg.observer}
}

// LastSeq returns the sequence number of the last delivered event, or 0.
func (c *Center[I]) LastSeq() int64 {
	return c.clock.Current()
}

// Subscribe registers h for events of t and of types extending t. A nil t
// subscribes to every type. The returned function cancels the
// subscription; it is safe to call more than once.
func (c *Center[I]) Subscribe(t *schema.ModelType, h Handler[I], opts ...SubscribeOption) (cancel func()) {
	var f subscriptionFilter
	for _, opt := range opts {
		opt(&f)
	}

	c.mu.Lock()
	c.nextID++
	sub := &subscription[I]{
		id:      c.nextID,
		typ:     t,
		handler: h,
		kinds:   f.kinds,
		mode:    f.mode,
		fields:  f.fields,
	}
	// Copy on write so dispatch can iterate a snapshot without the lock.
	c.subs = append(slices.Clip(c.subs), sub)
	c.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			c.subs = slices.DeleteFunc(slices.Clone(c.subs), func(s *subscription[I]) bool { return s.id == sub.id })
		})
	}
}

// Post records one change. Inside a deferred (transaction) batch or a user
// batch it is merged; otherwise it is delivered immediately.
func (c *Center[I]) Post(ctx context.Context, ch Change[I]) {
	c.mu.Lock()
	switch {
	case c.deferred != nil:
		c.deferred.Add(ch)
		c.mu.Unlock()
		return
	case c.batch != nil:
		c.batch.Add(ch)
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	b := NewBatch[I]()
	b.Add(ch)
	c.Dispatch(ctx, b.Events())
}

// BeginBatch starts merging posted changes. Batches do not nest.
func (c *Center[I]) BeginBatch() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.batch != nil {
		return modelerr.NewBatchAlreadyOpen()
	}
	c.batch = NewBatch[I]()
	return nil
}

// EndBatch closes the open batch, delivering its merged events when flush
// is true and dropping them otherwise.
func (c *Center[I]) EndBatch(ctx context.Context, flush bool) error {
	c.mu.Lock()
	b := c.batch
	c.batch = nil
	c.mu.Unlock()

	if b == nil {
		c.logger.Warn("EndBatch without BeginBatch")
		return modelerr.NewUnmatchedEndBatch()
	}
	if flush {
		c.Dispatch(ctx, b.Events())
	} else if n := b.Len(); n > 0 {
		c.logger.Debug("notification batch discarded", "groups", n)
	}
	return nil
}

// InBatch reports whether a user batch is open.
func (c *Center[I]) InBatch() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.batch != nil
}

// BeginDeferred starts the transaction batch. It takes precedence over a
// user batch until CommitDeferred or DiscardDeferred.
func (c *Center[I]) BeginDeferred() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.deferred == nil {
		c.deferred = NewBatch[I]()
	}
}

// CommitDeferred releases the transaction batch: into the user batch if
// one is open, to subscribers otherwise.
func (c *Center[I]) CommitDeferred(ctx context.Context) {
	c.mu.Lock()
	d := c.deferred
	c.deferred = nil
	if d != nil && c.batch != nil {
		c.batch.Merge(d)
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	if d != nil {
		c.Dispatch(ctx, d.Events())
	}
}

// DiscardDeferred drops the transaction batch.
func (c *Center[I]) DiscardDeferred() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.deferred = nil
}

// FlushPending delivers and closes any open user batch. Used on shutdown.
func (c *Center[I]) FlushPending(ctx context.Context) {
	c.mu.Lock()
	b := c.batch
	c.batch = nil
	c.mu.Unlock()
	if b != nil {
		c.Dispatch(ctx, b.Events())
	}
}

// Dispatch stamps and delivers events to matching subscribers, in order.
func (c *Center[I]) Dispatch(ctx context.Context, events []Event[I]) {
	if len(events) == 0 {
		return
	}
	c.mu.Lock()
	subs := c.subs
	c.mu.Unlock()

	for _, ev := range events {
		ev.Seq = c.clock.Next()
		delivered := 0
		for _, s := range subs {
			if !s.matches(ev) {
				continue
			}
			s.handler(ctx, ev)
			delivered++
		}
		if c.observer != nil {
			c.observer.EventDelivered(ev.Type.Name(), ev.Kind.String(), len(ev.Instances))
		}
		c.logger.Debug("event dispatched",
			"type", ev.Type.Name(),
			"kind", ev.Kind.String(),
			"instances", len(ev.Instances),
			"subscribers", delivered,
			"seq", ev.Seq)
	}
}

func (s *subscription[I]) matches(ev Event[I]) bool {
	if s.typ != nil && !ev.Type.IsA(s.typ) {
		return false
	}
	if len(s.kinds) > 0 && !slices.Contains(s.kinds, ev.Kind) {
		return false
	}
	if ev.Kind != KindUpdate || len(ev.ChangedFields) == 0 {
		return true
	}
	switch s.mode {
	case onlyFields:
		for _, f := range ev.ChangedFields {
			if slices.Contains(s.fields, f) {
				return true
			}
		}
		return false
	case exceptFields:
		for _, f := range ev.ChangedFields {
			if !slices.Contains(s.fields, f) {
				return true
			}
		}
		return false
	default:
		return true
	}
}
