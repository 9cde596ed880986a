package notify

import (
	"maps"
	"slices"

	"github.com/roach88/rowmodel/pkg/schema"
)

type groupKey struct {
	typ  *schema.ModelType
	kind Kind
}

type group[I comparable] struct {
	instances []I
	present   map[I]bool
	fields    []string
	oldValues map[I]map[string]any
}

// Batch accumulates changes and merges them per (type, kind).
//
// Merging unions instances and changed fields and keeps, per instance and
// field, the oldest value seen. An instance that is deleted is removed
// from the insert and update groups of its type and never re-enters them.
type Batch[I comparable] struct {
	order  []groupKey
	groups map[groupKey]*group[I]
}

// NewBatch creates an empty batch.
func NewBatch[I comparable]() *Batch[I] {
	return &Batch[I]{groups: make(map[groupKey]*group[I])}
}

// Add merges c into the batch.
func (b *Batch[I]) Add(c Change[I]) {
	if c.Kind == KindDelete {
		for _, k := range []Kind{KindInsert, KindUpdate} {
			if g := b.groups[groupKey{c.Type, k}]; g != nil {
				g.remove(c.Instance)
			}
		}
	} else if c.Kind != KindUnspecified {
		if g := b.groups[groupKey{c.Type, KindDelete}]; g != nil && g.present[c.Instance] {
			return
		}
	}

	key := groupKey{c.Type, c.Kind}
	g := b.groups[key]
	if g == nil {
		g = &group[I]{
			present:   make(map[I]bool),
			oldValues: make(map[I]map[string]any),
		}
		b.groups[key] = g
		b.order = append(b.order, key)
	}
	g.add(c)
}

func (g *group[I]) add(c Change[I]) {
	var zero I
	if c.Instance != zero && !g.present[c.Instance] {
		g.present[c.Instance] = true
		g.instances = append(g.instances, c.Instance)
	}
	for _, f := range c.ChangedFields {
		if !slices.Contains(g.fields, f) {
			g.fields = append(g.fields, f)
		}
	}
	if len(c.OldValues) > 0 {
		old := g.oldValues[c.Instance]
		if old == nil {
			old = make(map[string]any, len(c.OldValues))
			g.oldValues[c.Instance] = old
		}
		for f, v := range c.OldValues {
			if _, seen := old[f]; !seen {
				old[f] = v
			}
		}
	}
}

func (g *group[I]) remove(inst I) {
	if !g.present[inst] {
		return
	}
	delete(g.present, inst)
	delete(g.oldValues, inst)
	g.instances = slices.DeleteFunc(g.instances, func(x I) bool { return x == inst })
}

// Len returns the number of non-empty groups.
func (b *Batch[I]) Len() int {
	n := 0
	for k, g := range b.groups {
		if !g.empty(k.kind) {
			n++
		}
	}
	return n
}

// empty reports whether the group has nothing to deliver. Unspecified
// groups need no instances.
func (g *group[I]) empty(kind Kind) bool {
	return kind != KindUnspecified && len(g.instances) == 0
}

// Merge adds every change recorded in other, preserving its group order.
func (b *Batch[I]) Merge(other *Batch[I]) {
	for _, ev := range other.Events() {
		for _, inst := range ev.Instances {
			b.Add(Change[I]{
				Type:          ev.Type,
				Kind:          ev.Kind,
				Instance:      inst,
				ChangedFields: ev.ChangedFields,
				OldValues:     other.groups[groupKey{ev.Type, ev.Kind}].oldValues[inst],
			})
		}
		if len(ev.Instances) == 0 {
			b.Add(Change[I]{Type: ev.Type, Kind: ev.Kind, ChangedFields: ev.ChangedFields})
		}
	}
}

// Events returns one merged event per non-empty group, in the order the
// groups were first touched. Seq is left zero.
func (b *Batch[I]) Events() []Event[I] {
	out := make([]Event[I], 0, len(b.order))
	for _, key := range b.order {
		g := b.groups[key]
		if g.empty(key.kind) {
			continue
		}
		ev := Event[I]{
			Type:          key.typ,
			Kind:          key.kind,
			Instances:     slices.Clone(g.instances),
			ChangedFields: slices.Clone(g.fields),
		}
		if len(g.instances) == 1 && key.kind == KindUpdate {
			if old := g.oldValues[g.instances[0]]; len(old) > 0 {
				ev.OldValues = maps.Clone(old)
			}
		}
		out = append(out, ev)
	}
	return out
}
