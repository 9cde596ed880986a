package notify

import (
	"github.com/roach88/rowmodel/pkg/schema"
)

// Kind is the kind of change an event reports.
type Kind int

const (
	// KindUnspecified means any change may have happened to the type, for
	// example after a raw statement or an external write.
	KindUnspecified Kind = iota
	KindInsert
	KindUpdate
	KindDelete
)

func (k Kind) String() string {
	switch k {
	case KindInsert:
		return "insert"
	case KindUpdate:
		return "update"
	case KindDelete:
		return "delete"
	default:
		return "unspecified"
	}
}

// Change is one instance-level change posted to a Center.
type Change[I comparable] struct {
	Type     *schema.ModelType
	Kind     Kind
	Instance I
	// ChangedFields and OldValues are set for updates.
	ChangedFields []string
	OldValues     map[string]any
}

// Event is what subscribers receive. An unbatched event carries a single
// instance; a flushed batch carries every instance of its (type, kind)
// group.
type Event[I comparable] struct {
	Type      *schema.ModelType
	Kind      Kind
	Instances []I
	// ChangedFields is the union of changed fields over all instances.
	// It may be overly inclusive but never misses a change.
	ChangedFields []string
	// OldValues is present only for single-instance update events. It
	// holds, per field, the value before the first change in the batch.
	OldValues map[string]any
	// Seq orders events delivered by one Center.
	Seq int64
}

// Instance returns the single instance of the event, if there is exactly
// one.
func (e Event[I]) Instance() (I, bool) {
	if len(e.Instances) == 1 {
		return e.Instances[0], true
	}
	var zero I
	return zero, false
}
