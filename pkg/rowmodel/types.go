package rowmodel

import (
	"context"

	"github.com/roach88/rowmodel/internal/access"
	"github.com/roach88/rowmodel/internal/keygen"
	"github.com/roach88/rowmodel/internal/notify"
	"github.com/roach88/rowmodel/internal/store"
	"github.com/roach88/rowmodel/pkg/modelerr"
	"github.com/roach88/rowmodel/pkg/schema"
)

type (
	// ModelType is a registered, immutable model type.
	ModelType = schema.ModelType
	// Descriptor declares a model type.
	Descriptor = schema.Descriptor
	// ColumnSpec declares one column of a Descriptor.
	ColumnSpec = schema.ColumnSpec

	// Error is the structured error returned by rowmodel operations.
	Error = modelerr.Error
	// Code categorizes an Error.
	Code = modelerr.Code

	// Executor runs statements on the DB's connection, or inside the open
	// transaction.
	Executor = access.Executor

	// SchemaBuilder advances the schema one version per call.
	SchemaBuilder = store.SchemaBuilder

	// KeyFunc adapts a function to KeyGenerator.
	KeyFunc = keygen.Func

	// Kind is the kind of change an Event reports.
	Kind = notify.Kind
	// Event is a change notification.
	Event = notify.Event[*Instance]
	// Handler receives events.
	Handler = notify.Handler[*Instance]
	// SubscribeOption narrows a subscription.
	SubscribeOption = notify.SubscribeOption
)

const (
	KindUnspecified = notify.KindUnspecified
	KindInsert      = notify.KindInsert
	KindUpdate      = notify.KindUpdate
	KindDelete      = notify.KindDelete
)

var (
	// OnlyFields delivers update events only when one of fields changed.
	OnlyFields = notify.OnlyFields
	// ExceptFields suppresses update events that changed nothing but fields.
	ExceptFields = notify.ExceptFields
	// Kinds restricts a subscription to the given kinds.
	Kinds = notify.Kinds
)

// KeyGenerator proposes primary keys for New. Candidates that collide
// with an existing row or live instance are discarded and another is
// requested.
type KeyGenerator interface {
	NewKey(t *ModelType) any
}

// UUIDKeys generates UUIDv7 strings. It is the default for text keys;
// integer keys default to random positive int64 values.
var UUIDKeys KeyGenerator = keygen.UUIDv7{}

// Conflict describes a field whose unsaved value diverges from a newer
// database value during an external reload.
type Conflict struct {
	Type     *ModelType
	Key      any
	Field    string
	Local    any
	Database any
}

// ConflictResolver returns the value field should hold after the
// reload. Returning the database value discards the local change;
// returning anything else keeps the instance dirty. An error aborts the
// reload of that instance with RELOAD_CONFLICT.
type ConflictResolver func(c Conflict) (any, error)

// SaveGuard may veto an insert, update or delete by returning an error,
// which is reported as SAVE_REFUSED.
type SaveGuard func(ctx context.Context, inst *Instance, kind Kind) error

// WriteHook observes a completed insert, update or delete. It runs on
// the worker; database calls made with ctx run inline.
type WriteHook func(ctx context.Context, inst *Instance, kind Kind)

// WriteFailedHook observes a write that did not happen and the error the
// caller receives.
type WriteFailedHook func(ctx context.Context, inst *Instance, kind Kind, err error)

// ReturnQueryFailure is a query-failed handler that hands failures back
// to the caller instead of panicking.
func ReturnQueryFailure(err *Error) error {
	return err
}
