// Package modelerr defines the error taxonomy shared by every rowmodel
// component.
//
// Errors carry a Code so callers can branch with errors.As (or the Is*
// helpers) regardless of how deeply the error was wrapped.
package modelerr

import (
	"errors"
	"fmt"
)

// Code categorizes an Error.
type Code string

const (
	// CodeQueryFailed indicates the database driver rejected a statement.
	CodeQueryFailed Code = "QUERY_FAILED"

	// CodeSaveRefused indicates an application guard vetoed a save or delete.
	CodeSaveRefused Code = "SAVE_REFUSED"

	// CodeAlreadyInTransaction indicates an attempt to nest transactions.
	CodeAlreadyInTransaction Code = "ALREADY_IN_TRANSACTION"

	// CodeAlreadyDeleted indicates a mutation of a deleted instance.
	CodeAlreadyDeleted Code = "ALREADY_DELETED"

	// CodeReloadConflict indicates unsaved changes diverge from a newer
	// database value and no resolver chose a winner.
	CodeReloadConflict Code = "RELOAD_CONFLICT"

	// CodePrimaryKeyExhausted indicates key generation could not find an
	// unused value.
	CodePrimaryKeyExhausted Code = "PRIMARY_KEY_EXHAUSTED"

	// CodeDatabaseClosed indicates use of a database after Close.
	CodeDatabaseClosed Code = "DATABASE_CLOSED"

	// CodeUnmatchedEndBatch indicates EndBatch without a matching BeginBatch.
	CodeUnmatchedEndBatch Code = "UNMATCHED_END_BATCH"

	// CodeBatchAlreadyOpen indicates BeginBatch while a batch is open.
	CodeBatchAlreadyOpen Code = "BATCH_ALREADY_OPEN"

	// CodeUnknownField indicates a field name not present in the model type.
	CodeUnknownField Code = "UNKNOWN_FIELD"

	// CodeNotFound indicates the requested row does not exist.
	CodeNotFound Code = "NOT_FOUND"
)

// Error is the structured error returned by rowmodel operations.
type Error struct {
	// Code identifies the error category.
	Code Code

	// Message is a human-readable description.
	Message string

	// Type is the model type name involved, if any.
	Type string

	// Key is the primary-key value involved, if any.
	Key any

	// Field is the field name involved, if any.
	Field string

	// DBCode is the driver's numeric error code for QUERY_FAILED.
	DBCode int

	// Err is the underlying cause.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	switch {
	case e.Type != "" && e.Key != nil && e.Field != "":
		msg = fmt.Sprintf("%s (type=%s, key=%v, field=%s)", msg, e.Type, e.Key, e.Field)
	case e.Type != "" && e.Key != nil:
		msg = fmt.Sprintf("%s (type=%s, key=%v)", msg, e.Type, e.Key)
	case e.Type != "":
		msg = fmt.Sprintf("%s (type=%s)", msg, e.Type)
	}
	if e.Code == CodeQueryFailed {
		msg = fmt.Sprintf("%s [db code %d]", msg, e.DBCode)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is an *Error with the same Code. This lets
// callers compare against the zero-detail sentinels below with errors.Is.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code && t.Message == "" && t.Err == nil
}

// Sentinels for errors.Is comparisons. They carry only a Code.
var (
	ErrQueryFailed          = &Error{Code: CodeQueryFailed}
	ErrSaveRefused          = &Error{Code: CodeSaveRefused}
	ErrAlreadyInTransaction = &Error{Code: CodeAlreadyInTransaction}
	ErrAlreadyDeleted       = &Error{Code: CodeAlreadyDeleted}
	ErrReloadConflict       = &Error{Code: CodeReloadConflict}
	ErrPrimaryKeyExhausted  = &Error{Code: CodePrimaryKeyExhausted}
	ErrDatabaseClosed       = &Error{Code: CodeDatabaseClosed}
	ErrUnmatchedEndBatch    = &Error{Code: CodeUnmatchedEndBatch}
	ErrBatchAlreadyOpen     = &Error{Code: CodeBatchAlreadyOpen}
	ErrUnknownField         = &Error{Code: CodeUnknownField}
	ErrNotFound             = &Error{Code: CodeNotFound}
)

// CodeOf returns the Code of the first *Error in err's chain, or "".
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsQueryFailed reports whether err is a QUERY_FAILED error.
func IsQueryFailed(err error) bool { return CodeOf(err) == CodeQueryFailed }

// IsSaveRefused reports whether err is a SAVE_REFUSED error.
func IsSaveRefused(err error) bool { return CodeOf(err) == CodeSaveRefused }

// IsAlreadyInTransaction reports whether err is an ALREADY_IN_TRANSACTION error.
func IsAlreadyInTransaction(err error) bool { return CodeOf(err) == CodeAlreadyInTransaction }

// IsAlreadyDeleted reports whether err is an ALREADY_DELETED error.
func IsAlreadyDeleted(err error) bool { return CodeOf(err) == CodeAlreadyDeleted }

// IsReloadConflict reports whether err is a RELOAD_CONFLICT error.
func IsReloadConflict(err error) bool { return CodeOf(err) == CodeReloadConflict }

// IsPrimaryKeyExhausted reports whether err is a PRIMARY_KEY_EXHAUSTED error.
func IsPrimaryKeyExhausted(err error) bool { return CodeOf(err) == CodePrimaryKeyExhausted }

// IsDatabaseClosed reports whether err is a DATABASE_CLOSED error.
func IsDatabaseClosed(err error) bool { return CodeOf(err) == CodeDatabaseClosed }

// IsNotFound reports whether err is a NOT_FOUND error.
func IsNotFound(err error) bool { return CodeOf(err) == CodeNotFound }

// NewQueryFailed creates a QUERY_FAILED error for a driver rejection.
func NewQueryFailed(dbCode int, message string, cause error) *Error {
	return &Error{
		Code:    CodeQueryFailed,
		Message: message,
		DBCode:  dbCode,
		Err:     cause,
	}
}

// NewSaveRefused creates a SAVE_REFUSED error.
func NewSaveRefused(typ string, key any, reason string) *Error {
	if reason == "" {
		reason = "save refused by application guard"
	}
	return &Error{Code: CodeSaveRefused, Message: reason, Type: typ, Key: key}
}

// NewAlreadyInTransaction creates an ALREADY_IN_TRANSACTION error.
func NewAlreadyInTransaction() *Error {
	return &Error{
		Code:    CodeAlreadyInTransaction,
		Message: "transactions cannot be nested",
	}
}

// NewAlreadyDeleted creates an ALREADY_DELETED error.
func NewAlreadyDeleted(typ string, key any) *Error {
	return &Error{
		Code:    CodeAlreadyDeleted,
		Message: "instance has been deleted",
		Type:    typ,
		Key:     key,
	}
}

// NewReloadConflict creates a RELOAD_CONFLICT error for one field.
func NewReloadConflict(typ string, key any, field string, cause error) *Error {
	return &Error{
		Code:    CodeReloadConflict,
		Message: "unsaved change conflicts with newer database value",
		Type:    typ,
		Key:     key,
		Field:   field,
		Err:     cause,
	}
}

// NewPrimaryKeyExhausted creates a PRIMARY_KEY_EXHAUSTED error.
func NewPrimaryKeyExhausted(typ string, attempts int) *Error {
	return &Error{
		Code:    CodePrimaryKeyExhausted,
		Message: fmt.Sprintf("no unique primary key after %d attempts", attempts),
		Type:    typ,
	}
}

// NewDatabaseClosed creates a DATABASE_CLOSED error.
func NewDatabaseClosed() *Error {
	return &Error{Code: CodeDatabaseClosed, Message: "database is not open"}
}

// NewUnmatchedEndBatch creates an UNMATCHED_END_BATCH error.
func NewUnmatchedEndBatch() *Error {
	return &Error{
		Code:    CodeUnmatchedEndBatch,
		Message: "EndBatch called without a matching BeginBatch",
	}
}

// NewBatchAlreadyOpen creates a BATCH_ALREADY_OPEN error.
func NewBatchAlreadyOpen() *Error {
	return &Error{
		Code:    CodeBatchAlreadyOpen,
		Message: "notification batches do not nest",
	}
}

// NewUnknownField creates an UNKNOWN_FIELD error.
func NewUnknownField(typ, field string) *Error {
	return &Error{
		Code:    CodeUnknownField,
		Message: "no such field",
		Type:    typ,
		Field:   field,
	}
}

// NewNotFound creates a NOT_FOUND error.
func NewNotFound(typ string, key any) *Error {
	return &Error{Code: CodeNotFound, Message: "row not found", Type: typ, Key: key}
}
