// Package errors defines the error kinds surfaced by the persistence engine.
//
// Every failure the engine produces is an *Error carrying a stable Kind and
// whatever diagnostic context applies (table, field, connection, shard). The
// underlying cause, typically a driver error, stays reachable through Unwrap so
// callers can still match it with errors.Is or errors.As.
package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
)

// Kind is a stable code identifying a failure mode.
type Kind string

const (
	// Precondition is returned when an operation is invalid for the entity's
	// current state, e.g. updating an entity whose snapshot tracking is off.
	Precondition Kind = "PRECONDITION"
	// Validation is returned by (or wrapped around) an external validator.
	Validation Kind = "VALIDATION"
	// ShardResolution is returned when no shard can be selected for a key.
	ShardResolution Kind = "SHARD_RESOLUTION"
	// Gateway wraps any failure reported by a storage gateway.
	Gateway Kind = "GATEWAY"
	// PartialFanOut is returned when a multi-shard statement failed on one
	// shard after others already applied it.
	PartialFanOut Kind = "PARTIAL_FAN_OUT"
	// TableNotFound is returned by metadata providers for unknown tables.
	TableNotFound Kind = "TABLE_NOT_FOUND"
	// Metadata is returned when schema metadata is unusable (no primary key...).
	Metadata Kind = "METADATA"
	// Config is returned for invalid configuration.
	Config Kind = "CONFIG"
	// Hook is returned when a lifecycle observer rejects an operation.
	Hook Kind = "HOOK"
	// NotFound is returned when a lookup by primary key matches no row.
	NotFound Kind = "NOT_FOUND"
)

// Error is the engine's error value.
type Error struct {
	Kind       Kind
	Message    string
	Table      string
	Field      string
	Connection string
	Shard      string

	// Affected is the number of rows already changed when a fan-out failed
	// part way. Zero for every other kind.
	Affected int64

	cause error
}

// New creates an Error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Newf creates an Error of the given kind with a formatted message.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates an Error of the given kind around cause.
func Wrap(kind Kind, cause error, message string) *Error {
	return &Error{Kind: kind, Message: message, cause: cause}
}

// Error implements the error interface.
func (e *Error) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s", e.Kind, e.Message)

	var ctx []string
	if e.Connection != "" {
		ctx = append(ctx, "connection="+e.Connection)
	}
	if e.Table != "" {
		ctx = append(ctx, "table="+e.Table)
	}
	if e.Field != "" {
		ctx = append(ctx, "field="+e.Field)
	}
	if e.Shard != "" {
		ctx = append(ctx, "shard="+e.Shard)
	}
	if len(ctx) > 0 {
		b.WriteString(" (" + strings.Join(ctx, " ") + ")")
	}

	if e.cause != nil {
		fmt.Fprintf(&b, ": %v", e.cause)
	}
	return b.String()
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.cause
}

// Is reports whether target is an *Error of the same kind. This lets callers
// write errors.Is(err, errors.New(errors.Validation, "")).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && (t.Message == "" || t.Message == e.Message)
}

// WithTable sets the table context.
func (e *Error) WithTable(table string) *Error {
	e.Table = table
	return e
}

// WithField sets the field context.
func (e *Error) WithField(field string) *Error {
	e.Field = field
	return e
}

// WithConnection sets the connection context.
func (e *Error) WithConnection(connection string) *Error {
	e.Connection = connection
	return e
}

// WithShard sets the shard context.
func (e *Error) WithShard(shard string) *Error {
	e.Shard = shard
	return e
}

// KindOf returns the kind of the first *Error in err's chain, or "" if none.
func KindOf(err error) Kind {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsKind reports whether err's chain contains an *Error of the given kind.
func IsKind(err error, kind Kind) bool {
	for err != nil {
		if e, ok := err.(*Error); ok && e.Kind == kind {
			return true
		}
		err = stderrors.Unwrap(err)
	}
	return false
}

// Is is errors.Is from the standard library.
func Is(err, target error) bool { return stderrors.Is(err, target) }

// As is errors.As from the standard library.
func As(err error, target any) bool { return stderrors.As(err, target) }
