package core

import (
	"errors"
	"fmt"
)

// ErrorKind enumerates the closed error taxonomy of the engine. Every
// fallible operation returns an error whose kind is drawn from this set.
type ErrorKind int

const (
	KindParse ErrorKind = iota
	KindTableExists
	KindTableNotFound
	KindColumnNotFound
	KindTypeMismatch
	KindConstraintViolation
	KindExecution
	KindUnsupported
	KindLock
	KindConflict
	KindCompatibility
)

func (k ErrorKind) String() string {
	switch k {
	case KindParse:
		return "ParseError"
	case KindTableExists:
		return "TableExists"
	case KindTableNotFound:
		return "TableNotFound"
	case KindColumnNotFound:
		return "ColumnNotFound"
	case KindTypeMismatch:
		return "TypeMismatch"
	case KindConstraintViolation:
		return "ConstraintViolation"
	case KindExecution:
		return "ExecutionError"
	case KindUnsupported:
		return "UnsupportedOperation"
	case KindLock:
		return "LockError"
	case KindConflict:
		return "Conflict"
	case KindCompatibility:
		return "Compatibility"
	default:
		return "Unknown"
	}
}

// ConflictKind refines KindConflict errors.
type ConflictKind int

const (
	ConflictNone ConflictKind = iota
	ConflictWriteWrite
	ConflictOptimisticLock
	ConflictUniqueKey
)

func (k ConflictKind) String() string {
	switch k {
	case ConflictWriteWrite:
		return "write_write"
	case ConflictOptimisticLock:
		return "optimistic_lock"
	case ConflictUniqueKey:
		return "unique_key"
	default:
		return "none"
	}
}

// Error is the concrete error type of the engine. Clients match on Kind via
// KindOf or errors.As; the message carries the kind tag as a prefix.
type Error struct {
	Kind     ErrorKind
	Conflict ConflictKind
	Message  string
	cause    error
}

func (e *Error) Error() string {
	if e.Conflict != ConflictNone {
		return fmt.Sprintf("%s(%s): %s", e.Kind, e.Conflict, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// Errorf builds an engine error of the given kind.
func Errorf(kind ErrorKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// WrapErr attaches a cause to an engine error of the given kind.
func WrapErr(kind ErrorKind, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), cause: cause}
}

// ConflictErr builds a Conflict error of the given refinement.
func ConflictErr(kind ConflictKind, format string, args ...any) *Error {
	return &Error{Kind: KindConflict, Conflict: kind, Message: fmt.Sprintf(format, args...)}
}

// KindOf extracts the engine error kind, or (0, false) for foreign errors.
func KindOf(err error) (ErrorKind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return 0, false
}

// IsKind reports whether err carries the given engine error kind.
func IsKind(err error, kind ErrorKind) bool {
	k, ok := KindOf(err)
	return ok && k == kind
}

// ConflictKindOf extracts the conflict refinement of a Conflict error.
func ConflictKindOf(err error) ConflictKind {
	var e *Error
	if errors.As(err, &e) && e.Kind == KindConflict {
		return e.Conflict
	}
	return ConflictNone
}
