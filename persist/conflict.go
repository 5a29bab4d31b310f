package persist

import (
	"errors"
	"fmt"
	"time"

	"github.com/maxBogovick/memodb/core"
)

// ConflictKind is the closed set of managed failure classes applications
// branch on (HTTP codes, retry decisions).
type ConflictKind int

const (
	KindInternal ConflictKind = iota
	KindOptimisticLock
	KindWriteWrite
	KindUniqueKey
	KindNotFound
	KindValidation
)

func (k ConflictKind) String() string {
	switch k {
	case KindOptimisticLock:
		return "optimistic_lock"
	case KindWriteWrite:
		return "write_write"
	case KindUniqueKey:
		return "unique_key"
	case KindNotFound:
		return "not_found"
	case KindValidation:
		return "validation"
	default:
		return "internal"
	}
}

// DomainError is the error type of the persistence layer. The engine's
// own Conflict errors stay reachable through Unwrap; the two layers are
// related by the classifier, never collapsed.
type DomainError struct {
	Kind    ConflictKind
	Message string
	cause   error
}

func (e *DomainError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *DomainError) Unwrap() error { return e.cause }

func domainErrorf(kind ConflictKind, format string, args ...any) *DomainError {
	return &DomainError{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// KindOf extracts the domain error kind; foreign errors read as Internal.
func KindOf(err error) ConflictKind {
	var de *DomainError
	if errors.As(err, &de) {
		return de.Kind
	}
	return KindInternal
}

// Classify maps an engine error into the domain taxonomy, preserving the
// engine error as the cause.
func Classify(err error) *DomainError {
	if err == nil {
		return nil
	}
	var de *DomainError
	if errors.As(err, &de) {
		return de
	}

	kind := KindInternal
	if engineKind, ok := core.KindOf(err); ok {
		switch engineKind {
		case core.KindConstraintViolation:
			kind = KindUniqueKey
		case core.KindTableNotFound, core.KindColumnNotFound:
			kind = KindNotFound
		case core.KindConflict:
			switch core.ConflictKindOf(err) {
			case core.ConflictWriteWrite:
				kind = KindWriteWrite
			case core.ConflictOptimisticLock:
				kind = KindOptimisticLock
			case core.ConflictUniqueKey:
				kind = KindUniqueKey
			}
		case core.KindTypeMismatch, core.KindExecution:
			kind = KindValidation
		}
	}
	return &DomainError{Kind: kind, Message: err.Error(), cause: err}
}

// classify wraps Classify for call sites that return a plain error,
// keeping a nil error nil instead of a typed-nil *DomainError.
func classify(err error) error {
	if err == nil {
		return nil
	}
	return Classify(err)
}

// RetryPolicy bounds automatic retries of engine write-write conflicts.
// Business conflicts (optimistic lock, unique key, validation) are never
// retried.
type RetryPolicy struct {
	MaxAttempts int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
}

// DefaultRetryPolicy retries twice with exponential backoff.
var DefaultRetryPolicy = RetryPolicy{
	MaxAttempts: 3,
	BaseBackoff: 2 * time.Millisecond,
	MaxBackoff:  50 * time.Millisecond,
}

// backoff returns the sleep before the given 1-based retry attempt.
func (p RetryPolicy) backoff(attempt int) time.Duration {
	d := p.BaseBackoff << (attempt - 1)
	if p.MaxBackoff > 0 && d > p.MaxBackoff {
		return p.MaxBackoff
	}
	return d
}

// retryable reports whether the policy may re-run the operation.
func (p RetryPolicy) retryable(err error, attempt int) bool {
	if attempt >= p.MaxAttempts {
		return false
	}
	return KindOf(err) == KindWriteWrite
}
