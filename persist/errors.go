package persist

import (
	"errors"
	"fmt"
)

var (
	// ErrLockConflict is returned when a version-aware write lost an
	// optimistic-lock race: the stored generation no longer matches the
	// document's version. Recoverable by re-reading and retrying; never
	// retried internally.
	ErrLockConflict = errors.New("strata: document was modified concurrently")

	// ErrDuplicateKey is returned when an insert raced with an existing
	// record.
	ErrDuplicateKey = errors.New("strata: document already exists")

	// ErrNotFound is returned when a record expected to exist is absent.
	ErrNotFound = errors.New("strata: document not found")

	// ErrTransient is returned for connection, timeout and overload
	// failures. Safe to retry with backoff; never retried internally.
	ErrTransient = errors.New("strata: transient store failure")

	// ErrInvalidIdentifier is returned when a document's id is nil.
	ErrInvalidIdentifier = errors.New("strata: invalid document identifier")

	// ErrEmptyRecordWrite is returned when a write would produce a record
	// with no fields, which the store does not persist.
	ErrEmptyRecordWrite = errors.New("strata: write would produce a record with no fields")

	// ErrUnsupportedDistinctPath is returned when a distinct predicate is
	// requested for a nested field path.
	ErrUnsupportedDistinctPath = errors.New("strata: distinct is limited to top-level fields")

	// ErrValidation is returned when the store rejected a request as
	// malformed. A caller bug, never retryable.
	ErrValidation = errors.New("strata: request rejected by store")

	// ErrBatchUnsupported is returned when the connected store does not
	// support multi-record batch writes.
	ErrBatchUnsupported = errors.New("strata: store does not support batch writes")
)

// Kind is the coarse failure classification exposed to callers.
type Kind int

const (
	KindOther Kind = iota
	KindLockConflict
	KindDuplicateKey
	KindNotFound
	KindTransient
	KindValidation
	KindPartialBatch
	KindUnsupported
)

func (k Kind) String() string {
	switch k {
	case KindLockConflict:
		return "lock-conflict"
	case KindDuplicateKey:
		return "duplicate-key"
	case KindNotFound:
		return "not-found"
	case KindTransient:
		return "transient"
	case KindValidation:
		return "validation"
	case KindPartialBatch:
		return "partial-batch"
	case KindUnsupported:
		return "unsupported"
	default:
		return "other"
	}
}

// KindOf maps any error produced by this package to its Kind.
func KindOf(err error) Kind {
	var be *BatchError
	switch {
	case errors.As(err, &be):
		return KindPartialBatch
	case errors.Is(err, ErrLockConflict):
		return KindLockConflict
	case errors.Is(err, ErrDuplicateKey):
		return KindDuplicateKey
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrTransient):
		return KindTransient
	case errors.Is(err, ErrInvalidIdentifier),
		errors.Is(err, ErrEmptyRecordWrite),
		errors.Is(err, ErrUnsupportedDistinctPath),
		errors.Is(err, ErrValidation):
		return KindValidation
	case errors.Is(err, ErrBatchUnsupported):
		return KindUnsupported
	default:
		return KindOther
	}
}

// BatchError is the aggregate failure of a batch call in which at least one
// item failed. Outcomes always covers every submitted document, in submission
// order, so callers can separate succeeded-and-mutated documents from failed
// ones. Version updates applied before the error was raised are not rolled
// back.
type BatchError struct {
	Outcomes []BatchOutcome
}

func (e *BatchError) Error() string {
	failed := 0
	for _, o := range e.Outcomes {
		if !o.Ok() {
			failed++
		}
	}
	return fmt.Sprintf("strata: batch completed with %d of %d failed writes", failed, len(e.Outcomes))
}

// Failed returns the outcomes of the items that did not succeed.
func (e *BatchError) Failed() []BatchOutcome {
	var out []BatchOutcome
	for _, o := range e.Outcomes {
		if !o.Ok() {
			out = append(out, o)
		}
	}
	return out
}
