package persist

import (
	"context"
	"errors"
	"fmt"

	"github.com/jacentio/strata/kv"
)

// classifyCode maps a store result code from a failed write into the engine's
// error taxonomy. It is a pure function consulted only after a request has
// failed; expectVersion reports whether the write carried a GenEqual
// directive.
//
// A generation mismatch is always a lock conflict. "Key already exists" is a
// duplicate key for an Insert (existence is the only thing an insert races
// on) and a lock conflict otherwise, which covers the versioned-Save-as-
// create branch. "Key not found" under an expect-version write is also a
// lock conflict: the record vanishing between read and write is a benign
// race, not corruption. That mapping holds in every call path, single and
// batch alike.
func classifyCode(code kv.ResultCode, intent Intent, expectVersion bool) error {
	switch code {
	case kv.GenerationMismatch:
		return ErrLockConflict
	case kv.KeyExists:
		if intent == IntentInsert {
			return ErrDuplicateKey
		}
		return ErrLockConflict
	case kv.KeyNotFound:
		if expectVersion {
			return ErrLockConflict
		}
		return ErrNotFound
	case kv.Timeout, kv.NoConnection, kv.ServerUnavailable:
		return fmt.Errorf("%w: %s", ErrTransient, code)
	case kv.ParameterError, kv.RecordTooBig:
		return fmt.Errorf("%w: %s", ErrValidation, code)
	case kv.BatchUnsupported:
		return ErrBatchUnsupported
	default:
		return fmt.Errorf("strata: store failure: %s", code)
	}
}

// classifyErr maps any adapter error into the engine's taxonomy. Errors
// outside the store's result vocabulary (transport, marshalling) pass
// through wrapped; context cancellation passes through untouched.
func classifyErr(err error, intent Intent, expectVersion bool) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if code, ok := kv.CodeOf(err); ok {
		return classifyCode(code, intent, expectVersion)
	}
	return fmt.Errorf("strata: store failure: %w", err)
}
