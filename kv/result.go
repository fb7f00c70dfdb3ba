package kv

import (
	"errors"
	"fmt"
)

// ResultCode is the store's per-request (or per-batch-item) outcome code.
type ResultCode int

const (
	// OK marks a successful request.
	OK ResultCode = iota

	// KeyNotFound marks a request against a record that does not exist when
	// the policy required it to.
	KeyNotFound

	// KeyExists marks a create-only write against an existing record.
	KeyExists

	// GenerationMismatch marks a GenEqual write whose expected generation
	// did not match the stored one.
	GenerationMismatch

	// Timeout marks a request that exceeded its deadline.
	Timeout

	// NoConnection marks a request that never reached the store.
	NoConnection

	// ServerUnavailable marks a store that is temporarily overloaded or
	// partitioned.
	ServerUnavailable

	// ParameterError marks a request the store rejected as malformed.
	ParameterError

	// RecordTooBig marks a write exceeding the store's record size limit.
	RecordTooBig

	// ServerError marks any other server-side failure.
	ServerError

	// BatchUnsupported marks a batch request against a store that does not
	// support multi-record batches.
	BatchUnsupported
)

func (c ResultCode) String() string {
	switch c {
	case OK:
		return "ok"
	case KeyNotFound:
		return "key not found"
	case KeyExists:
		return "key already exists"
	case GenerationMismatch:
		return "generation mismatch"
	case Timeout:
		return "timeout"
	case NoConnection:
		return "no connection"
	case ServerUnavailable:
		return "server unavailable"
	case ParameterError:
		return "parameter error"
	case RecordTooBig:
		return "record too big"
	case ServerError:
		return "server error"
	case BatchUnsupported:
		return "batch unsupported"
	default:
		return fmt.Sprintf("result code %d", int(c))
	}
}

// StoreError is the error every adapter returns for a store-level failure.
// Transport and marshalling failures outside the store's result vocabulary
// are returned as plain errors instead.
type StoreError struct {
	// Code is the store's outcome code.
	Code ResultCode

	// Op names the failed call, e.g. "operate" or "batch".
	Op string

	// Msg is the adapter's detail message.
	Msg string
}

func (e *StoreError) Error() string {
	if e.Msg == "" {
		return fmt.Sprintf("kv: %s: %s", e.Op, e.Code)
	}
	return fmt.Sprintf("kv: %s: %s: %s", e.Op, e.Code, e.Msg)
}

// NewStoreError builds a StoreError.
func NewStoreError(code ResultCode, op, msg string) *StoreError {
	return &StoreError{Code: code, Op: op, Msg: msg}
}

// CodeOf extracts the result code from an adapter error. The second return
// is false when err is not a StoreError.
func CodeOf(err error) (ResultCode, bool) {
	var se *StoreError
	if errors.As(err, &se) {
		return se.Code, true
	}
	return ServerError, false
}
