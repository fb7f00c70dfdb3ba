package kv

import "context"

// Capabilities describes what the connected store supports. It is negotiated
// once at client construction and never changes afterwards.
type Capabilities struct {
	// BatchWrites reports whether the store accepts a batch of heterogeneous
	// writes in one round trip.
	BatchWrites bool
}

// BatchWrite is one record write within a batch request. Key, Ops and Policy
// are set by the caller; Code and Record are filled by BatchOperate, one
// outcome per write in submission order.
type BatchWrite struct {
	Key    Key
	Ops    []Op
	Policy WritePolicy

	// Code is the per-item outcome, OK on success.
	Code ResultCode

	// Record is the post-write record when the write succeeded and its ops
	// included GetHeader; nil otherwise.
	Record *Record
}

// Ok reports whether the item's write succeeded and produced a record.
func (w *BatchWrite) Ok() bool {
	return w.Code == OK && w.Record != nil
}

// Client is the store client strata drives. Implementations are safe for
// concurrent use.
type Client interface {
	// Operate applies ops to the record at key as one atomic request under
	// policy, returning the resulting record when the ops include GetHeader.
	Operate(ctx context.Context, key Key, policy WritePolicy, ops []Op) (*Record, error)

	// Get fetches the record at key. With field names given, only those
	// fields are returned. A missing record yields a KeyNotFound StoreError.
	Get(ctx context.Context, key Key, fields ...string) (*Record, error)

	// Exists reports whether a record exists at key.
	Exists(ctx context.Context, key Key) (bool, error)

	// Delete removes the record at key under policy. The bool reports
	// whether a record existed.
	Delete(ctx context.Context, key Key, policy WritePolicy) (bool, error)

	// BatchOperate issues all writes in one round trip and fills each
	// write's Code and Record positionally. The returned error covers the
	// round trip itself, never an individual item.
	BatchOperate(ctx context.Context, writes []*BatchWrite) error

	// BatchGet fetches many records in one round trip. The result is
	// positional; missing records are nil entries, not errors.
	BatchGet(ctx context.Context, keys []Key) ([]*Record, error)

	// Capabilities returns what the connected store supports.
	Capabilities() Capabilities

	// Close releases the client's connections.
	Close() error
}
