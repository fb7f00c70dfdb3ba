// Package kv defines the client abstraction strata persists records through.
//
// A store is a schemaless, networked key-value service: records are addressed
// by a native key, hold named fields, and carry a server-maintained generation
// counter that is incremented on every successful write. The store applies a
// multi-operation request to a single record atomically, but it has no notion
// of replacing a whole record and no multi-record transactions; those
// guarantees are layered on top by package persist.
//
// Implementations live in the subpackages memstore, redisstore and dynastore.
// Every implementation must guarantee:
//
//   - single-record multi-op atomicity: all operations in one Operate call
//     are applied together or not at all,
//   - server-side generation: the counter is incremented by the store on
//     every successful write and never supplied by the caller,
//   - positional batch outcomes: BatchOperate fills one outcome per write,
//     in submission order, and a failed item never aborts the others.
package kv
