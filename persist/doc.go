// Package persist maps structured documents onto records of a schemaless
// key-value store while adding guarantees the store does not provide on its
// own: optimistic concurrency through the store's per-record generation
// counter, whole-record replacement emulated over field-level upsert, and
// batch writes with positional, individually-reconciled outcomes.
//
// # Documents
//
// Persistable types implement [Document]; a [Converter] (an external
// collaborator) maps them to and from field sets. Two optional interfaces
// refine behavior:
//
//   - [Versioned] documents get version-aware writes: the version mirrors
//     the store's generation counter and is written back after every
//     successful write.
//   - [Expiring] documents carry a time to live into every write.
//
// # Write intents
//
// [Template.Save] is an upsert, [Template.Insert] must create and
// [Template.Update] must modify an existing record. Combined with the
// presence of a version field these select the store's existence and
// concurrency directives:
//
//	intent  version   existence    concurrency
//	Save    = 0       create-only  expect generation 0
//	Save    > 0       update-only  expect generation = version
//	Save    none      upsert       ignore
//	Insert  any       create-only  ignore
//	Update  present   update-only  expect generation = version
//	Update  none      update-only  ignore
//
// # Replacement semantics
//
// A full write (Save, Insert, Update) leaves the record holding exactly the
// converted field set: fields from prior writes never survive. A named-
// subset write ([Template.UpdateFields]) preserves unmentioned fields.
//
// # Batches
//
// [Template.SaveAll], [Template.InsertAll] and [Template.UpdateAll] issue
// one write per document in a single round trip. Outcomes are positional;
// versions are written back for every successful item, and when at least one
// item failed the call raises a single [BatchError] with the full ordered
// outcome list. Version updates are not rolled back on partial failure.
//
// # Errors
//
// Failures are classified, never retried and never swallowed:
//
//   - [ErrLockConflict] - a version-aware write lost an optimistic race
//   - [ErrDuplicateKey] - an insert raced with an existing record
//   - [ErrNotFound] - an expected record is absent
//   - [ErrTransient] - connection, timeout or overload; retryable by caller
//   - [ErrInvalidIdentifier], [ErrEmptyRecordWrite],
//     [ErrUnsupportedDistinctPath], [ErrValidation] - caller bugs
//   - [ErrBatchUnsupported] - the store cannot do batch writes
//   - [BatchError] - at least one batch item failed
//
// [KindOf] maps any of these to a coarse [Kind] for callers that dispatch on
// classification alone.
package persist
