package kv

// FieldSet maps field names to values. Values are scalars, slices or nested
// maps as produced by the document converter.
type FieldSet map[string]any

// Clone returns a shallow copy of the field set.
func (f FieldSet) Clone() FieldSet {
	if f == nil {
		return nil
	}
	out := make(FieldSet, len(f))
	for k, v := range f {
		out[k] = v
	}
	return out
}

// Record is the fetched or post-write state of a single stored record.
type Record struct {
	// Key is the native key the record was addressed by.
	Key Key

	// Fields holds the record's field values. It may be nil when only the
	// header (generation) was requested.
	Fields FieldSet

	// Generation is the store's per-record version counter at read time.
	Generation int64

	// TTLSeconds is the remaining time to live, 0 when the record does not
	// expire.
	TTLSeconds int64
}
