package persist

import (
	"fmt"

	"github.com/jacentio/strata/kv"
)

// KeyBuilder converts logical document identifiers into native store keys.
//
// The type-preservation setting is fixed at construction. With it enabled,
// integer ids of any width normalize to a 64-bit integer key, byte slices to
// a raw-bytes key, and everything else to a string key; with it disabled,
// every id converts to its string representation. Because the two modes
// address different records for the same id, the setting must stay stable
// for the lifetime of a deployment (see Config.PreserveKeyTypes).
type KeyBuilder struct {
	namespace     string
	preserveTypes bool
}

// NewKeyBuilder creates a KeyBuilder for a namespace.
func NewKeyBuilder(namespace string, preserveTypes bool) KeyBuilder {
	return KeyBuilder{namespace: namespace, preserveTypes: preserveTypes}
}

// Build converts id into the native key for a record in set. A nil id fails
// with ErrInvalidIdentifier.
func (b KeyBuilder) Build(id any, set string) (kv.Key, error) {
	if id == nil {
		return kv.Key{}, ErrInvalidIdentifier
	}

	if !b.preserveTypes {
		return kv.StringKey(b.namespace, set, stringID(id)), nil
	}

	switch v := id.(type) {
	case int:
		return kv.IntKey(b.namespace, set, int64(v)), nil
	case int8:
		return kv.IntKey(b.namespace, set, int64(v)), nil
	case int16:
		return kv.IntKey(b.namespace, set, int64(v)), nil
	case int32:
		return kv.IntKey(b.namespace, set, int64(v)), nil
	case int64:
		return kv.IntKey(b.namespace, set, v), nil
	case uint:
		return kv.IntKey(b.namespace, set, int64(v)), nil
	case uint8:
		return kv.IntKey(b.namespace, set, int64(v)), nil
	case uint16:
		return kv.IntKey(b.namespace, set, int64(v)), nil
	case uint32:
		return kv.IntKey(b.namespace, set, int64(v)), nil
	case uint64:
		return kv.IntKey(b.namespace, set, int64(v)), nil
	case []byte:
		return kv.BytesKey(b.namespace, set, v), nil
	case string:
		return kv.StringKey(b.namespace, set, v), nil
	default:
		return kv.StringKey(b.namespace, set, stringID(id)), nil
	}
}

// stringID renders an id in its canonical string form.
func stringID(id any) string {
	switch v := id.(type) {
	case string:
		return v
	case []byte:
		return string(v)
	case fmt.Stringer:
		return v.String()
	default:
		return fmt.Sprintf("%v", v)
	}
}
