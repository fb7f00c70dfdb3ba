// Package fieldcodec encodes field values crossing the Redis wire. Values
// are msgpack: it round-trips the scalar, slice and nested-map shapes the
// converter produces without a schema.
package fieldcodec

import (
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// Encode serializes one field value.
func Encode(value any) ([]byte, error) {
	b, err := msgpack.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("fieldcodec: encode: %w", err)
	}
	return b, nil
}

// Decode deserializes one field value. Maps decode as map[string]any and
// integers as int64 regardless of the width they were written with.
func Decode(data []byte) (any, error) {
	var value any
	if err := msgpack.Unmarshal(data, &value); err != nil {
		return nil, fmt.Errorf("fieldcodec: decode: %w", err)
	}
	return normalize(value), nil
}

// normalize rewrites msgpack's decoded shapes into the converter's: string
// keys for maps and int64 for the integer family.
func normalize(value any) any {
	switch v := value.(type) {
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, item := range v {
			out[k] = normalize(item)
		}
		return out
	case map[any]any:
		out := make(map[string]any, len(v))
		for k, item := range v {
			out[fmt.Sprintf("%v", k)] = normalize(item)
		}
		return out
	case []any:
		for i, item := range v {
			v[i] = normalize(item)
		}
		return v
	case int:
		return int64(v)
	case int8:
		return int64(v)
	case int16:
		return int64(v)
	case int32:
		return int64(v)
	case uint:
		return int64(v)
	case uint8:
		return int64(v)
	case uint16:
		return int64(v)
	case uint32:
		return int64(v)
	case uint64:
		return int64(v)
	default:
		return v
	}
}
