package kv

import (
	"encoding/hex"
	"fmt"
)

// KeyKind identifies the native type of a user key.
type KeyKind int

const (
	// KeyInteger is a 64-bit integer user key.
	KeyInteger KeyKind = iota

	// KeyString is a string user key.
	KeyString

	// KeyBytes is a raw byte-sequence user key.
	KeyBytes
)

func (k KeyKind) String() string {
	switch k {
	case KeyInteger:
		return "integer"
	case KeyString:
		return "string"
	case KeyBytes:
		return "bytes"
	default:
		return "unknown"
	}
}

// Key is the native address of a record: a namespace, a set name and a typed
// user key. Two keys with equal digests address the same record.
type Key struct {
	Namespace string
	Set       string
	Kind      KeyKind

	intValue   int64
	strValue   string
	bytesValue []byte
}

// IntKey builds a native key with a 64-bit integer user key.
func IntKey(namespace, set string, value int64) Key {
	return Key{Namespace: namespace, Set: set, Kind: KeyInteger, intValue: value}
}

// StringKey builds a native key with a string user key.
func StringKey(namespace, set, value string) Key {
	return Key{Namespace: namespace, Set: set, Kind: KeyString, strValue: value}
}

// BytesKey builds a native key with a raw byte-sequence user key.
func BytesKey(namespace, set string, value []byte) Key {
	return Key{Namespace: namespace, Set: set, Kind: KeyBytes, bytesValue: value}
}

// UserValue returns the typed user key: int64, string or []byte.
func (k Key) UserValue() any {
	switch k.Kind {
	case KeyInteger:
		return k.intValue
	case KeyString:
		return k.strValue
	default:
		return k.bytesValue
	}
}

// Digest returns the stable string form adapters address records by.
// The kind is part of the digest, so the integer key 42 and the string key
// "42" address different records.
func (k Key) Digest() string {
	switch k.Kind {
	case KeyInteger:
		return fmt.Sprintf("%s:%s:i:%d", k.Namespace, k.Set, k.intValue)
	case KeyString:
		return fmt.Sprintf("%s:%s:s:%s", k.Namespace, k.Set, k.strValue)
	default:
		return fmt.Sprintf("%s:%s:b:%s", k.Namespace, k.Set, hex.EncodeToString(k.bytesValue))
	}
}

// Equal reports whether two keys address the same record.
func (k Key) Equal(other Key) bool {
	return k.Digest() == other.Digest()
}

func (k Key) String() string {
	return k.Digest()
}
