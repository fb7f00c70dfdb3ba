package persist

import "github.com/jacentio/strata/kv"

// Document is the base interface for all persistable types.
type Document interface {
	// SetName returns the store set (collection) this document belongs to.
	SetName() string

	// ID returns the logical identifier. Supported types are the integer
	// family, string and []byte; anything else is persisted under its
	// string representation. Must not be nil.
	ID() any
}

// Versioned is implemented by documents that carry a version field.
//
// The version mirrors the store's per-record generation counter: 0 means the
// document has not been persisted yet, and after any successful
// version-aware write the engine sets it to the store's post-write counter.
// It is never guessed or incremented client-side.
type Versioned interface {
	Version() int64
	SetVersion(v int64)
}

// Expiring is implemented by documents that carry an expiration field. The
// returned seconds are put on the write policy of every write of the
// document; 0 means no expiry.
type Expiring interface {
	TTLSeconds() int64
}

// Converter maps documents to and from store field sets. Implementations are
// external collaborators; the engine only calls through this interface.
//
// The version is not part of the field set: it lives in the store's
// generation counter and is written back through the Versioned interface.
type Converter interface {
	// Write produces the full field set for a document. The returned set is
	// exactly what must exist in the record after a full write.
	Write(doc Document) (kv.FieldSet, error)

	// Read populates a document from a fetched field set.
	Read(fields kv.FieldSet, doc Document) error
}

// versionOf reports whether doc carries a version field and its value.
func versionOf(doc Document) (int64, bool) {
	v, ok := doc.(Versioned)
	if !ok {
		return 0, false
	}
	return v.Version(), true
}

// MapDoc is a map-backed versioned document, used by tests and the CLI.
// Mapping of struct types is out of scope for this module and is supplied by
// callers through their own Converter.
type MapDoc struct {
	Set    string
	Key    any
	Fields kv.FieldSet
	Ver    int64
}

func (d *MapDoc) SetName() string    { return d.Set }
func (d *MapDoc) ID() any            { return d.Key }
func (d *MapDoc) Version() int64     { return d.Ver }
func (d *MapDoc) SetVersion(v int64) { d.Ver = v }

// MapConverter converts MapDoc documents by copying their field maps.
type MapConverter struct{}

func (MapConverter) Write(doc Document) (kv.FieldSet, error) {
	md, ok := doc.(*MapDoc)
	if !ok {
		return nil, ErrValidation
	}
	return md.Fields.Clone(), nil
}

func (MapConverter) Read(fields kv.FieldSet, doc Document) error {
	md, ok := doc.(*MapDoc)
	if !ok {
		return ErrValidation
	}
	md.Fields = fields.Clone()
	return nil
}
