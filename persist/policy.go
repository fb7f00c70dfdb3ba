package persist

import "github.com/jacentio/strata/kv"

// Intent is the caller's write intent: Save is an upsert, Insert must create,
// Update must modify an existing record.
type Intent int

const (
	IntentSave Intent = iota
	IntentInsert
	IntentUpdate
)

func (i Intent) String() string {
	switch i {
	case IntentSave:
		return "save"
	case IntentInsert:
		return "insert"
	case IntentUpdate:
		return "update"
	default:
		return "unknown"
	}
}

// selectPolicy turns write intent plus an optional document version into the
// concrete existence and concurrency directives, layered over the baseline
// directives in base.
//
// A versioned Save with version 0 is semantically a create: it must fail
// against an existing record, like an Insert. Insert itself ignores the
// version entirely: on a brand-new record only existence can be raced on,
// so an insert race is a duplicate key, not a lock conflict.
func selectPolicy(intent Intent, hasVersion bool, version int64, base kv.WritePolicy) kv.WritePolicy {
	p := base

	switch intent {
	case IntentSave:
		switch {
		case hasVersion && version == 0:
			p.Exists = kv.ExistsCreateOnly
			p.Gen = kv.GenEqual
			p.Generation = 0
		case hasVersion:
			p.Exists = kv.ExistsUpdateOnly
			p.Gen = kv.GenEqual
			p.Generation = version
		default:
			p.Exists = kv.ExistsUpsert
			p.Gen = kv.GenIgnore
		}

	case IntentInsert:
		p.Exists = kv.ExistsCreateOnly
		p.Gen = kv.GenIgnore

	case IntentUpdate:
		p.Exists = kv.ExistsUpdateOnly
		if hasVersion {
			p.Gen = kv.GenEqual
			p.Generation = version
		} else {
			p.Gen = kv.GenIgnore
		}
	}

	return p
}
