package kv

// OpKind identifies a single operation within an Operate request.
type OpKind int

const (
	// OpSetField writes one field value.
	OpSetField OpKind = iota

	// OpDeleteAll removes every field from the record while keeping the
	// record (and its generation counter) alive for the rest of the request.
	OpDeleteAll

	// OpGetHeader reads the record's generation after the mutating
	// operations in the same request have been applied.
	OpGetHeader
)

func (k OpKind) String() string {
	switch k {
	case OpSetField:
		return "set-field"
	case OpDeleteAll:
		return "delete-all"
	case OpGetHeader:
		return "get-header"
	default:
		return "unknown"
	}
}

// Op is one operation in a multi-operation record request. Operations are
// applied in order, atomically for the whole request.
type Op struct {
	Kind  OpKind
	Field string
	Value any
}

// SetField returns an operation that writes one field value.
func SetField(name string, value any) Op {
	return Op{Kind: OpSetField, Field: name, Value: value}
}

// DeleteAll returns an operation that removes every field from the record.
func DeleteAll() Op {
	return Op{Kind: OpDeleteAll}
}

// GetHeader returns an operation that reads the post-write generation.
func GetHeader() Op {
	return Op{Kind: OpGetHeader}
}
