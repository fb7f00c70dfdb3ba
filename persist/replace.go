package persist

import (
	"fmt"
	"sort"

	"github.com/jacentio/strata/kv"
)

// replaceOps builds the operation sequence for a full-document write: after
// the request, the stored record holds exactly the supplied fields and no
// others. The store only has field-level upsert, so replacement is emulated
// as delete-all-fields followed by setting every supplied field, applied as
// one atomic request. The trailing get-header reads back the post-write
// generation.
//
// An empty field set fails fast with ErrEmptyRecordWrite: the store does not
// persist a record with zero fields, so issuing the request would silently
// delete the record instead of writing it.
func replaceOps(fields kv.FieldSet) ([]kv.Op, error) {
	if len(fields) == 0 {
		return nil, ErrEmptyRecordWrite
	}

	ops := make([]kv.Op, 0, len(fields)+2)
	ops = append(ops, kv.DeleteAll())
	for _, name := range sortedNames(fields) {
		ops = append(ops, kv.SetField(name, fields[name]))
	}
	ops = append(ops, kv.GetHeader())
	return ops, nil
}

// updateOps builds the operation sequence for a named-subset write: only the
// listed fields are set, every field not mentioned survives. Fields absent
// from the converter's output are a caller bug.
func updateOps(fields kv.FieldSet, names []string) ([]kv.Op, error) {
	if len(names) == 0 {
		return nil, ErrEmptyRecordWrite
	}

	sorted := append([]string(nil), names...)
	sort.Strings(sorted)

	ops := make([]kv.Op, 0, len(sorted)+1)
	for _, name := range sorted {
		value, ok := fields[name]
		if !ok {
			return nil, fmt.Errorf("%w: unknown field %q", ErrValidation, name)
		}
		ops = append(ops, kv.SetField(name, value))
	}
	ops = append(ops, kv.GetHeader())
	return ops, nil
}

// sortedNames returns the field names in deterministic order.
func sortedNames(fields kv.FieldSet) []string {
	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
