package persist

import (
	"fmt"
	"strings"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/jacentio/strata/kv"
)

// DistinctPredicate returns a keep/drop predicate that passes only the first
// record seen for each value of a top-level field. Records with a missing
// body or a missing field are always dropped. The predicate is safe for
// concurrent use by independent result producers; nested field paths fail
// with ErrUnsupportedDistinctPath.
func DistinctPredicate(field string) (func(*kv.Record) bool, error) {
	if field == "" {
		return nil, fmt.Errorf("%w: empty field name", ErrUnsupportedDistinctPath)
	}
	if strings.Contains(field, ".") {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedDistinctPath, field)
	}

	seen := xsync.NewMapOf[string, struct{}]()
	return func(rec *kv.Record) bool {
		if rec == nil || rec.Fields == nil {
			return false
		}
		value, ok := rec.Fields[field]
		if !ok {
			return false
		}
		// Distinctness is by value and type, so the integer 1 and the
		// string "1" count as different values.
		digest := fmt.Sprintf("%T\x00%v", value, value)
		_, loaded := seen.LoadOrStore(digest, struct{}{})
		return !loaded
	}, nil
}
