package similarity

import (
	"github.com/listings-etl/internal/normalize"
)

// Blocker assigns records to blocks; only records in the same block are
// compared. ok is false for a record that has no block, which is then not
// compared at all.
type Blocker interface {
	BlockKey(rec normalize.NormalizedRecord) (key string, ok bool)
}

// FieldBlocker blocks on the canonical value of one column, typically the
// postal code.
type FieldBlocker struct {
	Column int
}

// BlockKey implements Blocker.
func (b FieldBlocker) BlockKey(rec normalize.NormalizedRecord) (string, bool) {
	v := rec.Canonical[b.Column]
	if v.IsAbsent() {
		return "", false
	}
	return v.Kind().String() + ":" + v.Text(), true
}

// allInOne puts every record in one block.
type allInOne struct{}

func (allInOne) BlockKey(normalize.NormalizedRecord) (string, bool) { return "", true }
