package column

import "errors"

// Sentinel errors returned by the attribute controller, checked with
// errors.Is by callers. Grounded on the teacher's package-level sentinel
// convention (columnar.ErrInvalidMagicNumber and friends).
var (
	ErrCorrupt      = errors.New("column: corrupt on-disk artifact")
	ErrNotFound     = errors.New("column: version not found")
	ErrIO           = errors.New("column: i/o failure")
	ErrBadPackState = errors.New("column: pack in unexpected tagged-pointer state")
	ErrTypeMismatch = errors.New("column: operation not valid for this column type")
	ErrDuplicateKey = errors.New("column: duplicate primary key value")
	ErrReadOnly     = errors.New("column: mutating operation on a read-only controller")
)
