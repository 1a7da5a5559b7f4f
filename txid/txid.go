// Package txid defines the 128-bit transaction identifier used to name
// per-column version, dictionary and filter artifacts on disk.
package txid

import "fmt"

// TxID is a 128-bit transaction id, stored as two 64-bit halves exactly as
// common::TX_ID does in the system this engine was modeled on.
type TxID struct {
	Hi uint64
	Lo uint64
}

// Zero is the sentinel "no transaction" / initial version id.
var Zero = TxID{}

// Max is the sentinel "never expires" visibility bound.
var Max = TxID{Hi: ^uint64(0), Lo: ^uint64(0)}

// New builds a TxID from a monotone counter. Columns only ever compare and
// stringify ids; the split into two halves is preserved for on-disk and
// directory-naming compatibility with the source format.
func New(hi, lo uint64) TxID {
	return TxID{Hi: hi, Lo: lo}
}

// String renders the id the way it is used as a file name under
// COL_VERSION_DIR, COL_FILTER_DIR/*, etc.
func (id TxID) String() string {
	if id.Hi == 0 {
		return fmt.Sprintf("%d", id.Lo)
	}
	return fmt.Sprintf("%d_%d", id.Hi, id.Lo)
}

// Less reports whether id sorts strictly before other.
func (id TxID) Less(other TxID) bool {
	if id.Hi != other.Hi {
		return id.Hi < other.Hi
	}
	return id.Lo < other.Lo
}

// Equal reports value equality between two ids.
func (id TxID) Equal(other TxID) bool {
	return id.Hi == other.Hi && id.Lo == other.Lo
}

// Covers reports whether the half-open visibility interval [xmin, xmax)
// covers the reader id, per spec.md §5's MVCC discipline.
func Covers(xmin, xmax, reader TxID) bool {
	if reader.Less(xmin) {
		return false
	}
	return reader.Less(xmax)
}
