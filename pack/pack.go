// Package pack implements the row-group body (the Pack in spec.md's
// terminology): the encoded values backing one Data Pack Node. Two
// variants exist, PackInt and PackStr, sharing the Pack interface.
//
// Bodies are compressed on Save: PackInt uses snappy (fast, good on the
// delta-encoded runs fixed-width integer/real packs produce), PackStr uses
// zstd (better ratio on the more redundant, variable-width text arena).
// Both libraries are the teacher's own choices (cloudimpl-ByteDB/backend
// imports both golang/snappy and klauspost/compress/zstd for exactly this
// page-body-compression role); here they are promoted from page-level to
// whole-pack-body compression.
package pack

import "fmt"

// Coordinate identifies a pack body: which table, which column, and which
// position in the ColumnShare's DPN arena it was allocated at. This is the
// Go shape of PackCoordinate.
type Coordinate struct {
	TableID uint64
	ColID   uint64
	Index   uint32
}

func (c Coordinate) String() string {
	return fmt.Sprintf("pack(%d,%d,%d)", c.TableID, c.ColID, c.Index)
}

// StatsSink is the narrow, pack-package-owned interface a DPN satisfies so
// that a Pack can mark its owning DPN dirty, and a PackStr can report the
// bytes behind a non-null value for min/max tracking, without either
// package importing the other. column.DPN implements this implicitly.
type StatsSink interface {
	MarkDirty()
	ReportString(b []byte)
}

// Batch is the incoming value batch for an append (loader.ValueCache's
// role): either integer/real or string rows, one Batch per LoadData call.
type Batch struct {
	Ints    []int64  // valid when Strs == nil
	Strs    []string // valid when Ints == nil
	Nulls   []bool   // parallel to Ints/Strs; true means the row is null
	IsReal  bool     // Ints holds float64 bit patterns when true
}

// NumOfValues is the batch's row count.
func (b *Batch) NumOfValues() int {
	if b.Strs != nil {
		return len(b.Strs)
	}
	return len(b.Ints)
}

// NumOfNulls counts rows flagged null in the batch.
func (b *Batch) NumOfNulls() int {
	n := 0
	for _, isNull := range b.Nulls {
		if isNull {
			n++
		}
	}
	return n
}

// MinInt/MaxInt/SumInt compute integer statistics over the batch's
// non-null rows (nil-safe: a fully-null batch returns zeros, the caller
// is expected to have already special-cased that via NumOfNulls).
func (b *Batch) MinInt() int64 {
	min, has := int64(0), false
	for i, v := range b.Ints {
		if b.Nulls != nil && b.Nulls[i] {
			continue
		}
		if !has || v < min {
			min, has = v, true
		}
	}
	return min
}

func (b *Batch) MaxInt() int64 {
	max, has := int64(0), false
	for i, v := range b.Ints {
		if b.Nulls != nil && b.Nulls[i] {
			continue
		}
		if !has || v > max {
			max, has = v, true
		}
	}
	return max
}

func (b *Batch) SumInt() int64 {
	var sum int64
	for i, v := range b.Ints {
		if b.Nulls != nil && b.Nulls[i] {
			continue
		}
		sum += v
	}
	return sum
}

// SummarizedSize is the total byte length of the batch's logical values,
// used to accumulate hdr.natural_size.
func (b *Batch) SummarizedSize() uint64 {
	var sz uint64
	if b.Strs != nil {
		for i, s := range b.Strs {
			if b.Nulls != nil && b.Nulls[i] {
				continue
			}
			sz += uint64(len(s))
		}
		return sz
	}
	width := uint64(8)
	for i := range b.Ints {
		if b.Nulls != nil && b.Nulls[i] {
			continue
		}
		sz += width
	}
	return sz
}

// Pack is the shared capability set of PackInt and PackStr, matching
// SPEC_FULL.md §4.B / design note 9's "tagged variant or interface with
// two implementations" guidance.
type Pack interface {
	// Save persists the pack body, compressing it in the process.
	Save() error
	// LoadValues appends a batch of already-validated, non-trivial values.
	// filler, when non-nil, is the NOT NULL filler value used in place of a
	// null for NOT NULL columns (spec.md §4.F.6).
	LoadValues(b *Batch, filler *int64) error
	// UpdateValue overwrites the value at offset (point update).
	UpdateValue(offset int, v Value) error
	// GetValueBinary returns the raw bytes stored at offset (string packs)
	// or the fixed 8-byte form of an integer/real pack's code.
	GetValueBinary(offset int) []byte
	// GetValInt returns the integer code at offset (integer packs only).
	GetValInt(offset int) int64
	IsNull(offset int) bool
	IsLocked() bool
	Lock()
	Unlock()
	Clone(newCoord Coordinate) Pack
	SetDPN(dpn StatsSink)
}

// Value is the minimal per-row payload UpdateValue needs: either an
// integer code or raw string bytes, plus nullity. column.Attr builds this
// from value.Value after encoding.
type Value struct {
	IsNull bool
	Int    int64
	Bytes  []byte
}
