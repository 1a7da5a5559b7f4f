// Package filter implements the rough-set pack filters: Histogram, CMap
// and Bloom, plus the RowSet row-id accumulator queries use to collect
// candidate rows across packs. Every filter here guarantees no false
// negatives: MayContain(x) == false means x is provably absent, while
// MayContain(x) == true only means x might be present and the pack must
// still be checked exactly.
//
// Grounded on columnar/bitmap.go's BitmapManager (wrapping
// RoaringBitmap/roaring/v2) for RowSet, and on
// bits-and-blooms/bitset (an indirect dependency of the teacher's roaring
// import, promoted here to a direct one) for the CMap and Bloom backing
// stores.
package filter

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"hash/fnv"
	"io"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/bits-and-blooms/bitset"
)

// Kind discriminates which rough-set filter a Coordinate names.
type Kind uint8

const (
	KindHist Kind = iota
	KindCMap
	KindBloom
)

func (k Kind) String() string {
	switch k {
	case KindHist:
		return "hist"
	case KindCMap:
		return "cmap"
	case KindBloom:
		return "bloom"
	default:
		return "unknown"
	}
}

// Coordinate names a filter artifact: which table/column, which kind, and
// which pack it summarizes. Defined locally so this package never imports
// column.
type Coordinate struct {
	TableID   uint64
	ColID     uint64
	Kind      Kind
	PackIndex uint32
}

func (c Coordinate) String() string {
	return fmt.Sprintf("filter(%d,%d,%s,%d)", c.TableID, c.ColID, c.Kind, c.PackIndex)
}

// PackStats is the narrow read-only view of a pack's statistics a filter
// builder needs (RefreshFilter's source data), satisfied structurally by
// column.DPN without an import.
type PackStats interface {
	MinInt() int64
	MaxInt() int64
	NumOfNulls() int
	NumOfValues() int
}

// PackReader is the narrow view of pack contents filter construction
// needs, satisfied structurally by pack.Pack.
type PackReader interface {
	GetValInt(offset int) int64
	GetValueBinary(offset int) []byte
	IsNull(offset int) bool
}

// Handle is the common capability of a constructed filter: report its
// kind and serialize its bytes so Deserialize can restore it across
// process restarts. The presence tests live on the concrete types.
type Handle interface {
	Kind() Kind
	Serialize() ([]byte, error)
}

// Deserialize restores a Handle of the given kind from bytes written by
// its Serialize method.
func Deserialize(kind Kind, data []byte) (Handle, error) {
	switch kind {
	case KindHist:
		return DeserializeHist(data)
	case KindCMap:
		return DeserializeCMap(data)
	case KindBloom:
		return DeserializeBloom(data)
	default:
		return nil, fmt.Errorf("filter: unknown kind %d", kind)
	}
}

const histBuckets = 64

// Hist is a rough integer histogram: histBuckets presence flags over the pack's
// [min_i, max_i] range, used to prune range predicates without scanning
// the pack body. Grounded on RCAttr::UpdateRSI_Hist / GetFilter_Hist.
type Hist struct {
	min, max int64
	buckets  [histBuckets]bool // true: at least one value fell in this bucket
}

func (h *Hist) Kind() Kind { return KindHist }

// NewHist builds a histogram by scanning stats (for the value range) and
// then every non-null value in r.
func NewHist(stats PackStats, r PackReader) *Hist {
	h := &Hist{min: stats.MinInt(), max: stats.MaxInt()}
	span := h.max - h.min
	if span <= 0 {
		span = 1
	}
	for i := 0; i < stats.NumOfValues(); i++ {
		if r.IsNull(i) {
			continue
		}
		v := r.GetValInt(i)
		b := int((v - h.min) * int64(histBuckets) / (span + 1))
		if b < 0 {
			b = 0
		}
		if b >= histBuckets {
			b = histBuckets - 1
		}
		h.buckets[b] = true
	}
	return h
}

// MayContainRange reports whether any value in [lo, hi] could be present
// in the summarized pack, by testing whether any bucket overlapping that
// range was ever marked. Returning true never causes a false negative;
// returning false is a guaranteed absence.
func (h *Hist) MayContainRange(lo, hi int64) bool {
	if hi < h.min || lo > h.max {
		return false
	}
	span := h.max - h.min
	if span <= 0 {
		span = 1
	}
	loB := int((lo - h.min) * int64(histBuckets) / (span + 1))
	hiB := int((hi - h.min) * int64(histBuckets) / (span + 1))
	if loB < 0 {
		loB = 0
	}
	if hiB >= histBuckets {
		hiB = histBuckets - 1
	}
	for b := loB; b <= hiB; b++ {
		if h.buckets[b] {
			return true
		}
	}
	return false
}

// Serialize encodes h as min, max, then one byte per bucket.
func (h *Hist) Serialize() ([]byte, error) {
	buf := new(bytes.Buffer)
	if err := binary.Write(buf, binary.LittleEndian, h.min); err != nil {
		return nil, fmt.Errorf("filter: encode hist min: %w", err)
	}
	if err := binary.Write(buf, binary.LittleEndian, h.max); err != nil {
		return nil, fmt.Errorf("filter: encode hist max: %w", err)
	}
	for _, set := range h.buckets {
		b := byte(0)
		if set {
			b = 1
		}
		buf.WriteByte(b)
	}
	return buf.Bytes(), nil
}

// DeserializeHist restores a Hist written by Serialize.
func DeserializeHist(data []byte) (*Hist, error) {
	r := bytes.NewReader(data)
	h := &Hist{}
	if err := binary.Read(r, binary.LittleEndian, &h.min); err != nil {
		return nil, fmt.Errorf("filter: decode hist min: %w", err)
	}
	if err := binary.Read(r, binary.LittleEndian, &h.max); err != nil {
		return nil, fmt.Errorf("filter: decode hist max: %w", err)
	}
	for i := range h.buckets {
		b, err := r.ReadByte()
		if err != nil {
			return nil, fmt.Errorf("filter: decode hist bucket %d: %w", i, err)
		}
		h.buckets[i] = b != 0
	}
	return h, nil
}

// CMap is a rough byte-presence map over a string pack: for each of the
// first cmapPositions character positions, which bytes occur anywhere in
// the pack at that position. Used to prune LIKE 'prefix%' / equality
// predicates. Grounded on RCAttr::UpdateRSI_CMap / GetFilter_CMap.
const cmapPositions = 8

type CMap struct {
	perPosition [cmapPositions]*bitset.BitSet // 256 bits each: which byte values occur
}

func (c *CMap) Kind() Kind { return KindCMap }

// NewCMap builds a CMap by scanning every non-null string value in r.
func NewCMap(stats PackStats, r PackReader) *CMap {
	c := &CMap{}
	for p := range c.perPosition {
		c.perPosition[p] = bitset.New(256)
	}
	for i := 0; i < stats.NumOfValues(); i++ {
		if r.IsNull(i) {
			continue
		}
		s := r.GetValueBinary(i)
		for p := 0; p < cmapPositions && p < len(s); p++ {
			c.perPosition[p].Set(uint(s[p]))
		}
	}
	return c
}

// MayContainPrefix reports whether a string starting with prefix could be
// present, by checking each known character position against the observed
// byte set. Positions beyond cmapPositions are not checked (the map has no
// information there, which preserves the no-false-negatives guarantee).
func (c *CMap) MayContainPrefix(prefix string) bool {
	for p := 0; p < cmapPositions && p < len(prefix); p++ {
		if !c.perPosition[p].Test(uint(prefix[p])) {
			return false
		}
	}
	return true
}

// Serialize encodes each position's bitset as a length-prefixed blob via
// bitset.BitSet's own binary marshaling.
func (c *CMap) Serialize() ([]byte, error) {
	buf := new(bytes.Buffer)
	for p, bs := range c.perPosition {
		b, err := bs.MarshalBinary()
		if err != nil {
			return nil, fmt.Errorf("filter: encode cmap position %d: %w", p, err)
		}
		if err := binary.Write(buf, binary.LittleEndian, uint32(len(b))); err != nil {
			return nil, fmt.Errorf("filter: encode cmap position %d length: %w", p, err)
		}
		buf.Write(b)
	}
	return buf.Bytes(), nil
}

// DeserializeCMap restores a CMap written by Serialize.
func DeserializeCMap(data []byte) (*CMap, error) {
	r := bytes.NewReader(data)
	c := &CMap{}
	for p := range c.perPosition {
		var n uint32
		if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
			return nil, fmt.Errorf("filter: decode cmap position %d length: %w", p, err)
		}
		chunk := make([]byte, n)
		if _, err := io.ReadFull(r, chunk); err != nil {
			return nil, fmt.Errorf("filter: decode cmap position %d: %w", p, err)
		}
		bs := &bitset.BitSet{}
		if err := bs.UnmarshalBinary(chunk); err != nil {
			return nil, fmt.Errorf("filter: unmarshal cmap position %d: %w", p, err)
		}
		c.perPosition[p] = bs
	}
	return c, nil
}

// bloomBits and bloomHashes fix every Bloom filter at 65536 bits and 4
// hash functions: roughly a 1% false-positive rate for about 6,000
// distinct values, rising as a pack holds more.
const (
	bloomBits   = 1 << 16
	bloomHashes = 4
)

// Bloom is a standard k-hash Bloom filter over the GetValueBinary form of
// a pack's values (a string pack's bytes, an integer pack's 8-byte code),
// used to prune equality predicates. Grounded on
// RCAttr::UpdateRSI_Bloom / GetFilter_Bloom.
type Bloom struct {
	bits *bitset.BitSet
}

func (b *Bloom) Kind() Kind { return KindBloom }

// NewBloom builds an empty Bloom filter.
func NewBloom() *Bloom {
	return &Bloom{bits: bitset.New(bloomBits)}
}

// NewBloomFromPack builds a Bloom filter by hashing every non-null string
// value in r.
func NewBloomFromPack(stats PackStats, r PackReader) *Bloom {
	b := NewBloom()
	for i := 0; i < stats.NumOfValues(); i++ {
		if r.IsNull(i) {
			continue
		}
		b.Add(r.GetValueBinary(i))
	}
	return b
}

func (b *Bloom) positions(v []byte) [bloomHashes]uint {
	var out [bloomHashes]uint
	h := fnv.New64a()
	h.Write(v)
	base := h.Sum64()
	h.Reset()
	h.Write([]byte{0xff})
	h.Write(v)
	step := h.Sum64() | 1 // ensure non-zero stride
	for i := 0; i < bloomHashes; i++ {
		out[i] = uint((base + uint64(i)*step) % uint64(bloomBits))
	}
	return out
}

// Add records v as present.
func (b *Bloom) Add(v []byte) {
	for _, pos := range b.positions(v) {
		b.bits.Set(pos)
	}
}

// MayContain reports whether v could have been added.
func (b *Bloom) MayContain(v []byte) bool {
	for _, pos := range b.positions(v) {
		if !b.bits.Test(pos) {
			return false
		}
	}
	return true
}

// Serialize encodes b's bit vector via bitset.BitSet's own binary
// marshaling.
func (b *Bloom) Serialize() ([]byte, error) {
	data, err := b.bits.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("filter: encode bloom: %w", err)
	}
	return data, nil
}

// DeserializeBloom restores a Bloom written by Serialize.
func DeserializeBloom(data []byte) (*Bloom, error) {
	bs := &bitset.BitSet{}
	if err := bs.UnmarshalBinary(data); err != nil {
		return nil, fmt.Errorf("filter: unmarshal bloom: %w", err)
	}
	return &Bloom{bits: bs}, nil
}

// RowSet accumulates matching row ids across packs, backed by a roaring
// bitmap exactly as columnar/bitmap.go's BitmapManager does for its
// secondary-index row sets.
type RowSet struct {
	bm *roaring.Bitmap
}

// NewRowSet returns an empty row-id set.
func NewRowSet() *RowSet { return &RowSet{bm: roaring.New()} }

// Add marks rowID as a match.
func (s *RowSet) Add(rowID uint32) { s.bm.Add(rowID) }

// AddRange marks every row id in [lo, hi) as a match.
func (s *RowSet) AddRange(lo, hi uint32) { s.bm.AddRange(uint64(lo), uint64(hi)) }

// Contains reports whether rowID was marked.
func (s *RowSet) Contains(rowID uint32) bool { return s.bm.Contains(rowID) }

// Union merges other into s in place.
func (s *RowSet) Union(other *RowSet) { s.bm.Or(other.bm) }

// Intersect restricts s in place to rows also present in other.
func (s *RowSet) Intersect(other *RowSet) { s.bm.And(other.bm) }

// Cardinality reports the number of matching rows.
func (s *RowSet) Cardinality() uint64 { return s.bm.GetCardinality() }

// ToSlice materializes the matching row ids in ascending order.
func (s *RowSet) ToSlice() []uint32 { return s.bm.ToArray() }
