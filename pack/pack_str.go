package pack

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/klauspost/compress/zstd"
)

// PackStr is the body for string packs: one []byte entry per row plus a
// null flag per row, compressed with zstd on Save. Grounded on
// columnar/string_segment.go's StringSegment (stringMap/offsetMap/entries),
// collapsed from a shared interned dictionary to the plain per-pack arena
// RCAttr's string pack variant actually uses (dictionary interning lives
// one layer up, in package dict).
type PackStr struct {
	mu sync.Mutex

	coord   Coordinate
	entries [][]byte
	nulls   []bool

	compressed []byte
	dpn        StatsSink
}

func NewPackStr(coord Coordinate, capacity int) *PackStr {
	return &PackStr{
		coord:   coord,
		entries: make([][]byte, 0, capacity),
		nulls:   make([]bool, 0, capacity),
	}
}

func (p *PackStr) SetDPN(dpn StatsSink) { p.dpn = dpn }

func (p *PackStr) touch() {
	if p.dpn != nil {
		p.dpn.MarkDirty()
	}
	p.compressed = nil
}

func (p *PackStr) LoadValues(b *Batch, filler *int64) error {
	if b.Strs == nil {
		return fmt.Errorf("pack: LoadValues given int batch for string pack %s", p.coord)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, s := range b.Strs {
		isNull := b.Nulls != nil && b.Nulls[i]
		p.entries = append(p.entries, []byte(s))
		p.nulls = append(p.nulls, isNull)
		if !isNull && p.dpn != nil {
			p.dpn.ReportString([]byte(s))
		}
	}
	p.touch()
	return nil
}

func (p *PackStr) UpdateValue(offset int, v Value) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if offset < 0 || offset >= len(p.entries) {
		return fmt.Errorf("pack: offset %d out of range for %s", offset, p.coord)
	}
	p.entries[offset] = append([]byte(nil), v.Bytes...)
	p.nulls[offset] = v.IsNull
	if !v.IsNull && p.dpn != nil {
		p.dpn.ReportString(v.Bytes)
	}
	p.touch()
	return nil
}

func (p *PackStr) GetValueBinary(offset int) []byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.entries[offset]
}

// GetValInt is meaningless for string packs; present only to satisfy Pack.
func (p *PackStr) GetValInt(offset int) int64 { return 0 }

func (p *PackStr) IsNull(offset int) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.nulls[offset]
}

func (p *PackStr) IsLocked() bool {
	locked := !p.mu.TryLock()
	if !locked {
		p.mu.Unlock()
	}
	return locked
}

func (p *PackStr) Lock()   { p.mu.Lock() }
func (p *PackStr) Unlock() { p.mu.Unlock() }

func (p *PackStr) Clone(newCoord Coordinate) Pack {
	p.mu.Lock()
	defer p.mu.Unlock()
	clone := &PackStr{coord: newCoord, entries: make([][]byte, len(p.entries)), nulls: append([]bool(nil), p.nulls...)}
	for i, e := range p.entries {
		clone.entries[i] = append([]byte(nil), e...)
	}
	return clone
}

// Save frames the entries as a uint32 count followed by, per entry, a null
// byte, a uint32 length and the bytes, then zstd-compresses the whole thing, matching the
// teacher's use of klauspost/compress/zstd for large text bodies.
func (p *PackStr) Save() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	buf := new(bytes.Buffer)
	if err := binary.Write(buf, binary.LittleEndian, uint32(len(p.entries))); err != nil {
		return fmt.Errorf("pack: encode header for %s: %w", p.coord, err)
	}
	for i, e := range p.entries {
		n := byte(0)
		if p.nulls[i] {
			n = 1
		}
		buf.WriteByte(n)
		if err := binary.Write(buf, binary.LittleEndian, uint32(len(e))); err != nil {
			return fmt.Errorf("pack: encode length for %s: %w", p.coord, err)
		}
		buf.Write(e)
	}

	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return fmt.Errorf("pack: create zstd encoder for %s: %w", p.coord, err)
	}
	defer enc.Close()
	p.compressed = enc.EncodeAll(buf.Bytes(), nil)
	return nil
}

func (p *PackStr) CompressedBytes() []byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.compressed
}

// LoadCompressedStr reconstructs a PackStr from bytes produced by Save.
func LoadCompressedStr(coord Coordinate, compressed []byte) (*PackStr, error) {
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("pack: create zstd decoder for %s: %w", coord, err)
	}
	defer dec.Close()
	raw, err := dec.DecodeAll(compressed, nil)
	if err != nil {
		return nil, fmt.Errorf("pack: decompress %s: %w", coord, err)
	}

	r := bytes.NewReader(raw)
	var n uint32
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return nil, fmt.Errorf("pack: decode header for %s: %w", coord, err)
	}
	p := &PackStr{coord: coord, entries: make([][]byte, n), nulls: make([]bool, n)}
	for i := uint32(0); i < n; i++ {
		nb, err := r.ReadByte()
		if err != nil {
			return nil, fmt.Errorf("pack: decode null bit %d for %s: %w", i, coord, err)
		}
		p.nulls[i] = nb != 0
		var l uint32
		if err := binary.Read(r, binary.LittleEndian, &l); err != nil {
			return nil, fmt.Errorf("pack: decode length %d for %s: %w", i, coord, err)
		}
		entry := make([]byte, l)
		if _, err := r.Read(entry); err != nil {
			return nil, fmt.Errorf("pack: decode entry %d for %s: %w", i, coord, err)
		}
		p.entries[i] = entry
	}
	return p, nil
}

// NumOfValues reports the pack's current row count.
func (p *PackStr) NumOfValues() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries)
}
