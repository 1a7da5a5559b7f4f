package pack

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/golang/snappy"
)

// PackInt is the body for integer, decimal, real and date-time packs: a
// dense array of int64 codes (real values carried as their bit pattern)
// plus a null bitmap, grounded on columnar/data_types.go's IntData
// null-tagged value shape, generalized from one value at a time to a
// whole pack's worth.
type PackInt struct {
	mu sync.Mutex

	coord  Coordinate
	values []int64
	nulls  []bool

	compressed []byte // set after Save, cleared by LoadValues/UpdateValue
	dpn        StatsSink
}

// NewPackInt allocates an empty pack of the given capacity.
func NewPackInt(coord Coordinate, capacity int) *PackInt {
	return &PackInt{
		coord:  coord,
		values: make([]int64, 0, capacity),
		nulls:  make([]bool, 0, capacity),
	}
}

func (p *PackInt) SetDPN(dpn StatsSink) { p.dpn = dpn }

func (p *PackInt) touch() {
	if p.dpn != nil {
		p.dpn.MarkDirty()
	}
	p.compressed = nil
}

func (p *PackInt) LoadValues(b *Batch, filler *int64) error {
	if b.Strs != nil {
		return fmt.Errorf("pack: LoadValues given string batch for int pack %s", p.coord)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, v := range b.Ints {
		isNull := b.Nulls != nil && b.Nulls[i]
		if isNull && filler != nil {
			v, isNull = *filler, false
		}
		p.values = append(p.values, v)
		p.nulls = append(p.nulls, isNull)
	}
	p.touch()
	return nil
}

func (p *PackInt) UpdateValue(offset int, v Value) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if offset < 0 || offset >= len(p.values) {
		return fmt.Errorf("pack: offset %d out of range for %s", offset, p.coord)
	}
	p.values[offset] = v.Int
	p.nulls[offset] = v.IsNull
	p.touch()
	return nil
}

func (p *PackInt) GetValueBinary(offset int) []byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(p.values[offset]))
	return buf[:]
}

func (p *PackInt) GetValInt(offset int) int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.values[offset]
}

func (p *PackInt) IsNull(offset int) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.nulls[offset]
}

func (p *PackInt) IsLocked() bool {
	locked := !p.mu.TryLock()
	if !locked {
		p.mu.Unlock()
	}
	return locked
}

func (p *PackInt) Lock()   { p.mu.Lock() }
func (p *PackInt) Unlock() { p.mu.Unlock() }

// Clone returns a private copy suitable for copy-on-write mutation under a
// new coordinate, matching RCAttr::CopyPackForWrite's "duplicate then
// mutate the duplicate" discipline.
func (p *PackInt) Clone(newCoord Coordinate) Pack {
	p.mu.Lock()
	defer p.mu.Unlock()
	clone := &PackInt{
		coord:  newCoord,
		values: append([]int64(nil), p.values...),
		nulls:  append([]bool(nil), p.nulls...),
	}
	return clone
}

// Save delta-encodes the value array against its running predecessor,
// varint-packs each delta, then compresses the result with snappy,
// matching the teacher's page-body compression path (columnar/
// compression.go's CompressionSnappy) combined with its DeltaEncoder
// idea for sequential numeric data — generalized here from that
// encoder's fixed-width deltas to variable-width ones, since a run of
// small deltas (the common case for sorted or slowly-varying columns)
// otherwise wastes most of every 8-byte slot.
func (p *PackInt) Save() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	buf := new(bytes.Buffer)
	if err := binary.Write(buf, binary.LittleEndian, uint32(len(p.values))); err != nil {
		return fmt.Errorf("pack: encode header for %s: %w", p.coord, err)
	}
	var varintBuf [binary.MaxVarintLen64]byte
	var prev int64
	for i, v := range p.values {
		if i == 0 {
			if err := binary.Write(buf, binary.LittleEndian, v); err != nil {
				return fmt.Errorf("pack: encode base value for %s: %w", p.coord, err)
			}
		} else {
			n := binary.PutVarint(varintBuf[:], v-prev)
			buf.Write(varintBuf[:n])
		}
		prev = v
	}
	for _, n := range p.nulls {
		b := byte(0)
		if n {
			b = 1
		}
		buf.WriteByte(b)
	}
	p.compressed = snappy.Encode(nil, buf.Bytes())
	return nil
}

// CompressedBytes exposes the last Save's output, for the engine's
// on-disk pack writer.
func (p *PackInt) CompressedBytes() []byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.compressed
}

// LoadCompressed reconstructs a PackInt from bytes produced by Save,
// reversing the snappy framing and re-accumulating the varint deltas back
// into absolute values.
func LoadCompressed(coord Coordinate, compressed []byte) (*PackInt, error) {
	raw, err := snappy.Decode(nil, compressed)
	if err != nil {
		return nil, fmt.Errorf("pack: decompress %s: %w", coord, err)
	}
	r := bytes.NewReader(raw)
	var n uint32
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return nil, fmt.Errorf("pack: decode header for %s: %w", coord, err)
	}
	p := &PackInt{coord: coord, values: make([]int64, n), nulls: make([]bool, n)}
	var prev int64
	for i := range p.values {
		if i == 0 {
			if err := binary.Read(r, binary.LittleEndian, &p.values[0]); err != nil {
				return nil, fmt.Errorf("pack: decode base value for %s: %w", coord, err)
			}
			prev = p.values[0]
			continue
		}
		delta, err := binary.ReadVarint(r)
		if err != nil {
			return nil, fmt.Errorf("pack: decode delta %d for %s: %w", i, coord, err)
		}
		prev += delta
		p.values[i] = prev
	}
	for i := range p.nulls {
		b, err := r.ReadByte()
		if err != nil {
			return nil, fmt.Errorf("pack: decode null bit %d for %s: %w", i, coord, err)
		}
		p.nulls[i] = b != 0
	}
	return p, nil
}

// NumOfValues reports the pack's current row count.
func (p *PackInt) NumOfValues() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.values)
}
