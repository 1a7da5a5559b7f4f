package column

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/cloudimpl/colattr/txid"
)

// InfInt64 and MinusInfInt64 are the saturating sentinels used in place of
// overflow throughout the encode/decode and statistics paths.
const (
	InfInt64      int64 = 1<<62 - 1
	MinusInfInt64 int64 = -(1<<62 - 1)
	NullValue64   int64 = MinusInfInt64 - 1
	NullValue32   int32 = -(1<<30 - 1) - 1
)

// Header is the per-version column header (COL_VER_HDR), persisted
// verbatim under VERSION/<xid>.
type Header struct {
	NR            uint64
	NN            uint64
	NP            uint32
	AutoIncNext   uint64
	Min           int64
	Max           int64
	DictVer       uint32
	Unique        bool
	UniqueUpdated bool
	NaturalSize   uint64
	CompressedSize uint64
}

// newHeader returns a header representing an empty, all-null column.
func newHeader() *Header {
	return &Header{Min: InfInt64, Max: MinusInfInt64}
}

func (h *Header) encode(w io.Writer) error {
	fields := []any{
		h.NR, h.NN, h.NP, h.AutoIncNext, h.Min, h.Max, h.DictVer,
	}
	for _, f := range fields {
		if err := binary.Write(w, binary.LittleEndian, f); err != nil {
			return fmt.Errorf("column: encode header: %w", err)
		}
	}
	flags := byte(0)
	if h.Unique {
		flags |= 1
	}
	if h.UniqueUpdated {
		flags |= 2
	}
	if err := binary.Write(w, binary.LittleEndian, flags); err != nil {
		return fmt.Errorf("column: encode header flags: %w", err)
	}
	if err := binary.Write(w, binary.LittleEndian, h.NaturalSize); err != nil {
		return fmt.Errorf("column: encode header natural size: %w", err)
	}
	if err := binary.Write(w, binary.LittleEndian, h.CompressedSize); err != nil {
		return fmt.Errorf("column: encode header compressed size: %w", err)
	}
	return nil
}

func decodeHeader(r io.Reader) (*Header, error) {
	h := &Header{}
	fields := []any{
		&h.NR, &h.NN, &h.NP, &h.AutoIncNext, &h.Min, &h.Max, &h.DictVer,
	}
	for _, f := range fields {
		if err := binary.Read(r, binary.LittleEndian, f); err != nil {
			return nil, fmt.Errorf("%w: decode header: %v", ErrCorrupt, err)
		}
	}
	var flags byte
	if err := binary.Read(r, binary.LittleEndian, &flags); err != nil {
		return nil, fmt.Errorf("%w: decode header flags: %v", ErrCorrupt, err)
	}
	h.Unique = flags&1 != 0
	h.UniqueUpdated = flags&2 != 0
	if err := binary.Read(r, binary.LittleEndian, &h.NaturalSize); err != nil {
		return nil, fmt.Errorf("%w: decode natural size: %v", ErrCorrupt, err)
	}
	if err := binary.Read(r, binary.LittleEndian, &h.CompressedSize); err != nil {
		return nil, fmt.Errorf("%w: decode compressed size: %v", ErrCorrupt, err)
	}
	return h, nil
}

// versionPath returns the path of the version file for xid under dir.
func versionPath(dir string, id txid.TxID) string {
	return filepath.Join(dir, ColVersionDir, id.String())
}

// writeVersion persists hdr followed by idx as VERSION/<xid>, staging to a
// temp file and renaming into place so readers never observe a partial
// write.
func writeVersion(dir string, id txid.TxID, hdr *Header, idx []PackIndex) error {
	buf := new(bytes.Buffer)
	bw := bufio.NewWriter(buf)
	if err := hdr.encode(bw); err != nil {
		return err
	}
	for _, pi := range idx {
		if err := binary.Write(bw, binary.LittleEndian, uint32(pi)); err != nil {
			return fmt.Errorf("column: encode pack index: %w", err)
		}
	}
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("%w: flush version buffer: %v", ErrIO, err)
	}

	return writeFileAtomic(versionPath(dir, id), buf.Bytes())
}

// readVersion loads hdr + idx from VERSION/<xid>.
func readVersion(dir string, id txid.TxID) (*Header, []PackIndex, error) {
	path := versionPath(dir, id)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return nil, nil, fmt.Errorf("%w: read %s: %v", ErrIO, path, err)
	}
	r := bytes.NewReader(data)
	hdr, err := decodeHeader(r)
	if err != nil {
		return nil, nil, err
	}
	idx := make([]PackIndex, hdr.NP)
	for i := range idx {
		var v uint32
		if err := binary.Read(r, binary.LittleEndian, &v); err != nil {
			return nil, nil, fmt.Errorf("%w: decode pack index %d: %v", ErrCorrupt, i, err)
		}
		idx[i] = PackIndex(v)
	}
	return hdr, idx, nil
}
