package column

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// dnRecordSize is the fixed on-disk width of one DPN record: flags(1) +
// nr(4) + nn(4) + min_i/max_i/sum_i(8 each) + min_s/max_s(8 each) +
// xmin/xmax(16 each, two uint64 halves) + addr(8) + len(8) + base(4).
const dnRecordSize = 1 + 4 + 4 + 8 + 8 + 8 + 8 + 8 + 16 + 16 + 8 + 8 + 4

const (
	dnFlagUsed   = byte(1) << 0
	dnFlagSynced = byte(1) << 1
	dnFlagSSet   = byte(1) << 2
)

// dnPath returns the single, non-versioned DN file's path under dir.
func dnPath(dir string) string {
	return filepath.Join(dir, ColDNFile)
}

// encodeDPN writes one fixed-width DPN record. The transient tagged-
// pointer/loaded-pack fields (packPtr, loadedPack, materialized) and Local
// are never persisted: Local is meaningless once read back from disk,
// since any writer that owned it is long gone by the time a fresh process
// reloads the arena.
func encodeDPN(w io.Writer, d *DPN) error {
	flags := byte(0)
	if d.Used {
		flags |= dnFlagUsed
	}
	if d.Synced {
		flags |= dnFlagSynced
	}
	if d.sSet {
		flags |= dnFlagSSet
	}
	fields := []any{flags, d.NR, d.NN, d.MinI, d.MaxI, d.SumI}
	for _, f := range fields {
		if err := binary.Write(w, binary.LittleEndian, f); err != nil {
			return fmt.Errorf("column: encode dpn: %w", err)
		}
	}
	if _, err := w.Write(d.MinS[:]); err != nil {
		return fmt.Errorf("%w: encode dpn min_s: %v", ErrIO, err)
	}
	if _, err := w.Write(d.MaxS[:]); err != nil {
		return fmt.Errorf("%w: encode dpn max_s: %v", ErrIO, err)
	}
	tail := []any{d.XMin.Hi, d.XMin.Lo, d.XMax.Hi, d.XMax.Lo, d.Addr, d.Len, uint32(d.Base)}
	for _, f := range tail {
		if err := binary.Write(w, binary.LittleEndian, f); err != nil {
			return fmt.Errorf("column: encode dpn: %w", err)
		}
	}
	return nil
}

// decodeDPN reads one DPN record back, leaving every transient field
// (packPtr, loadedPack, materialized, Local) at its unloaded zero value.
func decodeDPN(r io.Reader) (*DPN, error) {
	d := &DPN{}
	var flags byte
	if err := binary.Read(r, binary.LittleEndian, &flags); err != nil {
		return nil, fmt.Errorf("%w: decode dpn flags: %v", ErrCorrupt, err)
	}
	d.Used = flags&dnFlagUsed != 0
	d.Synced = flags&dnFlagSynced != 0
	d.sSet = flags&dnFlagSSet != 0

	fields := []any{&d.NR, &d.NN, &d.MinI, &d.MaxI, &d.SumI}
	for _, f := range fields {
		if err := binary.Read(r, binary.LittleEndian, f); err != nil {
			return nil, fmt.Errorf("%w: decode dpn: %v", ErrCorrupt, err)
		}
	}
	if _, err := io.ReadFull(r, d.MinS[:]); err != nil {
		return nil, fmt.Errorf("%w: decode dpn min_s: %v", ErrCorrupt, err)
	}
	if _, err := io.ReadFull(r, d.MaxS[:]); err != nil {
		return nil, fmt.Errorf("%w: decode dpn max_s: %v", ErrCorrupt, err)
	}
	tail := []any{&d.XMin.Hi, &d.XMin.Lo, &d.XMax.Hi, &d.XMax.Lo, &d.Addr, &d.Len}
	for _, f := range tail {
		if err := binary.Read(r, binary.LittleEndian, f); err != nil {
			return nil, fmt.Errorf("%w: decode dpn: %v", ErrCorrupt, err)
		}
	}
	var base uint32
	if err := binary.Read(r, binary.LittleEndian, &base); err != nil {
		return nil, fmt.Errorf("%w: decode dpn base: %v", ErrCorrupt, err)
	}
	d.Base = PackIndex(base)
	return d, nil
}

// writeDNFile persists the full DPN arena as DN: a flat, fixed-record
// array indexed by arena position, with no count header of its own (the
// record count is just len(data)/dnRecordSize).
func writeDNFile(dir string, dpns []*DPN) error {
	buf := new(bytes.Buffer)
	for i, d := range dpns {
		if err := encodeDPN(buf, d); err != nil {
			return fmt.Errorf("dpn %d: %w", i, err)
		}
	}
	return writeFileAtomic(dnPath(dir), buf.Bytes())
}

// readDNFile loads the DPN arena back from DN, returning no DPNs and no
// error if DN is missing or holds no records (Create with noRows=0 writes
// an empty one).
func readDNFile(dir string) ([]*DPN, error) {
	path := dnPath(dir)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: read %s: %v", ErrIO, path, err)
	}
	if len(data)%dnRecordSize != 0 {
		return nil, fmt.Errorf("%w: DN file size %d not a multiple of record size %d", ErrCorrupt, len(data), dnRecordSize)
	}
	r := bytes.NewReader(data)
	count := len(data) / dnRecordSize
	dpns := make([]*DPN, count)
	for i := 0; i < count; i++ {
		d, err := decodeDPN(r)
		if err != nil {
			return nil, fmt.Errorf("dpn %d: %w", i, err)
		}
		dpns[i] = d
	}
	return dpns, nil
}
