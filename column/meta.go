package column

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
)

const (
	metaMagic   uint32 = 0x52434154 // "RCAT"
	metaVersion uint32 = 1

	// Directory and file names under a column's subtree, matching the
	// common::COL_* constants named in the source this was distilled from.
	ColMetaFile       = "COL_META"
	ColDNFile         = "DN"
	ColVersionDir     = "VERSION"
	ColDictDir        = "DICT"
	ColFilterDir      = "FILTER"
	ColFilterBloomDir = "BLOOM"
	ColFilterCMapDir  = "CMAP"
	ColFilterHistDir  = "HIST"
)

// ColumnType discriminates the logical type stored by a column.
type ColumnType uint8

const (
	TypeInt ColumnType = iota
	TypeReal
	TypeDecimal
	TypeDateTime
	TypeString // raw VARCHAR/TEXT/BINARY, no dictionary
	TypeLookup // dictionary-encoded string column
)

// PackType reports which Pack implementation a column's type is stored in.
// Lookup columns store dictionary codes and therefore use integer packs,
// exactly as plain String columns use string packs for their raw bytes.
func (t ColumnType) PackType() PackType {
	if t == TypeString {
		return PackTypeStr
	}
	return PackTypeInt
}

func (t ColumnType) String() string {
	switch t {
	case TypeInt:
		return "int"
	case TypeReal:
		return "real"
	case TypeDecimal:
		return "decimal"
	case TypeDateTime:
		return "datetime"
	case TypeString:
		return "string"
	case TypeLookup:
		return "lookup"
	default:
		return "unknown"
	}
}

// PackType discriminates the Pack implementation backing a column.
type PackType uint8

const (
	PackTypeInt PackType = iota
	PackTypeStr
)

// Meta is the column's immutable metadata, written once at Create and
// never rewritten. Grounded on columnar/file.go's FileHeader: fixed binary
// layout, little-endian, verified by magic+version on every open.
type Meta struct {
	Magic     uint32
	Version   uint32
	PSS       uint8 // pack-size shift: pack capacity is 1<<PSS rows
	Type      ColumnType
	Precision uint8
	Scale     uint8
	Flags     uint8
}

func (m *Meta) encode() ([]byte, error) {
	buf := new(bytes.Buffer)
	fields := []any{m.Magic, m.Version, m.PSS, m.Type, m.Precision, m.Scale, m.Flags}
	for _, f := range fields {
		if err := binary.Write(buf, binary.LittleEndian, f); err != nil {
			return nil, fmt.Errorf("column: encode meta: %w", err)
		}
	}
	return buf.Bytes(), nil
}

func decodeMeta(data []byte) (*Meta, error) {
	r := bytes.NewReader(data)
	m := &Meta{}
	fields := []any{&m.Magic, &m.Version, &m.PSS, &m.Type, &m.Precision, &m.Scale, &m.Flags}
	for _, f := range fields {
		if err := binary.Read(r, binary.LittleEndian, f); err != nil {
			return nil, fmt.Errorf("%w: decode meta: %v", ErrCorrupt, err)
		}
	}
	if m.Magic != metaMagic {
		return nil, fmt.Errorf("%w: bad magic %x", ErrCorrupt, m.Magic)
	}
	if m.Version != metaVersion {
		return nil, fmt.Errorf("%w: unsupported meta version %d", ErrCorrupt, m.Version)
	}
	return m, nil
}

// CreateMeta writes an immutable COL_META file under dir, creating the
// column's directory skeleton (VERSION/, DICT/, FILTER/{BLOOM,CMAP,HIST}/)
// alongside it.
func CreateMeta(dir string, pss uint8, typ ColumnType, precision, scale uint8) (*Meta, error) {
	for _, sub := range []string{ColVersionDir, ColDictDir,
		filepath.Join(ColFilterDir, ColFilterBloomDir),
		filepath.Join(ColFilterDir, ColFilterCMapDir),
		filepath.Join(ColFilterDir, ColFilterHistDir)} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0o755); err != nil {
			return nil, fmt.Errorf("%w: mkdir %s: %v", ErrIO, sub, err)
		}
	}
	m := &Meta{Magic: metaMagic, Version: metaVersion, PSS: pss, Type: typ, Precision: precision, Scale: scale}
	data, err := m.encode()
	if err != nil {
		return nil, err
	}
	path := filepath.Join(dir, ColMetaFile)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return nil, fmt.Errorf("%w: write %s: %v", ErrIO, path, err)
	}
	return m, nil
}

// OpenMeta reads and validates the COL_META file under dir.
func OpenMeta(dir string) (*Meta, error) {
	path := filepath.Join(dir, ColMetaFile)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return nil, fmt.Errorf("%w: read %s: %v", ErrIO, path, err)
	}
	return decodeMeta(data)
}
