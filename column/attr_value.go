package column

import (
	"fmt"
	"time"

	"github.com/cloudimpl/colattr/value"
)

// decomposeRow splits a logical row number into (pack index, in-pack
// offset), per invariant 8: pack = row >> pss, offset = row & (cap-1).
func (a *Attr) decomposeRow(row uint64) (PackIndex, int) {
	pss := uint64(a.Share.PSS)
	return PackIndex(row >> pss), int(row & (uint64(a.Share.PackCapacity()) - 1))
}

// LoadPackInfo is idempotent: it ensures the dictionary is materialized
// when hdr.dict_ver > 0. Every value-read operation calls it first.
func (a *Attr) LoadPackInfo() error {
	if a.Hdr.DictVer > 0 && (a.Dict == nil || a.dictBaseVer != a.Hdr.DictVer) {
		return a.loadDict(a.Hdr.DictVer)
	}
	return nil
}

// GetValueInt64 returns the raw stored code for row: a dictionary code
// for Lookup columns, an encoded date for DateTime columns, or the plain
// integer/decimal/real-bits code otherwise. Returns NullValue64 for a
// null row.
func (a *Attr) GetValueInt64(row uint64) (int64, error) {
	if err := a.LoadPackInfo(); err != nil {
		return 0, err
	}
	pi, offset := a.decomposeRow(row)
	dpn := a.Share.GetDPNPtr(a.Idx[pi])
	if dpn.NullOnly() {
		return NullValue64, nil
	}

	p, err := a.LockPackForUse(pi)
	if err != nil {
		return 0, err
	}
	defer a.UnlockPackFromUse(pi)
	if p == nil {
		// Uniform, non-null trivial pack: every value equals min_i.
		return dpn.MinI, nil
	}
	if p.IsNull(offset) {
		return NullValue64, nil
	}
	return p.GetValInt(offset), nil
}

// GetValueString returns the textual form of row: the raw stored bytes
// for a string pack, or DecodeValue_S applied to the stored code for an
// integer pack (covers Lookup, numeric and date-time columns alike).
func (a *Attr) GetValueString(row uint64, loc *time.Location) (string, bool, error) {
	if a.Share.Type.PackType() == PackTypeStr {
		pi, offset := a.decomposeRow(row)
		dpn := a.Share.GetDPNPtr(a.Idx[pi])
		if dpn.NullOnly() {
			return "", true, nil
		}
		p, err := a.LockPackForUse(pi)
		if err != nil {
			return "", false, err
		}
		defer a.UnlockPackFromUse(pi)
		if p != nil && p.IsNull(offset) {
			return "", true, nil
		}
		if p == nil {
			return "", false, nil
		}
		return string(p.GetValueBinary(offset)), false, nil
	}
	code, err := a.GetValueInt64(row)
	if err != nil {
		return "", false, err
	}
	if code == NullValue64 {
		return "", true, nil
	}
	s, err := a.DecodeValue_S(code, loc)
	return s, false, err
}

// GetValueBin returns the variable-width raw bytes for a row: the stored
// string bytes for string/binary columns, or the fixed 8-byte code for
// integer/real/date-time columns.
func (a *Attr) GetValueBin(row uint64) ([]byte, bool, error) {
	if a.Share.Type.PackType() == PackTypeStr {
		s, isNull, err := a.GetValueString(row, nil)
		return []byte(s), isNull, err
	}
	code, err := a.GetValueInt64(row)
	if err != nil {
		return nil, false, err
	}
	if code == NullValue64 {
		return nil, true, nil
	}
	var buf [8]byte
	for i := 0; i < 8; i++ {
		buf[i] = byte(code >> (8 * i))
	}
	return buf[:], false, nil
}

// GetValue returns a typed value object for row. lookupToNum suppresses
// dictionary expansion for Lookup columns, returning the raw code as an
// integer instead of the dictionary string. loc is the session time zone
// DateTime columns render against (the Go-idiomatic replacement for a
// thread-local session zone).
func (a *Attr) GetValue(row uint64, lookupToNum bool, loc *time.Location) (value.Value, error) {
	code, err := a.GetValueInt64(row)
	if err != nil {
		return value.Value{}, err
	}
	if code == NullValue64 {
		return value.Null, nil
	}
	switch a.Share.Type {
	case TypeInt:
		return value.NewInt(code), nil
	case TypeReal:
		return value.NewReal(value.RealFromBits(code)), nil
	case TypeDecimal:
		return value.NewDecimal(code, 0), nil
	case TypeDateTime:
		if loc == nil {
			loc = time.UTC
		}
		return value.NewString(value.AdjustTimezone(code, loc)), nil
	case TypeLookup:
		if lookupToNum {
			return value.NewInt(code), nil
		}
		s, err := a.DecodeValue_S(code, loc)
		if err != nil {
			return value.Value{}, err
		}
		return value.NewString(s), nil
	case TypeString:
		s, isNull, err := a.GetValueString(row, loc)
		if err != nil {
			return value.Value{}, err
		}
		if isNull {
			return value.Null, nil
		}
		return value.NewString(s), nil
	default:
		return value.Value{}, fmt.Errorf("%w: unknown column type", ErrTypeMismatch)
	}
}

// DecodeValue_S renders code as canonical text. For Lookup columns this
// is a dictionary lookup; for numeric/date-time columns it is scale- and
// time-zone-adjusted formatting.
func (a *Attr) DecodeValue_S(code int64, loc *time.Location) (string, error) {
	switch a.Share.Type {
	case TypeLookup:
		if a.Dict == nil {
			return "", fmt.Errorf("%w: lookup column has no dictionary loaded", ErrCorrupt)
		}
		s, ok := a.Dict.Value(uint32(code))
		if !ok {
			return "", fmt.Errorf("%w: code %d not present in dictionary", ErrCorrupt, code)
		}
		return s, nil
	case TypeDecimal:
		return value.FormatDecimal(code, int(a.scale)), nil
	case TypeReal:
		return value.FormatReal(code), nil
	case TypeDateTime:
		if loc == nil {
			loc = time.UTC
		}
		return value.AdjustTimezone(code, loc), nil
	case TypeInt:
		return fmt.Sprintf("%d", code), nil
	default:
		return "", fmt.Errorf("%w: DecodeValue_S not valid for string columns", ErrTypeMismatch)
	}
}

// EncodeValue_T parses s into the 64-bit wire form for numeric columns,
// or resolves/inserts a dictionary code for Lookup columns; raw string and
// date-time columns are refused with ErrTypeMismatch. newVal permits
// inserting a previously-unseen string into the dictionary (a
// copy-on-write of the dictionary handle, see dictionaryCOWInsert).
func (a *Attr) EncodeValue_T(s string, newVal bool) (int64, error) {
	switch a.Share.Type {
	case TypeLookup, TypeString:
		if a.Share.Type == TypeString {
			return 0, fmt.Errorf("%w: EncodeValue_T on a raw string column has no code to return", ErrTypeMismatch)
		}
		if a.Dict == nil {
			return 0, fmt.Errorf("%w: lookup column has no dictionary loaded", ErrCorrupt)
		}
		if code, ok := a.Dict.Lookup(s); ok {
			return int64(code), nil
		}
		if !newVal {
			return NullValue64, nil
		}
		code, err := a.dictionaryCOWInsert(s)
		if err != nil {
			return 0, err
		}
		return int64(code), nil
	case TypeDateTime:
		return 0, fmt.Errorf("%w: EncodeValue_T refuses to stringify date-time columns", ErrTypeMismatch)
	default:
		raw, err := value.ParseDecimal(s, int(a.scale))
		if err != nil {
			return 0, err
		}
		return raw, nil
	}
}

// EncodeValue64 converts a typed value object into the column's 64-bit
// wire form, reconciling decimal scale between the source value and the
// column, saturating to ±InfInt64 on overflow and setting rounded when a
// nonzero remainder is dropped while narrowing a decimal or integer
// source's scale, or when a real source's discarded fraction exceeds 0.01.
func (a *Attr) EncodeValue64(v value.Value, rounded *bool) (int64, error) {
	*rounded = false
	dplaces := int(a.scale)

	if v.Kind == value.KindReal && (a.Share.Type == TypeInt || a.Share.Type == TypeDecimal) {
		scaled := v.Real * float64(value.PowOfTen(dplaces))
		frac := scaled - float64(int64(scaled))
		if frac < 0 {
			frac = -frac
		}
		if frac > 0.01 {
			*rounded = true
		}
		return clampInt64(scaled), nil
	}

	if v.Kind == value.KindDecimal || v.Kind == value.KindInt {
		raw, vp := v.Int, v.Scale
		for vp < dplaces {
			widened := raw * 10
			if overflowsInt64(raw, 10) {
				return clampInt64Sign(raw), nil
			}
			raw = widened
			vp++
		}
		for vp > dplaces {
			rem := raw % 10
			raw /= 10
			if rem != 0 {
				*rounded = true
			}
			vp--
		}
		return raw, nil
	}

	return 0, fmt.Errorf("%w: EncodeValue64 given unsupported value kind", ErrTypeMismatch)
}

func clampInt64(f float64) int64 {
	if f >= float64(InfInt64) {
		return InfInt64
	}
	if f <= float64(MinusInfInt64) {
		return MinusInfInt64
	}
	return int64(f)
}

func clampInt64Sign(raw int64) int64 {
	if raw >= 0 {
		return InfInt64
	}
	return MinusInfInt64
}

func overflowsInt64(v int64, mul int64) bool {
	if v == 0 {
		return false
	}
	r := v * mul
	return r/mul != v
}
