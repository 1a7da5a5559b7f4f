package column

import "github.com/cloudimpl/colattr/filter"

// Predicate is a single pre-built range/equality test a Scan evaluates
// pack-by-pack. It stands in for the query planner explicitly kept out of
// scope: Scan consumes one already-compiled predicate rather than parsing
// or planning one.
type Predicate struct {
	RangeLo, RangeHi *int64  // integer range test: RangeLo <= v <= RangeHi, nil bound means unbounded
	Equals           *string // string/lookup equality test
}

// Scan prunes packs using DPN statistics and rough-set filters, then
// materializes the matching rows for every pack that cannot be ruled out.
// This is the single pre-built predicate evaluator a query executor would
// call; it is not a query planner.
func (a *Attr) Scan(pred Predicate) (*filter.RowSet, error) {
	result := filter.NewRowSet()
	capacity := uint32(a.Share.PackCapacity())

	for pos := range a.Idx {
		pi := PackIndex(pos)
		dpn := a.Share.GetDPNPtr(a.Idx[pi])
		if dpn.NullOnly() {
			continue
		}
		if !a.mayMatch(pi, dpn, pred) {
			continue
		}

		lo := uint32(pos) * capacity
		hi := lo + dpn.NR
		if err := a.scanPackRows(pi, pred, lo, hi, result); err != nil {
			return nil, err
		}
	}
	return result, nil
}

func (a *Attr) mayMatch(pi PackIndex, dpn *DPN, pred Predicate) bool {
	if pred.RangeLo != nil || pred.RangeHi != nil {
		lo, hi := MinusInfInt64, InfInt64
		if pred.RangeLo != nil {
			lo = *pred.RangeLo
		}
		if pred.RangeHi != nil {
			hi = *pred.RangeHi
		}
		if hi < dpn.MinI || lo > dpn.MaxI {
			return false
		}
		if h, err := a.GetFilterHist(pi); err == nil && h != nil {
			if !h.MayContainRange(lo, hi) {
				return false
			}
		}
	}
	// Bloom filters hold each value's GetValueBinary form, which is the
	// string itself only in string packs; integer and lookup packs store
	// 8-byte codes, so their Bloom filter cannot test *pred.Equals.
	if pred.Equals != nil && a.Share.Type.PackType() == PackTypeStr {
		if b, err := a.GetFilterBloom(pi); err == nil && b != nil {
			if !b.MayContain([]byte(*pred.Equals)) {
				return false
			}
		}
	}
	return true
}

func (a *Attr) scanPackRows(pi PackIndex, pred Predicate, lo, hi uint32, result *filter.RowSet) error {
	for row := lo; row < hi; row++ {
		ok, err := a.rowMatches(uint64(row), pred)
		if err != nil {
			return err
		}
		if ok {
			result.Add(row)
		}
	}
	return nil
}

func (a *Attr) rowMatches(row uint64, pred Predicate) (bool, error) {
	if pred.Equals != nil {
		s, isNull, err := a.GetValueString(row, nil)
		if err != nil {
			return false, err
		}
		return !isNull && s == *pred.Equals, nil
	}
	v, err := a.GetValueInt64(row)
	if err != nil {
		return false, err
	}
	if v == NullValue64 {
		return false, nil
	}
	if pred.RangeLo != nil && v < *pred.RangeLo {
		return false, nil
	}
	if pred.RangeHi != nil && v > *pred.RangeHi {
		return false, nil
	}
	return true, nil
}
