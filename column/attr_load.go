package column

import "github.com/cloudimpl/colattr/pack"

// PreparePackForLoad returns the logical pack index LoadData should
// append into: a freshly allocated DPN when m_idx is empty or the last
// pack is full, otherwise a copy-on-write shadow of the last pack.
func (a *Attr) PreparePackForLoad() (PackIndex, error) {
	capacity := uint32(a.Share.PackCapacity())
	if len(a.Idx) == 0 {
		return a.allocateNewPack(), nil
	}
	lastPos := PackIndex(len(a.Idx) - 1)
	lastDPN := a.Share.GetDPNPtr(a.Idx[lastPos])
	if lastDPN.NR == capacity {
		return a.allocateNewPack(), nil
	}
	if err := a.CopyPackForWrite(lastPos); err != nil {
		return 0, err
	}
	return lastPos, nil
}

// allocateNewPack allocates a fresh DPN at the writer's xid and appends
// it to m_idx, returning its position in m_idx (not its arena index).
func (a *Attr) allocateNewPack() PackIndex {
	arenaIdx := a.Share.AllocDPN(*a.Writer, InvalidPackIndex)
	a.Idx = append(a.Idx, arenaIdx)
	return PackIndex(len(a.Idx) - 1)
}

// notNullFiller computes the filler value substituted for a null in a
// NOT NULL column: an empty string's dictionary code for Lookup columns
// backed by integer packs, zero otherwise. nullable columns pass nil.
func (a *Attr) notNullFiller(nullable bool) *int64 {
	if nullable {
		return nil
	}
	var filler int64
	if a.Share.Type == TypeLookup {
		code, _ := a.dictionaryCOWInsert("")
		filler = int64(code)
	}
	return &filler
}

// LoadData appends batch to the column's last pack, or to a new pack when
// the last one is full, dispatching to the integer or string load path by
// the column's pack type. The whole batch goes into that one pack;
// LoadData does not split a batch across packs.
func (a *Attr) LoadData(batch *pack.Batch, nullable bool) error {
	if err := a.requireWriter(); err != nil {
		return err
	}
	a.noChange = false

	pos, err := a.PreparePackForLoad()
	if err != nil {
		return err
	}
	arenaIdx := a.Idx[pos]
	dpn := a.Share.GetDPNPtr(arenaIdx)

	var loadErr error
	if a.Share.Type.PackType() == PackTypeStr {
		loadErr = a.loadDataPackS(pos, arenaIdx, dpn, batch)
	} else {
		loadErr = a.loadDataPackN(pos, arenaIdx, dpn, batch, a.notNullFiller(nullable))
	}
	if loadErr != nil {
		return loadErr
	}

	a.Hdr.NR += uint64(batch.NumOfValues())
	if nullable {
		a.Hdr.NN += uint64(batch.NumOfNulls())
	}
	a.Hdr.NaturalSize += batch.SummarizedSize()
	a.Hdr.NP = uint32(len(a.Idx))

	if !dpn.Trivial() {
		p, err := a.LockPackForUse(pos)
		if err != nil {
			return err
		}
		if p != nil {
			if err := p.Save(); err != nil {
				a.UnlockPackFromUse(pos)
				return err
			}
			a.persistPackBody(arenaIdx, p)
		}
		a.UnlockPackFromUse(pos)
	}
	return nil
}

func (a *Attr) persistPackBody(arenaIdx PackIndex, p pack.Pack) {
	var body []byte
	switch v := p.(type) {
	case *pack.PackInt:
		body = v.CompressedBytes()
	case *pack.PackStr:
		body = v.CompressedBytes()
	}
	if body == nil {
		return
	}
	dpn := a.Share.GetDPNPtr(arenaIdx)
	dpn.Addr = uint64(arenaIdx)
	dpn.Len = uint64(len(body))
	_ = writeFileAtomic(a.packBodyPath(arenaIdx), body)
}

// loadDataPackN implements the integer/real append path: a null-only or
// uniform batch stays trivial; otherwise a Pack is materialized and
// hdr.min/hdr.max widen monotonically.
func (a *Attr) loadDataPackN(pos, arenaIdx PackIndex, dpn *DPN, batch *pack.Batch, filler *int64) error {
	if batch.NumOfNulls() == batch.NumOfValues() && (dpn.NR == 0 || dpn.NullOnly()) {
		dpn.NR += uint32(batch.NumOfValues())
		dpn.NN += uint32(batch.NumOfValues())
		return nil
	}

	loadMin, loadMax := batch.MinInt(), batch.MaxInt()
	loadSum := batch.SumInt()

	wasEmpty := dpn.NR == 0
	uniform := batch.NumOfNulls() == 0 && loadMin == loadMax && (wasEmpty || (loadMin == dpn.MinI && loadMin == dpn.MaxI))

	if uniform && dpn.Trivial() {
		dpn.NR += uint32(batch.NumOfValues())
		dpn.MinI, dpn.MaxI = loadMin, loadMin
		dpn.SumI += loadSum
		a.widenHeaderRange(loadMin, loadMin)
		return nil
	}

	p, err := a.LockPackForUse(pos)
	if err != nil {
		return err
	}
	wasTrivial := p == nil
	if p == nil {
		p = a.newPack(arenaIdx, dpn)
		dpn.stampLoaded(p)
	}
	if wasTrivial && dpn.NR > 0 {
		if err := p.LoadValues(seedTrivialBatch(dpn), nil); err != nil {
			a.UnlockPackFromUse(pos)
			return err
		}
	}
	if err := p.LoadValues(batch, filler); err != nil {
		a.UnlockPackFromUse(pos)
		return err
	}
	a.UnlockPackFromUse(pos)

	dpn.NR += uint32(batch.NumOfValues())
	dpn.NN += uint32(batch.NumOfNulls())
	if wasEmpty {
		dpn.MinI, dpn.MaxI = loadMin, loadMax
	} else {
		if loadMin < dpn.MinI {
			dpn.MinI = loadMin
		}
		if loadMax > dpn.MaxI {
			dpn.MaxI = loadMax
		}
	}
	dpn.SumI += loadSum
	a.widenHeaderRange(dpn.MinI, dpn.MaxI)
	return nil
}

// loadDataPackS implements the string append path.
func (a *Attr) loadDataPackS(pos, arenaIdx PackIndex, dpn *DPN, batch *pack.Batch) error {
	if batch.NumOfNulls() == batch.NumOfValues() && (dpn.NR == 0 || dpn.NullOnly()) {
		dpn.NR += uint32(batch.NumOfValues())
		dpn.NN += uint32(batch.NumOfValues())
		return nil
	}
	p, err := a.LockPackForUse(pos)
	if err != nil {
		return err
	}
	wasTrivial := p == nil
	if p == nil {
		p = a.newPack(arenaIdx, dpn)
		dpn.stampLoaded(p)
	}
	if wasTrivial && dpn.NR > 0 {
		if err := p.LoadValues(seedTrivialBatchStr(dpn), nil); err != nil {
			a.UnlockPackFromUse(pos)
			return err
		}
	}
	if err := p.LoadValues(batch, nil); err != nil {
		a.UnlockPackFromUse(pos)
		return err
	}
	a.UnlockPackFromUse(pos)
	dpn.NR += uint32(batch.NumOfValues())
	dpn.NN += uint32(batch.NumOfNulls())
	if loadMax := maxStrLen(batch); loadMax > dpn.SumI {
		dpn.SumI = loadMax
	}
	return nil
}

// maxStrLen returns the longest non-null string in batch, for dpn.sum_i's
// STR-pack repurposing as a running max stored length (GetActualSize).
func maxStrLen(batch *pack.Batch) int64 {
	var max int64
	for i, s := range batch.Strs {
		if i < len(batch.Nulls) && batch.Nulls[i] {
			continue
		}
		if n := int64(len(s)); n > max {
			max = n
		}
	}
	return max
}

func (a *Attr) widenHeaderRange(lo, hi int64) {
	if lo < a.Hdr.Min {
		a.Hdr.Min = lo
	}
	if hi > a.Hdr.Max {
		a.Hdr.Max = hi
	}
}
