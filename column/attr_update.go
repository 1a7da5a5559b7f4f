package column

import (
	"fmt"

	"github.com/cloudimpl/colattr/dict"
	"github.com/cloudimpl/colattr/pack"
)

// PrimaryKeyIndex is the secondary-index collaborator UpdateData
// delegates primary-key enforcement to. Implementations decide whether a
// new value collides with an existing row; the index subsystem itself is
// out of scope here (spec.md §1's Non-goals), so this is a narrow,
// caller-supplied interface rather than a concrete implementation.
type PrimaryKeyIndex interface {
	UpdateIfIndex(row uint64, newCode int64) error // returns ErrDuplicateKey on collision
}

// CopyPackForWrite ensures m_idx[pos] names a local DPN owned by the
// current writer: if it already is, this is a no-op; otherwise a new DPN
// is allocated shadowing the old one, and the pack body (if any) is
// cloned in memory or fetched fresh under the new coordinate.
func (a *Attr) CopyPackForWrite(pos PackIndex) error {
	arenaIdx := a.Idx[pos]
	dpn := a.Share.GetDPNPtr(arenaIdx)
	if dpn.Local {
		return nil
	}

	newArenaIdx := a.Share.AllocDPN(*a.Writer, arenaIdx)
	newDPN := a.Share.GetDPNPtr(newArenaIdx)
	newDPN.NR, newDPN.NN = dpn.NR, dpn.NN
	newDPN.MinI, newDPN.MaxI, newDPN.SumI = dpn.MinI, dpn.MaxI, dpn.SumI
	newDPN.MinS, newDPN.MaxS = dpn.MinS, dpn.MaxS
	newDPN.sSet = dpn.sSet
	newDPN.Synced = false

	if !dpn.Trivial() {
		oldCoord := a.packCoord(arenaIdx)
		newCoord := a.packCoord(newArenaIdx)
		var newPack pack.Pack
		if old, ok := a.Eng.Packs.GetLockedObject(oldCoord); ok {
			newPack = old.Clone(newCoord)
			newPack.SetDPN(newDPN)
			a.Eng.Packs.Release(oldCoord)
		} else {
			p, err := a.fetchPack(arenaIdx, dpn)
			if err != nil {
				return err
			}
			newPack = p.Clone(newCoord)
			newPack.SetDPN(newDPN)
		}
		a.Eng.Packs.PutObject(newCoord, newPack)
		newDPN.stampLoaded(newPack)
	}

	a.Idx[pos] = newArenaIdx
	return nil
}

// dictionaryCOWInsert looks up s in the current dictionary, cloning it
// (and bumping hdr.dict_ver) on this transaction's first mutation, then
// interning s into the clone.
func (a *Attr) dictionaryCOWInsert(s string) (uint32, error) {
	if a.Dict == nil {
		a.Dict = dict.New()
	}
	if code, ok := a.Dict.Lookup(s); ok {
		return code, nil
	}
	if !a.Dict.Changed() {
		oldCoord := a.dictCoord()
		clone := a.Dict.Clone()
		a.Eng.Dicts.PutObject(oldCoord, clone)
		a.Dict = clone
		a.Hdr.DictVer++
	}
	code, _ := a.Dict.Intern(s)
	return code, nil
}

// UpdateData performs a point update of row to v, delegating primary-key
// enforcement to pk when non-nil.
func (a *Attr) UpdateData(row uint64, v pack.Value, pk PrimaryKeyIndex) error {
	if err := a.requireWriter(); err != nil {
		return err
	}
	a.noChange = false

	pi, offset := a.decomposeRow(row)

	if pk != nil {
		if err := pk.UpdateIfIndex(row, v.Int); err != nil {
			return fmt.Errorf("%w: %v", ErrDuplicateKey, err)
		}
	}

	if err := a.CopyPackForWrite(pi); err != nil {
		return err
	}
	arenaIdx := a.Idx[pi]
	dpn := a.Share.GetDPNPtr(arenaIdx)

	p, err := a.LockPackForUse(pi)
	if err != nil {
		return err
	}
	wasTrivial := p == nil
	if p == nil {
		p = a.newPack(arenaIdx, dpn)
		dpn.stampLoaded(p)
	}
	if wasTrivial && dpn.NR > 0 {
		seed := seedTrivialBatch(dpn)
		if a.Share.Type.PackType() == PackTypeStr {
			seed = seedTrivialBatchStr(dpn)
		}
		if err := p.LoadValues(seed, nil); err != nil {
			a.UnlockPackFromUse(pi)
			return err
		}
	}

	wasNull := p.IsNull(offset)
	if err := p.UpdateValue(offset, v); err != nil {
		a.UnlockPackFromUse(pi)
		return err
	}
	a.UnlockPackFromUse(pi)
	dpn.Synced = false

	switch {
	case wasNull && !v.IsNull:
		if dpn.NN > 0 {
			dpn.NN--
		}
		a.Hdr.NN--
	case !wasNull && v.IsNull:
		dpn.NN++
		a.Hdr.NN++
	}

	if !v.IsNull && a.Share.Type.PackType() == PackTypeInt {
		if v.Int < dpn.MinI || dpn.NR == 0 {
			dpn.MinI = v.Int
		}
		if v.Int > dpn.MaxI || dpn.NR == 0 {
			dpn.MaxI = v.Int
		}
		if v.Int < a.Hdr.Min {
			a.Hdr.Min = v.Int
		} else if v.Int > a.Hdr.Max {
			a.Hdr.Max = v.Int
		} else {
			a.recomputeHeaderRange()
		}
	}
	return nil
}

// recomputeHeaderRange rescans every DPN to rebuild hdr.min/hdr.max, used
// when an UpdateData narrows a value away from the current extremes.
func (a *Attr) recomputeHeaderRange() {
	min, max := InfInt64, MinusInfInt64
	for _, arenaIdx := range a.Idx {
		dpn := a.Share.GetDPNPtr(arenaIdx)
		if dpn.NullOnly() {
			continue
		}
		if dpn.MinI < min {
			min = dpn.MinI
		}
		if dpn.MaxI > max {
			max = dpn.MaxI
		}
	}
	a.Hdr.Min, a.Hdr.Max = min, max
}
