package column

import (
	"go.uber.org/zap"

	"github.com/cloudimpl/colattr/pack"
)

// LockPackForUse acquires the pack body for logical pack pi, loading it
// from disk on first access, and increments its refcount. The refcount
// and loaded-pack bookkeeping always live on the DPN currently occupying
// m_idx[pi] (local or committed): a writer's own shadow DPN owns its own
// materialized pack from the moment CopyPackForWrite clones or fetches
// it, so no redirection is needed once a logical position has a local
// DPN in place. Returns nil, nil for a trivial pack (nulls-only or
// uniform) with no materialized body.
//
// The one place a local DPN still defers to its base is the fetch
// callback itself: a freshly COW'd DPN that lost its cached pack before
// ever being persisted under its own address has no body of its own to
// read from disk yet, so it is reloaded via the base's address and
// re-cloned under the local coordinate.
func (a *Attr) LockPackForUse(pi PackIndex) (pack.Pack, error) {
	arenaIdx := a.Idx[pi]
	dpn := a.Share.GetDPNPtr(arenaIdx)
	return dpn.LockPackForUse(func() (pack.Pack, error) {
		a.logger.Debug("loading pack", zap.Uint32("pack", uint32(pi)), zap.Bool("local", dpn.Local))
		if dpn.Local && dpn.Addr == DPNInvalidAddr && dpn.Base != InvalidPackIndex {
			base := a.Share.GetDPNPtr(dpn.Base)
			p, err := a.fetchPack(dpn.Base, base)
			if err != nil {
				return nil, err
			}
			clone := p.Clone(a.packCoord(arenaIdx))
			clone.SetDPN(dpn)
			a.Eng.Packs.PutObject(a.packCoord(arenaIdx), clone)
			return clone, nil
		}
		return a.fetchPack(arenaIdx, dpn)
	})
}

// UnlockPackFromUse releases a reference acquired by LockPackForUse.
func (a *Attr) UnlockPackFromUse(pi PackIndex) error {
	dpn := a.Share.GetDPNPtr(a.Idx[pi])
	return dpn.UnlockPackFromUse()
}
