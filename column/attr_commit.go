package column

import (
	"go.uber.org/zap"

	"github.com/cloudimpl/colattr/filter"
)

// SaveVersion persists the controller's current state under the writer's
// xid: every local, changed pack is saved and its filters refreshed,
// dictionary changes (if any) and filters are flushed, and hdr+m_idx are
// written to VERSION/<writer_xid>. Returns false without writing anything
// if nothing changed since the last LoadVersion.
func (a *Attr) SaveVersion() (bool, error) {
	if err := a.requireWriter(); err != nil {
		return false, err
	}

	changed := false
	for pos, arenaIdx := range a.Idx {
		dpn := a.Share.GetDPNPtr(arenaIdx)
		if !dpn.Local {
			continue
		}
		if err := a.RefreshFilter(PackIndex(pos)); err != nil {
			return false, err
		}
		if dpn.Trivial() || dpn.Synced {
			a.Eng.Packs.DropObject(a.packCoord(arenaIdx))
		} else {
			p, err := a.LockPackForUse(PackIndex(pos))
			if err != nil {
				return false, err
			}
			if p != nil {
				if err := p.Save(); err != nil {
					a.UnlockPackFromUse(PackIndex(pos))
					return false, err
				}
				a.persistPackBody(arenaIdx, p)
				dpn.Synced = true
			}
			a.UnlockPackFromUse(PackIndex(pos))
		}
		changed = true
		a.noChange = false
	}

	if !changed && a.noChange {
		return false, nil
	}

	if a.Hdr.NR > 0 {
		if err := a.SaveFilters(); err != nil {
			return false, err
		}
		if a.Dict != nil && a.Dict.Changed() {
			if err := a.Dict.SaveToFile(a.dictPath(a.Hdr.DictVer)); err != nil {
				return false, err
			}
			a.Dict.MarkSaved()
		}
		a.Hdr.NP = uint32(len(a.Idx))
		a.Hdr.CompressedSize = a.computeCompressedSize()
	}

	if err := writeVersion(a.Dir, *a.Writer, a.Hdr, a.Idx); err != nil {
		return false, err
	}
	if err := a.persistDN(); err != nil {
		return false, err
	}
	a.logger.Debug("saved version", zap.String("xid", a.Writer.String()), zap.Uint32("np", a.Hdr.NP))
	return true, nil
}

// persistDN rewrites the column's DN file from the arena's current
// state. Called once SaveVersion has finished mutating the DPNs it owns,
// and again after PostCommit clears Local and advances a base's xmax, so
// DN always reflects every field a fresh process needs to rebuild the
// arena from disk.
func (a *Attr) persistDN() error {
	return writeDNFile(a.Dir, a.Share.Snapshot())
}

func (a *Attr) computeCompressedSize() uint64 {
	var total uint64
	for _, arenaIdx := range a.Idx {
		dpn := a.Share.GetDPNPtr(arenaIdx)
		if dpn.Addr != DPNInvalidAddr {
			total += dpn.Len
		}
	}
	return total
}

// PostCommit finalizes a committed write: every local DPN becomes
// committed (its base's xmax is set to the engine's current xid), the
// previous version and filter files are queued for deferred removal, and
// m_version advances to the writer's xid. If SaveVersion found nothing
// changed, this is a no-op beyond releasing the writer handle, mirroring
// rc_attr.cpp's `if (!no_change)` guard around the entire commit body.
func (a *Attr) PostCommit() error {
	if err := a.requireWriter(); err != nil {
		return err
	}
	if a.noChange {
		a.Writer = nil
		return nil
	}

	maxXID := a.Eng.MaxXID()
	for _, arenaIdx := range a.Idx {
		dpn := a.Share.GetDPNPtr(arenaIdx)
		if !dpn.Local {
			continue
		}
		dpn.Local = false
		if dpn.Base != InvalidPackIndex {
			base := a.Share.GetDPNPtr(dpn.Base)
			base.XMax = maxXID
		}
	}
	if err := a.persistDN(); err != nil {
		return err
	}

	a.Eng.DeferRemove(versionPath(a.Dir, a.Version))
	for _, kind := range []string{ColFilterBloomDir, ColFilterCMapDir, ColFilterHistDir} {
		a.Eng.DeferRemove(a.Dir + "/" + ColFilterDir + "/" + kind + "/" + a.Version.String())
	}

	a.Version = *a.Writer
	a.Writer = nil
	a.logger.Debug("post-commit", zap.String("version", a.Version.String()))
	return nil
}

// Rollback discards every local DPN this writer allocated: their pack
// objects are dropped from cache and the DPNs themselves reset in place.
// m_idx and hdr are reloaded from the last persisted version, discarding
// every in-memory mutation made since then.
func (a *Attr) Rollback() error {
	if err := a.requireWriter(); err != nil {
		return err
	}
	for _, arenaIdx := range a.Idx {
		dpn := a.Share.GetDPNPtr(arenaIdx)
		if !dpn.Local {
			continue
		}
		a.Eng.Packs.DropObject(a.packCoord(arenaIdx))
		dpn.Reset()
	}
	a.Writer = nil
	a.dirtyFilters = make(map[filter.Kind]map[PackIndex]filter.Handle)
	a.logger.Warn("rollback", zap.String("version", a.Version.String()))
	return a.LoadVersion(a.Version)
}
