package column

import (
	"bytes"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cloudimpl/colattr/pack"
	"github.com/cloudimpl/colattr/txid"
)

// PackIndex is a position into a ColumnShare's DPN arena.
type PackIndex uint32

// InvalidPackIndex marks a DPN with no predecessor (a fresh allocation) or
// an m_idx slot with nothing to load (should not occur past Create).
const InvalidPackIndex PackIndex = ^PackIndex(0)

// DPNInvalidAddr marks a DPN whose pack body has never been written to
// disk: trivial DPNs (nulls-only, uniform) never acquire an address.
const DPNInvalidAddr uint64 = ^uint64(0)

// Tagged-pointer state encoding for DPN.packPtr. The source packs an
// aligned C++ pointer and a small refcount into one word; Go's garbage
// collector does not allow a live pointer to be hidden inside an integer,
// so the loaded Pack handle is kept in a regular, mutex-guarded field
// instead, and the atomic word carries only the three-state marker
// (unloaded / loading / loaded-with-refcount) the lock protocol needs.
const (
	tagOne       = uint64(1)
	loadedMarker = uint64(1) << 62
	loadingFlag  = uint64(1) << 63
	refcountMask = loadedMarker - 1
)

const lockPollInterval = 5 * time.Millisecond

// DPN is the fixed per-pack metadata record: counts, min/max/sum,
// visibility interval, on-disk address, and the atomic tagged pointer
// governing pack load state.
type DPN struct {
	Used, Synced, Local bool

	NR, NN uint32

	MinI, MaxI, SumI int64 // reinterpreted via value.RealFromBits for real columns
	MinS, MaxS       [8]byte

	XMin, XMax txid.TxID

	Addr, Len uint64
	Base      PackIndex

	// sSet reports whether MinS/MaxS have been seeded by a real value yet,
	// so the first string ReportString sees replaces the zero value
	// instead of being compared against it. Persisted alongside them (DN
	// record flag bit) so a pack that already holds rows keeps widening
	// correctly after a reload instead of resetting on its next append.
	sSet bool

	packPtr      atomic.Uint64
	materialized bool

	mu         sync.Mutex
	loadedPack pack.Pack
}

// NewDPN returns a fresh, trivial, unloaded DPN with no rows.
func NewDPN() *DPN {
	return &DPN{Used: true, Addr: DPNInvalidAddr, Base: InvalidPackIndex}
}

// NullOnly reports whether the pack is entirely null (invariant 2: such a
// DPN has no Pack body).
func (d *DPN) NullOnly() bool { return d.NN == d.NR }

// Trivial reports whether the DPN describes its contents entirely through
// statistics with no materialized pack body, on disk or in memory. A
// local (copy-on-write) DPN is just as capable of being trivial as a
// committed one: CopyPackForWrite only materializes a new local pack
// when the DPN it shadows already has one.
func (d *DPN) Trivial() bool { return d.Addr == DPNInvalidAddr && !d.materialized }

// MarkDirty implements pack.StatsSink: a pack calls this after any
// in-place mutation so the DPN knows it needs resyncing to disk.
func (d *DPN) MarkDirty() { d.Synced = false }

// ReportString implements pack.StatsSink: PackStr calls this for every
// non-null value it loads or updates, widening MinS/MaxS by the pack's
// 8-byte prefix of b exactly as MinI/MaxI widen for int packs in
// attr_load.go. The comparison is over the stored prefix only, so two
// strings sharing their first 8 bytes compare equal here even if they
// differ further in.
func (d *DPN) ReportString(b []byte) {
	var prefix [8]byte
	copy(prefix[:], b)
	if !d.sSet {
		d.MinS, d.MaxS = prefix, prefix
		d.sSet = true
		return
	}
	if bytes.Compare(prefix[:], d.MinS[:]) < 0 {
		d.MinS = prefix
	}
	if bytes.Compare(prefix[:], d.MaxS[:]) > 0 {
		d.MaxS = prefix
	}
}

// Reset clears the DPN back to its just-allocated, trivial state, used by
// Rollback.
func (d *DPN) Reset() {
	d.mu.Lock()
	d.loadedPack = nil
	d.mu.Unlock()
	d.packPtr.Store(0)
	d.materialized = false
	d.Used, d.Synced, d.Local = true, false, false
	d.NR, d.NN = 0, 0
	d.MinI, d.MaxI, d.SumI = 0, 0, 0
	d.MinS, d.MaxS = [8]byte{}, [8]byte{}
	d.sSet = false
	d.Addr, d.Len = DPNInvalidAddr, 0
	d.Base = InvalidPackIndex
}

// LockPackForUse materializes the pack behind d (fetching it via fetch on
// first access) and increments its reference count, per the tagged
// pointer state machine {UNLOADED, LOADING, LOADED(refcount>=1)}. Returns
// nil, nil when d is trivial (no pack object exists to lock).
func (d *DPN) LockPackForUse(fetch func() (pack.Pack, error)) (pack.Pack, error) {
	if d.Trivial() {
		return nil, nil
	}
	for {
		cur := d.packPtr.Load()
		switch {
		case cur != 0 && cur != loadingFlag:
			if d.packPtr.CompareAndSwap(cur, cur+tagOne) {
				d.mu.Lock()
				p := d.loadedPack
				d.mu.Unlock()
				return p, nil
			}
		case cur == 0:
			if d.packPtr.CompareAndSwap(0, loadingFlag) {
				p, err := fetch()
				if err != nil {
					d.packPtr.Store(0)
					return nil, err
				}
				d.mu.Lock()
				d.loadedPack = p
				d.mu.Unlock()
				d.packPtr.Store(loadedMarker | tagOne)
				return p, nil
			}
		default: // loadingFlag: another goroutine is loading
			time.Sleep(lockPollInterval)
		}
	}
}

// UnlockPackFromUse releases one reference acquired by LockPackForUse.
// Once loaded, a DPN keeps its pack handle even at a refcount of zero:
// eviction is the pack cache's job, not this DPN's, so the next
// LockPackForUse call finds it already resident instead of re-fetching.
// A no-op on a trivial DPN, mirroring the short-circuit in
// LockPackForUse's matching call.
func (d *DPN) UnlockPackFromUse() error {
	if d.Trivial() {
		return nil
	}
	for {
		cur := d.packPtr.Load()
		if cur == 0 || cur == loadingFlag || cur&refcountMask == 0 {
			return fmt.Errorf("%w: unlock on pack with no outstanding reference", ErrBadPackState)
		}
		if d.packPtr.CompareAndSwap(cur, cur-tagOne) {
			return nil
		}
	}
}

// stampLoaded installs p as d's loaded pack with one outstanding
// reference, for a pack materialized in place by newPack rather than
// obtained through LockPackForUse's fetch path (a fresh append, a point
// update into a previously trivial pack, or CopyPackForWrite's clone).
// The caller's balancing UnlockPackFromUse call still applies.
func (d *DPN) stampLoaded(p pack.Pack) {
	d.mu.Lock()
	d.loadedPack = p
	d.mu.Unlock()
	d.materialized = true
	d.packPtr.Store(loadedMarker | tagOne)
}

// Refcount reports the DPN's current outstanding-lock count, for tests.
func (d *DPN) Refcount() uint64 {
	cur := d.packPtr.Load()
	if cur == 0 || cur == loadingFlag {
		return 0
	}
	return cur & refcountMask
}

// IsLoading reports whether a LockPackForUse call is mid-fetch.
func (d *DPN) IsLoading() bool { return d.packPtr.Load() == loadingFlag }
