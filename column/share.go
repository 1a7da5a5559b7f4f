package column

import (
	"sync"

	"github.com/cloudimpl/colattr/txid"
)

// ColumnShare is the process-wide, per-(table, column) shared state: the
// DPN arena every Attr opened against this column allocates from, the
// pack-size shift, the column/pack type, and which rough-set filters are
// enabled. One ColumnShare is created per column and shared by every
// Attr; arena growth is guarded by a mutex, matching the teacher's use of
// sync.RWMutex around shared maps in columnar.PageManager.
type ColumnShare struct {
	TableID uint64
	ColID   uint64

	PSS  uint8
	Type ColumnType

	HasHist  bool
	HasCMap  bool
	HasBloom bool

	mu   sync.Mutex
	dpns []*DPN
}

// NewColumnShare returns a share with an empty DPN arena.
func NewColumnShare(tableID, colID uint64, pss uint8, typ ColumnType) *ColumnShare {
	return &ColumnShare{
		TableID:  tableID,
		ColID:    colID,
		PSS:      pss,
		Type:     typ,
		HasHist:  typ.PackType() == PackTypeInt,
		HasCMap:  typ.PackType() == PackTypeStr,
		HasBloom: true,
	}
}

// PackCapacity is 1<<PSS, the maximum row count of one pack.
func (s *ColumnShare) PackCapacity() int { return 1 << s.PSS }

// AllocDPN appends a fresh DPN to the arena at the given writer xid,
// optionally shadowing base, and returns its arena index.
func (s *ColumnShare) AllocDPN(writer txid.TxID, base PackIndex) PackIndex {
	s.mu.Lock()
	defer s.mu.Unlock()
	d := NewDPN()
	d.XMin = writer
	d.XMax = txid.Max
	d.Local = true
	if base != InvalidPackIndex {
		d.Base = base
	}
	s.dpns = append(s.dpns, d)
	return PackIndex(len(s.dpns) - 1)
}

// GetDPNPtr returns the DPN at idx.
func (s *ColumnShare) GetDPNPtr(idx PackIndex) *DPN {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dpns[idx]
}

// GetPackIndex returns the arena index of dpn, or InvalidPackIndex if it
// is not found (should not happen for a DPN obtained from this share).
func (s *ColumnShare) GetPackIndex(dpn *DPN) PackIndex {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, d := range s.dpns {
		if d == dpn {
			return PackIndex(i)
		}
	}
	return InvalidPackIndex
}

// Len reports the arena's current size.
func (s *ColumnShare) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.dpns)
}

// Snapshot returns a copy of the arena's current DPN pointers, letting a
// caller persist the full DN file without holding the arena lock across
// the write itself.
func (s *ColumnShare) Snapshot() []*DPN {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*DPN, len(s.dpns))
	copy(out, s.dpns)
	return out
}

// LoadDPNs rebuilds the arena from dir's DN file, the step a freshly
// constructed ColumnShare needs after a process restart before any m_idx
// entry (an index into this arena) can be resolved. A no-op once the
// arena already holds entries: every Attr opened against a column in the
// same process shares one ColumnShare, and a second Open must not clobber
// state the first Open (or an in-flight writer) already populated.
func (s *ColumnShare) LoadDPNs(dir string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.dpns) > 0 {
		return nil
	}
	dpns, err := readDNFile(dir)
	if err != nil {
		return err
	}
	s.dpns = dpns
	return nil
}
