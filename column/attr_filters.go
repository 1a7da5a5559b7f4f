package column

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/cloudimpl/colattr/filter"
)

// FiltersEnabled is the global rough-set-filter switch, analogous to the
// source's enable_histogram_cmap_bloom system variable. It is a package
// variable rather than a process-wide sysvar lookup so tests and callers
// can flip it directly.
var FiltersEnabled = true

func (a *Attr) filterDir(kind filter.Kind) string {
	switch kind {
	case filter.KindHist:
		return ColFilterHistDir
	case filter.KindCMap:
		return ColFilterCMapDir
	default:
		return ColFilterBloomDir
	}
}

func (a *Attr) filterPath(kind filter.Kind, writerXID string) string {
	return filepath.Join(a.Dir, ColFilterDir, a.filterDir(kind), writerXID)
}

// RefreshFilter rebuilds pi's rough-set filters from its current pack
// contents: Hist for integer packs, CMap for string packs, Bloom for any
// pack. Nulls-only packs and trivial packs with no materialized body get
// no filters. Results are held as dirty handles, keyed by kind
// then by pack, until SaveFilters persists them.
func (a *Attr) RefreshFilter(pi PackIndex) error {
	if !FiltersEnabled {
		return nil
	}
	dpn := a.Share.GetDPNPtr(a.Idx[pi])
	if dpn.NullOnly() {
		return nil
	}

	p, err := a.LockPackForUse(pi)
	if err != nil {
		return err
	}
	defer a.UnlockPackFromUse(pi)
	if p == nil {
		return nil // trivial, non-materialized pack: nothing to scan
	}

	stats := filterPackStats{dpn}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.Share.HasHist && a.Share.Type.PackType() == PackTypeInt {
		a.putDirtyFilterLocked(filter.KindHist, pi, filter.NewHist(stats, p))
	}
	if a.Share.HasCMap && a.Share.Type.PackType() == PackTypeStr {
		a.putDirtyFilterLocked(filter.KindCMap, pi, filter.NewCMap(stats, p))
	}
	if a.Share.HasBloom {
		a.putDirtyFilterLocked(filter.KindBloom, pi, filter.NewBloomFromPack(stats, p))
	}
	return nil
}

// putDirtyFilterLocked records h as pi's dirty handle for kind. Callers
// must hold a.mu.
func (a *Attr) putDirtyFilterLocked(kind filter.Kind, pi PackIndex, h filter.Handle) {
	byPack, ok := a.dirtyFilters[kind]
	if !ok {
		byPack = make(map[PackIndex]filter.Handle)
		a.dirtyFilters[kind] = byPack
	}
	byPack[pi] = h
}

// filterPackStats adapts a DPN to the narrow stats interface filter
// construction needs, keeping column the only package that imports both
// pack and filter.
type filterPackStats struct{ d *DPN }

func (s filterPackStats) MinInt() int64    { return s.d.MinI }
func (s filterPackStats) MaxInt() int64    { return s.d.MaxI }
func (s filterPackStats) NumOfNulls() int  { return int(s.d.NN) }
func (s filterPackStats) NumOfValues() int { return int(s.d.NR) }

// GetFilterHist / GetFilterCMap / GetFilterBloom return the filter handle
// for pi: the dirty in-transaction handle if this controller is a
// writer that has refreshed it, the on-disk handle persisted under the
// currently loaded version if one exists, or a freshly recomputed one
// otherwise.
func (a *Attr) GetFilterHist(pi PackIndex) (*filter.Hist, error) {
	h, err := a.getFilter(pi, filter.KindHist)
	if err != nil {
		return nil, err
	}
	if h == nil {
		return nil, nil
	}
	return h.(*filter.Hist), nil
}

func (a *Attr) GetFilterCMap(pi PackIndex) (*filter.CMap, error) {
	h, err := a.getFilter(pi, filter.KindCMap)
	if err != nil {
		return nil, err
	}
	if h == nil {
		return nil, nil
	}
	return h.(*filter.CMap), nil
}

func (a *Attr) GetFilterBloom(pi PackIndex) (*filter.Bloom, error) {
	h, err := a.getFilter(pi, filter.KindBloom)
	if err != nil {
		return nil, err
	}
	if h == nil {
		return nil, nil
	}
	return h.(*filter.Bloom), nil
}

func (a *Attr) getFilter(pi PackIndex, kind filter.Kind) (filter.Handle, error) {
	a.mu.Lock()
	if byPack, ok := a.dirtyFilters[kind]; ok {
		if h, ok := byPack[pi]; ok {
			a.mu.Unlock()
			return h, nil
		}
	}
	a.mu.Unlock()

	coord := filter.Coordinate{TableID: a.TableID, ColID: a.ColID, Kind: kind, PackIndex: uint32(pi)}
	return a.Eng.Filters.GetOrFetchObject(coord, func() (filter.Handle, error) {
		if h, err := a.readPersistedFilter(pi, kind); err == nil && h != nil {
			return h, nil
		}
		if err := a.RefreshFilter(pi); err != nil {
			return nil, err
		}
		a.mu.Lock()
		defer a.mu.Unlock()
		byPack, ok := a.dirtyFilters[kind]
		if !ok {
			return nil, fmt.Errorf("%w: filter %s not available for pack %d", ErrNotFound, kind, pi)
		}
		h, ok := byPack[pi]
		if !ok {
			return nil, fmt.Errorf("%w: filter %s not available for pack %d", ErrNotFound, kind, pi)
		}
		return h, nil
	})
}

// readPersistedFilter looks up pi's serialized filter of kind in the
// container file persisted under the currently loaded version, returning
// (nil, nil) when no such entry exists (a fresh pack, or filters disabled
// when that version was saved).
func (a *Attr) readPersistedFilter(pi PackIndex, kind filter.Kind) (filter.Handle, error) {
	entries, err := a.readFilterContainer(kind, a.Version.String())
	if err != nil {
		return nil, err
	}
	raw, ok := entries[pi]
	if !ok {
		return nil, nil
	}
	return filter.Deserialize(kind, raw)
}

// readFilterContainer loads and decodes the per-kind, per-version
// container file, returning an empty map if it does not exist.
func (a *Attr) readFilterContainer(kind filter.Kind, writerXID string) (map[PackIndex][]byte, error) {
	data, err := os.ReadFile(a.filterPath(kind, writerXID))
	if err != nil {
		if os.IsNotExist(err) {
			return map[PackIndex][]byte{}, nil
		}
		return nil, fmt.Errorf("%w: read filter container: %v", ErrIO, err)
	}
	return decodeFilterContainer(data)
}

// encodeFilterContainer lays out entries as a count followed by repeated
// (packIndex, length, bytes) records, aggregating every pack's serialized
// filter of one kind into the single file SaveFilters publishes per
// kind per version.
func encodeFilterContainer(entries map[PackIndex][]byte) []byte {
	buf := new(bytes.Buffer)
	_ = binary.Write(buf, binary.LittleEndian, uint32(len(entries)))
	for pi, b := range entries {
		_ = binary.Write(buf, binary.LittleEndian, uint32(pi))
		_ = binary.Write(buf, binary.LittleEndian, uint32(len(b)))
		buf.Write(b)
	}
	return buf.Bytes()
}

func decodeFilterContainer(data []byte) (map[PackIndex][]byte, error) {
	r := bytes.NewReader(data)
	var count uint32
	if err := binary.Read(r, binary.LittleEndian, &count); err != nil {
		return nil, fmt.Errorf("%w: decode filter container count: %v", ErrCorrupt, err)
	}
	entries := make(map[PackIndex][]byte, count)
	for i := uint32(0); i < count; i++ {
		var pi, n uint32
		if err := binary.Read(r, binary.LittleEndian, &pi); err != nil {
			return nil, fmt.Errorf("%w: decode filter container entry %d index: %v", ErrCorrupt, i, err)
		}
		if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
			return nil, fmt.Errorf("%w: decode filter container entry %d length: %v", ErrCorrupt, i, err)
		}
		chunk := make([]byte, n)
		if _, err := io.ReadFull(r, chunk); err != nil {
			return nil, fmt.Errorf("%w: decode filter container entry %d: %v", ErrCorrupt, i, err)
		}
		entries[PackIndex(pi)] = chunk
	}
	return entries, nil
}

// SaveFilters persists every dirty filter handle under the writer's xid,
// merging forward unchanged entries carried over from the previously
// loaded version's container so that every pack's filter of a given kind
// remains reachable from the one file that version publishes, then
// clears the dirty set.
func (a *Attr) SaveFilters() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	for kind, byPack := range a.dirtyFilters {
		if len(byPack) == 0 {
			continue
		}
		merged, err := a.readFilterContainer(kind, a.Version.String())
		if err != nil {
			return err
		}
		for pi, h := range byPack {
			raw, err := h.Serialize()
			if err != nil {
				return fmt.Errorf("%w: serialize filter %s pack %d: %v", ErrIO, kind, pi, err)
			}
			merged[pi] = raw
		}
		if err := writeFileAtomic(a.filterPath(kind, a.Writer.String()), encodeFilterContainer(merged)); err != nil {
			return err
		}
	}
	a.dirtyFilters = make(map[filter.Kind]map[PackIndex]filter.Handle)
	return nil
}
