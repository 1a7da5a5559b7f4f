package column

import (
	"testing"

	"github.com/cloudimpl/colattr/engine"
	"github.com/cloudimpl/colattr/pack"
	"github.com/cloudimpl/colattr/txid"
)

// commit runs SaveVersion+PostCommit on a writer controller, returning the
// version xid it was just committed under.
func commit(t *testing.T, a *Attr) txid.TxID {
	t.Helper()
	if _, err := a.SaveVersion(); err != nil {
		t.Fatalf("SaveVersion: %v", err)
	}
	v := *a.Writer
	if err := a.PostCommit(); err != nil {
		t.Fatalf("PostCommit: %v", err)
	}
	return v
}

func intBatch(vs ...int64) *pack.Batch { return &pack.Batch{Ints: vs} }

func strBatch(vs ...string) *pack.Batch { return &pack.Batch{Strs: vs} }

// TestLoadDataSplitsAcrossPacks covers scenario S1 with two loads: the
// first batch fills one pack to its 1<<pss capacity, the second (the
// remainder) goes into a new pack, and hdr.min/hdr.max/hdr.np track the
// load.
func TestLoadDataSplitsAcrossPacks(t *testing.T) {
	eng := engine.New()
	dir := t.TempDir()
	a, _, err := Create(eng, dir, 1, 1, 16, TypeInt, 0, 0, 0)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	xid := eng.NextXID()
	a.Writer = &xid

	capacity := a.Share.PackCapacity() // 65536
	first := make([]int64, capacity)
	for i := range first {
		first[i] = int64(i + 1)
	}
	if err := a.LoadData(intBatch(first...), false); err != nil {
		t.Fatalf("LoadData (first pack): %v", err)
	}

	const remainder = 4464
	second := make([]int64, remainder)
	for i := range second {
		second[i] = int64(capacity + i + 1)
	}
	if err := a.LoadData(intBatch(second...), false); err != nil {
		t.Fatalf("LoadData (second pack): %v", err)
	}

	if a.Hdr.NP != 2 {
		t.Fatalf("hdr.np = %d, want 2", a.Hdr.NP)
	}
	if a.Hdr.NR != uint64(capacity+remainder) {
		t.Fatalf("hdr.nr = %d, want %d", a.Hdr.NR, capacity+remainder)
	}
	if a.Hdr.Min != 1 {
		t.Fatalf("hdr.min = %d, want 1", a.Hdr.Min)
	}
	if a.Hdr.Max != int64(capacity+remainder) {
		t.Fatalf("hdr.max = %d, want %d", a.Hdr.Max, capacity+remainder)
	}

	pack0 := a.Share.GetDPNPtr(a.Idx[0])
	pack1 := a.Share.GetDPNPtr(a.Idx[1])
	if pack0.NR != uint32(capacity) {
		t.Fatalf("pack0.nr = %d, want %d", pack0.NR, capacity)
	}
	if pack1.NR != remainder {
		t.Fatalf("pack1.nr = %d, want %d", pack1.NR, remainder)
	}

	// row 65536 (0-indexed) is the first row of pack1: value capacity+1.
	v, err := a.GetValueInt64(uint64(capacity))
	if err != nil {
		t.Fatalf("GetValueInt64: %v", err)
	}
	if v != int64(capacity+1) {
		t.Fatalf("GetValueInt64(%d) = %d, want %d", capacity, v, capacity+1)
	}
	// last row overall.
	v, err = a.GetValueInt64(uint64(capacity + remainder - 1))
	if err != nil {
		t.Fatalf("GetValueInt64: %v", err)
	}
	if v != int64(capacity+remainder) {
		t.Fatalf("GetValueInt64(last) = %d, want %d", v, capacity+remainder)
	}
}

// TestUniformPackWidensToNormal covers scenario S2: a uniform batch keeps a
// pack trivial, and a subsequent non-uniform append on the same pack
// materializes a real Pack seeded with the rows the DPN already accounted
// for, without losing them.
func TestUniformPackWidensToNormal(t *testing.T) {
	eng := engine.New()
	dir := t.TempDir()
	a, _, err := Create(eng, dir, 1, 1, 16, TypeInt, 0, 0, 0)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	xid := eng.NextXID()
	a.Writer = &xid

	if err := a.LoadData(intBatch(7, 7, 7), false); err != nil {
		t.Fatalf("LoadData (uniform): %v", err)
	}
	dpn := a.Share.GetDPNPtr(a.Idx[0])
	if !dpn.Trivial() {
		t.Fatalf("pack should still be trivial after a uniform load")
	}
	if dpn.NR != 3 || dpn.MinI != 7 || dpn.MaxI != 7 {
		t.Fatalf("dpn stats after uniform load = {nr:%d min:%d max:%d}, want {3,7,7}", dpn.NR, dpn.MinI, dpn.MaxI)
	}

	if err := a.LoadData(intBatch(7, 8), false); err != nil {
		t.Fatalf("LoadData (widening): %v", err)
	}
	if dpn.Trivial() {
		t.Fatalf("pack should have materialized after the widening load")
	}
	if dpn.MaxI != 8 {
		t.Fatalf("dpn.max_i = %d, want 8", dpn.MaxI)
	}
	if dpn.NR != 5 {
		t.Fatalf("dpn.nr = %d, want 5", dpn.NR)
	}

	// The three rows the DPN already accounted for as uniform must have
	// been backfilled into the materialized pack, not dropped.
	wantValues := []int64{7, 7, 7, 7, 8}
	for row, want := range wantValues {
		got, err := a.GetValueInt64(uint64(row))
		if err != nil {
			t.Fatalf("GetValueInt64(%d): %v", row, err)
		}
		if got != want {
			t.Fatalf("GetValueInt64(%d) = %d, want %d", row, got, want)
		}
	}
}

// TestUpdateDataMaterializesTrivialPack exercises UpdateData's own
// materialize-and-seed path: a point update into a uniform pack must
// backfill the other rows before applying the update.
func TestUpdateDataMaterializesTrivialPack(t *testing.T) {
	eng := engine.New()
	dir := t.TempDir()
	a, _, err := Create(eng, dir, 1, 1, 16, TypeInt, 0, 0, 0)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	xid := eng.NextXID()
	a.Writer = &xid

	if err := a.LoadData(intBatch(9, 9, 9, 9), false); err != nil {
		t.Fatalf("LoadData: %v", err)
	}
	dpn := a.Share.GetDPNPtr(a.Idx[0])
	if !dpn.Trivial() {
		t.Fatalf("pack should be trivial before the update")
	}

	if err := a.UpdateData(2, pack.Value{Int: 42}, nil); err != nil {
		t.Fatalf("UpdateData: %v", err)
	}

	dpn = a.Share.GetDPNPtr(a.Idx[0])
	if dpn.Trivial() {
		t.Fatalf("pack should have materialized after UpdateData")
	}

	wantValues := []int64{9, 9, 42, 9}
	for row, want := range wantValues {
		got, err := a.GetValueInt64(uint64(row))
		if err != nil {
			t.Fatalf("GetValueInt64(%d): %v", row, err)
		}
		if got != want {
			t.Fatalf("GetValueInt64(%d) = %d, want %d", row, got, want)
		}
	}
}

// TestSaveVersionPersistsAcrossReopen exercises the full write/commit/
// reopen cycle: data written under a writer transaction must be readable
// from a freshly opened, read-only controller at the committed version
// after SaveVersion and PostCommit. The reader shares the writer's
// ColumnShare and engine, so its packs may be served from the cache.
func TestSaveVersionPersistsAcrossReopen(t *testing.T) {
	eng := engine.New()
	dir := t.TempDir()
	a, share, err := Create(eng, dir, 1, 1, 4, TypeInt, 0, 0, 0)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	xid := eng.NextXID()
	a.Writer = &xid

	if err := a.LoadData(intBatch(1, 2, 3, 4, 5), false); err != nil {
		t.Fatalf("LoadData: %v", err)
	}
	// Extend the first pack (5 of its 1<<4 = 16 rows used) and point-update
	// a row; the pack is already local to this writer, so it is not cloned.
	if err := a.LoadData(intBatch(6, 7), false); err != nil {
		t.Fatalf("LoadData (extend): %v", err)
	}
	if err := a.UpdateData(0, pack.Value{Int: 100}, nil); err != nil {
		t.Fatalf("UpdateData: %v", err)
	}

	version := commit(t, a)

	reader, err := Open(eng, share, dir, 1, 1, version, nil)
	if err != nil {
		t.Fatalf("Open (reader): %v", err)
	}

	want := []int64{100, 2, 3, 4, 5, 6, 7}
	for row, w := range want {
		got, err := reader.GetValueInt64(uint64(row))
		if err != nil {
			t.Fatalf("GetValueInt64(%d): %v", row, err)
		}
		if got != w {
			t.Fatalf("GetValueInt64(%d) = %d, want %d", row, got, w)
		}
	}
	if reader.Hdr.NR != 7 {
		t.Fatalf("hdr.nr = %d, want 7", reader.Hdr.NR)
	}
}

// TestDPNLockUnlockBalance is a narrow regression test for the DPN-level
// refcount protocol itself: repeated lock/unlock pairs around a
// materialized pack must never error, and Refcount must return to zero
// between pairs without discarding the loaded pack handle.
func TestDPNLockUnlockBalance(t *testing.T) {
	d := NewDPN()
	fetchCalls := 0
	fetch := func() (pack.Pack, error) {
		fetchCalls++
		return pack.NewPackInt(pack.Coordinate{}, 16), nil
	}
	d.Addr = 0 // pretend it has an on-disk address, so it is not trivial

	for i := 0; i < 3; i++ {
		p, err := d.LockPackForUse(fetch)
		if err != nil {
			t.Fatalf("LockPackForUse: %v", err)
		}
		if p == nil {
			t.Fatalf("LockPackForUse returned nil pack")
		}
		if err := d.UnlockPackFromUse(); err != nil {
			t.Fatalf("UnlockPackFromUse: %v", err)
		}
		if d.Refcount() != 0 {
			t.Fatalf("Refcount() = %d, want 0 after balanced unlock", d.Refcount())
		}
	}
	if fetchCalls != 1 {
		t.Fatalf("fetch called %d times, want 1 (subsequent locks should reuse the loaded pack)", fetchCalls)
	}

	if err := d.UnlockPackFromUse(); err == nil {
		t.Fatalf("UnlockPackFromUse on an already-unlocked DPN should error")
	}
}

// TestDictionaryCOWIsolatesReadersAcrossUpdate covers scenario S3: a
// writer that updates a Lookup column with a previously-unseen string
// must bump hdr.dict_ver by cloning the dictionary rather than mutating
// it in place, so a reader that already holds the prior dictionary
// handle keeps seeing the version it opened with.
func TestDictionaryCOWIsolatesReadersAcrossUpdate(t *testing.T) {
	eng := engine.New()
	dir := t.TempDir()
	a, share, err := Create(eng, dir, 1, 1, 4, TypeLookup, 0, 0, 0)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	xid1 := eng.NextXID()
	a.Writer = &xid1

	codeA, err := a.EncodeValue_T("a", true)
	if err != nil {
		t.Fatalf("EncodeValue_T(a): %v", err)
	}
	if err := a.LoadData(intBatch(codeA), false); err != nil {
		t.Fatalf("LoadData: %v", err)
	}
	v1 := commit(t, a)

	reader, err := Open(eng, share, dir, 1, 1, v1, nil)
	if err != nil {
		t.Fatalf("Open (reader): %v", err)
	}
	readerDictVer := reader.Hdr.DictVer

	xid2 := eng.NextXID()
	writer, err := Open(eng, share, dir, 1, 1, v1, &xid2)
	if err != nil {
		t.Fatalf("Open (writer): %v", err)
	}
	codeB, err := writer.EncodeValue_T("b", true)
	if err != nil {
		t.Fatalf("EncodeValue_T(b): %v", err)
	}
	if writer.Hdr.DictVer == readerDictVer {
		t.Fatalf("hdr.dict_ver = %d, want it to bump past the reader's %d after interning a previously-unseen string", writer.Hdr.DictVer, readerDictVer)
	}
	if err := writer.UpdateData(0, pack.Value{Int: codeB}, nil); err != nil {
		t.Fatalf("UpdateData: %v", err)
	}
	v2 := commit(t, writer)

	// The reader's dictionary handle was fetched before the writer's
	// clone-and-intern; it must still resolve "a" and must never observe
	// "b", even though both handles may have started out pointing at the
	// same cached instance.
	s, err := reader.DecodeValue_S(codeA, nil)
	if err != nil {
		t.Fatalf("reader DecodeValue_S(a): %v", err)
	}
	if s != "a" {
		t.Fatalf("reader's dictionary resolved code %d to %q, want %q", codeA, s, "a")
	}
	if _, ok := reader.Dict.Lookup("b"); ok {
		t.Fatalf("reader's dictionary observed %q, interned by a concurrent writer after the reader's handle was fetched", "b")
	}

	fresh, err := Open(eng, share, dir, 1, 1, v2, nil)
	if err != nil {
		t.Fatalf("Open (fresh reader at v2): %v", err)
	}
	got, isNull, err := fresh.GetValueString(0, nil)
	if err != nil {
		t.Fatalf("GetValueString: %v", err)
	}
	if isNull || got != "b" {
		t.Fatalf("fresh reader row 0 = (%q, null=%v), want (%q, false)", got, isNull, "b")
	}
}

// TestStringPackTracksMinMax covers a TypeString column end to end: the
// DPN's MinS/MaxS must widen from real loaded bytes (not stay at their
// zero value), GetPrefixLength must reflect the actual common prefix, and
// a later point update through CopyPackForWrite's COW clone must keep
// widening against the carried-forward bounds rather than resetting them.
func TestStringPackTracksMinMax(t *testing.T) {
	eng := engine.New()
	dir := t.TempDir()
	a, _, err := Create(eng, dir, 1, 1, 4, TypeString, 0, 0, 0)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	xid1 := eng.NextXID()
	a.Writer = &xid1

	if err := a.LoadData(strBatch("banana", "apple", "cherry"), false); err != nil {
		t.Fatalf("LoadData: %v", err)
	}
	if got := a.GetMinString(0); got != "apple" {
		t.Fatalf("GetMinString = %q, want %q", got, "apple")
	}
	if got := a.GetMaxString(0); got != "cherry" {
		t.Fatalf("GetMaxString = %q, want %q", got, "cherry")
	}
	if got := a.GetPrefixLength(0); got != 0 {
		t.Fatalf("GetPrefixLength = %d, want 0 (\"apple\" and \"cherry\" share no prefix)", got)
	}

	commit(t, a)

	xid2 := eng.NextXID()
	a.Writer = &xid2
	if err := a.UpdateData(0, pack.Value{Bytes: []byte("aaa")}, nil); err != nil {
		t.Fatalf("UpdateData: %v", err)
	}
	if got := a.GetMinString(0); got != "aaa" {
		t.Fatalf("GetMinString after update = %q, want %q (COW clone must widen against the carried-forward bound)", got, "aaa")
	}
	if got := a.GetMaxString(0); got != "cherry" {
		t.Fatalf("GetMaxString after update = %q, want %q unchanged", got, "cherry")
	}
}

// TestDNFileRecoversArenaAfterRestart covers the DN on-disk file: a
// brand-new ColumnShare (standing in for a fresh process with an empty
// arena) must be able to resolve every DPN a previously committed
// VERSION/<xid>'s m_idx indexes into, purely from what SaveVersion and
// PostCommit persisted to disk.
func TestDNFileRecoversArenaAfterRestart(t *testing.T) {
	eng := engine.New()
	dir := t.TempDir()
	a, _, err := Create(eng, dir, 1, 1, 4, TypeInt, 0, 0, 0)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	xid := eng.NextXID()
	a.Writer = &xid
	if err := a.LoadData(intBatch(1, 2, 3, 4, 5), false); err != nil {
		t.Fatalf("LoadData: %v", err)
	}
	version := commit(t, a)

	fresh := NewColumnShare(1, 1, 4, TypeInt)
	reader, err := Open(eng, fresh, dir, 1, 1, version, nil)
	if err != nil {
		t.Fatalf("Open (fresh share): %v", err)
	}
	want := []int64{1, 2, 3, 4, 5}
	for row, w := range want {
		got, err := reader.GetValueInt64(uint64(row))
		if err != nil {
			t.Fatalf("GetValueInt64(%d): %v", row, err)
		}
		if got != w {
			t.Fatalf("GetValueInt64(%d) = %d, want %d", row, got, w)
		}
	}
	if got := reader.GetMinInt64(0); got != 1 {
		t.Fatalf("GetMinInt64 = %d, want 1 (DPN stats must survive a fresh arena load)", got)
	}
	if got := reader.GetMaxInt64(0); got != 5 {
		t.Fatalf("GetMaxInt64 = %d, want 5 (DPN stats must survive a fresh arena load)", got)
	}
}
