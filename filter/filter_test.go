package filter

import "testing"

type fakeStats struct {
	min, max int64
	nulls    int
	n        int
}

func (s fakeStats) MinInt() int64    { return s.min }
func (s fakeStats) MaxInt() int64    { return s.max }
func (s fakeStats) NumOfNulls() int  { return s.nulls }
func (s fakeStats) NumOfValues() int { return s.n }

type fakeIntReader struct {
	values []int64
	nulls  []bool
}

func (r fakeIntReader) GetValInt(offset int) int64       { return r.values[offset] }
func (r fakeIntReader) GetValueBinary(offset int) []byte { return nil }
func (r fakeIntReader) IsNull(offset int) bool           { return r.nulls[offset] }

type fakeStrReader struct {
	values []string
	nulls  []bool
}

func (r fakeStrReader) GetValInt(offset int) int64       { return 0 }
func (r fakeStrReader) GetValueBinary(offset int) []byte { return []byte(r.values[offset]) }
func (r fakeStrReader) IsNull(offset int) bool           { return r.nulls[offset] }

func TestHistPrunesOutOfRange(t *testing.T) {
	stats := fakeStats{min: 0, max: 1000, n: 5}
	reader := fakeIntReader{values: []int64{10, 20, 500, 900, 999}, nulls: []bool{false, false, false, false, false}}
	h := NewHist(stats, reader)

	if h.MayContainRange(2000, 3000) {
		t.Fatalf("range entirely above max should be pruned")
	}
	if h.MayContainRange(-100, -1) {
		t.Fatalf("range entirely below min should be pruned")
	}
	if !h.MayContainRange(0, 1000) {
		t.Fatalf("full range must never be a false negative")
	}
}

func TestHistSkipsNulls(t *testing.T) {
	stats := fakeStats{min: 0, max: 10, n: 3}
	reader := fakeIntReader{values: []int64{0, 0, 5}, nulls: []bool{true, true, false}}
	h := NewHist(stats, reader)
	if !h.MayContainRange(5, 5) {
		t.Fatalf("non-null value 5 should register in its bucket")
	}
}

func TestCMapPrunesAbsentPrefix(t *testing.T) {
	stats := fakeStats{n: 3}
	reader := fakeStrReader{values: []string{"apple", "apricot", "banana"}, nulls: []bool{false, false, false}}
	c := NewCMap(stats, reader)

	if !c.MayContainPrefix("ap") {
		t.Fatalf("prefix ap is present and must not be pruned")
	}
	if c.MayContainPrefix("zz") {
		t.Fatalf("prefix zz is absent and should be pruned")
	}
}

func TestBloomMayContain(t *testing.T) {
	stats := fakeStats{n: 3}
	reader := fakeStrReader{values: []string{"alpha", "beta", "gamma"}, nulls: []bool{false, false, false}}
	b := NewBloomFromPack(stats, reader)

	if !b.MayContain([]byte("beta")) {
		t.Fatalf("beta was added and must test positive")
	}
	// Note: a bloom filter may have false positives, so we only assert the
	// no-false-negative direction above; we do not assert MayContain is
	// false for values never added.
}

func TestRowSetUnionIntersect(t *testing.T) {
	a := NewRowSet()
	a.Add(1)
	a.Add(2)
	a.Add(3)

	b := NewRowSet()
	b.Add(2)
	b.Add(3)
	b.Add(4)

	union := NewRowSet()
	union.Union(a)
	union.Union(b)
	if union.Cardinality() != 4 {
		t.Fatalf("union cardinality = %d, want 4", union.Cardinality())
	}

	inter := NewRowSet()
	inter.Union(a)
	inter.Intersect(b)
	if inter.Cardinality() != 2 {
		t.Fatalf("intersect cardinality = %d, want 2", inter.Cardinality())
	}
	if !inter.Contains(2) || !inter.Contains(3) {
		t.Fatalf("intersection should contain rows 2 and 3")
	}
}

func TestRowSetAddRange(t *testing.T) {
	s := NewRowSet()
	s.AddRange(10, 20)
	if s.Cardinality() != 10 {
		t.Fatalf("cardinality = %d, want 10", s.Cardinality())
	}
	if !s.Contains(15) {
		t.Fatalf("row 15 should be in range [10,20)")
	}
	if s.Contains(20) {
		t.Fatalf("row 20 should not be in range [10,20)")
	}
}
