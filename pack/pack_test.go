package pack

import "testing"

func TestPackIntRoundTrip(t *testing.T) {
	coord := Coordinate{TableID: 1, ColID: 2, Index: 0}
	p := NewPackInt(coord, 4)
	batch := &Batch{Ints: []int64{10, 20, 0, 40}, Nulls: []bool{false, false, true, false}}
	if err := p.LoadValues(batch, nil); err != nil {
		t.Fatalf("LoadValues: %v", err)
	}
	if p.NumOfValues() != 4 {
		t.Fatalf("NumOfValues = %d, want 4", p.NumOfValues())
	}
	if !p.IsNull(2) {
		t.Fatalf("offset 2 should be null")
	}
	if got := p.GetValInt(1); got != 20 {
		t.Fatalf("GetValInt(1) = %d, want 20", got)
	}

	if err := p.Save(); err != nil {
		t.Fatalf("Save: %v", err)
	}
	compressed := p.CompressedBytes()
	if len(compressed) == 0 {
		t.Fatalf("Save produced empty compressed body")
	}

	loaded, err := LoadCompressed(coord, compressed)
	if err != nil {
		t.Fatalf("LoadCompressed: %v", err)
	}
	if loaded.NumOfValues() != 4 {
		t.Fatalf("loaded NumOfValues = %d, want 4", loaded.NumOfValues())
	}
	if loaded.GetValInt(3) != 40 {
		t.Fatalf("loaded.GetValInt(3) = %d, want 40", loaded.GetValInt(3))
	}
	if !loaded.IsNull(2) {
		t.Fatalf("loaded offset 2 should be null")
	}
}

func TestPackIntUpdateValue(t *testing.T) {
	coord := Coordinate{TableID: 1, ColID: 2, Index: 0}
	p := NewPackInt(coord, 2)
	_ = p.LoadValues(&Batch{Ints: []int64{1, 2}, Nulls: []bool{false, false}}, nil)

	if err := p.UpdateValue(1, Value{Int: 99}); err != nil {
		t.Fatalf("UpdateValue: %v", err)
	}
	if got := p.GetValInt(1); got != 99 {
		t.Fatalf("GetValInt(1) = %d, want 99", got)
	}

	if err := p.UpdateValue(5, Value{Int: 1}); err == nil {
		t.Fatalf("UpdateValue with out-of-range offset should error")
	}
}

func TestPackIntCloneIsIndependent(t *testing.T) {
	coord := Coordinate{TableID: 1, ColID: 2, Index: 0}
	p := NewPackInt(coord, 2)
	_ = p.LoadValues(&Batch{Ints: []int64{1, 2}, Nulls: []bool{false, false}}, nil)

	cloneCoord := Coordinate{TableID: 1, ColID: 2, Index: 1}
	clone := p.Clone(cloneCoord).(*PackInt)
	_ = clone.UpdateValue(0, Value{Int: 1000})

	if p.GetValInt(0) != 1 {
		t.Fatalf("original mutated by clone update: got %d, want 1", p.GetValInt(0))
	}
	if clone.GetValInt(0) != 1000 {
		t.Fatalf("clone.GetValInt(0) = %d, want 1000", clone.GetValInt(0))
	}
}

func TestPackStrRoundTrip(t *testing.T) {
	coord := Coordinate{TableID: 1, ColID: 3, Index: 0}
	p := NewPackStr(coord, 3)
	batch := &Batch{Strs: []string{"alpha", "", "gamma"}, Nulls: []bool{false, true, false}}
	if err := p.LoadValues(batch, nil); err != nil {
		t.Fatalf("LoadValues: %v", err)
	}
	if err := p.Save(); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, err := LoadCompressedStr(coord, p.CompressedBytes())
	if err != nil {
		t.Fatalf("LoadCompressedStr: %v", err)
	}
	if loaded.NumOfValues() != 3 {
		t.Fatalf("loaded NumOfValues = %d, want 3", loaded.NumOfValues())
	}
	if string(loaded.GetValueBinary(0)) != "alpha" {
		t.Fatalf("loaded.GetValueBinary(0) = %q, want alpha", loaded.GetValueBinary(0))
	}
	if !loaded.IsNull(1) {
		t.Fatalf("loaded offset 1 should be null")
	}
	if string(loaded.GetValueBinary(2)) != "gamma" {
		t.Fatalf("loaded.GetValueBinary(2) = %q, want gamma", loaded.GetValueBinary(2))
	}
}

func TestPackMarkDirtyOnMutation(t *testing.T) {
	coord := Coordinate{TableID: 1, ColID: 2, Index: 0}
	p := NewPackInt(coord, 2)
	sink := &fakeSink{}
	p.SetDPN(sink)
	_ = p.LoadValues(&Batch{Ints: []int64{1}, Nulls: []bool{false}}, nil)
	if !sink.dirty {
		t.Fatalf("LoadValues should have marked DPN dirty")
	}
}

type fakeSink struct {
	dirty    bool
	min, max []byte
}

func (f *fakeSink) MarkDirty() { f.dirty = true }

func (f *fakeSink) ReportString(b []byte) {
	if f.min == nil || string(b) < string(f.min) {
		f.min = append([]byte(nil), b...)
	}
	if f.max == nil || string(b) > string(f.max) {
		f.max = append([]byte(nil), b...)
	}
}
