package dict

import (
	"bytes"
	"path/filepath"
	"testing"
)

func TestInternAssignsStableCodes(t *testing.T) {
	tree := New()
	c1, isNew := tree.Intern("alpha")
	if !isNew || c1 != 0 {
		t.Fatalf("first intern = (%d, %v), want (0, true)", c1, isNew)
	}
	c2, isNew := tree.Intern("alpha")
	if isNew || c2 != c1 {
		t.Fatalf("re-intern = (%d, %v), want (%d, false)", c2, isNew, c1)
	}
	c3, isNew := tree.Intern("beta")
	if !isNew || c3 == c1 {
		t.Fatalf("second distinct intern = (%d, %v), want new code", c3, isNew)
	}
	if v, ok := tree.Value(c3); !ok || v != "beta" {
		t.Fatalf("Value(%d) = (%q, %v), want (beta, true)", c3, v, ok)
	}
}

func TestCloneIsIndependent(t *testing.T) {
	base := New()
	base.Intern("alpha")

	clone := base.Clone()
	clone.Intern("beta")

	if base.Len() != 1 {
		t.Fatalf("base.Len() = %d, want 1 (clone mutation leaked)", base.Len())
	}
	if clone.Len() != 2 {
		t.Fatalf("clone.Len() = %d, want 2", clone.Len())
	}
	if !clone.Changed() {
		t.Fatalf("clone should report Changed() after Intern")
	}
	if base.Changed() {
		t.Fatalf("base should not report Changed()")
	}
}

func TestSaveDataLoadDataRoundTrip(t *testing.T) {
	tree := New()
	tree.Intern("alpha")
	tree.Intern("beta")
	tree.Intern("gamma")

	var buf bytes.Buffer
	if err := tree.SaveData(&buf); err != nil {
		t.Fatalf("SaveData: %v", err)
	}

	loaded, err := LoadData(&buf)
	if err != nil {
		t.Fatalf("LoadData: %v", err)
	}
	if loaded.Len() != 3 {
		t.Fatalf("loaded.Len() = %d, want 3", loaded.Len())
	}
	if loaded.Version() != tree.Version() {
		t.Fatalf("loaded.Version() = %d, want %d", loaded.Version(), tree.Version())
	}
	if c, ok := loaded.Lookup("beta"); !ok || c != 1 {
		t.Fatalf("loaded.Lookup(beta) = (%d, %v), want (1, true)", c, ok)
	}
}

func TestSaveToFileLoadFromFileRoundTrip(t *testing.T) {
	tree := New()
	tree.Intern("x")
	tree.Intern("y")

	path := filepath.Join(t.TempDir(), "dict.bin")
	if err := tree.SaveToFile(path); err != nil {
		t.Fatalf("SaveToFile: %v", err)
	}

	loaded, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile: %v", err)
	}
	if loaded.Len() != 2 {
		t.Fatalf("loaded.Len() = %d, want 2", loaded.Len())
	}
}
