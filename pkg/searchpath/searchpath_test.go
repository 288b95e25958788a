package searchpath

import (
	"os"
	"path/filepath"
	"testing"
)

func TestAddUniqueness(t *testing.T) {
	dir := t.TempDir()
	s := &Set{}
	if !s.Add(dir) {
		t.Fatalf("first Add of %s should succeed", dir)
	}
	if s.Add(dir) {
		t.Fatalf("second Add of the same dir should be suppressed")
	}
	if s.Len() != 1 {
		t.Fatalf("want 1 entry, got %d", s.Len())
	}
}

func TestAddSymlinkCollapses(t *testing.T) {
	dir := t.TempDir()
	real := filepath.Join(dir, "real")
	if err := os.Mkdir(real, 0o755); err != nil {
		t.Fatal(err)
	}
	link := filepath.Join(dir, "link")
	if err := os.Symlink(real, link); err != nil {
		t.Skipf("symlinks unsupported: %v", err)
	}

	s := &Set{}
	s.Add(real)
	s.Add(link)
	if s.Len() != 1 {
		t.Fatalf("symlink to the same inode should collapse, got %d entries", s.Len())
	}
}

func TestAddDropsMissing(t *testing.T) {
	s := &Set{}
	if s.Add("/does/not/exist/hopefully") {
		t.Fatalf("nonexistent path should not be added")
	}
	if s.Len() != 0 {
		t.Fatalf("want 0 entries, got %d", s.Len())
	}
}

func TestSyntheticNeverDeduped(t *testing.T) {
	s := &Set{}
	s.AddSynthetic("/lib64")
	s.AddSynthetic("/lib64")
	if s.Len() != 2 {
		t.Fatalf("synthetic entries should never collapse, got %d", s.Len())
	}
}

func TestSplit(t *testing.T) {
	dir1 := t.TempDir()
	dir2 := t.TempDir()
	s := Split(dir1+":"+dir2, ":")
	if s.Len() != 2 {
		t.Fatalf("want 2 entries, got %d", s.Len())
	}
}

func TestMergePreservesOrderAndDedup(t *testing.T) {
	a := t.TempDir()
	b := t.TempDir()

	s1 := &Set{}
	s1.Add(a)
	s2 := &Set{}
	s2.Add(a)
	s2.Add(b)

	s1.Merge(s2)
	if s1.Len() != 2 {
		t.Fatalf("want 2 entries after merge, got %d", s1.Len())
	}
	if s1.Paths()[1] != b {
		t.Fatalf("want %s second, got %s", b, s1.Paths()[1])
	}
}
