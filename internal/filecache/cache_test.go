package filecache

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestEvictKeepsMostRecentAndSkipsFreshEntries(t *testing.T) {
	dir := t.TempDir()
	c := New(dir, 2)

	old := time.Now().Add(-time.Hour)
	for i, name := range []string{"a", "b", "c"} {
		p := filepath.Join(dir, name)
		if err := os.WriteFile(p, []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
		mt := old.Add(time.Duration(i) * time.Minute)
		if err := os.Chtimes(p, mt, mt); err != nil {
			t.Fatal(err)
		}
	}

	if err := c.Evict(); err != nil {
		t.Fatal(err)
	}

	if c.IsCached("a") {
		t.Fatal("oldest entry a should have been evicted")
	}
	if !c.IsCached("b") || !c.IsCached("c") {
		t.Fatal("most recent entries should survive eviction")
	}
}

func TestEvictSkipsEntriesYoungerThanSkewGuard(t *testing.T) {
	dir := t.TempDir()
	c := New(dir, 0)

	if err := os.WriteFile(filepath.Join(dir, "fresh"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := c.Evict(); err != nil {
		t.Fatal(err)
	}
	if !c.IsCached("fresh") {
		t.Fatal("entry within skew guard window must not be evicted")
	}
}

func TestPathSanitizesTraversal(t *testing.T) {
	c := New("/root", 10)
	if got := c.Path(".."); got == "/root/.." || got == filepath.Clean("/root/..") {
		t.Fatalf("Path(%q) escaped root: %q", "..", got)
	}
}
