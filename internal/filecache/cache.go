// Package filecache implements the bounded LRU file cache (spec.md C3):
// file-granularity entries keyed by arbitrary strings, touched on access,
// evicted oldest-mtime-first once the entry count exceeds a configured
// maximum.
package filecache

import (
	"os"
	"path/filepath"
	"sort"
	"time"
)

// skewGuard is the minimum age an entry must reach before eviction may
// remove it, tolerating clock skew on file systems with coarse mtime
// resolution (spec.md §4.3).
const skewGuard = 100 * time.Millisecond

// Cache is a file-granularity LRU cache rooted at Dir.
type Cache struct {
	Dir string
	Max int
}

// New returns a Cache rooted at dir, capped at max entries.
func New(dir string, max int) *Cache {
	return &Cache{Dir: dir, Max: max}
}

// Path returns the filesystem path for key, without checking whether it
// exists. Callers may use this as a download/extract destination.
func (c *Cache) Path(key string) string {
	return filepath.Join(c.Dir, sanitize(key))
}

// IsCached reports whether key currently has a cache entry.
func (c *Cache) IsCached(key string) bool {
	_, err := os.Stat(c.Path(key))
	return err == nil
}

// Touch updates key's mtime to now, marking it most-recently-used.
func (c *Cache) Touch(key string) error {
	now := time.Now()
	return os.Chtimes(c.Path(key), now, now)
}

type entry struct {
	path    string
	modTime time.Time
}

// Evict removes the oldest-mtime entries beyond Max, skipping any entry
// younger than skewGuard.
func (c *Cache) Evict() error {
	dirEntries, err := os.ReadDir(c.Dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	now := time.Now()
	entries := make([]entry, 0, len(dirEntries))
	for _, de := range dirEntries {
		info, err := de.Info()
		if err != nil {
			continue
		}
		if now.Sub(info.ModTime()) < skewGuard {
			continue
		}
		entries = append(entries, entry{path: filepath.Join(c.Dir, de.Name()), modTime: info.ModTime()})
	}

	if len(entries) <= c.Max {
		return nil
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].modTime.Before(entries[j].modTime) })

	toRemove := len(entries) - c.Max
	for _, e := range entries[:toRemove] {
		if err := os.RemoveAll(e.path); err != nil {
			return err
		}
	}
	return nil
}

// sanitize makes key safe to use as a single path component, preventing a
// crafted key from escaping Dir.
func sanitize(key string) string {
	out := make([]rune, 0, len(key))
	for _, r := range key {
		switch {
		case r == '/' || r == '\\' || r == 0:
			out = append(out, '_')
		default:
			out = append(out, r)
		}
	}
	s := string(out)
	if s == "" || s == "." || s == ".." {
		return "_" + s
	}
	return s
}
