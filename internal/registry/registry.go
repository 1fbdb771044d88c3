package registry

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"

	"github.com/streamspace-dev/payload-launcher/internal/errs"
)

const schemaVersion = 1

type document struct {
	SchemaVersion int      `json:"schemaVersion"`
	Entries       []Record `json:"entries"`
}

// Registry is the ordered, persistent sequence of installation records.
// A single instance owns exclusive write access to its backing file;
// concurrent readers of the file see either the prior or the new
// document, never a torn write, because persistence always goes through
// writeAtomic (temp file + rename).
type Registry struct {
	path string

	mu      sync.Mutex
	entries []Record
}

// Load reads path, creating an empty registry document if absent.
func Load(path string) (*Registry, error) {
	r := &Registry{path: path}

	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return r, nil
		}
		return nil, err
	}

	var doc document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parse installations.json: %w", err)
	}
	r.entries = doc.Entries
	return r, nil
}

// List returns a snapshot copy of the current ordering.
func (r *Registry) List() []Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Record, len(r.entries))
	for i, e := range r.entries {
		out[i] = e.Clone()
	}
	return out
}

// Get returns the record with id, if present.
func (r *Registry) Get(id string) (Record, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.entries {
		if e.ID == id {
			return e.Clone(), true
		}
	}
	return Record{}, false
}

// Add appends rec, enforcing the uniqueness invariants (spec.md §3 i-iii):
// name collisions are resolved with uniqueName before insertion, but a
// duplicate id or a duplicate non-empty installPath is rejected outright.
func (r *Registry) Add(rec Record) (Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, e := range r.entries {
		if e.ID == rec.ID {
			return Record{}, fmt.Errorf("%w: id %s", errs.ErrDuplicateName, rec.ID)
		}
		if rec.InstallPath != "" && samePath(e.InstallPath, rec.InstallPath) {
			return Record{}, errs.ErrDuplicatePath
		}
	}

	rec.Name = r.uniqueNameLocked(rec.Name)
	r.entries = append(r.entries, rec)
	if err := r.persistLocked(); err != nil {
		return Record{}, err
	}
	return rec.Clone(), nil
}

// Update applies fn to the record with id and persists the result.
// fn receives a pointer to the live entry in the staged copy; returning
// an error aborts the mutation without touching disk.
func (r *Registry) Update(id string, fn func(*Record) error) (Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i := range r.entries {
		if r.entries[i].ID != id {
			continue
		}
		staged := r.entries[i].Clone()
		if err := fn(&staged); err != nil {
			return Record{}, err
		}
		for j, other := range r.entries {
			if j == i {
				continue
			}
			if staged.InstallPath != "" && samePath(other.InstallPath, staged.InstallPath) {
				return Record{}, errs.ErrDuplicatePath
			}
		}
		r.entries[i] = staged
		if err := r.persistLocked(); err != nil {
			return Record{}, err
		}
		return staged.Clone(), nil
	}
	return Record{}, errs.ErrUnknownInstallation
}

// Remove deletes the record with id.
func (r *Registry) Remove(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i, e := range r.entries {
		if e.ID != id {
			continue
		}
		r.entries = append(r.entries[:i], r.entries[i+1:]...)
		return r.persistLocked()
	}
	return errs.ErrUnknownInstallation
}

// Reorder replaces the sequence by the given id order; ids not present in
// ids keep their previous relative positions at the tail.
func (r *Registry) Reorder(ids []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	byID := make(map[string]Record, len(r.entries))
	for _, e := range r.entries {
		byID[e.ID] = e
	}

	seen := make(map[string]bool, len(ids))
	next := make([]Record, 0, len(r.entries))
	for _, id := range ids {
		if e, ok := byID[id]; ok && !seen[id] {
			next = append(next, e)
			seen[id] = true
		}
	}
	for _, e := range r.entries {
		if !seen[e.ID] {
			next = append(next, e)
		}
	}

	r.entries = next
	return r.persistLocked()
}

// SeedDefaults inserts every record in list whose id is not already
// present, preserving list's relative order among the newly-inserted ones.
func (r *Registry) SeedDefaults(list []Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing := make(map[string]bool, len(r.entries))
	for _, e := range r.entries {
		existing[e.ID] = true
	}

	changed := false
	for _, rec := range list {
		if existing[rec.ID] {
			continue
		}
		rec.Name = r.uniqueNameLocked(rec.Name)
		r.entries = append(r.entries, rec)
		existing[rec.ID] = true
		changed = true
	}

	if !changed {
		return nil
	}
	return r.persistLocked()
}

// UniqueName appends " (N)" suffixes until baseName no longer collides
// with an existing record's name (spec.md §4.2, example in spec.md §8.5).
func (r *Registry) UniqueName(baseName string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.uniqueNameLocked(baseName)
}

func (r *Registry) uniqueNameLocked(baseName string) string {
	taken := make(map[string]bool, len(r.entries))
	for _, e := range r.entries {
		taken[e.Name] = true
	}
	if !taken[baseName] {
		return baseName
	}
	for n := 1; ; n++ {
		candidate := fmt.Sprintf("%s (%d)", baseName, n)
		if !taken[candidate] {
			return candidate
		}
	}
}

// samePath compares install paths per spec.md §3 invariant (i): unique
// modulo case-folding only on case-insensitive file systems (Windows,
// macOS's default HFS+/APFS volumes).
func samePath(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	a, b = filepath.Clean(a), filepath.Clean(b)
	if runtime.GOOS == "windows" || runtime.GOOS == "darwin" {
		return strings.EqualFold(a, b)
	}
	return a == b
}

func (r *Registry) persistLocked() error {
	doc := document{SchemaVersion: schemaVersion, Entries: r.entries}
	return writeAtomic(r.path, doc)
}

func writeAtomic(path string, doc document) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".installations-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	enc := json.NewEncoder(tmp)
	enc.SetIndent("", "  ")
	if err := enc.Encode(doc); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, path)
}
