// Package releasecache implements the Release Metadata Cache (spec.md
// C9): single-flighted, throttled, persisted release-tag lookups keyed
// by "<host>:<repo>:<track>". The default Backend persists to a local
// JSON file; an optional Redis-backed Backend mirrors the same contract
// for multi-process deployments, following the file/redis backend split
// the leader-election package uses for its own pluggable persistence.
package releasecache

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// Info is the fetched metadata for one key.
type Info struct {
	LatestTag    string    `json:"latestTag"`
	InstalledTag string    `json:"installedTag,omitempty"`
	CheckedAt    time.Time `json:"checkedAt"`
}

// Fetcher retrieves fresh metadata for key from the upstream source
// (GitHub releases API, etc). Supplied by the caller so this package has
// no HTTP/VCS dependency of its own.
type Fetcher func(ctx context.Context, key string) (Info, error)

// Backend persists the cache's key→Info map.
type Backend interface {
	Load() (map[string]Info, error)
	Save(map[string]Info) error
}

// MinRecheckInterval is the default throttle window for forced refreshes
// (spec.md §4.9).
const MinRecheckInterval = 10 * time.Second

// Cache is the in-memory map loaded once from a Backend, guarded by a
// mutex and a singleflight group so concurrent callers for the same key
// join one fetch.
type Cache struct {
	backend Backend
	mu      sync.Mutex
	entries map[string]Info
	group   singleflight.Group

	minRecheck time.Duration
}

// New loads the cache from backend.
func New(backend Backend) (*Cache, error) {
	entries, err := backend.Load()
	if err != nil {
		return nil, err
	}
	if entries == nil {
		entries = map[string]Info{}
	}
	return &Cache{backend: backend, entries: entries, minRecheck: MinRecheckInterval}, nil
}

// GetOrFetch implements spec.md §4.9's getOrFetch: without force, a
// cached hit is returned as-is; a miss single-flights fetcher. With
// force, a cache entry newer than minRecheck is still returned unchanged
// (throttling), otherwise fetcher runs. Failed fetches are never cached.
func (c *Cache) GetOrFetch(ctx context.Context, key string, fetcher Fetcher, force bool) (Info, error) {
	c.mu.Lock()
	cached, ok := c.entries[key]
	c.mu.Unlock()

	if ok && !force {
		return cached, nil
	}
	if ok && force && time.Since(cached.CheckedAt) < c.minRecheck {
		return cached, nil
	}

	v, err, _ := c.group.Do(key, func() (any, error) {
		info, err := fetcher(ctx, key)
		if err != nil {
			return Info{}, err
		}
		info.CheckedAt = time.Now()

		c.mu.Lock()
		c.entries[key] = info
		snapshot := make(map[string]Info, len(c.entries))
		for k, v := range c.entries {
			snapshot[k] = v
		}
		c.mu.Unlock()

		if saveErr := c.backend.Save(snapshot); saveErr != nil {
			return info, saveErr
		}
		return info, nil
	})
	if err != nil {
		if ok {
			// Keep serving the stale value on a failed refresh rather
			// than losing it; the caller can distinguish via err.
			return cached, err
		}
		return Info{}, err
	}
	return v.(Info), nil
}

// Peek returns the cached value for key without fetching.
func (c *Cache) Peek(key string) (Info, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.entries[key]
	return v, ok
}

// Key builds the "<host>:<repo>:<track>" cache key spec.md §4.9 defines.
func Key(host, repo, track string) string {
	return fmt.Sprintf("%s:%s:%s", host, repo, track)
}

// FileBackend persists the cache to a local JSON document
// ({schemaVersion:1, entries: {key → value}} per spec.md §6).
type FileBackend struct {
	Path string
}

type fileDocument struct {
	SchemaVersion int             `json:"schemaVersion"`
	Entries       map[string]Info `json:"entries"`
}

func (b *FileBackend) Load() (map[string]Info, error) {
	data, err := os.ReadFile(b.Path)
	if os.IsNotExist(err) {
		return map[string]Info{}, nil
	}
	if err != nil {
		return nil, err
	}
	var doc fileDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	if doc.Entries == nil {
		doc.Entries = map[string]Info{}
	}
	return doc.Entries, nil
}

func (b *FileBackend) Save(entries map[string]Info) error {
	doc := fileDocument{SchemaVersion: 1, Entries: entries}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}
	tmp := b.Path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, b.Path)
}
