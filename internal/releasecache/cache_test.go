package releasecache

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestGetOrFetchCachesWithoutForce(t *testing.T) {
	c, err := New(&FileBackend{Path: filepath.Join(t.TempDir(), "release-cache.json")})
	if err != nil {
		t.Fatal(err)
	}

	var calls int32
	fetcher := func(ctx context.Context, key string) (Info, error) {
		atomic.AddInt32(&calls, 1)
		return Info{LatestTag: "v1.2.3"}, nil
	}

	for i := 0; i < 3; i++ {
		info, err := c.GetOrFetch(context.Background(), Key("github.com", "org/repo", "stable"), fetcher, false)
		if err != nil {
			t.Fatalf("GetOrFetch: %v", err)
		}
		if info.LatestTag != "v1.2.3" {
			t.Fatalf("unexpected tag %q", info.LatestTag)
		}
	}

	if calls != 1 {
		t.Fatalf("fetcher called %d times, want 1", calls)
	}
}

func TestGetOrFetchSingleFlightsConcurrentCallers(t *testing.T) {
	c, err := New(&FileBackend{Path: filepath.Join(t.TempDir(), "release-cache.json")})
	if err != nil {
		t.Fatal(err)
	}

	var calls int32
	started := make(chan struct{})
	release := make(chan struct{})
	fetcher := func(ctx context.Context, key string) (Info, error) {
		atomic.AddInt32(&calls, 1)
		close(started)
		<-release
		return Info{LatestTag: "v2"}, nil
	}

	var wg sync.WaitGroup
	results := make([]Info, 5)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			info, err := c.GetOrFetch(context.Background(), "k", fetcher, false)
			if err != nil {
				t.Errorf("GetOrFetch: %v", err)
			}
			results[i] = info
		}(i)
	}

	<-started
	close(release)
	wg.Wait()

	if calls != 1 {
		t.Fatalf("fetcher called %d times, want 1", calls)
	}
	for _, r := range results {
		if r.LatestTag != "v2" {
			t.Fatalf("unexpected result %+v", r)
		}
	}
}

func TestGetOrFetchForceThrottlesWithinRecheckWindow(t *testing.T) {
	c, err := New(&FileBackend{Path: filepath.Join(t.TempDir(), "release-cache.json")})
	if err != nil {
		t.Fatal(err)
	}
	c.minRecheck = time.Hour

	var calls int32
	fetcher := func(ctx context.Context, key string) (Info, error) {
		atomic.AddInt32(&calls, 1)
		return Info{LatestTag: "vX"}, nil
	}

	if _, err := c.GetOrFetch(context.Background(), "k", fetcher, false); err != nil {
		t.Fatal(err)
	}
	if _, err := c.GetOrFetch(context.Background(), "k", fetcher, true); err != nil {
		t.Fatal(err)
	}

	if calls != 1 {
		t.Fatalf("forced refresh within recheck window should be throttled, got %d calls", calls)
	}
}

func TestGetOrFetchDoesNotCacheFailures(t *testing.T) {
	c, err := New(&FileBackend{Path: filepath.Join(t.TempDir(), "release-cache.json")})
	if err != nil {
		t.Fatal(err)
	}

	failing := func(ctx context.Context, key string) (Info, error) {
		return Info{}, errors.New("upstream down")
	}
	if _, err := c.GetOrFetch(context.Background(), "k", failing, false); err == nil {
		t.Fatal("expected error")
	}
	if _, ok := c.Peek("k"); ok {
		t.Fatal("failed fetch should not be cached")
	}

	succeeding := func(ctx context.Context, key string) (Info, error) {
		return Info{LatestTag: "v3"}, nil
	}
	info, err := c.GetOrFetch(context.Background(), "k", succeeding, false)
	if err != nil {
		t.Fatalf("GetOrFetch after prior failure: %v", err)
	}
	if info.LatestTag != "v3" {
		t.Fatalf("unexpected tag %q", info.LatestTag)
	}
}

func TestFileBackendRoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "release-cache.json")
	b := &FileBackend{Path: path}

	entries, err := b.Load()
	if err != nil {
		t.Fatalf("Load on missing file: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected empty map, got %v", entries)
	}

	want := map[string]Info{"a:b:stable": {LatestTag: "v1", CheckedAt: time.Unix(1700000000, 0).UTC()}}
	if err := b.Save(want); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := b.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got["a:b:stable"].LatestTag != "v1" {
		t.Fatalf("unexpected reload: %+v", got)
	}
}
