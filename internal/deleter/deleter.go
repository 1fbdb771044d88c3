// Package deleter implements the two-phase directory removal used both
// for plain installation deletes and for the delete-after-cancelled-
// install cleanup path (spec.md C6): enumerate first (yielding
// periodically so a huge tree doesn't block the caller's goroutine),
// then remove bottom-up in batches, reporting progress and honoring
// cancellation at batch boundaries.
package deleter

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"time"

	"github.com/streamspace-dev/payload-launcher/internal/errs"
)

// Progress is reported once per removal batch.
type Progress struct {
	Removed     int
	Total       int
	ElapsedSecs float64
	ETASecs     float64
}

// ProgressFunc receives deletion progress updates.
type ProgressFunc func(Progress)

// BatchSize is how many entries are removed before yielding and
// reporting progress.
const BatchSize = 200

// yieldEvery bounds how many enumerated entries pass before Enumerate
// yields to the scheduler, keeping a huge tree from starving other
// goroutines during the count phase.
const yieldEvery = 500

// Enumerate walks root and returns every entry path, deepest first, so
// the removal phase can delete bottom-up. It yields briefly every
// yieldEvery entries.
func Enumerate(ctx context.Context, root string) ([]string, error) {
	var paths []string
	count := 0

	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if path == root {
			return nil
		}
		paths = append(paths, path)
		count++
		if count%yieldEvery == 0 {
			select {
			case <-ctx.Done():
				return errs.ErrCancelled
			default:
				runtime.Gosched()
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	// Deepest-first so files are removed before their parent directories.
	sort.Slice(paths, func(i, j int) bool {
		return strings.Count(paths[i], string(filepath.Separator)) > strings.Count(paths[j], string(filepath.Separator))
	})

	return paths, nil
}

// Delete enumerates root, then removes entries bottom-up in batches of
// BatchSize, reporting progress and checking ctx at each batch boundary.
// On full success it also removes root itself.
func Delete(ctx context.Context, root string, onProgress ProgressFunc) error {
	paths, err := Enumerate(ctx, root)
	if err != nil {
		return err
	}

	start := time.Now()
	total := len(paths)
	removed := 0

	for i := 0; i < len(paths); i += BatchSize {
		select {
		case <-ctx.Done():
			return errs.ErrCancelled
		default:
		}

		end := i + BatchSize
		if end > len(paths) {
			end = len(paths)
		}
		for _, p := range paths[i:end] {
			if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
				return err
			}
			removed++
		}

		if onProgress != nil {
			elapsed := time.Since(start).Seconds()
			eta := float64(0)
			if removed > 0 {
				eta = elapsed / float64(removed) * float64(total-removed)
			}
			onProgress(Progress{Removed: removed, Total: total, ElapsedSecs: elapsed, ETASecs: eta})
		}
	}

	if err := os.Remove(root); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
