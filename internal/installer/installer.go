// Package installer implements the Installer Pipeline (spec.md C12):
// composes the File Cache, Download, and Extraction packages into the
// two operations a source plugin actually calls — a single-archive and
// a multi-file download-then-extract — and handles split-archive
// destinations and partial-download cleanup.
package installer

import (
	"context"
	"fmt"
	"os"
	"regexp"

	"github.com/streamspace-dev/payload-launcher/internal/download"
	"github.com/streamspace-dev/payload-launcher/internal/extract"
	"github.com/streamspace-dev/payload-launcher/internal/filecache"
)

// Tools bundles the capability functions a plugin's install step needs,
// mirroring plugin.Tools' SendProgress/Download/Extract trio so this
// package stays independent of the plugin package (avoiding an import
// cycle: plugin imports nothing from here, the Scheduler wires both).
type Tools struct {
	SendProgress func(phase string, percent float64, detail map[string]any)
	Cache        *filecache.Cache
	// Extractor overrides the default 7z-backed extractor; nil uses
	// extract.New(). Tests inject a fake Codec here.
	Extractor *extract.Extractor
}

func (t Tools) extractor() *extract.Extractor {
	if t.Extractor != nil {
		return t.Extractor
	}
	return extract.New()
}

// splitArchivePattern matches a split-archive member, e.g. "foo.7z.001".
// Extraction always targets the ".001" member; the codec concatenates
// the rest implicitly (spec.md §4.12).
var splitArchivePattern = regexp.MustCompile(`\.(\d{3})$`)

// DownloadAndExtract downloads url into the file cache (keyed by
// cacheKey) unless it is already cached, and extracts it into dest. The
// cached archive is kept after extraction; removing it is left to the
// cache's own LRU eviction.
func DownloadAndExtract(ctx context.Context, url, dest, cacheKey string, tools Tools) error {
	archivePath := tools.Cache.Path(cacheKey)

	if !tools.Cache.IsCached(cacheKey) {
		_, err := download.Download(ctx, url, archivePath, func(p download.Progress) {
			if tools.SendProgress != nil {
				tools.SendProgress("download", p.Percent, map[string]any{
					"receivedBytes": p.ReceivedBytes,
					"totalBytes":    p.TotalBytes,
					"etaSecs":       p.ETASecs,
				})
			}
		}, download.Options{})
		if err != nil {
			os.Remove(archivePath)
			return fmt.Errorf("download %s: %w", url, err)
		}
	}
	if err := tools.Cache.Touch(cacheKey); err != nil {
		return err
	}

	target := archivePath
	if m := splitArchivePattern.FindStringSubmatch(archivePath); m != nil && m[1] != "001" {
		target = splitArchivePattern.ReplaceAllString(archivePath, ".001")
	}

	if err := tools.extractor().Extract(ctx, target, dest, func(p extract.Progress) {
		if tools.SendProgress != nil {
			tools.SendProgress("extract", p.Percent, nil)
		}
	}); err != nil {
		return fmt.Errorf("extract %s: %w", target, err)
	}
	return nil
}

// FileSpec is one member of a multi-file download set (spec.md §4.12's
// downloadAndExtractMulti), e.g. the numbered parts of a split archive.
type FileSpec struct {
	URL      string
	CacheKey string
}

// DownloadAndExtractMulti downloads every file in files into tools.Cache
// (the cacheDir argument is not consulted), then extracts the first
// ".001" split-archive member into dest, or the first file when no
// member ends in ".001".
func DownloadAndExtractMulti(ctx context.Context, files []FileSpec, dest, cacheDir string, tools Tools) error {
	if len(files) == 0 {
		return fmt.Errorf("no files to download")
	}

	paths := make([]string, 0, len(files))
	for i, f := range files {
		path := tools.Cache.Path(f.CacheKey)
		if !tools.Cache.IsCached(f.CacheKey) {
			_, err := download.Download(ctx, f.URL, path, func(p download.Progress) {
				if tools.SendProgress != nil {
					tools.SendProgress("download", p.Percent, map[string]any{
						"file":  i + 1,
						"count": len(files),
					})
				}
			}, download.Options{})
			if err != nil {
				os.Remove(path)
				return fmt.Errorf("download %s: %w", f.URL, err)
			}
		}
		tools.Cache.Touch(f.CacheKey)
		paths = append(paths, path)
	}

	entry := paths[0]
	for _, p := range paths {
		if m := splitArchivePattern.FindStringSubmatch(p); m != nil && m[1] == "001" {
			entry = p
			break
		}
	}

	if err := tools.extractor().Extract(ctx, entry, dest, func(p extract.Progress) {
		if tools.SendProgress != nil {
			tools.SendProgress("extract", p.Percent, nil)
		}
	}); err != nil {
		return fmt.Errorf("extract %s: %w", entry, err)
	}
	return nil
}
