package releasecache

import (
	"regexp"

	"github.com/streamspace-dev/payload-launcher/internal/registry"
)

// aheadPattern matches the "<tag> + N commits" version string portable
// installations report once their embedded source is ahead of its tag.
var aheadPattern = regexp.MustCompile(`\+\s*\d+\s*commits?`)

// IsUpdateAvailable implements spec.md §4.9: an update is available if
// the record's last-applied track differs from the one being queried, or
// its version string indicates the working copy is ahead of its tag, or
// the queried info's installed/latest tags differ.
func IsUpdateAvailable(rec registry.Record, track registry.UpdateTrack, info Info) bool {
	if rec.UpdateTrack != track {
		return true
	}
	if aheadPattern.MatchString(rec.Version) {
		return true
	}
	return info.InstalledTag != info.LatestTag
}
