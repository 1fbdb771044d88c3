// Package diskcheck implements the Disk & Path Validator (spec.md C15):
// a free-space probe and a guard against installing into a location the
// core itself depends on or that another installation already occupies.
package diskcheck

import (
	"os"
	"path/filepath"
	"strings"
)

// Space reports free/total bytes for the filesystem containing a path.
type Space struct {
	Path  string
	Free  uint64
	Total uint64
}

// GetDiskSpace walks up from path to the nearest existing ancestor
// directory (an install path that does not exist yet otherwise has
// nothing to statfs) and reports free/total bytes for that filesystem.
func GetDiskSpace(path string) (Space, error) {
	dir, err := nearestExisting(path)
	if err != nil {
		return Space{}, err
	}
	free, total, err := diskUsage(dir)
	if err != nil {
		return Space{}, err
	}
	return Space{Path: dir, Free: free, Total: total}, nil
}

func nearestExisting(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	dir := abs
	for {
		if _, err := os.Stat(dir); err == nil {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return dir, nil
		}
		dir = parent
	}
}

// Issue is a distinct, machine-checkable reason an install path was
// rejected or flagged.
type Issue string

const (
	IssueInsideLauncherData    Issue = "inside-launcher-data"
	IssueInsideUpdaterCache    Issue = "inside-updater-cache"
	IssueInsideCloudSync       Issue = "inside-cloud-sync-folder"
	IssueInsideSharedDir       Issue = "inside-shared-directory"
	IssueInsideExistingInstall Issue = "inside-existing-installation"
)

// Protected bundles the directories a candidate install path is checked
// against.
type Protected struct {
	// LauncherDirs are the core's own bundle/config/data/state directories.
	LauncherDirs []string
	// UpdaterCacheDir is where release downloads land before extraction.
	UpdaterCacheDir string
	// SharedDirs are the shared model/input/output directories a plugin
	// may inject into a launch command.
	SharedDirs []string
	// ExistingInstallDirs are every other installation's InstallPath.
	ExistingInstallDirs []string
}

// cloudSyncMarkers names folder-name fragments for the common cloud-sync
// clients; a path under any of these is flagged even though the core has
// no way to enumerate the user's actual sync roots.
var cloudSyncMarkers = []string{
	"Dropbox",
	"Google Drive",
	"OneDrive",
	"iCloudDrive",
	"iCloud Drive",
	"Box Sync",
	"Box",
	"Nextcloud",
	"Syncthing",
}

// ValidateInstallPath reports every distinct Issue that applies to path.
// An empty result means the path is clear.
func ValidateInstallPath(path string, protected Protected) []Issue {
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}

	var issues []Issue
	for _, dir := range protected.LauncherDirs {
		if isWithin(abs, dir) {
			issues = append(issues, IssueInsideLauncherData)
			break
		}
	}
	if protected.UpdaterCacheDir != "" && isWithin(abs, protected.UpdaterCacheDir) {
		issues = append(issues, IssueInsideUpdaterCache)
	}
	if isWithinCloudSync(abs) {
		issues = append(issues, IssueInsideCloudSync)
	}
	for _, dir := range protected.SharedDirs {
		if dir != "" && isWithin(abs, dir) {
			issues = append(issues, IssueInsideSharedDir)
			break
		}
	}
	for _, dir := range protected.ExistingInstallDirs {
		if dir != "" && isWithin(abs, dir) {
			issues = append(issues, IssueInsideExistingInstall)
			break
		}
	}
	return issues
}

// isWithin reports whether candidate is equal to or nested under root.
func isWithin(candidate, root string) bool {
	if root == "" {
		return false
	}
	rel, err := filepath.Rel(filepath.Clean(root), filepath.Clean(candidate))
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}

func isWithinCloudSync(candidate string) bool {
	for _, part := range strings.Split(filepath.ToSlash(candidate), "/") {
		for _, marker := range cloudSyncMarkers {
			if strings.EqualFold(part, marker) {
				return true
			}
		}
	}
	return false
}
