package scheduler

import "github.com/streamspace-dev/payload-launcher/internal/diskcheck"

// ValidateInstallPath reports every distinct diskcheck.Issue that applies
// to a candidate install path, checked against the core's own directories,
// the shared model/input/output directories, and every other tracked
// installation's path.
func (s *Scheduler) ValidateInstallPath(path string) []diskcheck.Issue {
	return diskcheck.ValidateInstallPath(path, diskcheck.Protected{
		LauncherDirs:        s.launcherDirs,
		UpdaterCacheDir:     s.updaterCacheDir,
		SharedDirs:          s.sharedDirList(),
		ExistingInstallDirs: s.installDirs(),
	})
}

// DiskSpace reports free/total bytes for the filesystem a candidate
// install path would live on.
func (s *Scheduler) DiskSpace(path string) (diskcheck.Space, error) {
	return diskcheck.GetDiskSpace(path)
}

func (s *Scheduler) sharedDirList() []string {
	var dirs []string
	for _, d := range []string{s.sharedPaths.ModelsDir, s.sharedPaths.InputDir, s.sharedPaths.OutputDir} {
		if d != "" {
			dirs = append(dirs, d)
		}
	}
	return dirs
}

func (s *Scheduler) installDirs() []string {
	var dirs []string
	for _, r := range s.registry.List() {
		if r.InstallPath != "" {
			dirs = append(dirs, r.InstallPath)
		}
	}
	return dirs
}
