package scheduler

import (
	"bufio"
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/streamspace-dev/payload-launcher/internal/download"
	"github.com/streamspace-dev/payload-launcher/internal/extract"
	"github.com/streamspace-dev/payload-launcher/internal/registry"
	"github.com/streamspace-dev/payload-launcher/internal/snapshot"
)

const (
	extensionsDirName = "extensions"
	disabledDirName   = ".disabled"
)

// pythonFor locates the interpreter governing installPath's package
// environment, checking the portable variant's embedded interpreter path
// before the standalone variant's uv-managed venv.
func pythonFor(installPath string) string {
	embedded := filepath.Join(installPath, filepath.FromSlash("python_embeded/python"))
	if _, err := os.Stat(embedded); err == nil {
		return embedded
	}
	return filepath.Join(installPath, "envs", "default", ".venv", "bin", "python")
}

// snapshotEnvironment adapts a registry.Record's on-disk state into the
// capability bag snapshot.Capture needs, grounded in the same
// extensions/models/input/output directory naming actions.go's
// migrateUserState already relies on.
func (s *Scheduler) snapshotEnvironment(rec registry.Record) snapshot.Environment {
	return snapshot.Environment{
		ReadPayloadRef: func() (snapshot.Payload, error) {
			return snapshot.Payload{
				Ref:        rec.Branch,
				Commit:     rec.Commit,
				ReleaseTag: rec.Version,
				Variant:    rec.SourceID,
			}, nil
		},
		ListExtensions: func() ([]snapshot.Extension, error) {
			return scanExtensions(rec.InstallPath)
		},
		FreezePackages: func() (map[string]string, error) {
			return pipFreeze(pythonFor(rec.InstallPath))
		},
	}
}

// scanExtensions walks extensions/ and extensions/.disabled/, classifying
// each subdirectory as a source-tree extension identified by its git
// remote and HEAD commit when available.
func scanExtensions(installPath string) ([]snapshot.Extension, error) {
	var out []snapshot.Extension
	root := filepath.Join(installPath, extensionsDirName)

	add := func(dir string, enabled bool) error {
		entries, err := os.ReadDir(dir)
		if os.IsNotExist(err) {
			return nil
		}
		if err != nil {
			return err
		}
		for _, e := range entries {
			if !e.IsDir() || e.Name() == disabledDirName {
				continue
			}
			extDir := filepath.Join(dir, e.Name())
			out = append(out, snapshot.Extension{
				ID:      e.Name(),
				Type:    snapshot.ExtensionSourceTree,
				DirName: e.Name(),
				Enabled: enabled,
				Commit:  gitHeadCommit(extDir),
				URL:     gitRemoteURL(extDir),
			})
		}
		return nil
	}

	if err := add(root, true); err != nil {
		return nil, err
	}
	if err := add(filepath.Join(root, disabledDirName), false); err != nil {
		return nil, err
	}
	return out, nil
}

func gitHeadCommit(dir string) string {
	out, err := exec.Command("git", "-C", dir, "rev-parse", "HEAD").Output()
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(out))
}

func gitRemoteURL(dir string) string {
	out, err := exec.Command("git", "-C", dir, "remote", "get-url", "origin").Output()
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(out))
}

func pipFreeze(python string) (map[string]string, error) {
	out, err := exec.Command(python, "-m", "pip", "freeze").Output()
	if err != nil {
		return map[string]string{}, nil
	}
	packages := map[string]string{}
	sc := bufio.NewScanner(strings.NewReader(string(out)))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		name, version, ok := strings.Cut(line, "==")
		if !ok {
			continue
		}
		packages[name] = version
	}
	return packages, nil
}

// packageEnvironment adapts a registry.Record's Python environment into
// snapshot.PackageEnv, backing packages up via pip show's file listing
// (the same metadata `pip freeze` and `uv sync` already rely on) rather
// than a package-manager-specific snapshot format.
func (s *Scheduler) packageEnvironment(rec registry.Record) snapshot.PackageEnv {
	python := pythonFor(rec.InstallPath)
	backupRoot := filepath.Join(rec.InstallPath, ".launcher", "pkg-backups")

	return snapshot.PackageEnv{
		BackupDistInfo: func(name string) (string, error) {
			return backupDistInfo(python, backupRoot, name)
		},
		RestoreFromBackup: func(name, stagingDir string) error {
			return restoreDistInfo(stagingDir)
		},
		BulkInstall: func(specs map[string]string) error {
			args := []string{"-m", "pip", "install"}
			for name, version := range specs {
				args = append(args, name+"=="+version)
			}
			return exec.Command(python, args...).Run()
		},
		InstallOne: func(name, version string, noDeps bool) error {
			args := []string{"-m", "pip", "install", name + "==" + version}
			if noDeps {
				args = append(args, "--no-deps")
			}
			return exec.Command(python, args...).Run()
		},
		BulkUninstall: func(names []string) error {
			args := append([]string{"-m", "pip", "uninstall", "-y"}, names...)
			return exec.Command(python, args...).Run()
		},
		UninstallOne: func(name string) error {
			return exec.Command(python, "-m", "pip", "uninstall", "-y", name).Run()
		},
	}
}

// backupDistInfo copies every file `pip show -f` lists for name into a
// fresh staging directory under backupRoot, preserving each file's
// relative path so restoreDistInfo can copy it straight back.
func backupDistInfo(python, backupRoot, name string) (string, error) {
	out, err := exec.Command(python, "-m", "pip", "show", "-f", name).Output()
	if err != nil {
		return "", err
	}

	var location string
	var files []string
	inFiles := false
	sc := bufio.NewScanner(strings.NewReader(string(out)))
	for sc.Scan() {
		line := sc.Text()
		switch {
		case strings.HasPrefix(line, "Location:"):
			location = strings.TrimSpace(strings.TrimPrefix(line, "Location:"))
		case strings.HasPrefix(line, "Files:"):
			inFiles = true
		case inFiles && strings.HasPrefix(line, "  "):
			files = append(files, strings.TrimSpace(line))
		default:
			inFiles = false
		}
	}

	staging := filepath.Join(backupRoot, name+"-"+newOperationID())
	for _, rel := range files {
		src := filepath.Join(location, rel)
		if _, err := os.Stat(src); err != nil {
			continue
		}
		if err := copyFile(src, filepath.Join(staging, "site", rel), 0o644); err != nil {
			return "", err
		}
	}
	if err := os.WriteFile(filepath.Join(staging, "location"), []byte(location), 0o644); err != nil {
		return "", err
	}
	return staging, nil
}

func restoreDistInfo(stagingDir string) error {
	locationBytes, err := os.ReadFile(filepath.Join(stagingDir, "location"))
	if err != nil {
		return err
	}
	location := strings.TrimSpace(string(locationBytes))
	siteDir := filepath.Join(stagingDir, "site")
	return copyDir(context.Background(), siteDir, location)
}

// extensionEnvironment adapts a registry.Record's extensions directory
// into snapshot.ExtensionEnv, reusing the same download/extract
// capabilities newCapabilityTools wires into plugin installs.
func (s *Scheduler) extensionEnvironment(rec registry.Record) snapshot.ExtensionEnv {
	root := filepath.Join(rec.InstallPath, extensionsDirName)
	enabledPath := func(ext snapshot.Extension) string { return filepath.Join(root, ext.DirName) }
	disabledPath := func(ext snapshot.Extension) string { return filepath.Join(root, disabledDirName, ext.DirName) }
	currentPath := func(ext snapshot.Extension) string {
		if ext.Enabled {
			return enabledPath(ext)
		}
		return disabledPath(ext)
	}

	return snapshot.ExtensionEnv{
		InstallFromRegistry: func(ext snapshot.Extension) error {
			if ext.URL == "" {
				return nil
			}
			dest := filepath.Join(rec.InstallPath, ".launcher", "cache", ext.DirName+".download")
			archive, err := download.Download(context.Background(), ext.URL, dest, nil, download.Options{})
			if err != nil {
				return err
			}
			return extract.New().Extract(context.Background(), archive, enabledPath(ext), nil)
		},
		CloneSource: func(ext snapshot.Extension) error {
			dir := enabledPath(ext)
			if err := exec.Command("git", "clone", ext.URL, dir).Run(); err != nil {
				return err
			}
			if ext.Commit == "" {
				return nil
			}
			return exec.Command("git", "-C", dir, "checkout", ext.Commit).Run()
		},
		SwitchRegistry: func(oldExt, newExt snapshot.Extension) error {
			if err := os.RemoveAll(currentPath(oldExt)); err != nil {
				return err
			}
			return s.extensionEnvironment(rec).InstallFromRegistry(newExt)
		},
		SwitchSource: func(oldExt, newExt snapshot.Extension) error {
			dir := currentPath(oldExt)
			if err := exec.Command("git", "-C", dir, "fetch", "--depth", "1", "origin", newExt.Commit).Run(); err != nil {
				return err
			}
			return exec.Command("git", "-C", dir, "checkout", newExt.Commit).Run()
		},
		Move: func(ext snapshot.Extension, enabled bool) error {
			var from, to string
			if enabled {
				from, to = disabledPath(ext), enabledPath(ext)
			} else {
				from, to = enabledPath(ext), disabledPath(ext)
			}
			if err := os.MkdirAll(filepath.Dir(to), 0o755); err != nil {
				return err
			}
			return os.Rename(from, to)
		},
		Remove: func(ext snapshot.Extension) error {
			return os.RemoveAll(currentPath(ext))
		},
		RunPostInstall: func(ext snapshot.Extension) error {
			return runExtensionPostInstall(pythonFor(rec.InstallPath), enabledPath(ext))
		},
	}
}

// runExtensionPostInstall installs an extension's requirements, skipping
// any package protected against snapshot restore, then runs install.py
// if the extension ships one.
func runExtensionPostInstall(python, extDir string) error {
	reqPath := filepath.Join(extDir, "requirements.txt")
	if data, err := os.ReadFile(reqPath); err == nil {
		var kept []string
		sc := bufio.NewScanner(strings.NewReader(string(data)))
		for sc.Scan() {
			line := strings.TrimSpace(sc.Text())
			if line == "" || strings.HasPrefix(line, "#") {
				continue
			}
			name, _, _ := strings.Cut(line, "==")
			if snapshot.IsProtectedPackage(strings.TrimSpace(name)) {
				continue
			}
			kept = append(kept, line)
		}
		if len(kept) > 0 {
			filtered := filepath.Join(extDir, ".launcher-requirements.txt")
			if err := os.WriteFile(filtered, []byte(strings.Join(kept, "\n")+"\n"), 0o644); err != nil {
				return err
			}
			if err := exec.Command(python, "-m", "pip", "install", "-r", filtered).Run(); err != nil {
				return err
			}
		}
	}

	installScript := filepath.Join(extDir, "install.py")
	if _, err := os.Stat(installScript); err != nil {
		return nil
	}
	return exec.Command(python, installScript).Run()
}
