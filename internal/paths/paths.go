// Package paths resolves the per-OS cache/data/state/config directories
// used by the launcher (spec.md C1) and performs the one-time migration
// from an older on-disk layout when present.
//
// POSIX honors the XDG Base Directory environment variables with the
// spec-mandated fallbacks; Windows and macOS use their platform app-data
// roots, matching how desktop tooling in this space conventionally lays
// out state.
package paths

import (
	"os"
	"path/filepath"
	"runtime"
)

const appName = "payload-launcher"

// Dirs holds the resolved set of base directories for this process.
type Dirs struct {
	Config        string
	Cache         string
	Data          string
	State         string
	DefaultInstall string
}

// Resolve computes Dirs for the current OS, honoring environment overrides.
func Resolve() Dirs {
	switch runtime.GOOS {
	case "windows":
		return resolveWindows()
	case "darwin":
		return resolveDarwin()
	default:
		return resolvePosix()
	}
}

func resolvePosix() Dirs {
	home, _ := os.UserHomeDir()
	cfg := envOr("XDG_CONFIG_HOME", filepath.Join(home, ".config"))
	cache := envOr("XDG_CACHE_HOME", filepath.Join(home, ".cache"))
	data := envOr("XDG_DATA_HOME", filepath.Join(home, ".local", "share"))
	state := envOr("XDG_STATE_HOME", filepath.Join(home, ".local", "state"))

	return Dirs{
		Config:         filepath.Join(cfg, appName),
		Cache:          filepath.Join(cache, appName),
		Data:           filepath.Join(data, appName),
		State:          filepath.Join(state, appName),
		DefaultInstall: filepath.Join(data, appName, "installations"),
	}
}

func resolveDarwin() Dirs {
	home, _ := os.UserHomeDir()
	appSupport := filepath.Join(home, "Library", "Application Support", appName)
	caches := filepath.Join(home, "Library", "Caches", appName)

	return Dirs{
		Config:         appSupport,
		Cache:          caches,
		Data:           appSupport,
		State:          appSupport,
		DefaultInstall: filepath.Join(appSupport, "installations"),
	}
}

func resolveWindows() Dirs {
	root := os.Getenv("APPDATA")
	if root == "" {
		home, _ := os.UserHomeDir()
		root = filepath.Join(home, "AppData", "Roaming")
	}
	local := os.Getenv("LOCALAPPDATA")
	if local == "" {
		local = root
	}
	base := filepath.Join(root, appName)
	localBase := filepath.Join(local, appName)

	return Dirs{
		Config:         base,
		Cache:          filepath.Join(localBase, "Cache"),
		Data:           base,
		State:          localBase,
		DefaultInstall: filepath.Join(localBase, "installations"),
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// EnsureAll creates the Config, Cache, Data and State directories,
// idempotently. DefaultInstall is not created.
func (d Dirs) EnsureAll() error {
	for _, dir := range []string{d.Config, d.Cache, d.Data, d.State} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return nil
}

// MigrateLegacy moves files from an older layout (oldRoot) into the
// resolved Data directory if the new location is absent. It is a no-op
// if oldRoot does not exist or Data is already populated.
func MigrateLegacy(oldRoot, newData string) error {
	if _, err := os.Stat(oldRoot); err != nil {
		return nil
	}
	if entries, err := os.ReadDir(newData); err == nil && len(entries) > 0 {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(newData), 0o755); err != nil {
		return err
	}
	return os.Rename(oldRoot, newData)
}
