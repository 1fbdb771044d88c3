package snapshot

import (
	"fmt"
	"strings"

	"github.com/streamspace-dev/payload-launcher/internal/errs"
)

// protectedExact and protectedPrefixes implement spec.md §4.10's closed
// protected set: packaging tooling and the CUDA/GPU stack are never
// modified by a restore, regardless of what the target snapshot records.
var protectedExact = map[string]bool{
	"pip":        true,
	"setuptools": true,
	"wheel":      true,
	"uv":         true,
}

var protectedPrefixes = []string{"torch", "nvidia", "triton", "cuda"}

// IsProtectedPackage reports whether name is excluded from package
// restore plans.
func IsProtectedPackage(name string) bool {
	normalized := normalizePackageName(name)
	if protectedExact[normalized] {
		return true
	}
	for _, prefix := range protectedPrefixes {
		if normalized == prefix ||
			strings.HasPrefix(normalized, prefix+"-") ||
			strings.HasPrefix(normalized, prefix+"_") {
			return true
		}
	}
	return false
}

// normalizePackageName applies PEP 503 normalization: lowercase, and any
// run of -, _, or . collapsed to a single -.
func normalizePackageName(name string) string {
	name = strings.ToLower(name)
	var b strings.Builder
	lastWasSep := false
	for _, r := range name {
		if r == '-' || r == '_' || r == '.' {
			if !lastWasSep {
				b.WriteByte('-')
				lastWasSep = true
			}
			continue
		}
		b.WriteRune(r)
		lastWasSep = false
	}
	return b.String()
}

// isEditableOrDirectRef reports whether a version string represents a
// non-standard install (editable or a direct URL/path reference) that
// spec.md §4.10 step 2 says to skip rather than plan around.
func isEditableOrDirectRef(version string) bool {
	return strings.Contains(version, "://") ||
		strings.HasPrefix(version, "-e ") ||
		strings.HasPrefix(version, "/") ||
		strings.HasPrefix(version, ".")
}

// PackagePlanEntry is one action the restore plan will take.
type PackagePlanEntry struct {
	Name    string
	Kind    string // "install", "change", "remove"
	Version string // target version for install/change
}

// PackagePlan is the result of comparing a snapshot's package map
// against a live environment's frozen state.
type PackagePlan struct {
	Entries          []PackagePlanEntry
	ProtectedSkipped []string
}

// PlanPackageRestore computes the install/upgrade-downgrade/remove plan
// for restoring target against the live current freeze (spec.md §4.10
// step 2).
func PlanPackageRestore(target, current map[string]string) PackagePlan {
	var plan PackagePlan

	for name, targetVer := range target {
		if IsProtectedPackage(name) {
			if _, present := current[name]; present {
				plan.ProtectedSkipped = append(plan.ProtectedSkipped, name)
			}
			continue
		}
		if isEditableOrDirectRef(targetVer) {
			continue
		}
		curVer, present := current[name]
		if !present {
			plan.Entries = append(plan.Entries, PackagePlanEntry{Name: name, Kind: "install", Version: targetVer})
		} else if curVer != targetVer {
			plan.Entries = append(plan.Entries, PackagePlanEntry{Name: name, Kind: "change", Version: targetVer})
		}
	}

	for name := range current {
		if IsProtectedPackage(name) {
			continue
		}
		if _, wanted := target[name]; !wanted {
			plan.Entries = append(plan.Entries, PackagePlanEntry{Name: name, Kind: "remove"})
		}
	}

	return plan
}

// PackageEnv is the narrow capability set package restore needs from the
// live environment's package manager, supplied by the caller so this
// package stays free of a direct `pip`/`uv` dependency.
type PackageEnv struct {
	// BackupDistInfo copies the on-disk top-level entries for name (via
	// its dist-info RECORD) into a staging directory, returning that
	// directory for later revert.
	BackupDistInfo func(name string) (stagingDir string, err error)
	// RestoreFromBackup copies a prior BackupDistInfo staging directory
	// back into place.
	RestoreFromBackup func(name, stagingDir string) error

	BulkInstall     func(specs map[string]string) error
	InstallOne      func(name, version string, noDeps bool) error
	BulkUninstall   func(names []string) error
	UninstallOne    func(name string) error
}

// RestoreResult mirrors spec.md §4.10's structured restore result.
type RestoreResult struct {
	Installed        []string
	Removed          []string
	Changed          []string
	ProtectedSkipped []string
	Failed           []string
	Errors           []string
}

// RestorePackages executes plan against env, backing up every package
// that will be modified or removed before touching anything, and
// reverting on any failure (spec.md §4.10 steps 3-5).
func RestorePackages(plan PackagePlan, env PackageEnv) (RestoreResult, error) {
	result := RestoreResult{ProtectedSkipped: plan.ProtectedSkipped}

	backups := make(map[string]string, len(plan.Entries))
	for _, e := range plan.Entries {
		if e.Kind == "install" {
			continue // nothing on disk yet to back up
		}
		dir, err := env.BackupDistInfo(e.Name)
		if err != nil {
			return result, fmt.Errorf("%w: backing up %s: %v", errs.ErrBackupFailed, e.Name, err)
		}
		backups[e.Name] = dir
	}

	installSpecs := map[string]string{}
	newInstalls := map[string]bool{}
	var removals []string
	for _, e := range plan.Entries {
		switch e.Kind {
		case "install":
			installSpecs[e.Name] = e.Version
			newInstalls[e.Name] = true
		case "change":
			installSpecs[e.Name] = e.Version
		case "remove":
			removals = append(removals, e.Name)
		}
	}

	var failed bool

	if len(installSpecs) > 0 {
		if err := env.BulkInstall(installSpecs); err != nil {
			for name, version := range installSpecs {
				if err := env.InstallOne(name, version, true); err != nil {
					result.Failed = append(result.Failed, name)
					result.Errors = append(result.Errors, err.Error())
					failed = true
					continue
				}
				recordOutcome(&result, plan, name)
			}
		} else {
			for name := range installSpecs {
				recordOutcome(&result, plan, name)
			}
		}
	}

	if len(removals) > 0 {
		if err := env.BulkUninstall(removals); err != nil {
			for _, name := range removals {
				if err := env.UninstallOne(name); err != nil {
					result.Failed = append(result.Failed, name)
					result.Errors = append(result.Errors, err.Error())
					failed = true
					continue
				}
				result.Removed = append(result.Removed, name)
			}
		} else {
			result.Removed = append(result.Removed, removals...)
		}
	}

	if failed {
		for name, dir := range backups {
			_ = env.RestoreFromBackup(name, dir)
		}
		// Only uninstall packages that didn't exist before this restore.
		// "change" kind entries had their prior version put back by
		// RestoreFromBackup above; uninstalling them here would delete a
		// package that should have survived the revert.
		for name := range newInstalls {
			_ = env.UninstallOne(name)
		}
		return result, fmt.Errorf("%w: package restore failed, reverted from backup", errs.ErrRestoreReverted)
	}

	return result, nil
}

func recordOutcome(result *RestoreResult, plan PackagePlan, name string) {
	for _, e := range plan.Entries {
		if e.Name != name {
			continue
		}
		if e.Kind == "install" {
			result.Installed = append(result.Installed, name)
		} else {
			result.Changed = append(result.Changed, name)
		}
		return
	}
}
