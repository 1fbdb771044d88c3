package snapshot

import (
	"errors"
	"testing"

	"github.com/streamspace-dev/payload-launcher/internal/errs"
)

func TestIsProtectedPackage(t *testing.T) {
	cases := map[string]bool{
		"pip":              true,
		"Pip":              true,
		"setuptools":       true,
		"uv":               true,
		"torch":            true,
		"torch-audio":      true,
		"torch_vision":     true,
		"nvidia-cuda-nvrtc": true,
		"triton":           true,
		"numpy":            false,
		"requests":         false,
	}
	for name, want := range cases {
		if got := IsProtectedPackage(name); got != want {
			t.Errorf("IsProtectedPackage(%q) = %v, want %v", name, got, want)
		}
	}
}

func TestPlanPackageRestoreExcludesProtectedAndEditable(t *testing.T) {
	target := map[string]string{
		"numpy":  "1.24.0",
		"torch":  "2.0.0",
		"custom": "-e /path/to/local/pkg",
	}
	current := map[string]string{
		"torch": "2.1.0",
		"stale": "0.1.0",
	}

	plan := PlanPackageRestore(target, current)

	var names []string
	for _, e := range plan.Entries {
		names = append(names, e.Name+":"+e.Kind)
	}
	assertContains(t, names, "numpy:install")
	assertContains(t, names, "stale:remove")
	assertNotContains(t, names, "torch:change")
	assertNotContains(t, names, "custom:install")

	if len(plan.ProtectedSkipped) != 1 || plan.ProtectedSkipped[0] != "torch" {
		t.Fatalf("expected torch recorded as protected-skipped, got %v", plan.ProtectedSkipped)
	}
}

func assertContains(t *testing.T, haystack []string, needle string) {
	t.Helper()
	for _, s := range haystack {
		if s == needle {
			return
		}
	}
	t.Fatalf("expected %q in %v", needle, haystack)
}

func assertNotContains(t *testing.T, haystack []string, needle string) {
	t.Helper()
	for _, s := range haystack {
		if s == needle {
			t.Fatalf("did not expect %q in %v", needle, haystack)
		}
	}
}

func TestRestorePackagesSucceedsWithBulkInstall(t *testing.T) {
	plan := PackagePlan{Entries: []PackagePlanEntry{
		{Name: "numpy", Kind: "install", Version: "1.24.0"},
		{Name: "stale", Kind: "remove"},
	}}

	env := PackageEnv{
		BackupDistInfo:    func(name string) (string, error) { return "/backup/" + name, nil },
		RestoreFromBackup: func(name, dir string) error { return nil },
		BulkInstall:       func(specs map[string]string) error { return nil },
		BulkUninstall:     func(names []string) error { return nil },
	}

	result, err := RestorePackages(plan, env)
	if err != nil {
		t.Fatalf("RestorePackages: %v", err)
	}
	if len(result.Installed) != 1 || result.Installed[0] != "numpy" {
		t.Fatalf("unexpected installed: %v", result.Installed)
	}
	if len(result.Removed) != 1 || result.Removed[0] != "stale" {
		t.Fatalf("unexpected removed: %v", result.Removed)
	}
}

func TestRestorePackagesFallsBackToOneByOneThenReverts(t *testing.T) {
	plan := PackagePlan{Entries: []PackagePlanEntry{
		{Name: "upgraded", Kind: "change", Version: "1.0"},
		{Name: "bad", Kind: "install", Version: "2.0"},
	}}

	var restored []string
	var uninstalledNew []string
	env := PackageEnv{
		BackupDistInfo:    func(name string) (string, error) { return "/backup/" + name, nil },
		RestoreFromBackup: func(name, dir string) error { restored = append(restored, name); return nil },
		BulkInstall:       func(specs map[string]string) error { return errors.New("bulk failed") },
		InstallOne: func(name, version string, noDeps bool) error {
			if name == "bad" {
				return errors.New("boom")
			}
			return nil
		},
		UninstallOne: func(name string) error { uninstalledNew = append(uninstalledNew, name); return nil },
	}

	_, err := RestorePackages(plan, env)
	if err == nil {
		t.Fatal("expected restore to report failure")
	}
	if !errors.Is(err, errs.ErrRestoreReverted) {
		t.Fatalf("expected ErrRestoreReverted, got %v", err)
	}
	if len(restored) == 0 {
		t.Fatal("expected a backup restore to have been attempted")
	}

	for _, name := range uninstalledNew {
		if name == "upgraded" {
			t.Fatalf("revert uninstalled %q, a change-kind package already restored from backup", name)
		}
	}
	found := false
	for _, name := range uninstalledNew {
		if name == "bad" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected revert to uninstall %q (a new install that never existed before), got %v", "bad", uninstalledNew)
	}
}
