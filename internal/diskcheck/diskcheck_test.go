package diskcheck

import (
	"os"
	"path/filepath"
	"testing"
)

func TestGetDiskSpaceExistingDir(t *testing.T) {
	dir := t.TempDir()
	space, err := GetDiskSpace(dir)
	if err != nil {
		t.Fatalf("GetDiskSpace: %v", err)
	}
	if space.Total == 0 {
		t.Fatal("expected nonzero total disk space")
	}
	if space.Free > space.Total {
		t.Fatalf("free %d exceeds total %d", space.Free, space.Total)
	}
}

func TestGetDiskSpaceWalksUpToExistingAncestor(t *testing.T) {
	dir := t.TempDir()
	nested := filepath.Join(dir, "does", "not", "exist", "yet")
	space, err := GetDiskSpace(nested)
	if err != nil {
		t.Fatalf("GetDiskSpace: %v", err)
	}
	resolvedDir, err := filepath.EvalSymlinks(dir)
	if err != nil {
		t.Fatalf("resolve symlinks: %v", err)
	}
	if space.Path != resolvedDir && space.Path != dir {
		t.Fatalf("expected nearest existing ancestor %q, got %q", dir, space.Path)
	}
}

func TestValidateInstallPathInsideLauncherData(t *testing.T) {
	launcherData := "/home/user/.local/share/payload-launcher"
	candidate := filepath.Join(launcherData, "installations", "foo")
	issues := ValidateInstallPath(candidate, Protected{LauncherDirs: []string{launcherData}})
	if !hasIssue(issues, IssueInsideLauncherData) {
		t.Fatalf("expected IssueInsideLauncherData, got %v", issues)
	}
}

func TestValidateInstallPathInsideExistingInstall(t *testing.T) {
	existing := "/home/user/ComfyInstalls/existing"
	candidate := filepath.Join(existing, "sub")
	issues := ValidateInstallPath(candidate, Protected{ExistingInstallDirs: []string{existing}})
	if !hasIssue(issues, IssueInsideExistingInstall) {
		t.Fatalf("expected IssueInsideExistingInstall, got %v", issues)
	}
}

func TestValidateInstallPathInsideCloudSync(t *testing.T) {
	candidate := filepath.Join(string(os.PathSeparator), "Users", "alice", "Dropbox", "Comfy")
	issues := ValidateInstallPath(candidate, Protected{})
	if !hasIssue(issues, IssueInsideCloudSync) {
		t.Fatalf("expected IssueInsideCloudSync, got %v", issues)
	}
}

func TestValidateInstallPathClean(t *testing.T) {
	issues := ValidateInstallPath("/home/user/ComfyInstalls/fresh", Protected{
		LauncherDirs:        []string{"/home/user/.local/share/payload-launcher"},
		UpdaterCacheDir:     "/home/user/.cache/payload-launcher",
		SharedDirs:          []string{"/home/user/SharedModels"},
		ExistingInstallDirs: []string{"/home/user/ComfyInstalls/other"},
	})
	if len(issues) != 0 {
		t.Fatalf("expected no issues, got %v", issues)
	}
}

func hasIssue(issues []Issue, want Issue) bool {
	for _, i := range issues {
		if i == want {
			return true
		}
	}
	return false
}
