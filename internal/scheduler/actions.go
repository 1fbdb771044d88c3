package scheduler

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"time"

	"go.uber.org/zap"

	"github.com/streamspace-dev/payload-launcher/internal/errs"
	"github.com/streamspace-dev/payload-launcher/internal/plugin"
	"github.com/streamspace-dev/payload-launcher/internal/registry"
)

// RunAction is spec.md §4.11's runAction: it resolves the installation
// and plugin, handles the closed set of core-level actions itself, and
// delegates everything else to the plugin.
func (s *Scheduler) RunAction(ctx context.Context, installationID, actionID string, actionData map[string]any) (plugin.ActionResult, error) {
	switch actionID {
	case "launch":
		return s.Launch(ctx, installationID)
	case "delete":
		err := s.Delete(ctx, installationID, false)
		return plugin.ActionResult{OK: err == nil}, err
	case "remove":
		err := s.Remove(installationID)
		return plugin.ActionResult{OK: err == nil}, err
	case "open-folder":
		return s.openFolder(installationID)
	case "copy":
		return s.Copy(ctx, installationID, stringField(actionData, "name"))
	case "copy-update":
		return s.CopyUpdate(ctx, installationID, stringField(actionData, "name"))
	case "release-update":
		return s.ReleaseUpdate(ctx, installationID)
	case "pin":
		return s.setPinned(installationID, true)
	case "unpin":
		return s.setPinned(installationID, false)
	case "set-primary":
		return s.setPrimary(installationID)
	case "capture-snapshot":
		return s.handleCaptureSnapshot(installationID, actionData)
	case "list-snapshots":
		return s.handleListSnapshots(installationID)
	case "restore":
		return s.handleRestoreSnapshot(installationID, actionData)
	}

	rec, ok := s.registry.Get(installationID)
	if !ok {
		return plugin.ActionResult{}, errs.ErrUnknownInstallation
	}
	p, ok := s.plugins.Get(rec.SourceID)
	if !ok {
		return plugin.ActionResult{}, errs.ErrUnknownSource
	}
	return p.HandleAction(ctx, actionID, rec, actionData, s.newCapabilityTools(installationID))
}

func stringField(data map[string]any, key string) string {
	if data == nil {
		return ""
	}
	v, _ := data[key].(string)
	return v
}

func (s *Scheduler) setPinned(installationID string, pinned bool) (plugin.ActionResult, error) {
	_, err := s.registry.Update(installationID, func(r *registry.Record) error {
		r.Pinned = pinned
		return nil
	})
	if err != nil {
		return plugin.ActionResult{}, err
	}
	s.broadcastChanged(installationID, "updated")
	return plugin.ActionResult{OK: true}, nil
}

// setPrimary marks installationID as the single primary record,
// clearing the flag on every other record (spec.md's closed core-action
// set names set-primary without further detail; exactly one record may
// be primary at a time).
func (s *Scheduler) setPrimary(installationID string) (plugin.ActionResult, error) {
	if _, ok := s.registry.Get(installationID); !ok {
		return plugin.ActionResult{}, errs.ErrUnknownInstallation
	}
	for _, rec := range s.registry.List() {
		want := rec.ID == installationID
		if rec.Primary == want {
			continue
		}
		if _, err := s.registry.Update(rec.ID, func(r *registry.Record) error {
			r.Primary = want
			return nil
		}); err != nil {
			return plugin.ActionResult{}, err
		}
	}
	s.broadcastChanged(installationID, "updated")
	return plugin.ActionResult{OK: true}, nil
}

func (s *Scheduler) openFolder(installationID string) (plugin.ActionResult, error) {
	rec, ok := s.registry.Get(installationID)
	if !ok {
		return plugin.ActionResult{}, errs.ErrUnknownInstallation
	}
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "windows":
		cmd = exec.Command("explorer", rec.InstallPath)
	case "darwin":
		cmd = exec.Command("open", rec.InstallPath)
	default:
		cmd = exec.Command("xdg-open", rec.InstallPath)
	}
	if err := cmd.Start(); err != nil {
		return plugin.ActionResult{}, fmt.Errorf("open folder: %w", err)
	}
	return plugin.ActionResult{OK: true}, nil
}

// Copy performs spec.md §4.11's "copy(name)": a recursive file copy of
// installPath to a new sibling directory, a plugin fixupCopy pass, and
// registration of the new installation with inherited settings.
func (s *Scheduler) Copy(ctx context.Context, installationID, newName string) (plugin.ActionResult, error) {
	start := time.Now()
	var runErr error
	defer func() { s.audit("copy", installationID, runErr == nil, start, runErr) }()

	rec, ok := s.registry.Get(installationID)
	if !ok {
		runErr = errs.ErrUnknownInstallation
		return plugin.ActionResult{}, runErr
	}

	opCtx, release, err := s.acquire(installationID, "copy")
	if err != nil {
		runErr = err
		return plugin.ActionResult{}, runErr
	}
	defer release()

	destDir := uniqueSiblingDir(rec.InstallPath, newName)
	s.progress(installationID, "copy", 0, "", nil)
	if err := copyDir(opCtx, rec.InstallPath, destDir); err != nil {
		runErr = fmt.Errorf("copy: %w", err)
		return plugin.ActionResult{}, runErr
	}

	newRec := rec.Clone()
	newRec.ID = newOperationID()
	newRec.Name = newName
	newRec.InstallPath = destDir
	newRec.CreatedAt = time.Now()
	newRec.Status = registry.StatusInstalled
	newRec.Pinned = false
	newRec.Primary = false
	newRec.LastLaunchedAt = time.Time{}

	if _, err := s.registry.Add(newRec); err != nil {
		runErr = fmt.Errorf("register copy: %w", err)
		return plugin.ActionResult{}, runErr
	}

	if p, ok := s.plugins.Get(newRec.SourceID); ok {
		if fixer, ok := p.(plugin.CopyFixer); ok {
			if err := fixer.FixupCopy(opCtx, newRec); err != nil {
				s.log.Warn("fixup copy", zap.String("installationId", newRec.ID), zap.Error(err))
			}
		}
	}

	s.progress(installationID, "done", 100, "", nil)
	s.broadcastChanged(newRec.ID, "installed")
	return plugin.ActionResult{OK: true, Navigate: newRec.ID}, nil
}

// CopyUpdate chains Copy with the plugin's own "update-comfyui" action
// against the new copy. A failed update step leaves the copy intact
// (spec.md §4.11).
func (s *Scheduler) CopyUpdate(ctx context.Context, installationID, newName string) (plugin.ActionResult, error) {
	result, err := s.Copy(ctx, installationID, newName)
	if err != nil || !result.OK {
		return result, err
	}

	updateResult, err := s.RunAction(ctx, result.Navigate, "update-comfyui", nil)
	if err != nil {
		return plugin.ActionResult{OK: true, Navigate: result.Navigate, Message: "copy succeeded, update failed: " + err.Error()}, nil
	}
	updateResult.Navigate = result.Navigate
	return updateResult, nil
}

// ReleaseUpdate downloads a fresh release into a new installation,
// installs and post-installs it, migrates extensions/models/input/output
// from the source, and rolls the new record and directory back on
// migration failure (spec.md §4.11 "Release-update").
func (s *Scheduler) ReleaseUpdate(ctx context.Context, installationID string) (plugin.ActionResult, error) {
	start := time.Now()
	var runErr error
	defer func() { s.audit("release-update", installationID, runErr == nil, start, runErr) }()

	rec, ok := s.registry.Get(installationID)
	if !ok {
		runErr = errs.ErrUnknownInstallation
		return plugin.ActionResult{}, runErr
	}

	opCtx, release, err := s.acquire(installationID, "release-update")
	if err != nil {
		runErr = err
		return plugin.ActionResult{}, runErr
	}
	defer release()

	p, ok := s.plugins.Get(rec.SourceID)
	if !ok {
		runErr = errs.ErrUnknownSource
		return plugin.ActionResult{}, runErr
	}

	newRec := rec.Clone()
	newRec.ID = newOperationID()
	newRec.InstallPath = uniqueSiblingDir(rec.InstallPath, rec.Name+"-update")
	newRec.CreatedAt = time.Now()
	newRec.Status = registry.StatusInstalling
	newRec.Pinned = false
	newRec.Primary = false

	if _, err := s.registry.Add(newRec); err != nil {
		runErr = fmt.Errorf("register updated installation: %w", err)
		return plugin.ActionResult{}, runErr
	}

	tools := s.newCapabilityTools(newRec.ID)
	rollback := func(cause error) (plugin.ActionResult, error) {
		s.registry.Remove(newRec.ID)
		os.RemoveAll(newRec.InstallPath)
		return plugin.ActionResult{}, fmt.Errorf("release-update: %w", cause)
	}

	if installer, ok := p.(plugin.Installer); ok {
		if err := installer.Install(opCtx, newRec, tools); err != nil {
			runErr = err
			return rollback(err)
		}
	}
	if post, ok := p.(plugin.PostInstaller); ok {
		if err := post.PostInstall(opCtx, newRec, tools); err != nil {
			runErr = err
			return rollback(err)
		}
	}

	if err := migrateUserState(rec.InstallPath, newRec.InstallPath); err != nil {
		runErr = err
		return rollback(err)
	}

	if _, err := s.registry.Update(newRec.ID, func(r *registry.Record) error {
		r.Status = registry.StatusInstalled
		return nil
	}); err != nil {
		runErr = err
		return rollback(err)
	}

	s.broadcastChanged(newRec.ID, "installed")
	return plugin.ActionResult{OK: true, Navigate: newRec.ID}, nil
}

// migratedDirs are the state directories copied forward on release-update
// (spec.md: "migrates selected state (extensions, models, input, output)").
var migratedDirs = []string{"extensions", "models", "input", "output"}

func migrateUserState(srcRoot, destRoot string) error {
	for _, name := range migratedDirs {
		src := filepath.Join(srcRoot, name)
		if _, err := os.Stat(src); err != nil {
			continue
		}
		dest := filepath.Join(destRoot, name)
		os.RemoveAll(dest)
		if err := copyDir(context.Background(), src, dest); err != nil {
			return fmt.Errorf("migrate %s: %w", name, err)
		}
	}
	return nil
}

// uniqueSiblingDir returns a directory path beside src named after
// label, appending "-2", "-3", … on collision.
func uniqueSiblingDir(src, label string) string {
	parent := filepath.Dir(src)
	base := filepath.Join(parent, label)
	if _, err := os.Stat(base); err != nil {
		return base
	}
	for i := 2; ; i++ {
		candidate := fmt.Sprintf("%s-%d", base, i)
		if _, err := os.Stat(candidate); err != nil {
			return candidate
		}
	}
}

// copyDir recursively copies src to dest, preserving file modes.
func copyDir(ctx context.Context, src, dest string) error {
	return filepath.Walk(src, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dest, rel)
		if info.IsDir() {
			return os.MkdirAll(target, info.Mode())
		}
		if info.Mode()&os.ModeSymlink != 0 {
			link, err := os.Readlink(path)
			if err != nil {
				return err
			}
			return os.Symlink(link, target)
		}
		return copyFile(path, target, info.Mode())
	})
}

func copyFile(src, dest string, mode os.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return err
	}
	out, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
	if err != nil {
		return err
	}
	defer out.Close()

	_, err = io.Copy(out, in)
	return err
}
