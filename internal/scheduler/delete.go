package scheduler

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/streamspace-dev/payload-launcher/internal/deleter"
	"github.com/streamspace-dev/payload-launcher/internal/errs"
	"github.com/streamspace-dev/payload-launcher/internal/registry"
)

// osMetadataFiles are created by the OS or file manager and don't count
// toward "the install directory has real content" (spec.md §4.11 step 2
// and the startup sweep's "only marker + OS metadata" test).
var osMetadataFiles = map[string]bool{
	".DS_Store":    true,
	"Thumbs.db":    true,
	"desktop.ini":  true,
	markerFileName: true,
	".launcher":    true,
}

// hasAnyFiles reports whether dir contains anything beyond the marker
// and common OS metadata files.
func hasAnyFiles(dir string) bool {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return false
	}
	for _, e := range entries {
		if !osMetadataFiles[e.Name()] {
			return true
		}
	}
	return false
}

// checkDeleteSafety enforces spec.md §4.11's "Safety check on delete":
// the marker file must exist and contain either the installation id or
// the literal "tracked".
func checkDeleteSafety(installPath, installationID string) error {
	data, err := os.ReadFile(filepath.Join(installPath, markerFileName))
	if err != nil {
		return fmt.Errorf("%w: marker file missing, use untrack instead", errs.ErrSafetyCheckFailed)
	}
	content := strings.TrimSpace(string(data))
	if content != installationID && content != "tracked" {
		return fmt.Errorf("%w: marker does not reference this installation, use untrack instead", errs.ErrSafetyCheckFailed)
	}
	return nil
}

// Delete removes an installation's on-disk files and then its registry
// entry, following spec.md §4.11's status machine. skipSafetyCheck is
// set only by the internal partial-delete cleanup path that already
// knows it owns the directory (the marker was just written by this same
// failed install).
func (s *Scheduler) Delete(ctx context.Context, installationID string, skipSafetyCheck bool) error {
	start := time.Now()
	var runErr error
	defer func() { s.audit("delete", installationID, runErr == nil, start, runErr) }()

	rec, ok := s.registry.Get(installationID)
	if !ok {
		runErr = errs.ErrUnknownInstallation
		return runErr
	}

	if _, running := s.session(installationID); running {
		runErr = errs.ErrAlreadyRunning
		return runErr
	}

	opCtx, release, err := s.acquire(installationID, "delete")
	if err != nil {
		runErr = err
		return runErr
	}
	defer release()

	if !skipSafetyCheck {
		if err := checkDeleteSafety(rec.InstallPath, installationID); err != nil {
			runErr = err
			return runErr
		}
	}

	if err := deleter.Delete(opCtx, rec.InstallPath, func(p deleter.Progress) {
		pct := 0
		if p.Total > 0 {
			pct = int(float64(p.Removed) / float64(p.Total) * 100)
		}
		s.progress(installationID, "delete", pct, "", map[string]any{"removed": p.Removed, "total": p.Total})
	}); err != nil {
		if opCtx.Err() != nil {
			// Interrupted: restore the marker (delete may have removed
			// it already) so a retry passes the safety check, and mark
			// partial-delete (spec.md "Delete interrupted").
			os.MkdirAll(rec.InstallPath, 0o755)
			os.WriteFile(filepath.Join(rec.InstallPath, markerFileName), []byte(installationID), 0o644)
			s.registry.Update(installationID, func(r *registry.Record) error {
				r.Status = registry.StatusPartialDelete
				return nil
			})
			s.broadcastChanged(installationID, "partial-delete")
			runErr = errs.ErrCancelled
			return runErr
		}
		runErr = err
		return runErr
	}

	if err := s.registry.Remove(installationID); err != nil {
		runErr = err
		return runErr
	}
	s.progress(installationID, "done", 100, "", nil)
	s.broadcastChanged(installationID, "removed")
	return nil
}

// Remove performs the metadata-only "untrack" removal: the registry
// entry is dropped without touching disk, and without the delete
// safety check (spec.md §4.11's pointer from a failed safety check).
func (s *Scheduler) Remove(installationID string) error {
	start := time.Now()
	err := s.registry.Remove(installationID)
	s.audit("remove", installationID, err == nil, start, err)
	if err == nil {
		s.broadcastChanged(installationID, "removed")
	}
	return err
}
