package scheduler

import (
	"context"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/streamspace-dev/payload-launcher/internal/errs"
	"github.com/streamspace-dev/payload-launcher/internal/plugin"
	"github.com/streamspace-dev/payload-launcher/internal/registry"
)

// markerFileName is the ownership marker every local source plugin
// writes at its install root (spec.md §6). The Scheduler, not any one
// plugin, owns the safety check that reads it back.
const markerFileName = ".LAUNCHER_MARKER"

// Install drives a new installation's plugin through Install and
// PostInstall, advancing its status per spec.md §4.11's state machine
// ("new → installing → installed/failed"). On cancellation after files
// have been extracted, the installation transitions to partial-delete
// and an immediate, separately-cancellable delete begins.
func (s *Scheduler) Install(ctx context.Context, installationID string) error {
	start := time.Now()
	var runErr error
	defer func() { s.audit("install", installationID, runErr == nil, start, runErr) }()

	rec, ok := s.registry.Get(installationID)
	if !ok {
		runErr = errs.ErrUnknownInstallation
		return runErr
	}

	opCtx, release, err := s.acquire(installationID, "install")
	if err != nil {
		runErr = err
		return runErr
	}
	defer release()

	p, ok := s.plugins.Get(rec.SourceID)
	if !ok {
		runErr = errs.ErrUnknownSource
		return runErr
	}

	if _, err := s.registry.Update(installationID, func(r *registry.Record) error {
		r.Status = registry.StatusInstalling
		return nil
	}); err != nil {
		runErr = err
		return runErr
	}
	s.broadcastChanged(installationID, "installing")
	s.progress(installationID, "steps", 0, "", stepsDetail(p))

	tools := s.newCapabilityTools(installationID)

	if installer, ok := p.(plugin.Installer); ok {
		if err := installer.Install(opCtx, rec, tools); err != nil {
			runErr = s.handleInstallFailure(installationID, rec, opCtx, err)
			return runErr
		}
	}

	if post, ok := p.(plugin.PostInstaller); ok {
		if err := post.PostInstall(opCtx, rec, tools); err != nil {
			runErr = s.handleInstallFailure(installationID, rec, opCtx, err)
			return runErr
		}
	}

	if _, err := s.registry.Update(installationID, func(r *registry.Record) error {
		r.Status = registry.StatusInstalled
		return nil
	}); err != nil {
		runErr = err
		return runErr
	}
	s.progress(installationID, "done", 100, "", nil)
	s.broadcastChanged(installationID, "installed")
	return nil
}

func stepsDetail(p plugin.Plugin) map[string]any {
	if lister, ok := p.(plugin.StepLister); ok {
		return map[string]any{"steps": lister.InstallSteps()}
	}
	return nil
}

// handleInstallFailure applies spec.md §4.11's cancellation branch: a
// cancelled install that already produced on-disk files transitions to
// partial-delete and starts cleanup immediately; any other failure marks
// the record failed and preserves its partial files for inspection.
func (s *Scheduler) handleInstallFailure(installationID string, rec registry.Record, opCtx context.Context, cause error) error {
	if opCtx.Err() != nil {
		if hasAnyFiles(rec.InstallPath) {
			s.registry.Update(installationID, func(r *registry.Record) error {
				r.Status = registry.StatusPartialDelete
				return nil
			})
			s.broadcastChanged(installationID, "partial-delete")
			go s.Delete(context.Background(), installationID, true)
			return errs.ErrCancelled
		}
		s.registry.Remove(installationID)
		if err := os.RemoveAll(rec.InstallPath); err != nil {
			s.log.Warn("remove empty install directory after cancel", zap.String("installationId", installationID), zap.Error(err))
		}
		s.broadcastChanged(installationID, "cancelled")
		return errs.ErrCancelled
	}

	s.registry.Update(installationID, func(r *registry.Record) error {
		r.Status = registry.StatusFailed
		return nil
	})
	s.broadcastChanged(installationID, "failed")
	return fmt.Errorf("install: %w", cause)
}
