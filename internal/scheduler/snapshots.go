package scheduler

import (
	"fmt"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/streamspace-dev/payload-launcher/internal/errs"
	"github.com/streamspace-dev/payload-launcher/internal/plugin"
	"github.com/streamspace-dev/payload-launcher/internal/registry"
	"github.com/streamspace-dev/payload-launcher/internal/snapshot"
)

// snapshotStoreDir is the per-installation directory the Snapshot Engine
// reads and writes, alongside the ownership marker every local plugin
// writes at install time.
func snapshotStoreDir(rec registry.Record) string {
	return filepath.Join(rec.InstallPath, ".launcher", "snapshots")
}

// captureSnapshot captures and persists a snapshot for installationID,
// driving the snapshot package against the Scheduler's environment
// adapters (spec.md C10/C11: the Scheduler is what drives the snapshot
// package, not any individual plugin).
func (s *Scheduler) captureSnapshot(installationID string, trigger snapshot.Trigger, label string) (string, error) {
	rec, ok := s.registry.Get(installationID)
	if !ok {
		return "", errs.ErrUnknownInstallation
	}

	store, err := snapshot.NewStore(snapshotStoreDir(rec))
	if err != nil {
		return "", err
	}

	snap, err := snapshot.Capture(trigger, label, s.snapshotEnvironment(rec))
	if err != nil {
		return "", fmt.Errorf("capture snapshot: %w", err)
	}

	name, err := store.Write(snap)
	if err != nil {
		return "", fmt.Errorf("write snapshot: %w", err)
	}
	return name, nil
}

// captureBootSnapshots takes a boot-triggered snapshot of every installed
// local-category installation, mirroring sweepEmptyInstalls' loop over
// the registry (spec.md §4.11 "Startup sweep" / §4.10 "on-boot capture").
func (s *Scheduler) captureBootSnapshots() {
	for _, rec := range s.registry.List() {
		p, ok := s.plugins.Get(rec.SourceID)
		if !ok || p.Category() != plugin.CategoryLocal {
			continue
		}
		if rec.Status != registry.StatusInstalled {
			continue
		}
		if _, err := s.captureSnapshot(rec.ID, snapshot.TriggerBoot, ""); err != nil {
			s.log.Warn("capture boot snapshot", zap.String("installationId", rec.ID), zap.Error(err))
		}
	}
}

// handleCaptureSnapshot implements the "capture-snapshot" core action:
// an on-demand, labelled manual capture.
func (s *Scheduler) handleCaptureSnapshot(installationID string, actionData map[string]any) (plugin.ActionResult, error) {
	label := stringField(actionData, "label")
	name, err := s.captureSnapshot(installationID, snapshot.TriggerManual, label)
	if err != nil {
		return plugin.ActionResult{}, err
	}
	return plugin.ActionResult{OK: true, Data: map[string]string{"snapshot": name}}, nil
}

// handleListSnapshots implements the "list-snapshots" core action,
// returning every stored snapshot's file name and headline fields
// through ActionResult.Data (the controlapi's generic action route
// already serializes whatever Data holds).
func (s *Scheduler) handleListSnapshots(installationID string) (plugin.ActionResult, error) {
	rec, ok := s.registry.Get(installationID)
	if !ok {
		return plugin.ActionResult{}, errs.ErrUnknownInstallation
	}
	store, err := snapshot.NewStore(snapshotStoreDir(rec))
	if err != nil {
		return plugin.ActionResult{}, err
	}
	entries, err := store.List()
	if err != nil {
		return plugin.ActionResult{}, err
	}

	type summary struct {
		Name    string `json:"name"`
		Trigger string `json:"trigger"`
		Label   string `json:"label"`
	}
	out := make([]summary, 0, len(entries))
	for _, e := range entries {
		out = append(out, summary{Name: e.Name(), Trigger: string(e.Snap().Trigger), Label: e.Snap().Label})
	}
	return plugin.ActionResult{OK: true, Data: out}, nil
}

// handleRestoreSnapshot implements the "restore" core action: it restores
// extensions and packages to the state the named snapshot recorded,
// taking a pre-update snapshot first so the restore itself is reversible
// (spec.md §4.10's restore sequence).
func (s *Scheduler) handleRestoreSnapshot(installationID string, actionData map[string]any) (plugin.ActionResult, error) {
	name := stringField(actionData, "snapshot")
	if name == "" {
		return plugin.ActionResult{}, fmt.Errorf("%w: restore requires a snapshot name", errs.ErrInvalidConfig)
	}

	rec, ok := s.registry.Get(installationID)
	if !ok {
		return plugin.ActionResult{}, errs.ErrUnknownInstallation
	}

	opCtx, release, err := s.acquire(installationID, "restore")
	if err != nil {
		return plugin.ActionResult{}, err
	}
	defer release()

	store, err := snapshot.NewStore(snapshotStoreDir(rec))
	if err != nil {
		return plugin.ActionResult{}, err
	}
	target, err := store.Load(name)
	if err != nil {
		return plugin.ActionResult{}, err
	}

	if _, err := s.captureSnapshot(installationID, snapshot.TriggerPreUpdate, "pre-restore"); err != nil {
		s.log.Warn("capture pre-restore snapshot", zap.String("installationId", installationID), zap.Error(err))
	}

	live, err := snapshot.Capture(snapshot.TriggerManual, "", s.snapshotEnvironment(rec))
	if err != nil {
		return plugin.ActionResult{}, fmt.Errorf("read live environment: %w", err)
	}

	extResult := snapshot.RestoreExtensions(target.Extensions, live.Extensions, s.extensionEnvironment(rec))
	if len(extResult.Failed) > 0 {
		s.log.Warn("restore extensions", zap.String("installationId", installationID), zap.Strings("failed", extResult.Failed))
	}

	plan := snapshot.PlanPackageRestore(target.Packages, live.Packages)
	pkgResult, err := snapshot.RestorePackages(plan, s.packageEnvironment(rec))
	if err != nil {
		return plugin.ActionResult{OK: false, Message: err.Error(), Data: map[string]any{"extensions": extResult, "packages": pkgResult}}, nil
	}

	if opCtx.Err() != nil {
		return plugin.ActionResult{}, errs.ErrCancelled
	}

	s.broadcastChanged(installationID, "restored")
	return plugin.ActionResult{OK: true, Data: map[string]any{"extensions": extResult, "packages": pkgResult}}, nil
}
