// Package portable implements the Portable source plugin variant
// (spec.md §4.8): a prebuilt archive is downloaded, extracted, and
// launched by invoking an embedded interpreter against an entry-point
// file. A bundled "updater" script is left in place after extraction and
// is not run.
package portable

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/streamspace-dev/payload-launcher/internal/errs"
	"github.com/streamspace-dev/payload-launcher/internal/plugin"
	"github.com/streamspace-dev/payload-launcher/internal/registry"
)

const (
	// markerFile is written at the install root so delete's safety check
	// (spec.md §4.11) can verify the path is one this system manages.
	markerFile = ".LAUNCHER_MARKER"

	entryPoint      = "main.py"
	interpreterName = "python_embeded/python"
	updaterScript   = "update.py"
)

// Plugin implements plugin.Plugin, plugin.Installer, plugin.PostInstaller,
// plugin.Prober and plugin.StepLister for the portable variant.
type Plugin struct {
	// ReleaseURL resolves a release tag to a downloadable archive URL.
	// Injected so tests and the real release-metadata cache can both
	// supply one without this package depending on HTTP directly.
	ReleaseURL func(ctx context.Context, tag string) (url, asset string, err error)
}

func (p *Plugin) ID() string             { return "portable" }
func (p *Plugin) Label() string          { return "Portable" }
func (p *Plugin) Category() plugin.Category { return plugin.CategoryLocal }

func (p *Plugin) Fields() []plugin.Field {
	return []plugin.Field{
		{ID: "name", Label: "Name", Type: "text", Required: true},
		{ID: "installPath", Label: "Install Location", Type: "path", Required: true},
		{ID: "version", Label: "Release", Type: "select", Required: true},
	}
}

func (p *Plugin) InstallSteps() []string {
	return []string{"download", "extract", "launch"}
}

func (p *Plugin) BuildInstallation(ctx context.Context, selections map[string]any) (registry.Record, error) {
	name, _ := selections["name"].(string)
	installPath, _ := selections["installPath"].(string)
	version, _ := selections["version"].(string)
	if name == "" || installPath == "" || version == "" {
		return registry.Record{}, fmt.Errorf("%w: name, installPath, version are required", errs.ErrInvalidConfig)
	}

	url, asset := "", ""
	if p.ReleaseURL != nil {
		var err error
		url, asset, err = p.ReleaseURL(ctx, version)
		if err != nil {
			return registry.Record{}, err
		}
	}

	return registry.Record{
		ID:          uuid.NewString(),
		Name:        name,
		SourceID:    p.ID(),
		InstallPath: installPath,
		Status:      registry.StatusNew,
		CreatedAt:   time.Now(),
		Version:     version,
		Asset:       asset,
		DownloadURL: url,
		LaunchMode:  registry.LaunchModeWindow,
		UpdateTrack: registry.TrackStable,
	}, nil
}

// Install downloads the release archive and extracts it into
// rec.InstallPath, then writes the ownership marker.
func (p *Plugin) Install(ctx context.Context, rec registry.Record, tools plugin.Tools) error {
	if rec.DownloadURL == "" {
		return fmt.Errorf("%w: record has no downloadUrl", errs.ErrInvalidConfig)
	}

	cacheDir := tools.CacheDir()
	archivePath := filepath.Join(cacheDir, rec.Asset)

	if tools.SendProgress != nil {
		tools.SendProgress("download", 0, nil)
	}
	if _, err := tools.Download(ctx, rec.DownloadURL, archivePath, func(pct float64) {
		if tools.SendProgress != nil {
			tools.SendProgress("download", pct, nil)
		}
	}); err != nil {
		return err
	}

	if err := os.MkdirAll(rec.InstallPath, 0o755); err != nil {
		return err
	}
	if tools.SendProgress != nil {
		tools.SendProgress("extract", 0, nil)
	}
	if err := tools.Extract(ctx, archivePath, rec.InstallPath, func(pct float64) {
		if tools.SendProgress != nil {
			tools.SendProgress("extract", pct, nil)
		}
	}); err != nil {
		return err
	}

	return os.WriteFile(filepath.Join(rec.InstallPath, markerFile), []byte(rec.ID), 0o644)
}

// PostInstall checks for the bundled updater script and returns nil
// whether or not it is present. It does not run the script, and the
// Scheduler does not run it either.
func (p *Plugin) PostInstall(ctx context.Context, rec registry.Record, tools plugin.Tools) error {
	updaterPath := filepath.Join(rec.InstallPath, updaterScript)
	if _, err := os.Stat(updaterPath); os.IsNotExist(err) {
		return nil
	}
	return nil
}

func (p *Plugin) ProbeInstallation(ctx context.Context, dir string) (bool, error) {
	_, err := os.Stat(filepath.Join(dir, interpreterName))
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	_, err = os.Stat(filepath.Join(dir, entryPoint))
	if os.IsNotExist(err) {
		return false, nil
	}
	return err == nil, err
}

func (p *Plugin) GetLaunchCommand(ctx context.Context, rec registry.Record) (plugin.LaunchCommand, error) {
	interp := filepath.Join(rec.InstallPath, filepath.FromSlash(interpreterName))
	entry := filepath.Join(rec.InstallPath, entryPoint)
	if _, err := os.Stat(interp); err != nil {
		return plugin.LaunchCommand{}, fmt.Errorf("%w: embedded interpreter not found", errs.ErrNoLaunchSupport)
	}
	args := []string{entry}
	if rec.LaunchArgs != "" {
		args = append(args, strings.Fields(rec.LaunchArgs)...)
	}
	return plugin.LaunchCommand{Cmd: interp, Args: args, Cwd: rec.InstallPath, Port: 8188}, nil
}

func (p *Plugin) GetDetailSections(ctx context.Context, rec registry.Record) ([]plugin.DetailSection, error) {
	return []plugin.DetailSection{
		{Title: "Release", Rows: map[string]string{"version": rec.Version, "asset": rec.Asset}},
	}, nil
}

func (p *Plugin) GetListActions(rec registry.Record) []plugin.ListAction {
	return []plugin.ListAction{{ID: "update-comfyui", Label: "Update"}}
}

func (p *Plugin) GetFieldOptions(ctx context.Context, fieldID string, selections map[string]any) ([]plugin.Option, error) {
	return nil, nil
}

func (p *Plugin) HandleAction(ctx context.Context, actionID string, rec registry.Record, actionData map[string]any, tools plugin.Tools) (plugin.ActionResult, error) {
	switch actionID {
	case "update-comfyui":
		if rec.DownloadURL == "" {
			return plugin.ActionResult{OK: false, Message: "no release available"}, nil
		}
		if err := p.Install(ctx, rec, tools); err != nil {
			return plugin.ActionResult{OK: false, Message: err.Error()}, nil
		}
		if err := p.PostInstall(ctx, rec, tools); err != nil {
			return plugin.ActionResult{OK: false, Message: "updateFailed: " + err.Error()}, nil
		}
		return plugin.ActionResult{OK: true}, nil
	default:
		return plugin.ActionResult{}, fmt.Errorf("%w: %s", errs.ErrNoLaunchSupport, actionID)
	}
}
