// Package standalone implements the Standalone/Source plugin variant
// (spec.md §4.8): a checked-out source tree with one or more named
// package environments, whose dependencies are managed via the external
// "uv" package manager rather than the installer pipeline's own archive
// codec.
package standalone

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/streamspace-dev/payload-launcher/internal/errs"
	"github.com/streamspace-dev/payload-launcher/internal/plugin"
	"github.com/streamspace-dev/payload-launcher/internal/registry"
)

const (
	markerFile  = ".LAUNCHER_MARKER"
	entryPoint  = "main.py"
	envsDirName = "envs"
)

// Plugin implements the standalone/source variant.
type Plugin struct {
	// CloneFunc performs the initial git clone; defaulted to a real git
	// invocation via defaultClone, injectable for tests.
	CloneFunc func(ctx context.Context, remoteURL, branch, dest string) error
	// UVPath is the "uv" binary used for environment sync; defaults to
	// "uv" on PATH.
	UVPath string
}

func (p *Plugin) ID() string                { return "standalone" }
func (p *Plugin) Label() string             { return "Standalone (Source)" }
func (p *Plugin) Category() plugin.Category { return plugin.CategoryLocal }

func (p *Plugin) Fields() []plugin.Field {
	return []plugin.Field{
		{ID: "name", Label: "Name", Type: "text", Required: true},
		{ID: "installPath", Label: "Install Location", Type: "path", Required: true},
		{ID: "remoteUrl", Label: "Repository URL", Type: "text", Required: true},
		{ID: "branch", Label: "Branch", Type: "text", Required: false},
	}
}

func (p *Plugin) InstallSteps() []string {
	return []string{"download", "deps", "setup"}
}

func (p *Plugin) BuildInstallation(ctx context.Context, selections map[string]any) (registry.Record, error) {
	name, _ := selections["name"].(string)
	installPath, _ := selections["installPath"].(string)
	remoteURL, _ := selections["remoteUrl"].(string)
	branch, _ := selections["branch"].(string)
	if name == "" || installPath == "" || remoteURL == "" {
		return registry.Record{}, fmt.Errorf("%w: name, installPath, remoteUrl are required", errs.ErrInvalidConfig)
	}
	if branch == "" {
		branch = "main"
	}
	return registry.Record{
		ID:          uuid.NewString(),
		Name:        name,
		SourceID:    p.ID(),
		InstallPath: installPath,
		Status:      registry.StatusNew,
		CreatedAt:   time.Now(),
		RemoteURL:   remoteURL,
		Branch:      branch,
		LaunchMode:  registry.LaunchModeWindow,
	}, nil
}

// Install clones the repository and syncs its default environment.
func (p *Plugin) Install(ctx context.Context, rec registry.Record, tools plugin.Tools) error {
	clone := p.CloneFunc
	if clone == nil {
		clone = p.defaultClone
	}

	if tools.SendProgress != nil {
		tools.SendProgress("download", 0, nil)
	}
	if err := clone(ctx, rec.RemoteURL, rec.Branch, rec.InstallPath); err != nil {
		return err
	}

	if err := os.WriteFile(filepath.Join(rec.InstallPath, markerFile), []byte(rec.ID), 0o644); err != nil {
		return err
	}

	if tools.SendProgress != nil {
		tools.SendProgress("deps", -1, nil)
	}
	return p.syncEnv(ctx, rec, "default", tools)
}

func (p *Plugin) defaultClone(ctx context.Context, remoteURL, branch, dest string) error {
	cmd := exec.CommandContext(ctx, "git", "clone", "--branch", branch, "--depth", "1", remoteURL, dest)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("git clone: %w: %s", err, out)
	}
	return nil
}

func (p *Plugin) uvPath() string {
	if p.UVPath != "" {
		return p.UVPath
	}
	return "uv"
}

// syncEnv runs `uv sync` inside the named environment's directory under
// envs/, creating it first if absent.
func (p *Plugin) syncEnv(ctx context.Context, rec registry.Record, envName string, tools plugin.Tools) error {
	envDir := filepath.Join(rec.InstallPath, envsDirName, envName)
	if err := os.MkdirAll(envDir, 0o755); err != nil {
		return err
	}
	cmd := exec.CommandContext(ctx, p.uvPath(), "sync")
	cmd.Dir = envDir
	out, err := cmd.CombinedOutput()
	if tools.SendOutput != nil {
		tools.SendOutput(string(out))
	}
	if err != nil {
		return fmt.Errorf("%w: uv sync: %v", errs.ErrNoEnvFound, err)
	}
	return nil
}

func (p *Plugin) ProbeInstallation(ctx context.Context, dir string) (bool, error) {
	_, err := os.Stat(filepath.Join(dir, ".git"))
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	_, err = os.Stat(filepath.Join(dir, entryPoint))
	return err == nil, nil
}

func (p *Plugin) GetLaunchCommand(ctx context.Context, rec registry.Record) (plugin.LaunchCommand, error) {
	envDir := filepath.Join(rec.InstallPath, envsDirName, "default")
	py := filepath.Join(envDir, ".venv", "bin", "python")
	if _, err := os.Stat(py); err != nil {
		return plugin.LaunchCommand{}, fmt.Errorf("%w: environment not set up", errs.ErrNoEnvFound)
	}
	args := []string{filepath.Join(rec.InstallPath, entryPoint)}
	if rec.LaunchArgs != "" {
		args = append(args, strings.Fields(rec.LaunchArgs)...)
	}
	return plugin.LaunchCommand{Cmd: py, Args: args, Cwd: rec.InstallPath, Port: 8188}, nil
}

func (p *Plugin) GetDetailSections(ctx context.Context, rec registry.Record) ([]plugin.DetailSection, error) {
	return []plugin.DetailSection{
		{Title: "Source", Rows: map[string]string{"remote": rec.RemoteURL, "branch": rec.Branch, "commit": rec.Commit}},
	}, nil
}

func (p *Plugin) GetListActions(rec registry.Record) []plugin.ListAction {
	return []plugin.ListAction{
		{ID: "pull", Label: "Pull latest"},
		{ID: "sync-env", Label: "Resync environment"},
	}
}

func (p *Plugin) GetFieldOptions(ctx context.Context, fieldID string, selections map[string]any) ([]plugin.Option, error) {
	return nil, nil
}

func (p *Plugin) HandleAction(ctx context.Context, actionID string, rec registry.Record, actionData map[string]any, tools plugin.Tools) (plugin.ActionResult, error) {
	switch actionID {
	case "pull":
		cmd := exec.CommandContext(ctx, "git", "pull", "--ff-only")
		cmd.Dir = rec.InstallPath
		out, err := cmd.CombinedOutput()
		if tools.SendOutput != nil {
			tools.SendOutput(string(out))
		}
		if err != nil {
			return plugin.ActionResult{OK: false, Message: err.Error()}, nil
		}
		return plugin.ActionResult{OK: true}, nil
	case "sync-env":
		if err := p.syncEnv(ctx, rec, "default", tools); err != nil {
			return plugin.ActionResult{OK: false, Message: err.Error()}, nil
		}
		return plugin.ActionResult{OK: true}, nil
	default:
		return plugin.ActionResult{}, fmt.Errorf("%w: %s", errs.ErrNoLaunchSupport, actionID)
	}
}
