// Package gitsource implements the Git plugin variant (spec.md §4.8):
// tracks an already-existing source-controlled working copy with no
// managed install path of its own — the user points the installation at
// a directory they maintain.
package gitsource

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

// Plugin implements the git-tracked working-copy variant. It has no
// Install step: InstallPath is expected to already exist and contain a
// working repository.
type Plugin struct{}

func (p *Plugin) ID() string                { return "git" }
func (p *Plugin) Label() string             { return "Git Working Copy" }
func (p *Plugin) Category() plugin.Category { return plugin.CategoryLocal }

func (p *Plugin) Fields() []plugin.Field {
	return []plugin.Field{
		{ID: "name", Label: "Name", Type: "text", Required: true},
		{ID: "installPath", Label: "Working Copy Path", Type: "path", Required: true},
	}
}

func (p *Plugin) BuildInstallation(ctx context.Context, selections map[string]any) (registry.Record, error) {
	name, _ := selections["name"].(string)
	installPath, _ := selections["installPath"].(string)
	if name == "" || installPath == "" {
		return registry.Record{}, fmt.Errorf("%w: name, installPath are required", errs.ErrInvalidConfig)
	}
	if _, err := os.Stat(filepath.Join(installPath, ".git")); err != nil {
		return registry.Record{}, fmt.Errorf("%w: %s is not a git working copy", errs.ErrPathDoesNotExist, installPath)
	}
	commit, _ := currentCommit(ctx, installPath)
	return registry.Record{
		ID:          uuid.NewString(),
		Name:        name,
		SourceID:    p.ID(),
		InstallPath: installPath,
		Status:      registry.StatusInstalled,
		CreatedAt:   time.Now(),
		Commit:      commit,
		LaunchMode:  registry.LaunchModeWindow,
		Seen:        true,
	}, nil
}

func currentCommit(ctx context.Context, dir string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", "rev-parse", "HEAD")
	cmd.Dir = dir
	out, err := cmd.Output()
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}

func (p *Plugin) ProbeInstallation(ctx context.Context, dir string) (bool, error) {
	_, err := os.Stat(filepath.Join(dir, ".git"))
	if os.IsNotExist(err) {
		return false, nil
	}
	return err == nil, err
}

func (p *Plugin) GetLaunchCommand(ctx context.Context, rec registry.Record) (plugin.LaunchCommand, error) {
	py := "python3"
	if venv := filepath.Join(rec.InstallPath, "venv", "bin", "python"); fileExists(venv) {
		py = venv
	}
	args := []string{filepath.Join(rec.InstallPath, "main.py")}
	if rec.LaunchArgs != "" {
		args = append(args, strings.Fields(rec.LaunchArgs)...)
	}
	return plugin.LaunchCommand{Cmd: py, Args: args, Cwd: rec.InstallPath, Port: 8188}, nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func (p *Plugin) GetDetailSections(ctx context.Context, rec registry.Record) ([]plugin.DetailSection, error) {
	return []plugin.DetailSection{
		{Title: "Working Copy", Rows: map[string]string{"path": rec.InstallPath, "commit": rec.Commit}},
	}, nil
}

func (p *Plugin) GetListActions(rec registry.Record) []plugin.ListAction {
	return []plugin.ListAction{{ID: "refresh-commit", Label: "Refresh commit info"}}
}

func (p *Plugin) GetFieldOptions(ctx context.Context, fieldID string, selections map[string]any) ([]plugin.Option, error) {
	return nil, nil
}

func (p *Plugin) HandleAction(ctx context.Context, actionID string, rec registry.Record, actionData map[string]any, tools plugin.Tools) (plugin.ActionResult, error) {
	switch actionID {
	case "refresh-commit":
		commit, err := currentCommit(ctx, rec.InstallPath)
		if err != nil {
			return plugin.ActionResult{OK: false, Message: err.Error()}, nil
		}
		if tools.Update != nil {
			if _, err := tools.Update(func(r *registry.Record) error {
				r.Commit = commit
				return nil
			}); err != nil {
				return plugin.ActionResult{OK: false, Message: err.Error()}, nil
			}
		}
		return plugin.ActionResult{OK: true}, nil
	default:
		return plugin.ActionResult{}, fmt.Errorf("%w: %s", errs.ErrNoLaunchSupport, actionID)
	}
}
