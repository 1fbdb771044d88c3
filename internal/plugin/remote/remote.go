// Package remote implements the Remote plugin variant (spec.md §4.8): a
// user-supplied URL to an already-running payload instance. It has no
// install path and GetLaunchCommand returns a remote connect descriptor
// instead of a spawn descriptor.
package remote

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/google/uuid"

	"github.com/streamspace-dev/payload-launcher/internal/errs"
	"github.com/streamspace-dev/payload-launcher/internal/plugin"
	"github.com/streamspace-dev/payload-launcher/internal/registry"
)

// Plugin implements the remote-endpoint variant.
type Plugin struct{}

func (p *Plugin) ID() string                { return "remote" }
func (p *Plugin) Label() string             { return "Remote Endpoint" }
func (p *Plugin) Category() plugin.Category { return plugin.CategoryRemote }

func (p *Plugin) Fields() []plugin.Field {
	return []plugin.Field{
		{ID: "name", Label: "Name", Type: "text", Required: true},
		{ID: "remoteUrl", Label: "Endpoint URL", Type: "text", Required: true},
	}
}

func (p *Plugin) BuildInstallation(ctx context.Context, selections map[string]any) (registry.Record, error) {
	name, _ := selections["name"].(string)
	remoteURL, _ := selections["remoteUrl"].(string)
	if name == "" || remoteURL == "" {
		return registry.Record{}, fmt.Errorf("%w: name, remoteUrl are required", errs.ErrInvalidConfig)
	}
	if _, err := url.ParseRequestURI(remoteURL); err != nil {
		return registry.Record{}, fmt.Errorf("%w: invalid remoteUrl: %v", errs.ErrInvalidConfig, err)
	}
	return registry.Record{
		ID:         uuid.NewString(),
		Name:       name,
		SourceID:   p.ID(),
		Status:     registry.StatusInstalled,
		CreatedAt:  time.Now(),
		RemoteURL:  remoteURL,
		LaunchMode: registry.LaunchModeWindow,
		Seen:       true,
	}, nil
}

func (p *Plugin) GetLaunchCommand(ctx context.Context, rec registry.Record) (plugin.LaunchCommand, error) {
	u, err := url.Parse(rec.RemoteURL)
	if err != nil {
		return plugin.LaunchCommand{}, fmt.Errorf("%w: %v", errs.ErrInvalidConfig, err)
	}
	port := 0
	if p := u.Port(); p != "" {
		fmt.Sscanf(p, "%d", &port)
	}
	return plugin.LaunchCommand{Remote: true, URL: rec.RemoteURL, Port: port}, nil
}

func (p *Plugin) GetDetailSections(ctx context.Context, rec registry.Record) ([]plugin.DetailSection, error) {
	return []plugin.DetailSection{{Title: "Endpoint", Rows: map[string]string{"url": rec.RemoteURL}}}, nil
}

func (p *Plugin) GetListActions(rec registry.Record) []plugin.ListAction { return nil }

func (p *Plugin) GetFieldOptions(ctx context.Context, fieldID string, selections map[string]any) ([]plugin.Option, error) {
	return nil, nil
}

func (p *Plugin) HandleAction(ctx context.Context, actionID string, rec registry.Record, actionData map[string]any, tools plugin.Tools) (plugin.ActionResult, error) {
	return plugin.ActionResult{}, fmt.Errorf("%w: %s", errs.ErrNoLaunchSupport, actionID)
}
