// Package cloud implements the Cloud plugin variant (spec.md §4.8): a
// single hardcoded remote endpoint, offered as a zero-configuration
// option distinct from the user-supplied Remote variant.
package cloud

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/streamspace-dev/payload-launcher/internal/errs"
	"github.com/streamspace-dev/payload-launcher/internal/plugin"
	"github.com/streamspace-dev/payload-launcher/internal/registry"
)

// DefaultEndpoint is the hardcoded cloud service URL.
const DefaultEndpoint = "https://cloud.payload.example/api"

// Plugin implements the cloud variant. Endpoint is overridable for tests.
type Plugin struct {
	Endpoint string
}

func (p *Plugin) endpoint() string {
	if p.Endpoint != "" {
		return p.Endpoint
	}
	return DefaultEndpoint
}

func (p *Plugin) ID() string                { return "cloud" }
func (p *Plugin) Label() string             { return "Cloud" }
func (p *Plugin) Category() plugin.Category { return plugin.CategoryRemote }

func (p *Plugin) Fields() []plugin.Field {
	return []plugin.Field{{ID: "name", Label: "Name", Type: "text", Required: true}}
}

func (p *Plugin) BuildInstallation(ctx context.Context, selections map[string]any) (registry.Record, error) {
	name, _ := selections["name"].(string)
	if name == "" {
		return registry.Record{}, fmt.Errorf("%w: name is required", errs.ErrInvalidConfig)
	}
	return registry.Record{
		ID:         uuid.NewString(),
		Name:       name,
		SourceID:   p.ID(),
		Status:     registry.StatusInstalled,
		CreatedAt:  time.Now(),
		RemoteURL:  p.endpoint(),
		LaunchMode: registry.LaunchModeWindow,
		Seen:       true,
	}, nil
}

func (p *Plugin) GetLaunchCommand(ctx context.Context, rec registry.Record) (plugin.LaunchCommand, error) {
	return plugin.LaunchCommand{Remote: true, URL: p.endpoint()}, nil
}

func (p *Plugin) GetDetailSections(ctx context.Context, rec registry.Record) ([]plugin.DetailSection, error) {
	return []plugin.DetailSection{{Title: "Cloud", Rows: map[string]string{"endpoint": p.endpoint()}}}, nil
}

func (p *Plugin) GetListActions(rec registry.Record) []plugin.ListAction { return nil }

func (p *Plugin) GetFieldOptions(ctx context.Context, fieldID string, selections map[string]any) ([]plugin.Option, error) {
	return nil, nil
}

func (p *Plugin) HandleAction(ctx context.Context, actionID string, rec registry.Record, actionData map[string]any, tools plugin.Tools) (plugin.ActionResult, error) {
	return plugin.ActionResult{}, fmt.Errorf("%w: %s", errs.ErrNoLaunchSupport, actionID)
}
