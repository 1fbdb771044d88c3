// Package plugin defines the Source Plugin contract (spec.md C8): a
// closed set of variants — portable, standalone, git, remote, cloud —
// each describing how its own kind of installation is built, launched,
// and acted upon. The Scheduler resolves a Plugin by the installation's
// SourceID and never holds variant-specific knowledge itself.
package plugin

import (
	"context"

	"github.com/streamspace-dev/payload-launcher/internal/registry"
	"github.com/streamspace-dev/payload-launcher/internal/releasecache"
)

// Category groups plugins for presentation (e.g. "local", "remote").
type Category string

const (
	CategoryLocal  Category = "local"
	CategoryRemote Category = "remote"
)

// Field describes one piece of user input a plugin's "new installation"
// form collects, per spec.md §4.8's field-schema element of the contract.
type Field struct {
	ID          string
	Label       string
	Type        string // "text", "select", "path", "bool"
	Required    bool
	DefaultFunc func(ctx context.Context) (any, error)
}

// Option is one entry returned by GetFieldOptions, e.g. a release tag or
// a branch name.
type Option struct {
	Value string
	Label string
}

// Tools is the capability set passed into Install and HandleAction, the
// Go expression of spec.md §4.8's "{sendProgress, download, cache,
// extract, signal}"/"{update, sendProgress, sendOutput, signal}" tool
// bags. Plugins also do file and process I/O of their own (writing the
// ownership marker, running git or uv) inside the installation's
// InstallPath.
type Tools struct {
	SendProgress func(phase string, percent float64, detail map[string]any)
	SendOutput   func(line string)
	Download     func(ctx context.Context, url, destPath string, onProgress func(pct float64)) (string, error)
	Extract      func(ctx context.Context, archive, destDir string, onProgress func(pct float64)) error
	CacheDir     func() string
	Update       func(fn func(*registry.Record) error) (registry.Record, error)
}

// LaunchCommand is what GetLaunchCommand returns: either a local spawn
// descriptor or, for the Remote/Cloud variants, a bare URL to connect to.
type LaunchCommand struct {
	Remote bool
	URL    string
	Cmd    string
	Args   []string
	Cwd    string
	Port   int
}

// DetailSection is one block of read-only information shown about an
// installation (version, environment, etc).
type DetailSection struct {
	Title string
	Rows  map[string]string
}

// ListAction is one action a plugin exposes on an installation's card,
// beyond the Scheduler's core-level actions.
type ListAction struct {
	ID    string
	Label string
}

// ActionResult mirrors spec.md §6's action contract.
type ActionResult struct {
	OK            bool
	Navigate      string
	Message       string
	Mode          string
	Port          int
	URL           string
	PortConflict  *PortConflictInfo
	Data          any
}

// PortConflictInfo surfaces a blocked launch's detail back through the
// action contract.
type PortConflictInfo struct {
	Port     int
	PIDs     []int
	IsComfy  bool
	NextPort int
}

// Plugin is the full capability set a Source Plugin variant implements.
// Optional members of spec.md §4.8's capability set (install, postInstall,
// probeInstallation, getDefaults, getStatusTag, installSteps) are exposed
// as separate optional interfaces below rather than nil-checked fields,
// so a variant that doesn't support them simply doesn't implement the
// interface.
type Plugin interface {
	ID() string
	Label() string
	Category() Category
	Fields() []Field
	BuildInstallation(ctx context.Context, selections map[string]any) (registry.Record, error)
	GetLaunchCommand(ctx context.Context, rec registry.Record) (LaunchCommand, error)
	GetDetailSections(ctx context.Context, rec registry.Record) ([]DetailSection, error)
	GetListActions(rec registry.Record) []ListAction
	GetFieldOptions(ctx context.Context, fieldID string, selections map[string]any) ([]Option, error)
	HandleAction(ctx context.Context, actionID string, rec registry.Record, actionData map[string]any, tools Tools) (ActionResult, error)
}

// Installer is implemented by variants that download/build their own
// on-disk payload (Portable, Standalone). Git/Remote/Cloud variants skip
// it — Git tracks an existing working copy, Remote/Cloud have no local
// install step.
type Installer interface {
	Install(ctx context.Context, rec registry.Record, tools Tools) error
}

// PostInstaller runs after Install succeeds (and after a release-update's
// fresh install). Portable implements it; its PostInstall only checks
// for the bundled updater script and does not run it.
type PostInstaller interface {
	PostInstall(ctx context.Context, rec registry.Record, tools Tools) error
}

// Prober identifies whether an arbitrary directory already contains an
// installation this plugin recognizes, used for import/adopt flows.
type Prober interface {
	ProbeInstallation(ctx context.Context, dir string) (bool, error)
}

// Defaulter supplies default field selections before the user has chosen
// anything, e.g. the latest release tag.
type Defaulter interface {
	GetDefaults(ctx context.Context) (map[string]any, error)
}

// StatusTagger contributes an extra badge string for the installation
// list (e.g. "N commits ahead").
type StatusTagger interface {
	GetStatusTag(ctx context.Context, rec registry.Record) (string, error)
}

// StepLister exposes the ordered list of install steps the progress
// sink's "steps" phase should announce before work starts.
type StepLister interface {
	InstallSteps() []string
}

// UpdateChecker lets a variant supply the fetcher the Scheduler's
// periodic update poll uses against the Release Metadata Cache (C9) for
// its own host/repo shape. None of the built-in variants (portable,
// standalone, git, remote, cloud) implements it, so the poll fetches no
// release data for their installations.
type UpdateChecker interface {
	ReleaseFetcher() releasecache.Fetcher
}

// CopyFixer lets a plugin rewrite absolute paths baked into its config
// files after Copy duplicates an installation directory.
type CopyFixer interface {
	FixupCopy(ctx context.Context, rec registry.Record) error
}

// Registry is the closed set of known plugins, keyed by ID.
type Registry struct {
	plugins map[string]Plugin
}

// NewRegistry builds a Registry from the given plugins, keyed by their
// own ID() — the closed set spec.md §4.8 describes.
func NewRegistry(plugins ...Plugin) *Registry {
	r := &Registry{plugins: make(map[string]Plugin, len(plugins))}
	for _, p := range plugins {
		r.plugins[p.ID()] = p
	}
	return r
}

// Get resolves a plugin by source id.
func (r *Registry) Get(sourceID string) (Plugin, bool) {
	p, ok := r.plugins[sourceID]
	return p, ok
}

// All returns every registered plugin, for listing available sources.
func (r *Registry) All() []Plugin {
	out := make([]Plugin, 0, len(r.plugins))
	for _, p := range r.plugins {
		out = append(out, p)
	}
	return out
}
