// Package registry implements the ordered, persistent Installation
// Registry (spec.md C2/§3). All mutating operations acquire an internal
// lock, mutate an in-memory copy, then atomically persist — the same
// temp-write-then-rename discipline the teacher applies to its lock
// files in internal/leaderelection.
package registry

import "time"

// Status is the installation lifecycle state (spec.md §3, transitions in
// spec.md §4.11).
type Status string

const (
	StatusNew           Status = "new"
	StatusInstalling    Status = "installing"
	StatusInstalled     Status = "installed"
	StatusFailed        Status = "failed"
	StatusPartialDelete Status = "partial-delete"
)

// LaunchMode is how the payload window is presented.
type LaunchMode string

const (
	LaunchModeWindow  LaunchMode = "window"
	LaunchModeConsole LaunchMode = "console"
)

// BrowserPartition controls whether a remote/window launch shares cookie
// storage across installations.
type BrowserPartition string

const (
	BrowserPartitionShared BrowserPartition = "shared"
	BrowserPartitionUnique BrowserPartition = "unique"
)

// PortConflictPolicy controls launch behavior when the target port is
// occupied (spec.md §4.11 step 5).
type PortConflictPolicy string

const (
	PortConflictAsk  PortConflictPolicy = "ask"
	PortConflictAuto PortConflictPolicy = "auto"
)

// UpdateTrack is the named upstream release channel (spec.md glossary).
type UpdateTrack string

const (
	TrackStable UpdateTrack = "stable"
	TrackLatest UpdateTrack = "latest"
)

// TrackInfo is the per-track memory of what was last applied to this
// installation (spec.md §3 updateInfoByTrack).
type TrackInfo struct {
	InstalledTag string `json:"installedTag"`
}

// Record is a single Installation (spec.md §3). Variant-specific fields
// that don't apply to a given SourceID are simply left zero-valued; the
// source plugin for that SourceID is the only code that interprets them.
type Record struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	SourceID       string    `json:"sourceId"`
	InstallPath    string    `json:"installPath"`
	Status         Status    `json:"status"`
	CreatedAt      time.Time `json:"createdAt"`
	LastLaunchedAt time.Time `json:"lastLaunchedAt,omitempty"`

	Version           string                 `json:"version,omitempty"`
	Asset             string                 `json:"asset,omitempty"`
	DownloadURL       string                 `json:"downloadUrl,omitempty"`
	Branch            string                 `json:"branch,omitempty"`
	Commit            string                 `json:"commit,omitempty"`
	RemoteURL         string                 `json:"remoteUrl,omitempty"`
	LaunchArgs        string                 `json:"launchArgs,omitempty"`
	LaunchMode        LaunchMode             `json:"launchMode,omitempty"`
	BrowserPartition  BrowserPartition       `json:"browserPartition,omitempty"`
	PortConflict      PortConflictPolicy     `json:"portConflict,omitempty"`
	UseSharedPaths    *bool                  `json:"useSharedPaths,omitempty"`
	UpdateTrack       UpdateTrack            `json:"updateTrack,omitempty"`
	UpdateInfoByTrack map[UpdateTrack]TrackInfo `json:"updateInfoByTrack,omitempty"`
	ActiveEnv         string                 `json:"activeEnv,omitempty"`
	Seen              bool                   `json:"seen"`
	Pinned            bool                   `json:"pinned"`
	Primary           bool                   `json:"primary"`
}

// Clone returns a deep-enough copy safe for a caller to hold onto; map
// fields are copied so mutation by a borrower never reaches the registry's
// own state.
func (r Record) Clone() Record {
	c := r
	if r.UpdateInfoByTrack != nil {
		c.UpdateInfoByTrack = make(map[UpdateTrack]TrackInfo, len(r.UpdateInfoByTrack))
		for k, v := range r.UpdateInfoByTrack {
			c.UpdateInfoByTrack[k] = v
		}
	}
	return c
}

// SharedPaths reports whether shared model/input/output directories
// should be injected at launch (spec.md §4.11 step 4): defaults to true
// unless explicitly disabled.
func (r Record) SharedPaths() bool {
	return r.UseSharedPaths == nil || *r.UseSharedPaths
}
