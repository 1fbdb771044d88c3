// Package scheduler implements the Operation Scheduler (spec.md C11):
// the single rendezvous point that resolves a source plugin, enforces
// per-installation mutual exclusion, drives the download/extract/
// delete/snapshot/process packages, and fans progress and lifecycle
// events out to the rest of the system. No other package calls back
// into it.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/streamspace-dev/payload-launcher/internal/controlapi"
	"github.com/streamspace-dev/payload-launcher/internal/download"
	"github.com/streamspace-dev/payload-launcher/internal/errs"
	"github.com/streamspace-dev/payload-launcher/internal/events"
	"github.com/streamspace-dev/payload-launcher/internal/extract"
	"github.com/streamspace-dev/payload-launcher/internal/filecache"
	"github.com/streamspace-dev/payload-launcher/internal/ipc"
	"github.com/streamspace-dev/payload-launcher/internal/plugin"
	"github.com/streamspace-dev/payload-launcher/internal/process"
	"github.com/streamspace-dev/payload-launcher/internal/registry"
	"github.com/streamspace-dev/payload-launcher/internal/releasecache"
)

// operation is the scheduler's own cancellation token, one per
// installation id with state mutating work in flight (spec.md §4.11
// "Mutual exclusion").
type operation struct {
	cancel context.CancelFunc
	action string
}

// Session is a live launched payload process.
type Session struct {
	InstallationID string
	Handle         *process.Handle
	Port           int
	Host           string
	StartedAt      time.Time

	mu          sync.Mutex
	userStopped bool
}

func (s *Session) markUserStopped() {
	s.mu.Lock()
	s.userStopped = true
	s.mu.Unlock()
}

func (s *Session) wasUserStopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.userStopped
}

// Scheduler is the Operation Scheduler. A single instance owns the
// session map and the operation-token map; every other package it
// wires in (registry, plugin, process, download, extract, deleter,
// filecache, releasecache, events, ipc) remains free of any reference
// back to it, per spec.md §2's acyclic data-flow rule.
type Scheduler struct {
	log *zap.Logger

	registry *registry.Registry
	plugins  *plugin.Registry
	cache    *filecache.Cache
	releases *releasecache.Cache
	bus      events.Bus
	sink     *ipc.Hub

	portLockDir     string
	sharedPaths     SharedPathsConfig
	launcherDirs    []string
	updaterCacheDir string

	opsMu sync.Mutex
	ops   map[string]*operation

	sessionsMu sync.Mutex
	sessions   map[string]*Session

	cron *cron.Cron

	httpETags sync.Map // url -> etag, warmed at startup (spec.md §4.11 "ETag fan-out")
}

// SharedPathsConfig names the shared model/input/output directories
// injected into a launch command when a record's SharedPaths() is true
// (spec.md §4.11 step 4).
type SharedPathsConfig struct {
	ModelsDir string
	InputDir  string
	OutputDir string
}

// Config bundles the dependencies New needs.
type Config struct {
	Log             *zap.Logger
	Registry        *registry.Registry
	Plugins         *plugin.Registry
	Cache           *filecache.Cache
	Releases        *releasecache.Cache
	Bus             events.Bus
	Sink            *ipc.Hub
	PortLockDir     string
	SharedPaths     SharedPathsConfig
	LauncherDirs    []string
	UpdaterCacheDir string
}

// New constructs a Scheduler. The returned Scheduler's cron facility is
// not started; call Start to begin periodic update polling.
func New(cfg Config) *Scheduler {
	return &Scheduler{
		log:             cfg.Log,
		registry:        cfg.Registry,
		plugins:         cfg.Plugins,
		cache:           cfg.Cache,
		releases:        cfg.Releases,
		bus:             cfg.Bus,
		sink:            cfg.Sink,
		portLockDir:     cfg.PortLockDir,
		sharedPaths:     cfg.SharedPaths,
		launcherDirs:    cfg.LauncherDirs,
		updaterCacheDir: cfg.UpdaterCacheDir,
		ops:             map[string]*operation{},
		sessions:        map[string]*Session{},
		cron:            cron.New(),
	}
}

// acquire installs a cancellation token for id, refusing with
// ErrAnotherOperationRunning if one already exists. The returned
// release func must be called exactly once when the operation ends.
func (s *Scheduler) acquire(id, action string) (context.Context, func(), error) {
	s.opsMu.Lock()
	if _, busy := s.ops[id]; busy {
		s.opsMu.Unlock()
		return nil, nil, errs.ErrAnotherOperationRunning
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.ops[id] = &operation{cancel: cancel, action: action}
	s.opsMu.Unlock()

	release := func() {
		s.opsMu.Lock()
		delete(s.ops, id)
		s.opsMu.Unlock()
	}
	return ctx, release, nil
}

// Cancel requests cancellation of the operation currently running
// against id, if any.
func (s *Scheduler) Cancel(id string) bool {
	s.opsMu.Lock()
	defer s.opsMu.Unlock()
	op, ok := s.ops[id]
	if !ok {
		return false
	}
	op.cancel()
	return true
}

func (s *Scheduler) session(id string) (*Session, bool) {
	s.sessionsMu.Lock()
	defer s.sessionsMu.Unlock()
	sess, ok := s.sessions[id]
	return sess, ok
}

func (s *Scheduler) addSession(sess *Session) {
	s.sessionsMu.Lock()
	s.sessions[sess.InstallationID] = sess
	s.sessionsMu.Unlock()
	s.broadcastChanged(sess.InstallationID, "launched")
}

// removeSession deletes the session entry and returns it, mirroring the
// exit handler's "was `_removeSession` called first" check (spec.md
// §4.11 "Exit handler").
func (s *Scheduler) removeSession(id string) (*Session, bool) {
	s.sessionsMu.Lock()
	defer s.sessionsMu.Unlock()
	sess, ok := s.sessions[id]
	if ok {
		delete(s.sessions, id)
	}
	return sess, ok
}

// Sessions lists every live session, satisfying controlapi.Scheduler for
// the healthz endpoint's active-session count.
func (s *Scheduler) Sessions() []controlapi.SessionInfo {
	s.sessionsMu.Lock()
	defer s.sessionsMu.Unlock()
	out := make([]controlapi.SessionInfo, 0, len(s.sessions))
	for _, sess := range s.sessions {
		out = append(out, controlapi.SessionInfo{InstallationID: sess.InstallationID, Port: sess.Port, StartedAt: sess.StartedAt})
	}
	return out
}

func (s *Scheduler) broadcastChanged(installationID, reason string) {
	s.bus.PublishInstallationsChanged(events.InstallationsChanged{InstallationID: installationID, Reason: reason})
}

func (s *Scheduler) progress(installationID, phase string, percent int, message string, detail map[string]any) {
	if s.sink == nil {
		return
	}
	s.sink.Publish(ipc.Progress{InstallationID: installationID, Phase: phase, Percent: percent, Message: message, Detail: detail})
}

func (s *Scheduler) audit(action, installationID string, ok bool, start time.Time, err error) {
	fields := []zap.Field{
		zap.String("action", action),
		zap.String("installationId", installationID),
		zap.Bool("ok", ok),
		zap.Int64("durationMs", time.Since(start).Milliseconds()),
	}
	if err != nil {
		fields = append(fields, zap.Error(err))
	}
	s.log.Info("runAction", fields...)
}

// newCapabilityTools builds the plugin.Tools capability bag passed into
// Install/PostInstall/HandleAction, binding each capability it hands the plugin
// (progress, output, download, extract, cache directory, record update)
// to this one installation. Plugins also write into the installation's
// own directory directly.
func (s *Scheduler) newCapabilityTools(installationID string) plugin.Tools {
	return plugin.Tools{
		SendProgress: func(phase string, percent float64, detail map[string]any) {
			s.progress(installationID, phase, int(percent), "", detail)
		},
		SendOutput: func(line string) {
			s.progress(installationID, "run", -1, line, nil)
		},
		Download: func(ctx context.Context, url, destPath string, onProgress func(pct float64)) (string, error) {
			return download.Download(ctx, url, destPath, func(p download.Progress) {
				if onProgress != nil {
					onProgress(p.Percent)
				}
			}, download.Options{})
		},
		Extract: func(ctx context.Context, archive, destDir string, onProgress func(pct float64)) error {
			return extract.New().Extract(ctx, archive, destDir, func(p extract.Progress) {
				if onProgress != nil {
					onProgress(p.Percent)
				}
			})
		},
		CacheDir: func() string {
			return s.cache.Path(installationID)
		},
		Update: func(fn func(*registry.Record) error) (registry.Record, error) {
			return s.registry.Update(installationID, fn)
		},
	}
}

// newOperationID returns a fresh random UUID string, used as the new
// installation's id by Copy and ReleaseUpdate and as a unique suffix for
// package-backup staging directories.
func newOperationID() string {
	return uuid.NewString()
}
