package scheduler

import (
	"context"
	"net/http"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/streamspace-dev/payload-launcher/internal/plugin"
	"github.com/streamspace-dev/payload-launcher/internal/registry"
	"github.com/streamspace-dev/payload-launcher/internal/releasecache"
)

// etagWarmupURLs are pre-flighted at startup and their ETags stored in
// Scheduler.httpETags (spec.md §4.11 "ETag fan-out"). No later request
// reads those stored ETags back.
var etagWarmupURLs = []string{
	"https://api.github.com/repos/comfyanonymous/ComfyUI/releases/latest",
}

// Start begins the cron-driven periodic update poll and runs the
// one-shot startup sweep and ETag warm-up. Callers shut it down via
// Shutdown.
func (s *Scheduler) Start(ctx context.Context) error {
	s.sweepEmptyInstalls()
	s.captureBootSnapshots()
	go s.warmETags(ctx)

	if _, err := s.cron.AddFunc("@every 1h", func() { s.pollUpdates(context.Background()) }); err != nil {
		return err
	}
	s.cron.Start()
	go s.pollUpdates(ctx)
	return nil
}

// Shutdown cancels every in-flight operation, waits (bounded by ctx) for
// running sessions to record themselves stopped, and flushes the cron
// scheduler (spec.md's "Graceful shutdown draining in-flight operations"
// supplemented feature).
func (s *Scheduler) Shutdown(ctx context.Context) error {
	cronCtx := s.cron.Stop()

	s.opsMu.Lock()
	for _, op := range s.ops {
		op.cancel()
	}
	s.opsMu.Unlock()

	select {
	case <-cronCtx.Done():
	case <-ctx.Done():
	}

	s.sessionsMu.Lock()
	sessions := make([]*Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		sessions = append(sessions, sess)
	}
	s.sessionsMu.Unlock()

	for _, sess := range sessions {
		sess.markUserStopped()
	}

	done := make(chan struct{})
	go func() {
		for _, sess := range sessions {
			<-sess.Handle.Exited()
		}
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

// sweepEmptyInstalls removes any local-category installation whose
// directory holds nothing but the marker and OS metadata (spec.md
// §4.11 "Startup sweep").
func (s *Scheduler) sweepEmptyInstalls() {
	for _, rec := range s.registry.List() {
		p, ok := s.plugins.Get(rec.SourceID)
		if !ok || p.Category() != plugin.CategoryLocal {
			continue
		}
		if hasAnyFiles(rec.InstallPath) {
			continue
		}
		os.RemoveAll(rec.InstallPath)
		if err := s.registry.Remove(rec.ID); err != nil {
			s.log.Warn("startup sweep remove", zap.String("installationId", rec.ID), zap.Error(err))
			continue
		}
		s.broadcastChanged(rec.ID, "removed")
	}
}

// warmETags issues pre-flight HEAD requests and records each response's
// ETag in httpETags. Nothing reads httpETags afterwards, so release
// checks do not send these ETags upstream.
func (s *Scheduler) warmETags(ctx context.Context) {
	client := &http.Client{Timeout: 10 * time.Second}
	for _, url := range etagWarmupURLs {
		req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
		if err != nil {
			continue
		}
		resp, err := client.Do(req)
		if err != nil {
			continue
		}
		if etag := resp.Header.Get("ETag"); etag != "" {
			s.httpETags.Store(url, etag)
		}
		resp.Body.Close()
	}
}

// pollUpdates checks the release cache for every active track referenced
// by an installed record whose plugin exposes a release fetcher, then
// broadcasts installations-changed once (spec.md §4.11 "Periodic
// updates").
func (s *Scheduler) pollUpdates(ctx context.Context) {
	seen := map[string]bool{}
	changed := false

	for _, rec := range s.registry.List() {
		if rec.Status != registry.StatusInstalled || rec.UpdateTrack == "" {
			continue
		}
		p, ok := s.plugins.Get(rec.SourceID)
		if !ok {
			continue
		}
		checker, ok := p.(plugin.UpdateChecker)
		if !ok {
			continue
		}
		key := releasecache.Key(rec.SourceID, rec.RemoteURL, string(rec.UpdateTrack))
		if seen[key] {
			continue
		}
		seen[key] = true

		if _, err := s.releases.GetOrFetch(ctx, key, checker.ReleaseFetcher(), false); err != nil {
			s.log.Warn("poll update", zap.String("installationId", rec.ID), zap.Error(err))
			continue
		}
		changed = true
	}

	if changed {
		s.broadcastChanged("", "updates-checked")
	}
}
