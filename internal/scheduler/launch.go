package scheduler

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/streamspace-dev/payload-launcher/internal/errs"
	"github.com/streamspace-dev/payload-launcher/internal/events"
	"github.com/streamspace-dev/payload-launcher/internal/plugin"
	"github.com/streamspace-dev/payload-launcher/internal/process"
	"github.com/streamspace-dev/payload-launcher/internal/registry"
	"github.com/streamspace-dev/payload-launcher/internal/snapshot"
)

const (
	portProbeInterval = 250 * time.Millisecond
	portWaitTimeout    = 120 * time.Second
	portSearchWindow   = 1000
	maxLaunchRetries   = 3
)

// portInUseMarkers are substrings the payload itself prints to stderr
// when its chosen port is already bound (only the captured stderr tail
// is searched for them), distinct from the
// scheduler's own pre-flight probe (spec.md §4.11 step 8).
var portInUseMarkers = []string{"address already in use", "eaddrinuse", "only one usage of each socket address"}

// Launch runs spec.md §4.11's launch sequence against installationID.
func (s *Scheduler) Launch(ctx context.Context, installationID string) (plugin.ActionResult, error) {
	start := time.Now()
	var runErr error
	defer func() { s.audit("launch", installationID, runErr == nil, start, runErr) }()

	if _, running := s.session(installationID); running {
		runErr = errs.ErrAlreadyRunning
		return plugin.ActionResult{}, runErr
	}

	rec, ok := s.registry.Get(installationID)
	if !ok {
		runErr = errs.ErrUnknownInstallation
		return plugin.ActionResult{}, runErr
	}

	opCtx, release, err := s.acquire(installationID, "launch")
	if err != nil {
		runErr = err
		return plugin.ActionResult{}, runErr
	}
	defer release()

	if !hasAnyFiles(rec.InstallPath) {
		runErr = errs.ErrInstallDirEmpty
		return plugin.ActionResult{}, runErr
	}

	p, ok := s.plugins.Get(rec.SourceID)
	if !ok {
		runErr = errs.ErrUnknownSource
		return plugin.ActionResult{}, runErr
	}

	cmd, err := p.GetLaunchCommand(opCtx, rec)
	if err != nil {
		runErr = err
		return plugin.ActionResult{}, runErr
	}

	if cmd.Remote {
		s.addSession(&Session{InstallationID: installationID, Port: cmd.Port, Host: "", StartedAt: time.Now()})
		return plugin.ActionResult{OK: true, URL: cmd.URL, Port: cmd.Port}, nil
	}

	if rec.SharedPaths() {
		cmd.Args = s.injectSharedPaths(cmd.Args)
	}

	host := "127.0.0.1"
	result, sess, err := s.spawnWithRetry(opCtx, installationID, host, cmd)
	if err != nil {
		runErr = err
		return result, err
	}

	s.addSession(sess)
	if err := process.WritePortLock(s.portLockDir, process.PortLock{
		InstallationID: installationID,
		PID:            sess.Handle.PID(),
		Port:           sess.Port,
		StartedAt:      sess.StartedAt,
	}); err != nil {
		s.log.Warn("write port lock", zap.Error(err))
	}

	if _, err := s.registry.Update(installationID, func(r *registry.Record) error {
		r.LastLaunchedAt = time.Now()
		return nil
	}); err != nil {
		s.log.Warn("record launch timestamp", zap.Error(err))
	}

	go s.watchExit(installationID, sess)

	return plugin.ActionResult{OK: true, Mode: string(rec.LaunchMode), Port: sess.Port, URL: fmt.Sprintf("http://%s:%d", host, sess.Port)}, nil
}

// injectSharedPaths appends the configured shared model/input/output
// directory arguments to args (spec.md §4.11 step 4). A plugin that
// needs bespoke flag names overrides this by declining SharedPaths in
// its record and handling the directories itself.
func (s *Scheduler) injectSharedPaths(args []string) []string {
	out := append([]string{}, args...)
	if s.sharedPaths.ModelsDir != "" {
		out = append(out, "--extra-model-paths-config", s.sharedPaths.ModelsDir)
	}
	if s.sharedPaths.InputDir != "" {
		out = append(out, "--input-directory", s.sharedPaths.InputDir)
	}
	if s.sharedPaths.OutputDir != "" {
		out = append(out, "--output-directory", s.sharedPaths.OutputDir)
	}
	return out
}

// spawnWithRetry implements the port-probe/spawn/race/retry dance of
// spec.md §4.11 steps 5-8.
func (s *Scheduler) spawnWithRetry(ctx context.Context, installationID, host string, cmd plugin.LaunchCommand) (plugin.ActionResult, *Session, error) {
	rec, _ := s.registry.Get(installationID)
	port := cmd.Port
	explicitPort := hasExplicitPortFlag(cmd.Args)

	for attempt := 0; attempt < maxLaunchRetries; attempt++ {
		resolved, conflict, err := s.resolvePortConflict(host, port, rec.PortConflict, explicitPort)
		if err != nil {
			return plugin.ActionResult{}, nil, err
		}
		if conflict != nil {
			return plugin.ActionResult{OK: false, Message: "port is in use", PortConflict: &plugin.PortConflictInfo{
				Port: conflict.Port, PIDs: conflict.PIDs, IsComfy: conflict.IsComfy, NextPort: conflict.NextPort,
			}}, nil, conflict
		}
		port = resolved

		args := process.SetPortArg(cmd.Args, "--port", port)
		handle, err := process.Spawn(ctx, cmd.Cmd, args, cmd.Cwd, nil, s.streamProcessOutput(installationID))
		if err != nil {
			return plugin.ActionResult{}, nil, fmt.Errorf("spawn: %w", err)
		}

		if err := s.raceWaitForPort(ctx, handle, host, port); err != nil {
			if isPortInUseExit(handle) {
				next, findErr := process.FindAvailablePort(host, port+1, port+portSearchWindow)
				if findErr != nil {
					return plugin.ActionResult{}, nil, findErr
				}
				port = next
				continue
			}
			return plugin.ActionResult{}, nil, err
		}

		sess := &Session{InstallationID: installationID, Handle: handle, Port: port, Host: host, StartedAt: time.Now()}
		return plugin.ActionResult{}, sess, nil
	}
	return plugin.ActionResult{}, nil, fmt.Errorf("launch: exhausted %d port retries", maxLaunchRetries)
}

// raceWaitForPort waits for the spawned process's port to open, or
// returns early if the process exits first (spec.md §4.11 step 7).
func (s *Scheduler) raceWaitForPort(ctx context.Context, handle *process.Handle, host string, port int) error {
	done := make(chan error, 1)
	go func() {
		done <- process.WaitForPort(ctx, host, port, portProbeInterval, portWaitTimeout)
	}()

	select {
	case err := <-done:
		return err
	case <-handle.Exited():
		return fmt.Errorf("process exited before opening its port: %s", handle.StderrTail())
	}
}

func isPortInUseExit(handle *process.Handle) bool {
	select {
	case <-handle.Exited():
	default:
		return false
	}
	tail := strings.ToLower(handle.StderrTail())
	for _, marker := range portInUseMarkers {
		if strings.Contains(tail, marker) {
			return true
		}
	}
	return false
}

func hasExplicitPortFlag(args []string) bool {
	for _, a := range args {
		if a == "--port" {
			return true
		}
	}
	return false
}

// resolvePortConflict probes port on host. If free, it returns port
// unchanged. If occupied and policy allows auto-resolution, it returns
// the next free port in the search window; otherwise it returns a
// PortConflict the caller surfaces back to the user.
func (s *Scheduler) resolvePortConflict(host string, port int, policy registry.PortConflictPolicy, explicitPort bool) (int, *errs.PortConflict, error) {
	free, err := portIsFree(host, port)
	if err != nil {
		return 0, nil, err
	}
	if free {
		return port, nil, nil
	}

	pids, _ := process.FindPidsByPort(port)
	isComfy := false
	if lock, _ := process.ReadPortLock(s.portLockDir, port); lock != nil {
		isComfy = true
	} else if len(pids) > 0 {
		info, err := process.GetProcessInfo(pids[0])
		if err == nil {
			isComfy = process.LooksLikePayload(info)
		}
	}

	next, findErr := process.FindAvailablePort(host, port+1, port+portSearchWindow)

	if policy == registry.PortConflictAuto && !explicitPort {
		if findErr != nil {
			return 0, nil, findErr
		}
		return next, nil, nil
	}

	return 0, &errs.PortConflict{Port: port, PIDs: pids, IsComfy: isComfy, NextPort: next}, nil
}

func portIsFree(host string, port int) (bool, error) {
	p, err := process.FindAvailablePort(host, port, port)
	if err != nil {
		return false, nil
	}
	return p == port, nil
}

// watchExit is the exit handler of spec.md §4.11: on child exit it either
// respawns (reboot marker present) or tears the session down and
// broadcasts comfy-exited.
func (s *Scheduler) watchExit(installationID string, sess *Session) {
	<-sess.Handle.Exited()

	if path := rebootMarkerPath(installationID); fileExists(path) {
		os.Remove(path)
		s.respawnAfterReboot(installationID, sess)
		return
	}

	removed, ok := s.removeSession(installationID)
	if !ok {
		return
	}
	process.RemovePortLock(s.portLockDir, removed.Port)

	crashed := !removed.wasUserStopped()
	exitMsg := ""
	if err := removed.Handle.ExitErr(); err != nil {
		exitMsg = err.Error()
	}
	s.bus.PublishComfyExited(events.ComfyExited{InstallationID: installationID, Crashed: crashed, ExitMessage: exitMsg})
}

func (s *Scheduler) respawnAfterReboot(installationID string, prev *Session) {
	rec, ok := s.registry.Get(installationID)
	if !ok {
		return
	}
	p, ok := s.plugins.Get(rec.SourceID)
	if !ok {
		return
	}
	cmd, err := p.GetLaunchCommand(context.Background(), rec)
	if err != nil || cmd.Remote {
		return
	}
	args := process.SetPortArg(cmd.Args, "--port", prev.Port)
	handle, err := process.Spawn(context.Background(), cmd.Cmd, args, cmd.Cwd, nil, s.streamProcessOutput(installationID))
	if err != nil {
		s.log.Warn("respawn after reboot marker", zap.Error(err))
		return
	}
	sess := &Session{InstallationID: installationID, Handle: handle, Port: prev.Port, Host: prev.Host, StartedAt: time.Now()}
	s.addSession(sess)
	go s.watchExit(installationID, sess)

	if _, err := s.captureSnapshot(installationID, snapshot.TriggerRestart, ""); err != nil {
		s.log.Warn("capture restart snapshot", zap.String("installationId", installationID), zap.Error(err))
	}
}

// streamProcessOutput returns a process.Handle onOutput callback that
// forwards each stdout/stderr line into the installation's progress
// channel, the sink a GUI front-end reads its live console from
// (spec.md §4.11 step 6).
func (s *Scheduler) streamProcessOutput(installationID string) func(stream, line string) {
	return func(stream, line string) {
		s.progress(installationID, "run", -1, line, map[string]any{"stream": stream})
	}
}

func rebootMarkerPath(installationID string) string {
	return filepath.Join(os.TempDir(), "payload-launcher", installationID+".reboot")
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// Stop kills installationID's running session's process tree with
// process.KillTree (SIGKILL on POSIX), marking it user-stopped first so
// the exit handler reports crashed=false.
func (s *Scheduler) Stop(installationID string) error {
	sess, ok := s.session(installationID)
	if !ok {
		return errs.ErrUnknownInstallation
	}
	sess.markUserStopped()
	return process.KillTree(sess.Handle)
}
