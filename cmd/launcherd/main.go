// Command launcherd is the installation orchestration core's daemon
// entrypoint: it wires the registry, plugins, scheduler, and control API
// together and serves the internal HTTP/websocket surface a GUI or CLI
// front-end drives.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/streamspace-dev/payload-launcher/internal/controlapi"
	"github.com/streamspace-dev/payload-launcher/internal/events"
	"github.com/streamspace-dev/payload-launcher/internal/filecache"
	"github.com/streamspace-dev/payload-launcher/internal/ipc"
	"github.com/streamspace-dev/payload-launcher/internal/logging"
	"github.com/streamspace-dev/payload-launcher/internal/paths"
	"github.com/streamspace-dev/payload-launcher/internal/plugin"
	"github.com/streamspace-dev/payload-launcher/internal/plugin/cloud"
	"github.com/streamspace-dev/payload-launcher/internal/plugin/gitsource"
	"github.com/streamspace-dev/payload-launcher/internal/plugin/portable"
	"github.com/streamspace-dev/payload-launcher/internal/plugin/remote"
	"github.com/streamspace-dev/payload-launcher/internal/plugin/standalone"
	"github.com/streamspace-dev/payload-launcher/internal/registry"
	"github.com/streamspace-dev/payload-launcher/internal/releasecache"
	"github.com/streamspace-dev/payload-launcher/internal/scheduler"
	"github.com/streamspace-dev/payload-launcher/internal/settings"
	"github.com/streamspace-dev/payload-launcher/internal/singleton"
)

func main() {
	log, err := logging.New(logging.Options{Debug: getEnv("LAUNCHERD_DEBUG", "") == "true"})
	if err != nil {
		fmt.Fprintln(os.Stderr, "build logger:", err)
		os.Exit(1)
	}
	defer log.Sync()

	if err := run(log); err != nil {
		log.Fatal("launcherd exited with error", zap.Error(err))
	}
}

func run(log *zap.Logger) error {
	dirs := paths.Resolve()
	if err := dirs.EnsureAll(); err != nil {
		return fmt.Errorf("ensure directories: %w", err)
	}
	if home, err := os.UserHomeDir(); err == nil {
		if err := paths.MigrateLegacy(filepath.Join(home, ".payload-launcher"), dirs.Data); err != nil {
			log.Warn("migrate legacy data directory", zap.Error(err))
		}
	}

	lock, err := singleton.Acquire(filepath.Join(dirs.State, "launcherd.lock"))
	if err != nil {
		if err == singleton.ErrAlreadyRunning {
			return fmt.Errorf("another launcherd is already running against %s", dirs.State)
		}
		return fmt.Errorf("acquire instance lock: %w", err)
	}
	defer lock.Release()

	settingsStore, err := settings.Open(filepath.Join(dirs.Config, "settings.json"), log)
	if err != nil {
		return fmt.Errorf("open settings: %w", err)
	}
	defer settingsStore.Close()
	if err := settingsStore.WatchExternalEdits(); err != nil {
		log.Warn("watch settings for external edits", zap.Error(err))
	}

	reg, err := registry.Load(filepath.Join(dirs.Data, "installations.json"))
	if err != nil {
		return fmt.Errorf("load registry: %w", err)
	}

	releaseBackend := &releasecache.FileBackend{Path: filepath.Join(dirs.Data, "release-cache.json")}
	releases, err := releasecache.New(releaseBackend)
	if err != nil {
		return fmt.Errorf("open release cache: %w", err)
	}

	cache := filecache.New(filepath.Join(dirs.Cache, "downloads"), 5<<30)

	bus, err := newEventBus(getEnv("LAUNCHERD_NATS_URL", ""))
	if err != nil {
		return fmt.Errorf("start event bus: %w", err)
	}
	defer bus.Close()

	sink := ipc.NewHub(log)

	plugins := plugin.NewRegistry(
		&portable.Plugin{},
		&standalone.Plugin{},
		&gitsource.Plugin{},
		&remote.Plugin{},
		&cloud.Plugin{},
	)

	sched := scheduler.New(scheduler.Config{
		Log:             log,
		Registry:        reg,
		Plugins:         plugins,
		Cache:           cache,
		Releases:        releases,
		Bus:             bus,
		Sink:            sink,
		PortLockDir:     filepath.Join(dirs.State, "port-locks"),
		SharedPaths:     sharedPathsFromSettings(settingsStore),
		LauncherDirs:    []string{dirs.Config, dirs.Cache, dirs.Data, dirs.State},
		UpdaterCacheDir: filepath.Join(dirs.Cache, "downloads"),
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := sched.Start(ctx); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}

	api := controlapi.New(log, sched, reg, sink)
	srv := &http.Server{
		Addr:    ":" + getEnv("LAUNCHERD_PORT", "47117"),
		Handler: api.Handler(),
	}

	go func() {
		log.Info("launcherd listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("control api server stopped", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("http server shutdown", zap.Error(err))
	}
	if err := sched.Shutdown(shutdownCtx); err != nil {
		log.Warn("scheduler shutdown", zap.Error(err))
	}
	return nil
}

func newEventBus(natsURL string) (events.Bus, error) {
	if natsURL == "" {
		return events.NewLocalBus(), nil
	}
	return events.NewNATSBus(natsURL)
}

func sharedPathsFromSettings(store *settings.Store) scheduler.SharedPathsConfig {
	cfg := scheduler.SharedPathsConfig{}
	if v, ok := store.Get("sharedModelsDir"); ok {
		cfg.ModelsDir, _ = v.(string)
	}
	if v, ok := store.Get("sharedInputDir"); ok {
		cfg.InputDir, _ = v.(string)
	}
	if v, ok := store.Get("sharedOutputDir"); ok {
		cfg.OutputDir, _ = v.(string)
	}
	return cfg
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
