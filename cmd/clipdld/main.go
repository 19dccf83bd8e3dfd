package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Witriol/clipdl/internal/api"
	"github.com/Witriol/clipdl/internal/config"
	"github.com/Witriol/clipdl/internal/db"
	"github.com/Witriol/clipdl/internal/downloader"
	"github.com/Witriol/clipdl/internal/library"
	"github.com/Witriol/clipdl/internal/probe"
	"github.com/Witriol/clipdl/internal/queue"
)

// version is set at build time with -ldflags "-X main.version=...".
var version string

const shutdownTimeout = 15 * time.Second

func main() {
	if err := run(); err != nil {
		slog.Error("clipdld", "err", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	slog.SetDefault(cfg.NewLogger(os.Stderr))
	slog.Info("clipdld starting", "version", versionString(), "library", cfg.LibraryDir, "state", cfg.StateDir)

	lib := library.New(cfg.LibraryDir)
	lib.DeleteAttempts = cfg.DeleteAttempts
	lib.DeleteInterval = cfg.DeleteInterval
	if err := lib.Ensure(); err != nil {
		return err
	}
	if err := os.MkdirAll(cfg.StateDir, 0o755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}

	dbConn, err := db.Open(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("db open: %w", err)
	}
	defer dbConn.Close()
	store := queue.NewStore(dbConn)

	settings, err := api.NewSettings(cfg.StateDir)
	if err != nil {
		return err
	}
	groups, err := api.NewGroups(cfg.StateDir)
	if err != nil {
		return err
	}
	tags, err := lib.Sync(settings.CurrentProfile())
	if err != nil {
		slog.Warn("library sync", "err", err)
	} else if err := settings.MergeTags(tags); err != nil {
		slog.Warn("merge library tags", "err", err)
	}

	registry := queue.NewRegistry()
	opts := queue.DefaultOptions(cfg.LibraryDir)
	opts.Binary = cfg.YTDLP
	opts.FFmpegLocation = cfg.FFmpegLocation
	opts.GracePeriod = cfg.GracePeriod
	opts.CleanupDelay = cfg.CleanupDelay
	service := queue.NewService(registry, downloader.NewExecSpawner(), lib, store, opts)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sweeper := &queue.Sweeper{
		Library:   lib,
		Registry:  registry,
		Store:     store,
		PollEvery: cfg.SweepInterval,
	}
	if err := sweeper.Recover(ctx); err != nil {
		return err
	}
	go sweeper.Start(ctx)

	prober := probe.New(probe.Options{
		Binary:    cfg.YTDLP,
		CacheTTL:  cfg.ProbeCacheTTL,
		CacheSize: cfg.ProbeCacheSize,
	})
	for _, tool := range prober.Dependencies(cfg.FFmpegLocation) {
		if !tool.Found {
			slog.Warn("dependency not found", "tool", tool.Name)
		}
	}

	server := &api.Server{
		Jobs:           service,
		Library:        lib,
		Prober:         prober,
		Settings:       settings,
		Groups:         groups,
		LibraryDir:     cfg.LibraryDir,
		StaticDir:      cfg.StaticDir,
		FFmpegLocation: cfg.FFmpegLocation,
		Version:        versionString(),
	}
	ln, err := net.Listen("tcp", cfg.HTTPAddr)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	httpServer := &http.Server{Handler: server.Handler(), ReadHeaderTimeout: 10 * time.Second}
	serveErr := make(chan error, 1)
	go func() {
		slog.Info("clipdld listening", "addr", ln.Addr().String())
		serveErr <- httpServer.Serve(ln)
	}()

	select {
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http serve: %w", err)
		}
	case <-ctx.Done():
		slog.Info("clipdld shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Warn("http shutdown", "err", err)
	}
	if err := service.Shutdown(shutdownCtx); err != nil {
		slog.Warn("job shutdown", "err", err)
	}
	return nil
}

func versionString() string {
	if version == "" {
		return "dev"
	}
	return version
}
