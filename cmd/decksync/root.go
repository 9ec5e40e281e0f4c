package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/hyperengineering/decksync/internal/api"
	"github.com/hyperengineering/decksync/internal/auth"
	"github.com/hyperengineering/decksync/internal/config"
	"github.com/hyperengineering/decksync/internal/multistore"
	"github.com/hyperengineering/decksync/internal/snapshot"
	decksync "github.com/hyperengineering/decksync/internal/sync"
	"github.com/hyperengineering/decksync/internal/worker"
	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Version is set at build time via ldflags: -ldflags "-X main.Version=1.0.0"
var Version = "dev"

var rootCmd = &cobra.Command{
	Use:          "decksync",
	Short:        "decksync - flashcard deck sync server and client",
	SilenceUsage: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the sync server",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func init() {
	rootCmd.Version = Version
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(deckCmd)
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(hashPasswordCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, cancel := signal.NotifyContext(context.Background(),
		syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if err := cfg.ValidateServer(); err != nil {
		return err
	}

	logger := newLogger(cfg.Log, cmd.OutOrStdout())
	slog.SetDefault(logger)
	slog.Info("configuration loaded",
		"level", cfg.Log.Level,
		"users", len(cfg.Auth.Users),
		"atomicity", cfg.Sync.Atomicity,
	)

	mgr, err := multistore.NewDeckManager(cfg.Decks.RootPath,
		decksync.WithAtomicity(cfg.Atomicity()),
		decksync.WithLogger(logger),
	)
	if err != nil {
		return err
	}
	slog.Info("deck manager initialized", "root", mgr.RootPath())

	uploader, err := snapshot.NewUploader(cfg.SnapshotStorage)
	if err != nil {
		return err
	}
	handler := api.NewHandler(mgr, auth.NewUsers(cfg.Auth.Users), Version, api.WithBackups(uploader))
	router := api.NewRouter(handler)

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout),
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout),
	}

	var wg sync.WaitGroup
	if interval := time.Duration(cfg.Worker.BackupInterval); interval > 0 {
		dir := cfg.Worker.BackupDir
		if dir == "" {
			dir = filepath.Join(mgr.RootPath(), ".backups")
		}
		coord := worker.NewBackupCoordinator(worker.NewDeckManagerAdapter(mgr), dir, interval, uploader)
		startWorker(ctx, &wg, "backup", coord.Run)
	}
	startWorker(ctx, &wg, "meta-flush", func(ctx context.Context) {
		flushMetaLoop(ctx, mgr, time.Minute)
	})

	go func() {
		slog.Info("server starting", "address", addr, "version", Version)
		// ErrServerClosed is the expected error after Shutdown.
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", "error", err)
			cancel()
		}
	}()

	<-ctx.Done()
	slog.Info("shutdown initiated")

	shutdownCtx, shutdownCancel := context.WithTimeout(
		context.Background(),
		time.Duration(cfg.Server.ShutdownTimeout))
	defer shutdownCancel()

	// Drain in-flight syncs before stopping workers and closing decks.
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}

	wg.Wait()

	if err := mgr.Close(); err != nil {
		slog.Error("deck manager close error", "error", err)
	}

	slog.Info("shutdown complete")
	return nil
}

// flushMetaLoop writes dirty deck metadata every interval.
func flushMetaLoop(ctx context.Context, mgr *multistore.DeckManager, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			mgr.FlushMeta()
		}
	}
}

// newLogger builds the process logger. A configured log file is rotated by
// lumberjack; otherwise logs go to out.
func newLogger(cfg config.LogConfig, out io.Writer) *slog.Logger {
	if cfg.File != "" {
		out = &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			Compress:   true,
		}
	}
	opts := &slog.HandlerOptions{Level: parseLogLevel(cfg.Level)}
	if cfg.Format == "text" {
		return slog.New(slog.NewTextHandler(out, opts))
	}
	return slog.New(slog.NewJSONHandler(out, opts))
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// startWorker launches a background worker goroutine that respects context cancellation.
// Workers are tracked via WaitGroup for graceful shutdown.
func startWorker(ctx context.Context, wg *sync.WaitGroup, name string, fn func(ctx context.Context)) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		slog.Info("worker started", "worker", name)
		fn(ctx)
		slog.Info("worker stopped", "worker", name)
	}()
}

// loadConfig loads configuration for the client-side commands, which log
// as text to stderr.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	logCfg := cfg.Log
	if logCfg.File == "" {
		logCfg.Format = "text"
	}
	slog.SetDefault(newLogger(logCfg, cmd.ErrOrStderr()))
	return cfg, nil
}
