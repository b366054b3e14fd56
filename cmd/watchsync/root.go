package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/hyperengineering/watchsync/internal/config"
	"github.com/hyperengineering/watchsync/internal/remote"
	"github.com/hyperengineering/watchsync/internal/store"
	watchsync "github.com/hyperengineering/watchsync/internal/sync"
)

// Version is set at build time via ldflags: -ldflags "-X main.Version=1.0.0"
var Version = "dev"

var configPath string

var rootCmd = &cobra.Command{
	Use:   "watchsync",
	Short: "Watchsync - shared watch-list sync daemon",
	Long:  "Keeps a device's local watch-list replica converged with the shared remote snapshot.",
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "",
		"Config file path (overrides WATCHSYNC_CONFIG_PATH)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(scanCmd)
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), Version)
	},
}

// loadConfig resolves configuration, honoring the --config flag.
func loadConfig() (*config.Config, error) {
	if configPath != "" {
		return config.LoadFromFile(configPath)
	}
	return config.Load()
}

// initLogger installs the process-wide structured logger.
func initLogger(cfg *config.Config) {
	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: parseLogLevel(cfg.Log.Level)}
	if cfg.Log.Format == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
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

// openRemote builds the remote store from config. Sync commands cannot
// run without one.
func openRemote(cfg *config.Config) (remote.Store, error) {
	if !cfg.Remote.Configured() {
		return nil, errors.New("no remote configured: set remote.bucket and remote.endpoint (or the WATCHSYNC_S3_* env vars)")
	}
	useSSL := true
	if cfg.Remote.UseSSL != nil {
		useSSL = *cfg.Remote.UseSSL
	}
	return remote.NewS3Store(remote.S3Config{
		Endpoint:  cfg.Remote.Endpoint,
		Bucket:    cfg.Remote.Bucket,
		AccessKey: cfg.Remote.AccessKey,
		SecretKey: cfg.Remote.SecretKey,
		Region:    cfg.Remote.Region,
		UseSSL:    useSSL,
	})
}

// newOrchestrator wires the local store and remote into an orchestrator.
func newOrchestrator(cfg *config.Config, local store.Store, rem remote.Store) *watchsync.Orchestrator {
	return watchsync.New(local, rem, watchsync.Config{
		ObjectKey:       cfg.Remote.ObjectKey,
		MinInterval:     time.Duration(cfg.Sync.MinInterval),
		FetchRetries:    uint64(cfg.Sync.FetchRetries),
		FetchBackoff:    time.Duration(cfg.Sync.FetchBackoff),
		PublishRetries:  cfg.Sync.PublishRetries,
		DiagnosticsSize: cfg.Sync.DiagnosticsSize,
	})
}
