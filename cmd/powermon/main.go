// Package main is the CLI entry point for powermon.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/eliteGoblin/focusd/power_mon/internal/config"
	"github.com/eliteGoblin/focusd/power_mon/internal/daemon"
	"github.com/eliteGoblin/focusd/power_mon/internal/domain"
	"github.com/eliteGoblin/focusd/power_mon/internal/infra"
)

var (
	// Version info (set via ldflags)
	Version   = "0.1.0"
	Commit    = "dev"
	BuildTime = "unknown"
)

const (
	backendTOML      = "toml"
	backendEncrypted = "encrypted"
)

var (
	configPath   string
	statePath    string
	stateBackend string
	dataDir      string
	logFile      string
	debug        bool
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "powermon",
	Short: "Switches power profiles based on running processes",
	Long: `powermon watches running processes and switches the power-profiles-daemon
profile according to rules in a TOML file. The first matching rule wins; when
nothing matches, the default profile is applied.

If you change the profile yourself, powermon backs off for the configured
pause period. Edits to the rule file are picked up without a restart, and
SIGHUP forces a reload.`,
	Version:       fmt.Sprintf("%s (commit: %s, built: %s)", Version, Commit, BuildTime),
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runDaemon,
}

func init() {
	paths := infra.DetectPaths()

	rootCmd.Flags().StringVar(&configPath, "config", paths.ConfigPath, "Rule file (TOML)")
	rootCmd.Flags().StringVar(&statePath, "state", paths.StatePath, "Pause state file (toml backend)")
	rootCmd.Flags().StringVar(&stateBackend, "state-backend", backendTOML, "Pause state backend (toml|encrypted)")
	rootCmd.Flags().StringVar(&dataDir, "data-dir", paths.DataDir, "Directory for the encrypted state database and key")
	rootCmd.Flags().StringVar(&logFile, "log-file", "", "Log file (stderr when empty)")
	rootCmd.Flags().BoolVar(&debug, "debug", false, "Enable debug logging")
}

func runDaemon(cmd *cobra.Command, args []string) error {
	logger := createLogger(logFile, debug)
	defer func() { _ = logger.Sync() }()

	state, closeState, err := openStateStore(stateBackend)
	if err != nil {
		logger.Error("failed to open state store", zap.String("backend", stateBackend), zap.Error(err))
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return err
	}
	defer closeState()

	// Set up graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	watcher := config.NewWatcher(configPath, logger)
	if err := watcher.Start(ctx); err != nil {
		logger.Error("failed to start config watcher", zap.Error(err))
		return err
	}
	defer watcher.Stop()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(sigChan)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case sig := <-sigChan:
				if sig == syscall.SIGHUP {
					logger.Info("received SIGHUP, reloading configuration")
					watcher.Trigger()
					continue
				}
				logger.Info("received shutdown signal", zap.Stringer("signal", sig))
				cancel()
				return
			}
		}
	}()

	controller := daemon.NewController(
		daemon.DefaultControllerConfig(configPath),
		config.NewTOMLStore(),
		infra.NewPowerProfilesCtl(),
		infra.NewProcessProbe(),
		state,
		watcher.Changes(),
		logger,
	)

	err = controller.Run(ctx)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	if errors.Is(err, domain.ErrToolUnavailable) {
		fmt.Fprintln(os.Stderr, "Error: powerprofilesctl not found. Install power-profiles-daemon and try again.")
	}
	return err
}

// openStateStore returns the pause state backend and a func releasing it.
func openStateStore(backend string) (domain.StateStore, func(), error) {
	switch backend {
	case backendTOML:
		return infra.NewFileStateStore(statePath), func() {}, nil
	case backendEncrypted:
		store, err := infra.OpenEncryptedStateStore(dataDir)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open encrypted state: %w", err)
		}
		return store, func() { _ = store.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unknown state backend %q (want %s or %s)", backend, backendTOML, backendEncrypted)
	}
}

func createLogger(path string, debug bool) *zap.Logger {
	cfg := zap.NewProductionConfig()
	if debug {
		cfg = zap.NewDevelopmentConfig()
	}
	if path != "" {
		cfg.OutputPaths = []string{path}
	}
	cfg.EncoderConfig.TimeKey = "time"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, err := cfg.Build()
	if err != nil {
		// Fallback to stderr if file logging fails
		logger, _ = zap.NewProduction()
	}
	return logger
}
