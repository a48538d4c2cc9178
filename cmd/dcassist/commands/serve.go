package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/dynamic-capital/dcassist/pkg/dcassist/assist"
	"github.com/dynamic-capital/dcassist/pkg/dcassist/gateway"
)

// newServeCmd creates the `dcassist serve` command that starts the daemon.
func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the assistant service and HTTP gateway",
		Long: `Start dcassist as a daemon: the session manager, the maintenance
scheduler, and the HTTP gateway the web widget talks to.

Examples:
  dcassist serve
  dcassist serve --config ./config.yaml`,
		RunE: runServe,
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	// ── Load config ──
	cfg, configPath, err := resolveConfig(cmd)
	if err != nil {
		return fmt.Errorf("no configuration found, run `dcassist setup` first: %w", err)
	}

	// ── Configure logger ──
	logger := buildLogger(cmd, cfg)

	// ── Resolve secrets ──
	// Audit BEFORE resolving: checks the raw config values for hardcoded keys.
	assist.AuditSecrets(cfg, logger)
	// Resolve from vault, then keyring, then env/config. Returns the
	// unlocked vault (if one exists) so it stays available at runtime.
	vault := assist.ResolveSecrets(cfg, logger)

	// ── Create assistant ──
	assistant, err := assist.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("building assistant: %w", err)
	}
	if vault != nil {
		assistant.SetVault(vault)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ── Start assistant (sessions, scheduler, telegram) ──
	if err := assistant.Start(ctx); err != nil {
		logger.Warn("assistant started with warnings", "error", err)
	}

	// ── Start gateway if enabled ──
	var gw *gateway.Gateway
	if cfg.Gateway.Enabled {
		gw = gateway.New(assistant, cfg.Gateway, logger)
		if err := gw.Start(ctx); err != nil {
			logger.Error("failed to start gateway", "error", err)
		}
	}

	// ── Wait for shutdown ──
	logger.Info("dcassist running. Press Ctrl+C to stop.",
		"name", cfg.Name,
		"config", configPath,
		"gateway", cfg.Gateway.Enabled,
	)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutdown signal received, stopping...")

	// Graceful shutdown with timeout.
	done := make(chan struct{})
	go func() {
		if gw != nil {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			_ = gw.Stop(shutdownCtx)
			cancel()
		}
		assistant.Stop()
		close(done)
	}()

	select {
	case <-done:
		logger.Info("shutdown complete")
	case <-time.After(10 * time.Second):
		logger.Warn("shutdown timed out after 10s, forcing exit")
	}

	return nil
}

// resolveConfig loads config from the --config flag or by discovery.
// Returns (config, configPath, error).
func resolveConfig(cmd *cobra.Command) (*assist.Config, string, error) {
	configPath, _ := cmd.Root().PersistentFlags().GetString("config")

	// Try explicit path first.
	if configPath != "" {
		cfg, err := assist.LoadConfigFromFile(configPath)
		if err != nil {
			return nil, "", fmt.Errorf("loading config: %w", err)
		}
		return cfg, configPath, nil
	}

	// Auto-discover config file.
	if found := assist.FindConfigFile(); found != "" {
		cfg, err := assist.LoadConfigFromFile(found)
		if err != nil {
			return nil, "", fmt.Errorf("loading config from %s: %w", found, err)
		}
		return cfg, found, nil
	}

	return nil, "", fmt.Errorf("no configuration file found")
}

// buildLogger builds the process logger from the logging config and the
// --verbose flag.
func buildLogger(cmd *cobra.Command, cfg *assist.Config) *slog.Logger {
	verbose, _ := cmd.Root().PersistentFlags().GetBool("verbose")
	logLevel := slog.LevelInfo
	if verbose || cfg.Logging.Level == "debug" {
		logLevel = slog.LevelDebug
	}

	var handler slog.Handler
	if cfg.Logging.Format == "text" {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})
	} else {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})
	}
	return slog.New(handler)
}
