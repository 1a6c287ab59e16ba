package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/agrovista/agromonitor/internal/config"
	"github.com/agrovista/agromonitor/pkg/monitor"
	"github.com/agrovista/agromonitor/pkg/notify"
	"github.com/agrovista/agromonitor/pkg/storage"
)

// Version is set at build time via ldflags.
var Version = "dev"

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "agromonitor",
	Short: "Agromonitor - Resource consumption monitoring and alerting for agricultural projects",
	Long: `Agromonitor tracks planned versus actual consumption of resources allocated
to project phases, evaluates configured thresholds on every write and on a
periodic sweep, and manages the lifecycle of the alerts it raises.`,
	SilenceUsage: true,
}

// Execute runs the CLI.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ~/.agromonitor/config.yaml)")
}

// loadConfig loads the configuration.
func loadConfig() (*config.Config, error) {
	return config.Load(cfgFile)
}

// newLogger creates a structured logger from config.
func newLogger(cfg *config.Config) *slog.Logger {
	level := slog.LevelInfo
	switch cfg.Logging.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	var handler slog.Handler
	if cfg.Logging.Format == "text" {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	} else {
		handler = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	}

	return slog.New(handler)
}

// initStorage creates a storage backend from config.
func initStorage(cfg *config.Config) (storage.Storage, error) {
	return storage.NewSQLite(cfg.Storage.Path)
}

// initNotifiers creates alert-event relays from config.
func initNotifiers(cfg *config.Config) []notify.Notifier {
	var notifiers []notify.Notifier

	if cfg.Relays.Slack.Enabled && cfg.Relays.Slack.WebhookURL != "" {
		notifiers = append(notifiers, notify.NewSlackNotifier(
			cfg.Relays.Slack.WebhookURL,
			cfg.Relays.Slack.Channel,
		))
	}

	if cfg.Relays.Webhook.Enabled && cfg.Relays.Webhook.URL != "" {
		notifiers = append(notifiers, notify.NewWebhookNotifier(
			cfg.Relays.Webhook.URL,
			cfg.Relays.Webhook.Secret,
		))
	}

	return notifiers
}

// initEngine creates a fully wired monitoring engine. When a threshold seed
// file is configured, missing defaults are inserted before the engine is
// handed out.
func initEngine(cfg *config.Config) (*monitor.Engine, storage.Storage, error) {
	logger := newLogger(cfg)

	store, err := initStorage(cfg)
	if err != nil {
		return nil, nil, err
	}

	engine := monitor.NewEngine(store, initNotifiers(cfg), nil, logger)

	if cfg.Thresholds.File != "" {
		defs, err := monitor.LoadThresholdFile(cfg.Thresholds.File)
		if err != nil {
			store.Close()
			return nil, nil, fmt.Errorf("load threshold defaults: %w", err)
		}
		if err := monitor.SeedThresholds(context.Background(), store, defs); err != nil {
			store.Close()
			return nil, nil, fmt.Errorf("seed thresholds: %w", err)
		}
	}

	return engine, store, nil
}
