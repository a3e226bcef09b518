// Package cli wires configuration, storage and services into the
// imagestore commands.
package cli

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/GulDilin/image-deduplication-storage/internal/config"
	"github.com/GulDilin/image-deduplication-storage/internal/logging"
)

// NewRootCommand builds the command tree.
func NewRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "imagestore",
		Short:         "Content-addressed image storage with deduplication and cached thumbnails",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringP("config", "c", "", "Path to the YAML config file (defaults to $IMAGESTORE_CONFIG)")
	root.PersistentFlags().String("log-level", "", "Override the configured log level (debug, info, warn, error)")

	root.AddCommand(newServeCommand(), newMigrateCommand(), newReconcileCommand())
	return root
}

func Execute() {
	slog.SetDefault(logging.New("info", "text"))
	if err := NewRootCommand().Execute(); err != nil {
		slog.Error("failed to execute command", "error", err)
		os.Exit(1)
	}
}

// loadConfig reads the configuration named by the persistent flags and
// installs the configured logger as the default.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	path, err := cmd.Flags().GetString("config")
	if err != nil {
		return config.Config{}, fmt.Errorf("failed to get config: %w", err)
	}
	if path == "" {
		path = os.Getenv(config.EnvPrefix + "CONFIG")
	}

	cfg, err := config.Load(path)
	if err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}

	level, err := cmd.Flags().GetString("log-level")
	if err != nil {
		return config.Config{}, fmt.Errorf("failed to get log level: %w", err)
	}
	if level != "" {
		cfg.Log.Level = level
	}
	slog.SetDefault(logging.New(cfg.Log.Level, cfg.Log.Format))
	slog.Debug("Read config", "path", path, "database", cfg.Database.Driver, "storage", cfg.Storage.Backend)
	return cfg, nil
}
