// Package cli implements the ctxrt commands.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/rcliao/ctxrt/internal/config"
	"github.com/rcliao/ctxrt/internal/logging"
	"github.com/rcliao/ctxrt/internal/store"
)

var (
	dbPath     string
	configPath string
	logJSON    bool
	logLevel   string

	cfg *config.Config
)

// RootCmd is the top-level command.
var RootCmd = &cobra.Command{
	Use:   "ctxrt",
	Short: "Context-tree runtime with attention-managed memory",
	Long: "Runs programs against a tree of scoped contexts with semantic memory, " +
		"parallel path exploration and attention-based collection. Snapshots of the " +
		"context tree are kept in a SQLite database for inspection.",
	SilenceUsage:      true,
	PersistentPreRunE: setup,
	PersistentPostRun: func(cmd *cobra.Command, args []string) { logging.Sync() },
}

func init() {
	RootCmd.PersistentFlags().StringVarP(&dbPath, "db", "d", "", "Snapshot database path (default: store.path or ~/.ctxrt/snapshots.db)")
	RootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file (default: ./ctxrt.toml or ~/.ctxrt/ctxrt.toml)")
	RootCmd.PersistentFlags().BoolVar(&logJSON, "log-json", false, "Emit JSON logs on stderr")
	RootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error")
}

func setup(cmd *cobra.Command, args []string) error {
	loaded, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("log-json") {
		loaded.Logging.JSON = logJSON
	}
	if logLevel != "" {
		loaded.Logging.Level = logLevel
	}
	if err := logging.Initialize(loaded.Logging.JSON, loaded.Logging.Level); err != nil {
		return fmt.Errorf("init logging: %w", err)
	}
	cfg = loaded
	return nil
}

func getDBPath() string {
	if dbPath != "" {
		return dbPath
	}
	return cfg.StorePath()
}

func openStore() (*store.SQLiteStore, error) {
	return store.NewSQLiteStore(getDBPath())
}

func exitErr(msg string, err error) {
	fmt.Fprintf(os.Stderr, "error: %s: %v\n", msg, err)
	os.Exit(1)
}
