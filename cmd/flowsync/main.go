package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/mschirtzinger/flowsync/internal/config"
	"github.com/mschirtzinger/flowsync/internal/logging"
)

// Version is set at build time.
var Version = "dev"

var (
	cfgFile string

	// Resolved by the root command before any subcommand runs.
	cfg      *config.Config
	logger   *zap.Logger
	closeLog = func() {}
)

var rootCmd = &cobra.Command{
	Use:     "flowsync",
	Short:   "Synchronize tasks, projects and rituals with the remote backend",
	Version: Version,
	Long: `flowsync keeps a local SQLite copy of your tasks, projects and rituals in
step with the remote backend.

Configuration is read from .flowsync/config.yaml or the user config directory,
FLOWSYNC_* environment variables, and the flags below, in rising precedence.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		flags := cmd.Flags()
		loaded, err := config.Load(cfgFile,
			config.FlagBinding{Key: "local.path", Flag: flags.Lookup("db")},
			config.FlagBinding{Key: "remote.dsn", Flag: flags.Lookup("dsn")},
			config.FlagBinding{Key: "session.user_id", Flag: flags.Lookup("user")},
			config.FlagBinding{Key: "log.level", Flag: flags.Lookup("log-level")},
			config.FlagBinding{Key: "realtime.transport", Flag: flags.Lookup("transport")},
			config.FlagBinding{Key: "metrics.addr", Flag: flags.Lookup("metrics-addr")},
			config.FlagBinding{Key: "relay.addr", Flag: flags.Lookup("addr")},
		)
		if err != nil {
			return err
		}
		cfg = loaded

		l, closeFn, err := logging.New(logging.Config{
			Level:      cfg.Log.Level,
			File:       cfg.Log.File,
			MaxSizeMB:  cfg.Log.MaxSizeMB,
			MaxBackups: cfg.Log.MaxBackups,
		})
		if err != nil {
			return err
		}
		logger, closeLog = l, closeFn
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		closeLog()
	},
}

func init() {
	rootCmd.AddGroup(
		&cobra.Group{ID: "sync", Title: "Synchronization:"},
		&cobra.Group{ID: "setup", Title: "Setup:"},
		&cobra.Group{ID: "advanced", Title: "Advanced:"},
	)

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "config file (default: .flowsync/config.yaml)")
	pf.String("db", "", "local database path (overrides local.path)")
	pf.String("dsn", "", "remote Postgres DSN (overrides remote.dsn)")
	pf.String("user", "", "user id (overrides the session file)")
	pf.String("log-level", "", "log level: debug, info, warn, error")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
