package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mschirtzinger/flowsync/internal/remote"
	"github.com/mschirtzinger/flowsync/internal/ui"
)

var remoteCmd = &cobra.Command{
	Use:     "remote",
	GroupID: "setup",
	Short:   "Manage the remote Postgres backend",
}

var remoteInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create the remote tables and change-notification triggers",
	Long: `Create the tasks, projects and rituals tables on the remote database,
together with the triggers that NOTIFY "<table>:<user>" on every change.

Safe to run repeatedly.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if cfg.Remote.DSN == "" {
			return errors.New("remote.dsn is not set")
		}
		ctx := cmd.Context()

		pg, err := remote.NewPostgres(ctx, remote.PostgresConfig{
			DSN:      cfg.Remote.DSN,
			MaxConns: cfg.Remote.MaxConns,
		}, logger)
		if err != nil {
			return err
		}
		defer pg.Close()

		if err := pg.InitSchema(ctx); err != nil {
			return err
		}
		fmt.Printf("%s Remote schema ready\n", ui.RenderPass("✓"))
		return nil
	},
}

func init() {
	remoteCmd.AddCommand(remoteInitCmd)
	rootCmd.AddCommand(remoteCmd)
}
