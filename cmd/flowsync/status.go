package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/mschirtzinger/flowsync/internal/session"
	"github.com/mschirtzinger/flowsync/internal/store"
	"github.com/mschirtzinger/flowsync/internal/ui"
)

var statusCmd = &cobra.Command{
	Use:     "status",
	GroupID: "sync",
	Short:   "Show local store and session status",
	Long: `Display the local store location, size and record counts, and the user
the next sync would run as. The remote backend is not contacted.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		path := cfg.Local.Path

		fmt.Printf("\n%s flowsync status\n\n", ui.RenderAccent("📊"))

		user := ui.RenderWarn("not logged in")
		provider := session.Chain{session.Static(cfg.Session.UserID)}
		if files, err := session.NewFileProvider(cfg.Session.File, logger); err == nil {
			provider = append(provider, files)
		} else {
			logger.Sugar().Warnf("Session file unreadable: %v", err)
		}
		if id, err := provider.UserID(); err == nil {
			user = id
		}
		fmt.Printf("%s %s\n", ui.RenderLabel("User:"), user)

		info, err := os.Stat(path)
		if os.IsNotExist(err) {
			fmt.Printf("%s %s\n", ui.RenderLabel("Local store:"), ui.RenderWarn("not initialized"))
			fmt.Printf("   Run 'flowsync sync' to create it\n\n")
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to check local store: %w", err)
		}

		db, err := store.Open(path, logger)
		if err != nil {
			return err
		}
		defer db.Close()

		counts, err := db.Count(ctx)
		if err != nil {
			return err
		}

		fmt.Printf("%s %s\n", ui.RenderLabel("Local store:"), path)
		fmt.Printf("%s %s\n", ui.RenderLabel("Size:"), formatSize(info.Size()))
		fmt.Printf("%s %s\n", ui.RenderLabel("Modified:"), info.ModTime().Format("2006-01-02 15:04:05"))
		fmt.Printf("%s %d\n", ui.RenderLabel("Projects:"), counts.Projects)
		fmt.Printf("%s %d\n", ui.RenderLabel("Tasks:"), counts.Tasks)
		fmt.Printf("%s %d\n", ui.RenderLabel("Rituals:"), counts.Rituals)
		fmt.Printf("%s %s\n\n", ui.RenderLabel("Realtime:"), cfg.Realtime.Transport)
		return nil
	},
}

func formatSize(size int64) string {
	switch {
	case size > 1024*1024:
		return fmt.Sprintf("%.1f MB", float64(size)/(1024*1024))
	case size > 1024:
		return fmt.Sprintf("%.1f KB", float64(size)/1024)
	default:
		return fmt.Sprintf("%d bytes", size)
	}
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
