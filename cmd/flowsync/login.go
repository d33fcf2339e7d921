package main

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/mschirtzinger/flowsync/internal/session"
	"github.com/mschirtzinger/flowsync/internal/ui"
)

var loginCmd = &cobra.Command{
	Use:     "login",
	GroupID: "setup",
	Short:   "Store the session used to sign remote requests",
	Long: `Write the session file (session.file) with your user id or access token.

Without flags an interactive form asks for the values. The user id may be
omitted when the access token carries it as its subject claim.

A running 'flowsync watch' picks up the new session without a restart.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		f := session.File{}
		f.UserID, _ = cmd.Flags().GetString("user-id")
		f.AccessToken, _ = cmd.Flags().GetString("token")
		f.Email, _ = cmd.Flags().GetString("email")

		if f.UserID == "" && f.AccessToken == "" {
			if !ui.IsTerminal() {
				return errors.New("no terminal: pass --user-id or --token")
			}
			if err := loginForm(&f).Run(); err != nil {
				return err
			}
		}

		f.UserID = strings.TrimSpace(f.UserID)
		f.AccessToken = strings.TrimSpace(f.AccessToken)
		if f.UserID == "" {
			id, err := session.UserFromToken(f.AccessToken)
			if err != nil {
				return fmt.Errorf("cannot determine the user: %w", err)
			}
			f.UserID = id
		}

		path := cfg.Session.File
		if err := session.Save(path, f); err != nil {
			return err
		}
		fmt.Printf("%s Logged in as %s\n", ui.RenderPass("✓"), ui.RenderAccent(f.UserID))
		fmt.Printf("   Session: %s\n", ui.RenderMuted(path))
		return nil
	},
}

var logoutCmd = &cobra.Command{
	Use:     "logout",
	GroupID: "setup",
	Short:   "Remove the stored session",
	RunE: func(cmd *cobra.Command, args []string) error {
		path := cfg.Session.File
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to remove session: %w", err)
		}
		fmt.Printf("%s Logged out\n", ui.RenderPass("✓"))
		return nil
	},
}

func loginForm(f *session.File) *huh.Form {
	return huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Email").
				Value(&f.Email),
			huh.NewInput().
				Title("Access token").
				Description("Leave empty to enter a user id instead").
				EchoMode(huh.EchoModePassword).
				Value(&f.AccessToken),
			huh.NewInput().
				Title("User id").
				Description("Optional when the token names the user").
				Value(&f.UserID).
				Validate(func(s string) error {
					if strings.TrimSpace(s) == "" && strings.TrimSpace(f.AccessToken) == "" {
						return errors.New("enter a user id or an access token")
					}
					return nil
				}),
		),
	)
}

func init() {
	loginCmd.Flags().String("user-id", "", "user id to sync as")
	loginCmd.Flags().String("token", "", "access token (JWT)")
	loginCmd.Flags().String("email", "", "account email, for display")
	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(logoutCmd)
}
