package main

import (
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var configCmd = &cobra.Command{
	Use:     "config",
	GroupID: "setup",
	Short:   "Inspect configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the resolved configuration as YAML",
	Long: `Print the configuration after defaults, config file, environment and
flags have been applied. Secrets are masked.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		shown := *cfg
		shown.Remote.DSN = mask(shown.Remote.DSN)
		shown.Realtime.APIKey = mask(shown.Realtime.APIKey)
		shown.Realtime.RedisPassword = mask(shown.Realtime.RedisPassword)
		shown.Relay.JWTSecret = mask(shown.Relay.JWTSecret)

		enc := yaml.NewEncoder(os.Stdout)
		enc.SetIndent(2)
		defer enc.Close()
		return enc.Encode(shown)
	},
}

func mask(s string) string {
	if s == "" {
		return ""
	}
	return "********"
}

func init() {
	configCmd.AddCommand(configShowCmd)
	rootCmd.AddCommand(configCmd)
}
