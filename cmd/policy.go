package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/toolgate/toolgate/internal/config"
)

var policyCmd = &cobra.Command{
	Use:   "policy",
	Short: "Print the active security policy as JSON",
	Long: `policy resolves the configuration the same way serve does and prints
the effective security policy: sandbox root, extension allow-list,
rate limits, timeouts, and per-toolset settings. Secrets are masked.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runPolicy(cmd)
	},
}

func init() {
	rootCmd.AddCommand(policyCmd)
}

func runPolicy(cmd *cobra.Command) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	// Config.MarshalJSON masks tokens and connection strings.
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("rendering policy: %w", err)
	}

	fmt.Fprintln(cmd.OutOrStdout(), string(data))
	return nil
}
