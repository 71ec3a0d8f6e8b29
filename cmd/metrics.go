package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/toolgate/toolgate/internal/config"
	"github.com/toolgate/toolgate/internal/metrics"
)

var metricsCmd = &cobra.Command{
	Use:   "metrics",
	Short: "Print the last persisted metrics snapshot as JSON",
	Long: `metrics reads the snapshot file the server writes on shutdown and
prints it. Use it to inspect dispatch counts and latencies without a
running server; for live numbers scrape the --metrics-addr endpoint.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runMetrics(cmd)
	},
}

func init() {
	rootCmd.AddCommand(metricsCmd)
}

func runMetrics(cmd *cobra.Command) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	snap, err := metrics.LoadSnapshot(cfg.MetricsFile)
	if err != nil {
		return fmt.Errorf("loading metrics snapshot: %w", err)
	}

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("rendering snapshot: %w", err)
	}

	fmt.Fprintln(cmd.OutOrStdout(), string(data))
	return nil
}
