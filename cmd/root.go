// Package cmd wires configuration, the security gate, the dispatcher,
// and the MCP transport into the toolgate CLI.
package cmd

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "toolgate",
	Short: "toolgate - a guarded MCP tool server",
	Long: `toolgate serves file, system, web, code, git, database, and AI tools
over the Model Context Protocol. Every call passes through a security
gate: per-caller rate limiting, argument schema validation, sandbox
path confinement, extension and size limits, and a destructive-command
deny list.

Running toolgate without a subcommand starts the MCP server on stdio.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context())
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
