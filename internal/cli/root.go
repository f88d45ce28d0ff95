// Package cli wires the orchestrator core into a thin operator-facing
// harness: the core itself is library-shaped, not a network service, so the
// CLI's job is to own one process's stdin/stdout as the transport for a
// single session's command/event stream and its lifecycle controls.
package cli

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "orchestrator",
	Short: "Runs a session against the command pipeline described in config",
	Long: `orchestrator drives one orchestrator session for the life of the
process: commands are read as NDJSON from stdin, events are written as
NDJSON to stdout, and a small set of control lines pause, resume, abort, or
approve the running session.

Running 'orchestrator' without a subcommand is equivalent to 'orchestrator run'.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runCmd.RunE(cmd, args)
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
	rootCmd.PersistentFlags().StringP("config", "c", "", "path to the YAML config file (default: built-in defaults only)")
	rootCmd.Flags().String("policy-profile", "default", "policy profile name to attach to the session")
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
