// Package cli provides the command-line interface for clawrec.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/openclaw/clawrec/internal/cli/commands"
	"github.com/openclaw/clawrec/internal/version"
)

var rootCmd = &cobra.Command{
	Use:   "clawrec",
	Short: "clawrec - OpenClaw Gateway event recorder",
	Long: `clawrec observes the OpenClaw Gateway control-plane bus and records
agent activity into an append-only local ledger for later replay or audit.
It can run as a session recorder (stop with Ctrl+C) or as a daemon that
reconnects forever.`,
	Version: version.Version,
}

func init() {
	rootCmd.AddCommand(commands.NewDaemonCommand())
	rootCmd.AddCommand(commands.NewRecordCommand())
	rootCmd.AddCommand(commands.NewStatusCommand())
	rootCmd.AddCommand(commands.NewProbeCommand())
	rootCmd.AddCommand(commands.NewVersionCommand())

	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "enable verbose output")
}

// Execute runs the root command.
func Execute() error {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return err
	}
	return nil
}
