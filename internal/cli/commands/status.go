package commands

import (
	"fmt"
	"os"
	"sort"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/openclaw/clawrec/internal/config"
	"github.com/openclaw/clawrec/internal/ledger"
)

// NewStatusCommand creates the status subcommand.
func NewStatusCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show ledger contents summary",
		Long: `Inspect a ledger directory without taking the writer lock, so it works
while a daemon is recording. Only flushed data is visible.`,
		Example: `  clawrec status
  clawrec status -o ~/recordings/ledger`,
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("output")
			if dir == "" {
				cfg, err := config.Load()
				if err != nil {
					return err
				}
				dir = cfg.Recorder.OutputDir
			}

			if _, err := os.Stat(dir); os.IsNotExist(err) {
				return fmt.Errorf("no ledger found at %s", dir)
			}

			info, err := ledger.Inspect(dir)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Ledger: %s\n", dir)
			fmt.Fprintf(out, "  Events:   %d (max id %d)\n", info.TotalEvents, info.MaxEventID)
			fmt.Fprintf(out, "  Storage:  %s\n", humanize.IBytes(info.StorageSizeBytes))

			if len(info.Meta) > 0 {
				fmt.Fprintln(out, "  Meta:")
				keys := make([]string, 0, len(info.Meta))
				for k := range info.Meta {
					keys = append(keys, k)
				}
				sort.Strings(keys)
				for _, k := range keys {
					fmt.Fprintf(out, "    %s: %s\n", k, info.Meta[k])
				}
			}
			return nil
		},
	}

	cmd.Flags().StringP("output", "o", "", "ledger directory (default from config)")
	return cmd
}
