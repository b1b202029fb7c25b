package commands

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/openclaw/clawrec/internal/record"
)

// NewRecordCommand creates the record subcommand.
func NewRecordCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "record",
		Short: "Record one gateway session (stop with Ctrl+C)",
		Long: `Connect to the OpenClaw Gateway once and record observed events under a
fresh run id. Recording stops on Ctrl+C, on gateway shutdown, or when the
connection drops; there is no automatic reconnect.`,
		Example: `  clawrec record
  clawrec record --no-redact -o /tmp/session-ledger`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if err := cfg.RequireAuth(); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return record.Run(ctx, record.Options{
				GatewayURL:    cfg.Gateway.URL,
				AuthToken:     cfg.Gateway.Auth.Token,
				OutputDir:     cfg.Recorder.OutputDir,
				BatchSize:     cfg.Recorder.BatchSize,
				FlushInterval: flushInterval(cfg),
				RedactSecrets: cfg.Recorder.RedactSecrets,
				Logger:        newLogger(cmd, "record"),
			})
		},
	}

	addRecorderFlags(cmd)
	return cmd
}
