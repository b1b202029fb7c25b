package commands

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/openclaw/clawrec/internal/daemon"
)

// NewDaemonCommand creates the daemon subcommand.
func NewDaemonCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Record gateway events continuously, reconnecting forever",
		Long: `Connect to the OpenClaw Gateway and record every observed event into a
single growing ledger. The daemon reconnects with exponential backoff on any
disconnect and only stops on an interrupt or termination signal.`,
		Example: `  clawrec daemon
  clawrec daemon --url ws://127.0.0.1:18789 --output ~/recordings/ledger`,
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

			return daemon.Run(ctx, daemon.Options{
				GatewayURL:    cfg.Gateway.URL,
				AuthToken:     cfg.Gateway.Auth.Token,
				OutputDir:     cfg.Recorder.OutputDir,
				BatchSize:     cfg.Recorder.BatchSize,
				FlushInterval: flushInterval(cfg),
				RedactSecrets: cfg.Recorder.RedactSecrets,
				Logger:        newLogger(cmd, "daemon"),
			})
		},
	}

	addRecorderFlags(cmd)
	return cmd
}
