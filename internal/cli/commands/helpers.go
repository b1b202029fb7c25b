// Package commands provides CLI subcommands for clawrec.
package commands

import (
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/openclaw/clawrec/internal/config"
)

// newLogger builds the per-component structured logger.
func newLogger(cmd *cobra.Command, component string) zerolog.Logger {
	level := zerolog.InfoLevel
	if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
		level = zerolog.DebugLevel
	}
	return zerolog.New(os.Stderr).Level(level).With().
		Timestamp().
		Str("component", component).
		Logger()
}

// addRecorderFlags registers the flags shared by daemon and record.
func addRecorderFlags(cmd *cobra.Command) {
	cmd.Flags().String("url", "", "gateway WebSocket URL (default from config)")
	cmd.Flags().String("token", "", "gateway auth token (default from config)")
	cmd.Flags().StringP("output", "o", "", "ledger directory (default from config)")
	cmd.Flags().Int("batch-size", 0, "events per persisted batch (default from config)")
	cmd.Flags().Int("flush-interval", 0, "flush interval in milliseconds (default from config)")
	cmd.Flags().Bool("no-redact", false, "store tool arguments and output content unredacted")
}

// loadConfig loads the configuration and applies flag overrides.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	if url, _ := cmd.Flags().GetString("url"); url != "" {
		cfg.Gateway.URL = url
	}
	if token, _ := cmd.Flags().GetString("token"); token != "" {
		cfg.Gateway.Auth.Token = token
	}
	if output, _ := cmd.Flags().GetString("output"); output != "" {
		cfg.Recorder.OutputDir = output
	}
	if batch, _ := cmd.Flags().GetInt("batch-size"); batch > 0 {
		cfg.Recorder.BatchSize = batch
	}
	if interval, _ := cmd.Flags().GetInt("flush-interval"); interval > 0 {
		cfg.Recorder.FlushIntervalMs = interval
	}
	if noRedact, _ := cmd.Flags().GetBool("no-redact"); noRedact {
		cfg.Recorder.RedactSecrets = false
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func flushInterval(cfg *config.Config) time.Duration {
	return time.Duration(cfg.Recorder.FlushIntervalMs) * time.Millisecond
}
