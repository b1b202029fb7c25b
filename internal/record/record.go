// Package record implements session-bounded recording: connect to the
// gateway once, write observed events to the ledger under a fresh run id,
// and stop on Ctrl+C, gateway shutdown, or disconnect. No reconnection
// policy applies here; that belongs to the daemon.
package record

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/openclaw/clawrec/internal/config"
	"github.com/openclaw/clawrec/internal/gateway"
	"github.com/openclaw/clawrec/internal/ledger"
	"github.com/openclaw/clawrec/internal/translate"
	"github.com/openclaw/clawrec/internal/version"
)

const eventBufferSize = 1000

// Options configures a recording session.
type Options struct {
	GatewayURL    string
	AuthToken     string
	OutputDir     string
	BatchSize     int
	FlushInterval time.Duration
	RedactSecrets bool
	Logger        zerolog.Logger
}

// Run records one session until ctx is cancelled, the gateway announces
// shutdown, or the connection drops.
func Run(ctx context.Context, opts Options) error {
	if opts.AuthToken == "" {
		return config.ErrMissingAuthToken
	}

	log := opts.Logger

	led, err := ledger.Open(opts.OutputDir, opts.BatchSize)
	if err != nil {
		return err
	}
	defer led.Close()

	runID := uuid.New().String()
	if err := led.SetMeta("last_run_id", runID); err != nil {
		return err
	}
	if err := led.SetMeta("last_run_started_at", time.Now().UTC().Format(time.RFC3339)); err != nil {
		return err
	}

	client := gateway.NewClient(gateway.ClientOptions{
		URL:     opts.GatewayURL,
		Token:   opts.AuthToken,
		Version: version.Version,
		Logger:  log,
	})

	sessionID, err := client.Connect(ctx)
	if err != nil {
		return err
	}
	log.Info().Str("session_id", sessionID).Str("run_id", runID).Msg("Recording session started")

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	out := make(chan gateway.Message, eventBufferSize)
	runErr := make(chan error, 1)
	go func() {
		runErr <- client.Run(runCtx, out)
		close(out)
	}()

	flushTicker := time.NewTicker(opts.FlushInterval)
	defer flushTicker.Stop()

	connID := client.ConnID()

loop:
	for {
		select {
		case msg, ok := <-out:
			if !ok {
				if err := <-runErr; err != nil && !errors.Is(err, context.Canceled) {
					log.Warn().Err(err).Msg("Gateway stream ended with error")
				}
				break loop
			}
			ev := translate.Event(runID, connID, msg, opts.RedactSecrets)
			if _, err := led.Append(ev); err != nil {
				log.Error().Err(err).Msg("Failed to write event")
			}
			if msg.Type == gateway.TypeShutdown {
				log.Info().Str("reason", msg.Reason).Msg("Gateway announced shutdown, stopping")
				break loop
			}

		case <-flushTicker.C:
			if err := led.Flush(); err != nil {
				log.Error().Err(err).Msg("Failed to flush ledger")
			}

		case <-ctx.Done():
			break loop
		}
	}

	cancel()

	if err := led.Flush(); err != nil {
		log.Error().Err(err).Msg("Failed to flush ledger on stop")
	}
	if err := led.SetMeta("last_run_stopped_at", time.Now().UTC().Format(time.RFC3339)); err != nil {
		log.Error().Err(err).Msg("Failed to record stop time")
	}

	total := led.TotalEvents()
	size, err := led.StorageSizeBytes()
	if err != nil {
		size = 0
	}
	fmt.Fprintf(os.Stderr, "Recording stopped. %d events in ledger, %s on disk.\n",
		total, humanize.IBytes(size))
	return nil
}
