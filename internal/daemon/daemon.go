// Package daemon implements continuous 24/7 recording to a single ledger.
// Unlike the session recorder (Ctrl+C to stop), the daemon runs forever,
// auto-reconnects on disconnect, and never gives up short of an explicit
// shutdown.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog"

	"github.com/openclaw/clawrec/internal/config"
	"github.com/openclaw/clawrec/internal/gateway"
	"github.com/openclaw/clawrec/internal/ledger"
	"github.com/openclaw/clawrec/internal/translate"
	"github.com/openclaw/clawrec/internal/version"
)

const (
	// eventBufferSize bounds the channel between the gateway reader and the
	// supervisor loop. A full buffer propagates backpressure to the read path.
	eventBufferSize = 1000

	// runID recorded on every daemon-observed event.
	runID = "daemon"
)

// Options configures a daemon run.
type Options struct {
	GatewayURL    string
	AuthToken     string
	OutputDir     string
	BatchSize     int
	FlushInterval time.Duration
	RedactSecrets bool
	Logger        zerolog.Logger
}

// Run drives the recording loop until ctx is cancelled: connect, stream into
// the ledger, reconnect with exponential backoff on any disconnect or
// connection-phase failure. On shutdown it flushes the ledger, records the
// stop time, and reports final counters.
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

	if err := led.SetMeta("daemon_started_at", time.Now().UTC().Format(time.RFC3339)); err != nil {
		return err
	}
	if err := led.SetMeta("gateway_url", opts.GatewayURL); err != nil {
		return err
	}

	bo := newBackoff()

	for ctx.Err() == nil {
		streamed, shutdown, err := runConnection(ctx, opts, led, log)
		if shutdown || ctx.Err() != nil {
			break
		}

		// Backoff resets only once a connection made it into streaming;
		// a handshake failure keeps climbing toward the cap.
		if streamed {
			bo.Reset()
		}
		wait := bo.NextBackOff()

		if err != nil {
			log.Warn().Err(err).Dur("backoff", wait).Msg("Connection failed, reconnecting")
		} else {
			log.Warn().Dur("backoff", wait).Msg("Gateway disconnected, reconnecting")
		}

		select {
		case <-time.After(wait):
		case <-ctx.Done():
		}
	}

	log.Info().Msg("Daemon shutting down gracefully")

	if err := led.Flush(); err != nil {
		log.Error().Err(err).Msg("Failed to flush ledger on shutdown")
	}
	if err := led.SetMeta("daemon_stopped_at", time.Now().UTC().Format(time.RFC3339)); err != nil {
		log.Error().Err(err).Msg("Failed to record stop time")
	}

	total := led.TotalEvents()
	size, err := led.StorageSizeBytes()
	if err != nil {
		size = 0
	}
	fmt.Fprintf(os.Stderr, "Daemon stopped. %d events recorded, %s on disk.\n",
		total, humanize.IBytes(size))
	return nil
}

// newBackoff builds the reconnect policy: 1s doubling to a 60s cap, no
// jitter, no elapsed-time limit.
func newBackoff() *backoff.ExponentialBackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 1 * time.Second
	bo.RandomizationFactor = 0
	bo.Multiplier = 2
	bo.MaxInterval = 60 * time.Second
	bo.MaxElapsedTime = 0
	bo.Reset()
	return bo
}

// runConnection drives a single gateway connection: handshake, then a select
// loop over inbound messages, the flush timer, and shutdown. It returns
// streamed=true once the connection reached the streaming state, and
// shutdown=true when the loop ended because ctx was cancelled.
func runConnection(ctx context.Context, opts Options, led *ledger.Ledger, log zerolog.Logger) (streamed, shutdown bool, err error) {
	client := gateway.NewClient(gateway.ClientOptions{
		URL:     opts.GatewayURL,
		Token:   opts.AuthToken,
		Version: version.Version,
		Logger:  log,
	})

	sessionID, err := client.Connect(ctx)
	if err != nil {
		return false, false, err
	}
	log.Info().Str("session_id", sessionID).Msg("Daemon connected to gateway")

	// The reader task is cancelled, not awaited, both on shutdown and before
	// any new connection attempt: at most one reader is ever feeding the
	// channel.
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

	for {
		select {
		case msg, ok := <-out:
			if !ok {
				err := <-runErr
				if err != nil && !errors.Is(err, context.Canceled) {
					return true, false, err
				}
				return true, false, nil
			}
			ev := translate.Event(runID, connID, msg, opts.RedactSecrets)
			if _, err := led.Append(ev); err != nil {
				// Storage failures never halt the reconnect loop; the event
				// stays in the pending batch and the next flush retries it.
				log.Error().Err(err).Msg("Failed to write event")
			}

		case <-flushTicker.C:
			if err := led.Flush(); err != nil {
				log.Error().Err(err).Msg("Failed to flush ledger")
			}

		case <-ctx.Done():
			return true, true, nil
		}
	}
}
