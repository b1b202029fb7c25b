package commands

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	"github.com/openclaw/clawrec/internal/config"
	"github.com/openclaw/clawrec/internal/version"
)

const probeReadTimeout = 5 * time.Second

// NewProbeCommand creates the probe subcommand, a diagnostic harness for
// poking at a gateway's handshake behavior.
func NewProbeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "probe",
		Short: "Probe a gateway with handshake frames and print responses",
		Long: `Dial the gateway, send a series of handshake frames, and print whatever
comes back. Useful when pointing clawrec at an unknown or misbehaving
gateway to see which protocol it actually speaks.`,
		Example: `  clawrec probe
  clawrec probe --url ws://127.0.0.1:18789 --listen 10s`,
		RunE: func(cmd *cobra.Command, args []string) error {
			url, _ := cmd.Flags().GetString("url")
			if url == "" {
				cfg, err := config.Load()
				if err != nil {
					return err
				}
				url = cfg.Gateway.URL
			}
			listen, _ := cmd.Flags().GetDuration("listen")
			return runProbe(cmd.OutOrStdout(), url, listen, probeReadTimeout)
		},
	}

	cmd.Flags().String("url", "", "gateway WebSocket URL (default from config)")
	cmd.Flags().Duration("listen", 10*time.Second, "how long to listen for unsolicited frames")
	return cmd
}

func runProbe(out io.Writer, url string, listen, readTimeout time.Duration) error {
	ws, err := dialProbe(out, url)
	if err != nil {
		return err
	}
	defer func() { _ = ws.Close() }()

	probes := []map[string]any{
		{"type": "connect", "role": "observer", "version": version.Version},
		{"type": "hello", "role": "operator"},
		{"action": "subscribe", "channel": "events"},
		{"type": "ping"},
	}

	for i, probe := range probes {
		fmt.Fprintf(out, "--- Probe %d: %v ---\n", i+1, probe["type"])

		data, _ := json.Marshal(probe)
		_ = ws.SetWriteDeadline(time.Now().Add(5 * time.Second))
		if err := ws.WriteMessage(websocket.TextMessage, data); err != nil {
			return fmt.Errorf("send probe: %w", err)
		}
		fmt.Fprintf(out, "Sent: %s\n", data)

		if !printNextFrame(out, ws, readTimeout) {
			// A failed read poisons the connection for good, so the
			// remaining probes need a fresh one.
			_ = ws.Close()
			fmt.Fprintln(out)
			ws, err = dialProbe(out, url)
			if err != nil {
				return err
			}
			continue
		}
		fmt.Fprintln(out)
	}

	fmt.Fprintf(out, "--- Listening for unsolicited frames (%s) ---\n", listen)
	deadline := time.Now().Add(listen)
	for time.Now().Before(deadline) {
		if !printNextFrame(out, ws, time.Second) {
			break
		}
	}

	fmt.Fprintln(out, "\nProbe complete.")
	return nil
}

func dialProbe(out io.Writer, url string) (*websocket.Conn, error) {
	fmt.Fprintf(out, "Connecting to gateway at %s...\n", url)

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	ws, resp, err := dialer.Dial(url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	fmt.Fprintf(out, "Connected! HTTP status: %s\n\n", resp.Status)
	return ws, nil
}

// printNextFrame reads and prints one frame. Any read error, including a
// deadline timeout, leaves the connection unreadable (further reads would
// return the cached error, then panic), so it returns false and the caller
// must stop reading from this connection.
func printNextFrame(out io.Writer, ws *websocket.Conn, timeout time.Duration) bool {
	_ = ws.SetReadDeadline(time.Now().Add(timeout))
	mt, data, err := ws.ReadMessage()
	if err != nil {
		var closeErr *websocket.CloseError
		var netErr net.Error
		switch {
		case errors.As(err, &closeErr):
			fmt.Fprintf(out, "Connection closed: %v\n", closeErr)
		case errors.As(err, &netErr) && netErr.Timeout():
			fmt.Fprintf(out, "No response within %s\n", timeout)
		default:
			fmt.Fprintf(out, "Read failed: %v\n", err)
		}
		return false
	}

	switch mt {
	case websocket.TextMessage:
		var pretty json.RawMessage
		if json.Unmarshal(data, &pretty) == nil {
			if formatted, err := json.MarshalIndent(pretty, "", "  "); err == nil {
				fmt.Fprintf(out, "Received:\n%s\n", formatted)
				return true
			}
		}
		fmt.Fprintf(out, "Received: %s\n", data)
	case websocket.BinaryMessage:
		fmt.Fprintf(out, "Received binary: %d bytes\n", len(data))
	default:
		fmt.Fprintf(out, "Received frame type %d\n", mt)
	}
	return true
}
