package gateway

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	defaultConnectTimeout = 5 * time.Second
	defaultPingInterval   = 30 * time.Second
	defaultReadRetryDelay = 1 * time.Second

	dialTimeout  = 10 * time.Second
	writeTimeout = 10 * time.Second

	// maxConsecutiveReadErrors is the number of transport read errors
	// tolerated before the read loop gives up on the connection.
	maxConsecutiveReadErrors = 5
)

// ClientOptions configures the gateway client.
type ClientOptions struct {
	URL     string
	Token   string
	Version string

	// Zero values fall back to the protocol defaults.
	ConnectTimeout time.Duration
	PingInterval   time.Duration
	ReadRetryDelay time.Duration

	Logger zerolog.Logger
}

// Client owns exactly one physical gateway connection. It performs the
// handshake, subscription, and read/keep-alive loop; it never retries on its
// own. Reconnection policy belongs to the caller.
type Client struct {
	opts ClientOptions
	log  zerolog.Logger

	ws        *websocket.Conn
	connID    string
	sessionID string
}

// NewClient creates a new gateway client (does not connect yet).
func NewClient(opts ClientOptions) *Client {
	if opts.URL == "" {
		opts.URL = "ws://127.0.0.1:18789"
	}
	if opts.ConnectTimeout == 0 {
		opts.ConnectTimeout = defaultConnectTimeout
	}
	if opts.PingInterval == 0 {
		opts.PingInterval = defaultPingInterval
	}
	if opts.ReadRetryDelay == 0 {
		opts.ReadRetryDelay = defaultReadRetryDelay
	}

	return &Client{
		opts: opts,
		log:  opts.Logger,
	}
}

// ConnID returns the identifier assigned to this physical connection.
func (c *Client) ConnID() string { return c.connID }

// SessionID returns the gateway-assigned session id, set by Connect.
func (c *Client) SessionID() string { return c.sessionID }

// Connect dials the gateway and performs the handshake: a connect frame,
// an optional challenge/auth round, then a connected acknowledgment and the
// observer subscription. Each wait is bounded by the connect timeout.
func (c *Client) Connect(ctx context.Context) (string, error) {
	c.log.Info().Str("url", c.opts.URL).Msg("Connecting to gateway")

	dialer := websocket.Dialer{HandshakeTimeout: dialTimeout}
	ws, _, err := dialer.DialContext(ctx, c.opts.URL, nil)
	if err != nil {
		return "", &TransportError{Op: "dial", Err: err}
	}
	c.ws = ws
	c.connID = uuid.New().String()

	sessionID, err := c.handshake()
	if err != nil {
		_ = ws.Close()
		c.ws = nil
		return "", err
	}

	c.sessionID = sessionID
	c.log.Info().Str("session_id", sessionID).Msg("Connected to gateway")
	return sessionID, nil
}

func (c *Client) handshake() (string, error) {
	if err := c.writeFrame(NewConnect(c.opts.Version)); err != nil {
		return "", err
	}

	resp, err := c.awaitFrame(c.opts.ConnectTimeout)
	if err != nil {
		return "", err
	}

	switch {
	case resp.Type == TypeConnected:
		return c.finishHandshake(resp.SessionID)

	case resp.IsChallenge():
		c.log.Debug().Str("nonce", resp.Payload.Nonce).Msg("Received connect challenge")
		if err := c.writeFrame(NewAuth(c.opts.Token, resp.Payload.Nonce)); err != nil {
			return "", err
		}

		resp2, err := c.awaitFrame(c.opts.ConnectTimeout)
		if err != nil {
			return "", err
		}
		switch resp2.Type {
		case TypeConnected:
			return c.finishHandshake(resp2.SessionID)
		case TypeError:
			return "", fmt.Errorf("%w: %s: %s", ErrAuthRejected, resp2.Code, resp2.Message)
		default:
			return "", fmt.Errorf("%w: unexpected %q frame after auth response", ErrProtocolViolation, resp2.Type)
		}

	case resp.Type == TypeError:
		if isAuthCode(resp.Code) {
			return "", fmt.Errorf("%w: %s: %s", ErrAuthRejected, resp.Code, resp.Message)
		}
		return "", &GatewayError{Code: resp.Code, Message: resp.Message}

	default:
		return "", fmt.Errorf("%w: unexpected %q frame during handshake", ErrProtocolViolation, resp.Type)
	}
}

func (c *Client) finishHandshake(sessionID string) (string, error) {
	if sessionID == "" {
		return "", fmt.Errorf("%w: connected frame without session_id", ErrProtocolViolation)
	}
	if err := c.writeFrame(NewSubscribe()); err != nil {
		return "", err
	}
	return sessionID, nil
}

type readResult struct {
	messageType int
	data        []byte
	err         error
}

// Run drives the read loop until the connection closes or an unrecoverable
// error occurs. Valid inbound frames are forwarded to out; the send blocks
// when the channel is full, which deliberately propagates backpressure to
// the network read path. Unparseable frames are dropped with a warning.
// A clean close from the gateway returns nil.
func (c *Client) Run(ctx context.Context, out chan<- Message) error {
	ws := c.ws
	if ws == nil {
		return ErrNotConnected
	}
	defer func() {
		_ = ws.Close()
		c.ws = nil
	}()

	frames := make(chan readResult)
	resume := make(chan struct{})
	done := make(chan struct{})
	defer close(done)

	// The reader hands over one frame at a time and waits to be resumed, so
	// a blocked out channel stalls the read path instead of buffering.
	go func() {
		for {
			mt, data, err := ws.ReadMessage()
			select {
			case frames <- readResult{messageType: mt, data: data, err: err}:
			case <-done:
				return
			}
			select {
			case <-resume:
			case <-done:
				return
			}
		}
	}()

	pingTicker := time.NewTicker(c.opts.PingInterval)
	defer pingTicker.Stop()

	consecutiveErrors := 0

	for {
		select {
		case res := <-frames:
			if res.err != nil {
				var closeErr *websocket.CloseError
				if errors.As(res.err, &closeErr) {
					c.log.Info().Int("code", closeErr.Code).Msg("Connection closed by gateway")
					return nil
				}
				if ctx.Err() != nil {
					return ctx.Err()
				}
				consecutiveErrors++
				if consecutiveErrors > maxConsecutiveReadErrors {
					return &TransportError{Op: "read", Err: res.err}
				}
				c.log.Error().Err(res.err).Int("consecutive", consecutiveErrors).Msg("WebSocket read error")
				select {
				case <-time.After(c.opts.ReadRetryDelay):
				case <-ctx.Done():
					return ctx.Err()
				}
			} else {
				consecutiveErrors = 0
				if err := c.handleFrame(ctx, res, out); err != nil {
					return err
				}
			}

			select {
			case resume <- struct{}{}:
			case <-ctx.Done():
				return ctx.Err()
			}

		case <-pingTicker.C:
			err := ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout))
			if err != nil {
				return &TransportError{Op: "ping", Err: err}
			}

		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (c *Client) handleFrame(ctx context.Context, res readResult, out chan<- Message) error {
	if res.messageType != websocket.TextMessage {
		// Binary frames are not part of the protocol.
		return nil
	}

	msg, err := ParseMessage(res.data)
	if err != nil {
		c.log.Warn().Err(err).Str("raw", string(res.data)).Msg("Failed to parse message")
		return nil
	}

	switch msg.Type {
	case TypePing:
		if err := c.writeFrame(Message{Type: TypePong}); err != nil {
			c.log.Warn().Err(err).Msg("Failed to answer gateway ping")
		}
		return nil
	case TypePong:
		return nil
	}

	select {
	case out <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// awaitFrame reads the next protocol frame, bounded by timeout. Gateway-level
// pings arriving mid-handshake are answered and skipped.
func (c *Client) awaitFrame(timeout time.Duration) (Message, error) {
	_ = c.ws.SetReadDeadline(time.Now().Add(timeout))
	defer func() { _ = c.ws.SetReadDeadline(time.Time{}) }()

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				return Message{}, ErrHandshakeTimeout
			}
			return Message{}, &TransportError{Op: "read", Err: err}
		}

		msg, err := ParseMessage(data)
		if err != nil {
			return Message{}, fmt.Errorf("%w: %v", ErrProtocolViolation, err)
		}
		if msg.Type == TypePing {
			if err := c.writeFrame(Message{Type: TypePong}); err != nil {
				return Message{}, err
			}
			continue
		}
		return msg, nil
	}
}

func (c *Client) writeFrame(msg Message) error {
	data, err := msg.Encode()
	if err != nil {
		return fmt.Errorf("encode %s frame: %w", msg.Type, err)
	}
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
		return &TransportError{Op: "write", Err: err}
	}
	return nil
}
