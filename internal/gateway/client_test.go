package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// gatewayURL starts a fake gateway whose behavior is the handler, and
// returns its ws:// URL.
func gatewayURL(t *testing.T, handler func(ws *websocket.Conn)) string {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()
		handler(ws)
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func readClientFrame(ws *websocket.Conn) (Message, error) {
	_, data, err := ws.ReadMessage()
	if err != nil {
		return Message{}, err
	}
	return ParseMessage(data)
}

func writeServerFrame(ws *websocket.Conn, v any) {
	data, _ := json.Marshal(v)
	_ = ws.WriteMessage(websocket.TextMessage, data)
}

func newTestClient(url string) *Client {
	return NewClient(ClientOptions{
		URL:            url,
		Token:          "tok",
		Version:        "0.1.0",
		ConnectTimeout: 2 * time.Second,
		ReadRetryDelay: 10 * time.Millisecond,
		Logger:         zerolog.Nop(),
	})
}

// Close tears down the test client's socket so the fake gateway's handler
// unblocks and the httptest server can shut down.
func (c *Client) closeForTest() {
	if c.ws != nil {
		_ = c.ws.Close()
		c.ws = nil
	}
}

func TestConnectWithChallenge(t *testing.T) {
	frames := make(chan Message, 8)
	url := gatewayURL(t, func(ws *websocket.Conn) {
		for i := 0; i < 3; i++ { // connect, auth, subscribe
			msg, err := readClientFrame(ws)
			if err != nil {
				return
			}
			frames <- msg
			switch msg.Type {
			case TypeConnect:
				writeServerFrame(ws, map[string]any{
					"type":    "event",
					"event":   "connect.challenge",
					"payload": map[string]any{"nonce": "abc", "ts": 1},
				})
			case TypeAuth:
				writeServerFrame(ws, map[string]any{"type": "connected", "session_id": "s1"})
			}
		}
	})

	client := newTestClient(url)
	sessionID, err := client.Connect(context.Background())
	defer client.closeForTest()
	require.NoError(t, err)
	assert.Equal(t, "s1", sessionID)
	assert.Equal(t, "s1", client.SessionID())
	assert.NotEmpty(t, client.ConnID())

	connect := <-frames
	assert.Equal(t, TypeConnect, connect.Type)
	assert.Equal(t, "observer", connect.Role)

	auth := <-frames
	assert.Equal(t, TypeAuth, auth.Type)
	assert.Equal(t, "tok", auth.Token)
	assert.Equal(t, "abc", auth.Nonce, "auth must echo the challenge nonce")

	sub := <-frames
	assert.Equal(t, TypeSubscribe, sub.Type)
	assert.Equal(t, []string{"agent_events", "tool_calls", "outputs"}, sub.Channels)
}

func TestConnectWithoutChallenge(t *testing.T) {
	frames := make(chan Message, 8)
	url := gatewayURL(t, func(ws *websocket.Conn) {
		for i := 0; i < 2; i++ { // connect, subscribe
			msg, err := readClientFrame(ws)
			if err != nil {
				return
			}
			frames <- msg
			if msg.Type == TypeConnect {
				writeServerFrame(ws, map[string]any{"type": "connected", "session_id": "s2"})
			}
		}
	})

	client := newTestClient(url)
	sessionID, err := client.Connect(context.Background())
	defer client.closeForTest()
	require.NoError(t, err)
	assert.Equal(t, "s2", sessionID)

	<-frames // connect
	sub := <-frames
	assert.Equal(t, TypeSubscribe, sub.Type)
}

func TestConnectHandshakeTimeout(t *testing.T) {
	url := gatewayURL(t, func(ws *websocket.Conn) {
		// Swallow the connect frame, then stay silent.
		_, _ = readClientFrame(ws)
		_, _ = readClientFrame(ws)
	})

	client := NewClient(ClientOptions{
		URL:            url,
		ConnectTimeout: 100 * time.Millisecond,
		Logger:         zerolog.Nop(),
	})
	_, err := client.Connect(context.Background())
	assert.ErrorIs(t, err, ErrHandshakeTimeout)
}

func TestConnectAuthRejected(t *testing.T) {
	url := gatewayURL(t, func(ws *websocket.Conn) {
		if _, err := readClientFrame(ws); err != nil {
			return
		}
		writeServerFrame(ws, map[string]any{
			"type":    "event",
			"event":   "connect.challenge",
			"payload": map[string]any{"nonce": "abc", "ts": 1},
		})
		if _, err := readClientFrame(ws); err != nil {
			return
		}
		writeServerFrame(ws, map[string]any{"type": "error", "code": "auth_failed", "message": "bad token"})
	})

	client := newTestClient(url)
	_, err := client.Connect(context.Background())
	assert.ErrorIs(t, err, ErrAuthRejected)
}

func TestConnectUnexpectedFrame(t *testing.T) {
	url := gatewayURL(t, func(ws *websocket.Conn) {
		if _, err := readClientFrame(ws); err != nil {
			return
		}
		writeServerFrame(ws, map[string]any{"type": "tick", "timestamp": "t1"})
	})

	client := newTestClient(url)
	_, err := client.Connect(context.Background())
	assert.ErrorIs(t, err, ErrProtocolViolation)
}

func TestRunForwardsValidAndDropsMalformed(t *testing.T) {
	url := gatewayURL(t, func(ws *websocket.Conn) {
		for i := 0; i < 2; i++ { // connect, subscribe
			msg, err := readClientFrame(ws)
			if err != nil {
				return
			}
			if msg.Type == TypeConnect {
				writeServerFrame(ws, map[string]any{"type": "connected", "session_id": "s1"})
			}
		}
		_ = ws.WriteMessage(websocket.TextMessage, []byte("this is not json"))
		writeServerFrame(ws, map[string]any{"type": "tick", "timestamp": "t1"})
		_ = ws.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	})

	client := newTestClient(url)
	_, err := client.Connect(context.Background())
	require.NoError(t, err)

	out := make(chan Message, 16)
	err = client.Run(context.Background(), out)
	assert.NoError(t, err, "a clean close is a disconnect, not an error")

	require.Len(t, out, 1, "the malformed frame is dropped, the tick survives")
	msg := <-out
	assert.Equal(t, TypeTick, msg.Type)
	assert.Equal(t, "t1", msg.Timestamp)
}

func TestRunAnswersProtocolPing(t *testing.T) {
	gotPong := make(chan Message, 1)
	url := gatewayURL(t, func(ws *websocket.Conn) {
		for i := 0; i < 2; i++ {
			msg, err := readClientFrame(ws)
			if err != nil {
				return
			}
			if msg.Type == TypeConnect {
				writeServerFrame(ws, map[string]any{"type": "connected", "session_id": "s1"})
			}
		}
		writeServerFrame(ws, map[string]any{"type": "ping"})
		msg, err := readClientFrame(ws)
		if err != nil {
			return
		}
		gotPong <- msg
		_ = ws.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	})

	client := newTestClient(url)
	_, err := client.Connect(context.Background())
	require.NoError(t, err)

	out := make(chan Message, 16)
	require.NoError(t, client.Run(context.Background(), out))

	select {
	case pong := <-gotPong:
		assert.Equal(t, TypePong, pong.Type)
	case <-time.After(time.Second):
		t.Fatal("gateway never received a pong")
	}
	assert.Empty(t, out, "keep-alive frames are not forwarded")
}

func TestRunFailsAfterRepeatedReadErrors(t *testing.T) {
	url := gatewayURL(t, func(ws *websocket.Conn) {
		for i := 0; i < 2; i++ { // connect, subscribe
			msg, err := readClientFrame(ws)
			if err != nil {
				return
			}
			if msg.Type == TypeConnect {
				writeServerFrame(ws, map[string]any{"type": "connected", "session_id": "s1"})
			}
		}
		// A garbage frame header the client can never read past.
		_, _ = ws.UnderlyingConn().Write([]byte{0x8f, 0x00})
		// Hold the connection open until the client hangs up.
		_, _ = readClientFrame(ws)
	})

	client := newTestClient(url)
	_, err := client.Connect(context.Background())
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- client.Run(context.Background(), make(chan Message, 16)) }()

	select {
	case err := <-done:
		var terr *TransportError
		require.ErrorAs(t, err, &terr, "capped retries end in a transport error, not a clean disconnect")
		assert.Equal(t, "read", terr.Op)
	case <-time.After(2 * time.Second):
		t.Fatal("Run kept retrying past the consecutive read error cap")
	}
}

func TestRunStopsOnContextCancel(t *testing.T) {
	url := gatewayURL(t, func(ws *websocket.Conn) {
		for i := 0; i < 2; i++ {
			msg, err := readClientFrame(ws)
			if err != nil {
				return
			}
			if msg.Type == TypeConnect {
				writeServerFrame(ws, map[string]any{"type": "connected", "session_id": "s1"})
			}
		}
		// Hold the connection open until the client goes away.
		_, _ = readClientFrame(ws)
	})

	client := newTestClient(url)
	_, err := client.Connect(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	out := make(chan Message, 16)
	go func() { done <- client.Run(ctx, out) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop after cancellation")
	}
}

func TestRunWithoutConnect(t *testing.T) {
	client := NewClient(ClientOptions{Logger: zerolog.Nop()})
	err := client.Run(context.Background(), make(chan Message, 1))
	assert.ErrorIs(t, err, ErrNotConnected)
}
