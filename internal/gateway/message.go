// Package gateway provides a WebSocket client for observing the OpenClaw
// Gateway control-plane bus. The client speaks the gateway's JSON frame
// protocol: text frames tagged by a "type" field, with a challenge/response
// auth round and a subscription step before steady-state streaming.
package gateway

import (
	"encoding/json"
)

// Wire message type tags.
const (
	TypeConnect     = "connect"
	TypeEvent       = "event" // carries the connect challenge
	TypeAuth        = "auth"
	TypeConnected   = "connected"
	TypeSubscribe   = "subscribe"
	TypeAgentEvent  = "agentevent"
	TypeToolCall    = "toolcall"
	TypeToolResult  = "toolresult"
	TypeOutputChunk = "outputchunk"
	TypePresence    = "presence"
	TypeTick        = "tick"
	TypeShutdown    = "shutdown"
	TypeError       = "error"
	TypePing        = "ping"
	TypePong        = "pong"
)

// EventConnectChallenge is the event name carried by a challenge frame.
const EventConnectChallenge = "connect.challenge"

// SubscriptionChannels are the event channels an observer subscribes to.
var SubscriptionChannels = []string{"agent_events", "tool_calls", "outputs"}

// ChallengePayload is the payload of a connect challenge frame.
type ChallengePayload struct {
	Nonce string `json:"nonce"`
	TS    int64  `json:"ts"`
}

// Message is one gateway protocol frame. The wire union is closed: every
// frame decodes into this struct, and frames with an unrecognized type tag
// are classified as unknown rather than rejected. Only the fields relevant
// to a frame's type are populated.
type Message struct {
	Type string `json:"type"`

	// Handshake: connect / auth / connected / subscribe.
	Role      string   `json:"role,omitempty"`
	Version   string   `json:"version,omitempty"`
	Token     string   `json:"token,omitempty"`
	Nonce     string   `json:"nonce,omitempty"`
	SessionID string   `json:"session_id,omitempty"`
	Channels  []string `json:"channels,omitempty"`

	// Challenge frame ("type":"event") uses Event as a string name plus
	// Payload; an agentevent frame uses Event as an arbitrary JSON body.
	Event   json.RawMessage   `json:"event,omitempty"`
	Payload *ChallengePayload `json:"payload,omitempty"`

	// Stream: agentevent / toolcall / toolresult / outputchunk.
	RunID      string          `json:"run_id,omitempty"`
	Tool       string          `json:"tool,omitempty"`
	Args       json.RawMessage `json:"args,omitempty"`
	SpanID     string          `json:"span_id,omitempty"`
	Result     json.RawMessage `json:"result,omitempty"`
	DurationMs int64           `json:"duration_ms,omitempty"`
	Content    string          `json:"content,omitempty"`

	// Presence / tick / shutdown / error.
	Timestamp string `json:"timestamp,omitempty"`
	Reason    string `json:"reason,omitempty"`
	Code      string `json:"code,omitempty"`
	Message   string `json:"message,omitempty"`

	// Raw holds the original frame for unknown types, so nothing observed
	// on the wire is lost before it reaches the ledger.
	Raw json.RawMessage `json:"-"`
}

// ParseMessage decodes a single text frame. Frames that are not valid JSON
// objects return an error; frames with an unrecognized or absent type tag
// parse successfully and report IsKnown() == false.
func ParseMessage(data []byte) (Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return Message{}, err
	}
	if !msg.IsKnown() {
		msg.Raw = append(json.RawMessage(nil), data...)
	}
	return msg, nil
}

// Encode serializes the message to a wire frame.
func (m Message) Encode() ([]byte, error) {
	return json.Marshal(m)
}

// IsKnown reports whether the type tag names a frame the protocol defines.
func (m Message) IsKnown() bool {
	switch m.Type {
	case TypeConnect, TypeEvent, TypeAuth, TypeConnected, TypeSubscribe,
		TypeAgentEvent, TypeToolCall, TypeToolResult, TypeOutputChunk,
		TypePresence, TypeTick, TypeShutdown, TypeError, TypePing, TypePong:
		return true
	}
	return false
}

// IsChallenge reports whether this is a connect challenge frame.
func (m Message) IsChallenge() bool {
	return m.Type == TypeEvent && m.EventName() == EventConnectChallenge && m.Payload != nil
}

// EventName returns the event name when the Event field holds a JSON string,
// or "" when it holds a structured body (agentevent) or is absent.
func (m Message) EventName() string {
	if len(m.Event) == 0 {
		return ""
	}
	var name string
	if err := json.Unmarshal(m.Event, &name); err != nil {
		return ""
	}
	return name
}

// NewConnect builds the initial handshake frame for an observer.
func NewConnect(version string) Message {
	return Message{Type: TypeConnect, Role: "observer", Version: version}
}

// NewAuth builds the response to a connect challenge.
func NewAuth(token, nonce string) Message {
	return Message{Type: TypeAuth, Token: token, Nonce: nonce}
}

// NewSubscribe builds the observer subscription frame.
func NewSubscribe() Message {
	return Message{Type: TypeSubscribe, Channels: SubscriptionChannels}
}
