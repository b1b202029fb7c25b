// Package ledger provides the durable, append-only event store used by the
// recorder. A ledger is a directory holding a JSONL event log and a small
// key/value metadata table. Event ids are assigned exclusively at append
// time and are strictly increasing and gap-free for the lifetime of the
// ledger, surviving reopen.
package ledger

import "encoding/json"

// Kind classifies a recorded event.
type Kind string

const (
	KindAgentEvent  Kind = "agent_event"
	KindOutputChunk Kind = "output_chunk"
	KindTick        Kind = "tick"
	KindPresence    Kind = "presence"
	KindShutdown    Kind = "shutdown"
	KindCustom      Kind = "custom"
)

// UnassignedID is the sentinel event id on input. Producers must never
// pre-assign an id; Append rejects events that carry one.
const UnassignedID uint64 = 0

// Event is the durable unit of recording.
type Event struct {
	EventID            uint64          `json:"eventId"`
	RunID              string          `json:"runId"`
	Kind               Kind            `json:"kind"`
	Timestamp          string          `json:"timestamp"`
	SourceConnectionID string          `json:"sourceConnectionId,omitempty"`
	Payload            json.RawMessage `json:"payload,omitempty"`
	Redacted           bool            `json:"redacted,omitempty"`
}
