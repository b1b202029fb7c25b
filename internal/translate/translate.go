// Package translate maps gateway protocol frames to ledger-ready events.
// Translation is total: no frame kind fails, and kinds the ledger does not
// model are recorded as Custom with their full frame preserved.
package translate

import (
	"encoding/json"
	"time"

	"github.com/openclaw/clawrec/internal/gateway"
	"github.com/openclaw/clawrec/internal/ledger"
)

// Placeholder replaces sensitive payload values when redaction is enabled.
// The surrounding structure (keys, nesting) is kept so consumers relying on
// payload shape keep working.
const Placeholder = "[REDACTED]"

// Event translates one inbound frame into a ledger event. The returned
// event carries the unassigned id sentinel; the ledger fills it in at
// append time. When redact is true, tool arguments and output content are
// replaced with Placeholder.
func Event(runID, connID string, msg gateway.Message, redact bool) ledger.Event {
	ev := ledger.Event{
		EventID:            ledger.UnassignedID,
		RunID:              runID,
		Kind:               ledger.KindCustom,
		Timestamp:          timestamp(msg),
		SourceConnectionID: connID,
		Redacted:           redact,
	}

	switch msg.Type {
	case gateway.TypeAgentEvent:
		ev.Kind = ledger.KindAgentEvent
		ev.Payload = append(json.RawMessage(nil), msg.Event...)

	case gateway.TypeOutputChunk:
		ev.Kind = ledger.KindOutputChunk
		content := msg.Content
		if redact {
			content = Placeholder
		}
		ev.Payload = marshal(map[string]any{"content": content})

	case gateway.TypeToolCall:
		args := msg.Args
		if redact {
			args = redactFields(args)
		}
		ev.Payload = marshal(map[string]any{
			"tool":    msg.Tool,
			"span_id": msg.SpanID,
			"args":    rawOrNull(args),
		})

	case gateway.TypeToolResult:
		ev.Payload = marshal(map[string]any{
			"span_id":     msg.SpanID,
			"duration_ms": msg.DurationMs,
			"result":      rawOrNull(msg.Result),
		})

	case gateway.TypeTick:
		ev.Kind = ledger.KindTick
		ev.Payload = marshal(map[string]any{"timestamp": msg.Timestamp})

	case gateway.TypePresence:
		ev.Kind = ledger.KindPresence
		ev.Payload = marshal(map[string]any{"timestamp": msg.Timestamp})

	case gateway.TypeShutdown:
		ev.Kind = ledger.KindShutdown
		ev.Payload = marshal(map[string]any{"reason": msg.Reason})

	case gateway.TypeError:
		ev.Payload = marshal(map[string]any{"code": msg.Code, "message": msg.Message})

	default:
		if len(msg.Raw) > 0 {
			ev.Payload = append(json.RawMessage(nil), msg.Raw...)
		} else {
			ev.Payload = marshal(msg)
		}
	}

	return ev
}

func timestamp(msg gateway.Message) string {
	if msg.Timestamp != "" {
		return msg.Timestamp
	}
	return time.Now().UTC().Format(time.RFC3339Nano)
}

// redactFields replaces every top-level value of a JSON object with the
// placeholder, keeping the keys. Non-object argument payloads are replaced
// wholesale. Absent payloads stay absent: redaction rewrites values, it
// never invents them.
func redactFields(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 {
		return nil
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return marshal(Placeholder)
	}
	out := make(map[string]string, len(obj))
	for k := range obj {
		out[k] = Placeholder
	}
	return marshal(out)
}

func rawOrNull(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 {
		return json.RawMessage("null")
	}
	return raw
}

func marshal(v any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage("null")
	}
	return data
}
