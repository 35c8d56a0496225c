package rsmq

import (
	"encoding/json"
	"strings"
)

// SSE event names with fixed meaning on the wire.
const (
	// SSEEventSystem carries connection lifecycle frames and done markers.
	SSEEventSystem = "system"
	// SSEEventError is the terminal frame emitted when a stream fails.
	SSEEventError = "error"
)

// Envelope is the JSON document wrapped around every streamed message.
type Envelope struct {
	ID      string         `json:"id"`
	Type    string         `json:"type"` // "data" or "done"
	Data    map[string]any `json:"data"`
	TS      int64          `json:"ts"`
	Channel string         `json:"channel"`
}

// NewEnvelope builds the wire envelope for a consumed message.
func NewEnvelope(channel string, msg Message) Envelope {
	env := Envelope{
		ID:      msg.ID,
		Type:    "data",
		Data:    msg.Data,
		TS:      msg.Timestamp(),
		Channel: channel,
	}
	if t, _ := msg.Data["type"].(string); t == "done" {
		env.Type = "done"
	}
	return env
}

// EventName returns the SSE event name for the message: the message's own
// type, with done markers mapped to the system event.
func EventName(msg Message) string {
	t, _ := msg.Data["type"].(string)
	switch t {
	case "":
		return "message"
	case "done":
		return SSEEventSystem
	default:
		return t
	}
}

// IsDone reports whether the message is a channel done marker.
func IsDone(msg Message) bool {
	t, _ := msg.Data["type"].(string)
	return t == "done"
}

// SSEEvent formats a payload as one Server-Sent Events frame. The payload is
// encoded as compact JSON; multi-line output becomes repeated data: lines per
// the SSE framing rules. An empty event name omits the event: line.
func SSEEvent(payload any, event string) (string, error) {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	if event != "" {
		b.WriteString("event: ")
		b.WriteString(event)
		b.WriteString("\n")
	}
	for _, line := range strings.Split(string(encoded), "\n") {
		b.WriteString("data: ")
		b.WriteString(line)
		b.WriteString("\n")
	}
	b.WriteString("\n")
	return b.String(), nil
}
