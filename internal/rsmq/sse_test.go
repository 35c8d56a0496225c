package rsmq

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSSEEventFraming(t *testing.T) {
	frame, err := SSEEvent(map[string]any{"type": "connected", "consumer": "c1"}, SSEEventSystem)
	require.NoError(t, err)
	assert.Equal(t, "event: system\ndata: {\"consumer\":\"c1\",\"type\":\"connected\"}\n\n", frame)
}

func TestSSEEventWithoutName(t *testing.T) {
	frame, err := SSEEvent(map[string]any{"k": "v"}, "")
	require.NoError(t, err)
	assert.Equal(t, "data: {\"k\":\"v\"}\n\n", frame)
}

func TestSSEEventCompactJSON(t *testing.T) {
	frame, err := SSEEvent(map[string]any{"text": "line1\nline2"}, "message")
	require.NoError(t, err)
	// JSON escapes the newline, so the frame stays a single data line.
	assert.Equal(t, "event: message\ndata: {\"text\":\"line1\\nline2\"}\n\n", frame)
}

func TestNewEnvelope(t *testing.T) {
	msg := Message{ID: "1712345678901-0", Data: map[string]any{"type": "model_stream_chunk", "content": "He"}}
	env := NewEnvelope("general", msg)

	assert.Equal(t, "1712345678901-0", env.ID)
	assert.Equal(t, "data", env.Type)
	assert.Equal(t, int64(1712345678901), env.TS)
	assert.Equal(t, "general", env.Channel)
	assert.Equal(t, "He", env.Data["content"])
}

func TestNewEnvelopeDone(t *testing.T) {
	env := NewEnvelope("ch", Message{ID: "5-0", Data: map[string]any{"type": "done"}})
	assert.Equal(t, "done", env.Type)
}

func TestEventName(t *testing.T) {
	assert.Equal(t, "ai", EventName(Message{Data: map[string]any{"type": "ai"}}))
	assert.Equal(t, SSEEventSystem, EventName(Message{Data: map[string]any{"type": "done"}}))
	assert.Equal(t, "message", EventName(Message{Data: map[string]any{}}))
}

func TestIsDone(t *testing.T) {
	assert.True(t, IsDone(Message{Data: map[string]any{"type": "done"}}))
	assert.False(t, IsDone(Message{Data: map[string]any{"type": "ai"}}))
}
