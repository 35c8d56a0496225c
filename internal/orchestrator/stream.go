package orchestrator

import (
	"github.com/verbatik/agent-stream/internal/agent"
)

// wireEvent is one event to broadcast on the run's channel.
type wireEvent struct {
	name    string
	payload map[string]any
}

// chunkStream maps agent chunks to the channel's wire vocabulary. It tracks
// the type of the last streamed model message so the on_chat_model_end
// terminator can name it.
type chunkStream struct {
	lastMessageType string
}

// events returns the wire events to emit for one chunk. Metadata, tasks and
// updates chunks are forwarded verbatim under langgraph_stream_chunk; model
// stream deltas and the end-of-model terminator go out as model_stream_chunk.
// Interrupts are handled by the run loop, not here.
func (cs *chunkStream) events(chunk agent.Chunk) []wireEvent {
	switch chunk.Kind {
	case agent.KindMetadata, agent.KindTasks, agent.KindUpdates:
		return []wireEvent{{
			name: "langgraph_stream_chunk",
			payload: map[string]any{
				"type": string(chunk.Kind),
				"data": chunk.Raw,
			},
		}}

	case agent.KindEvents:
		switch chunk.Events.Name {
		case "on_chat_model_stream":
			cs.lastMessageType = messageType(chunk.Events)
			return []wireEvent{{
				name: "model_stream_chunk",
				payload: map[string]any{
					"type":    cs.lastMessageType,
					"message": chunk.Events.Text,
					"status":  "PROCESSING",
				},
			}}
		case "on_chat_model_end":
			typ := cs.lastMessageType
			if typ == "" {
				typ = "unknown"
			}
			return []wireEvent{{
				name: "model_stream_chunk",
				payload: map[string]any{
					"type":    typ,
					"message": "",
					"status":  "COMPLETED",
				},
			}}
		}
	}
	return nil
}

func messageType(ev *agent.Events) string {
	switch {
	case ev.IsAIMessage:
		return "ai"
	case ev.IsToolCall:
		return "tool"
	default:
		return "unknown"
	}
}
