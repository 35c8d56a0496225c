package agent

import (
	"encoding/json"
	"sort"
)

// Kind discriminates the chunk variants streamed by the agent runtime.
type Kind string

const (
	KindMetadata Kind = "metadata"
	KindValues   Kind = "values"
	KindTasks    Kind = "tasks"
	KindUpdates  Kind = "updates"
	KindEvents   Kind = "events"
)

// Chunk is a tagged union: exactly one variant pointer is set, matching Kind.
// Raw holds the chunk's wire payload for forwarding it downstream verbatim.
type Chunk struct {
	Kind     Kind
	Raw      json.RawMessage
	Metadata *Metadata
	Values   *Values
	Tasks    *Tasks
	Updates  *Updates
	Events   *Events
}

// Metadata opens every run and carries the run ID.
type Metadata struct {
	RunID string
}

// Values is a full state snapshot, or an interrupt raised for human input.
type Values struct {
	Messages     []map[string]any
	Interrupted  bool
	InterruptMsg string
}

// Tasks reports a graph node starting or completing.
type Tasks struct {
	TaskID       string
	TaskName     string
	TaskError    string
	Triggers     any
	Started      bool
	Completed    bool
	Interrupted  bool
	InterruptMsg string
}

// Updates carries one node's incremental output.
type Updates struct {
	Node         string
	Output       map[string]any
	Interrupted  bool
	InterruptMsg string
}

// Events is a model lifecycle event; for stream events Text holds either the
// AI message fragment or the tool call argument fragment.
type Events struct {
	Name        string
	IsAIMessage bool
	IsToolCall  bool
	Data        map[string]any
	Text        string
}

// Interrupt returns the human-in-the-loop message when the chunk represents
// an interrupt, in any of the variants that can carry one.
func (c *Chunk) Interrupt() (string, bool) {
	switch c.Kind {
	case KindValues:
		if c.Values.Interrupted {
			return c.Values.InterruptMsg, true
		}
	case KindTasks:
		if c.Tasks.Interrupted {
			return c.Tasks.InterruptMsg, true
		}
	case KindUpdates:
		if c.Updates.Interrupted {
			return c.Updates.InterruptMsg, true
		}
	}
	return "", false
}

// AIText returns the streamed AI message fragment, if any.
func (c *Chunk) AIText() (string, bool) {
	if c.Kind == KindEvents && c.Events.IsAIMessage {
		return c.Events.Text, true
	}
	return "", false
}

// ParseChunk converts one raw stream part into a typed chunk. Chunks that
// carry nothing the orchestrator acts on return ok=false and are skipped.
func ParseChunk(event string, data json.RawMessage) (Chunk, bool) {
	var (
		c  Chunk
		ok bool
	)
	switch event {
	case "metadata":
		c, ok = parseMetadata(data)
	case "values":
		c, ok = parseValues(data)
	case "tasks":
		c, ok = parseTasks(data)
	case "updates":
		c, ok = parseUpdates(data)
	case "events":
		c, ok = parseEvents(data)
	}
	if !ok {
		return Chunk{}, false
	}
	c.Raw = append(json.RawMessage(nil), data...)
	return c, true
}

func parseMetadata(data json.RawMessage) (Chunk, bool) {
	var d struct {
		RunID string `json:"run_id"`
	}
	if err := json.Unmarshal(data, &d); err != nil || d.RunID == "" {
		return Chunk{}, false
	}
	return Chunk{Kind: KindMetadata, Metadata: &Metadata{RunID: d.RunID}}, true
}

func parseValues(data json.RawMessage) (Chunk, bool) {
	var d map[string]any
	if err := json.Unmarshal(data, &d); err != nil {
		return Chunk{}, false
	}

	if raw, ok := d["__interrupt__"]; ok {
		if msg, ok := interruptMsg(raw); ok {
			return Chunk{Kind: KindValues, Values: &Values{Interrupted: true, InterruptMsg: msg}}, true
		}
		return Chunk{}, false
	}

	raw, _ := d["messages"].([]any)
	if len(raw) == 0 {
		return Chunk{}, false
	}
	messages := make([]map[string]any, 0, len(raw))
	for _, m := range raw {
		if mm, ok := m.(map[string]any); ok {
			messages = append(messages, mm)
		}
	}
	return Chunk{Kind: KindValues, Values: &Values{Messages: messages}}, true
}

func parseTasks(data json.RawMessage) (Chunk, bool) {
	var d map[string]any
	if err := json.Unmarshal(data, &d); err != nil {
		return Chunk{}, false
	}

	id, _ := d["id"].(string)
	name, _ := d["name"].(string)

	_, hasInput := d["input"]
	_, hasResult := d["result"]

	// Node triggered: input present, no result yet.
	if hasInput && !hasResult {
		return Chunk{Kind: KindTasks, Tasks: &Tasks{
			TaskID:   id,
			TaskName: name,
			Triggers: d["triggers"],
			Started:  true,
		}}, true
	}

	// Node completed: result present, possibly with interrupts raised.
	if hasResult {
		t := &Tasks{TaskID: id, TaskName: name, Completed: true}
		if errStr, ok := d["error"].(string); ok {
			t.TaskError = errStr
		}
		if interrupts, ok := d["interrupts"].([]any); ok && len(interrupts) > 0 {
			t.Interrupted = true
			if msg, ok := interruptMsg(interrupts); ok {
				t.InterruptMsg = msg
			}
		}
		return Chunk{Kind: KindTasks, Tasks: t}, true
	}

	return Chunk{}, false
}

func parseUpdates(data json.RawMessage) (Chunk, bool) {
	var d map[string]any
	if err := json.Unmarshal(data, &d); err != nil || len(d) == 0 {
		return Chunk{}, false
	}

	// The update maps node name to output. Take the first node by sorted key
	// for determinism; multi-node updates are effectively single-node today.
	keys := make([]string, 0, len(d))
	for k := range d {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	node := keys[0]
	output := d[node]

	switch out := output.(type) {
	case []any:
		if len(out) == 0 {
			return Chunk{}, false
		}
		first, ok := out[0].(map[string]any)
		if !ok {
			return Chunk{}, false
		}
		u := &Updates{Node: node, Output: first}
		if node == "__interrupt__" {
			if msg, ok := interruptMsg(output); ok {
				u.Interrupted = true
				u.InterruptMsg = msg
			}
		} else if nested, ok := first["__interrupt__"]; ok {
			if msg, ok := interruptMsg(nested); ok {
				u.Interrupted = true
				u.InterruptMsg = msg
			}
		}
		return Chunk{Kind: KindUpdates, Updates: u}, true
	case map[string]any:
		return Chunk{Kind: KindUpdates, Updates: &Updates{Node: node, Output: out}}, true
	default:
		return Chunk{}, false
	}
}

func parseEvents(data json.RawMessage) (Chunk, bool) {
	var d map[string]any
	if err := json.Unmarshal(data, &d); err != nil {
		return Chunk{}, false
	}

	name, _ := d["event"].(string)
	switch name {
	case "on_chat_model_start", "on_chat_model_end":
		return Chunk{Kind: KindEvents, Events: &Events{Name: name, Data: d}}, true
	case "on_chat_model_stream":
		inner, _ := d["data"].(map[string]any)
		chunkData, _ := inner["chunk"].(map[string]any)

		// AI text fragment: data -> data -> chunk -> content.
		if content, ok := chunkData["content"].(string); ok && content != "" {
			if typ, _ := chunkData["type"].(string); typ == "AIMessageChunk" {
				return Chunk{Kind: KindEvents, Events: &Events{
					Name:        name,
					IsAIMessage: true,
					Data:        inner,
					Text:        content,
				}}, true
			}
		}

		// Tool call fragment: data -> data -> chunk -> tool_call_chunks[] -> args.
		if toolCalls, ok := chunkData["tool_call_chunks"].([]any); ok {
			for _, tc := range toolCalls {
				tcm, ok := tc.(map[string]any)
				if !ok {
					continue
				}
				if args, ok := tcm["args"].(string); ok && args != "" {
					return Chunk{Kind: KindEvents, Events: &Events{
						Name:       name,
						IsToolCall: true,
						Data:       inner,
						Text:       args,
					}}, true
				}
			}
		}
		return Chunk{}, false
	default:
		return Chunk{}, false
	}
}

// interruptMsg digs the human-facing message out of an interrupt list:
// [{"value": {"msg": "..."}}, ...].
func interruptMsg(raw any) (string, bool) {
	list, ok := raw.([]any)
	if !ok || len(list) == 0 {
		return "", false
	}
	first, ok := list[0].(map[string]any)
	if !ok {
		return "", false
	}
	value, ok := first["value"].(map[string]any)
	if !ok {
		return "", false
	}
	msg, ok := value["msg"].(string)
	return msg, ok
}
