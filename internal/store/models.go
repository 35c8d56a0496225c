package store

import (
	"time"
)

// TaskStatus is the lifecycle state of a chatbot task.
type TaskStatus string

const (
	TaskReady      TaskStatus = "READY"
	TaskInProgress TaskStatus = "IN_PROGRESS"
	TaskHITL       TaskStatus = "HITL"
	TaskCompleted  TaskStatus = "COMPLETED"
	TaskFailed     TaskStatus = "FAILED"
	TaskCancelled  TaskStatus = "CANCELLED"
	TaskAbandoned  TaskStatus = "ABANDONED"
)

// MessageStatus is the lifecycle state of a single message run.
type MessageStatus string

const (
	MessagePending    MessageStatus = "PENDING"
	MessageProcessing MessageStatus = "PROCESSING"
	MessageHITL       MessageStatus = "HITL"
	MessageCompleted  MessageStatus = "COMPLETED"
	MessageFailed     MessageStatus = "FAILED"
	MessageCancelled  MessageStatus = "CANCELLED"
	MessageAbandoned  MessageStatus = "ABANDONED"
)

// TranslationStatus mirrors TaskStatus for file translation jobs.
type TranslationStatus = TaskStatus

// Tasks in a settled state may be restarted by a new message run, so every
// settled status transitions back to IN_PROGRESS.
var taskTransitions = map[TaskStatus][]TaskStatus{
	TaskReady:      {TaskInProgress, TaskCancelled, TaskAbandoned},
	TaskInProgress: {TaskHITL, TaskCompleted, TaskFailed, TaskCancelled, TaskAbandoned},
	TaskHITL:       {TaskInProgress, TaskCancelled, TaskAbandoned},
	TaskCompleted:  {TaskInProgress},
	TaskFailed:     {TaskInProgress},
	TaskCancelled:  {TaskInProgress},
	TaskAbandoned:  {TaskInProgress},
}

var messageTransitions = map[MessageStatus][]MessageStatus{
	MessagePending:    {MessageProcessing, MessageCancelled, MessageAbandoned},
	MessageProcessing: {MessageHITL, MessageCompleted, MessageFailed, MessageCancelled, MessageAbandoned},
	MessageHITL:       {MessageProcessing, MessageCancelled, MessageAbandoned},
}

// CanTransition reports whether the status may move to the target state.
func (s TaskStatus) CanTransition(to TaskStatus) bool {
	for _, allowed := range taskTransitions[s] {
		if allowed == to {
			return true
		}
	}
	return false
}

// CanTransition reports whether the status may move to the target state.
func (s MessageStatus) CanTransition(to MessageStatus) bool {
	for _, allowed := range messageTransitions[s] {
		if allowed == to {
			return true
		}
	}
	return false
}

// Task is a chatbot conversation the agent works on across messages.
type Task struct {
	ID        string     `json:"id"`
	Title     string     `json:"title"`
	ThreadID  string     `json:"thread_id,omitempty"`
	LastRunID string     `json:"last_run_id,omitempty"`
	AgentID   string     `json:"agent_id"`
	HITLMode  bool       `json:"hitl_mode"`
	Status    TaskStatus `json:"status"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// FileRef is a message attachment fetched at run time.
type FileRef struct {
	Name     string `json:"name"`
	URL      string `json:"url"`
	MimeType string `json:"mime_type,omitempty"`
}

// ContentPart is one ordered piece of agent output stored on a message.
// Seqno starts at 1 and increases per message.
type ContentPart struct {
	Seqno   int    `json:"seqno"`
	RunID   string `json:"run_id,omitempty"`
	Type    string `json:"type"`
	Content string `json:"content"`
}

// Message is one user turn plus the agent output accumulated for it.
type Message struct {
	ID        string        `json:"id"`
	TaskID    string        `json:"task_id"`
	ThreadID  string        `json:"thread_id,omitempty"`
	LastRunID string        `json:"last_run_id,omitempty"`
	Sender    string        `json:"sender"`
	Text      string        `json:"text"`
	Files     []FileRef     `json:"files,omitempty"`
	Status    MessageStatus `json:"status"`
	Content   []ContentPart `json:"content,omitempty"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// FilePreset pairs an assistant with the prompt used for file translations.
type FilePreset struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	AgentID   string    `json:"agent_id"`
	Prompt    string    `json:"prompt"`
	CreatedAt time.Time `json:"created_at"`
}

// OriginalText is the source text of a file, keyed by file ID.
type OriginalText struct {
	FileID    string    `json:"file_id"`
	Raw       string    `json:"raw"`
	CreatedAt time.Time `json:"created_at"`
}

// Translation is one translation job for a file under a preset.
type Translation struct {
	ID             string            `json:"id"`
	FileID         string            `json:"file_id"`
	PresetID       string            `json:"preset_id"`
	Status         TranslationStatus `json:"status"`
	Message        string            `json:"message,omitempty"`
	AgentData      string            `json:"agent_data,omitempty"`
	TranslatedText string            `json:"translated_text,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at"`
}
