package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/verbatik/agent-stream/internal/apperr"
	"github.com/verbatik/agent-stream/internal/config"
	"github.com/verbatik/agent-stream/internal/orchestrator"
	"github.com/verbatik/agent-stream/internal/store"
)

// handleCreateTask creates a chatbot task.
func (s *Server) handleCreateTask(c *gin.Context) {
	var body struct {
		Title    string `json:"title" binding:"required"`
		AgentID  string `json:"agent_id"`
		HITLMode bool   `json:"hitl_mode"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		respondError(c, apperr.Wrap(apperr.KindValidation, "invalid task body", err))
		return
	}
	if body.AgentID == "" {
		body.AgentID = config.AssistantTask
	}
	if _, ok := s.assistants.Lookup(body.AgentID); !ok {
		respondError(c, apperr.Newf(apperr.KindValidation, "unknown assistant %q", body.AgentID))
		return
	}

	task := store.Task{
		ID:       newID(),
		Title:    body.Title,
		AgentID:  body.AgentID,
		HITLMode: body.HITLMode,
	}
	if err := s.store.CreateTask(c.Request.Context(), &task); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, task)
}

// handleCreateTaskMessage accepts a user message for the task and spawns its
// agent run. With message_id set, the body answers the interrupt of that
// HITL-parked message and resumes its run instead of creating a new message.
func (s *Server) handleCreateTaskMessage(c *gin.Context) {
	taskID := c.Param("task_id")
	ctx := c.Request.Context()

	var body struct {
		Sender    string          `json:"sender"`
		Text      string          `json:"text" binding:"required"`
		Files     []store.FileRef `json:"files"`
		UserID    string          `json:"user_id"`
		MessageID string          `json:"message_id"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		respondError(c, apperr.Wrap(apperr.KindValidation, "invalid message body", err))
		return
	}
	if body.Sender == "" {
		body.Sender = "user"
	}

	task, err := s.store.GetTask(ctx, taskID)
	if err != nil {
		respondError(c, err)
		return
	}
	// Only a task already running an action is rejected; settled tasks
	// (completed, failed, cancelled, abandoned) restart with a new message.
	if task.Status == store.TaskInProgress {
		respondError(c, apperr.Newf(apperr.KindConflict, "task %s already running an action", taskID))
		return
	}

	var messageID string
	switch {
	case body.MessageID != "":
		msg, err := s.store.GetMessage(ctx, body.MessageID)
		if err != nil {
			respondError(c, err)
			return
		}
		if msg.TaskID != taskID {
			respondError(c, apperr.Newf(apperr.KindValidation, "message %s does not belong to task %s", body.MessageID, taskID))
			return
		}
		if msg.Status != store.MessageHITL {
			respondError(c, apperr.Newf(apperr.KindConflict, "message %s is %s, not awaiting input", body.MessageID, msg.Status))
			return
		}
		if err := s.store.UpdateMessageText(ctx, body.MessageID, body.Text); err != nil {
			respondError(c, err)
			return
		}
		messageID = body.MessageID

	default:
		msg := store.Message{
			ID:     newID(),
			TaskID: taskID,
			Sender: body.Sender,
			Text:   body.Text,
			Files:  body.Files,
		}
		if err := s.store.CreateMessage(ctx, &msg); err != nil {
			respondError(c, err)
			return
		}
		messageID = msg.ID
	}

	channelID := newID()
	s.orch.SpawnMessageRun(channelID, messageID, body.UserID)

	c.JSON(http.StatusAccepted, gin.H{
		"message_id":      messageID,
		"rsmq_channel_id": channelID,
	})
}

// handleCancelMessageRun aborts an in-flight message run.
func (s *Server) handleCancelMessageRun(c *gin.Context) {
	messageID := c.Param("message_id")
	cancelled := s.orch.Cancel(orchestrator.MessageRunKey(messageID))
	c.JSON(http.StatusAccepted, gin.H{"message_id": messageID, "cancelled": cancelled})
}
