package orchestrator

import (
	"context"
	"encoding/json"
	"errors"

	"go.uber.org/zap"

	"github.com/verbatik/agent-stream/internal/agent"
	"github.com/verbatik/agent-stream/internal/apperr"
	"github.com/verbatik/agent-stream/internal/collector"
	"github.com/verbatik/agent-stream/internal/config"
	"github.com/verbatik/agent-stream/internal/store"
)

// runMessage executes one chatbot message run: resolve the thread, stream the
// agent's chunks to the channel and persist the outcome on message and task.
func (s *Service) runMessage(ctx context.Context, channelID, messageID, userID string) {
	log := s.logger.With(
		zap.String("message_id", messageID),
		zap.String("channel", channelID))

	msg, err := s.store.GetMessage(ctx, messageID)
	if err != nil {
		s.abortRun(channelID, err, log)
		return
	}
	task, err := s.store.GetTask(ctx, msg.TaskID)
	if err != nil {
		s.abortRun(channelID, err, log)
		return
	}

	assistant, ok := s.assistants.Lookup(task.AgentID)
	if !ok {
		s.abortRun(channelID, apperr.Newf(apperr.KindValidation, "unknown assistant %q", task.AgentID), log)
		return
	}
	coll, err := collector.New(assistant.Collector)
	if err != nil {
		s.abortRun(channelID, err, log)
		return
	}

	// A message parked in HITL resumes its interrupted run instead of
	// starting a new one.
	resume := msg.Status == store.MessageHITL

	// Claim the task before touching anything else: a task already running an
	// action rejects the run without side effects.
	if err := s.store.SetTaskStatus(ctx, task.ID, store.TaskInProgress); err != nil {
		s.abortRun(channelID, err, log)
		return
	}
	if err := s.store.SetMessageStatus(ctx, messageID, store.MessageProcessing); err != nil {
		s.abortRun(channelID, err, log)
		return
	}

	threadID, err := s.selectThread(ctx, task, msg, resume)
	if err != nil {
		s.resolveMessage(ctx, channelID, messageID, task, coll, "", false, err, log)
		return
	}

	var chunks <-chan agent.Chunk
	var errs <-chan error
	if resume {
		chunks, errs = s.agent.RunHITLTask(ctx, threadID, assistant.Graph, userID, msg.Text)
	} else {
		prompt := s.promptWithAttachments(ctx, msg, log)
		s.logPromptSize(MessageRunKey(messageID), prompt)
		chunks, errs = s.agent.RunNewTask(ctx, threadID, assistant.Graph, userID, prompt)
	}

	var runID string
	interrupted := false
	stream := &chunkStream{}
	for chunk := range chunks {
		coll.Collect(chunk)

		if chunk.Kind == agent.KindMetadata {
			runID = chunk.Metadata.RunID
			if err := s.store.UpdateTaskRunID(ctx, task.ID, runID); err != nil {
				log.Warn("persisting task run id failed", zap.Error(err))
			}
			if err := s.store.UpdateMessageRunID(ctx, messageID, runID); err != nil {
				log.Warn("persisting message run id failed", zap.Error(err))
			}
		}

		for _, ev := range stream.events(chunk) {
			s.broadcast(ctx, channelID, ev.name, ev.payload)
		}

		if interruptMsg, ok := chunk.Interrupt(); ok && !interrupted {
			interrupted = true
			s.markHITL(ctx, task.ID, messageID, log)
			s.broadcast(ctx, channelID, "ai_message", map[string]any{
				"type":       "ai",
				"message":    interruptMsg,
				"status":     string(store.MessageHITL),
				"message_id": messageID,
			})
		}
	}

	s.resolveMessage(ctx, channelID, messageID, task, coll, runID, interrupted, <-errs, log)
}

// selectThread picks the conversation thread for the run. The task assistant
// keeps one thread per task; other assistants reuse the message's thread when
// resuming and otherwise get a fresh one persisted on the message.
func (s *Service) selectThread(ctx context.Context, task store.Task, msg store.Message, resume bool) (string, error) {
	if task.AgentID == config.AssistantTask && task.ThreadID != "" {
		return task.ThreadID, nil
	}
	if resume && msg.ThreadID != "" {
		return msg.ThreadID, nil
	}

	threadID, err := s.agent.CreateThread(ctx)
	if err != nil {
		return "", err
	}
	if err := s.store.UpdateMessageThread(ctx, msg.ID, threadID); err != nil {
		return "", err
	}
	return threadID, nil
}

func (s *Service) markHITL(ctx context.Context, taskID, messageID string, log *zap.Logger) {
	if err := s.store.SetMessageStatus(ctx, messageID, store.MessageHITL); err != nil {
		log.Warn("marking message HITL failed", zap.Error(err))
	}
	if err := s.store.SetTaskStatus(ctx, taskID, store.TaskHITL); err != nil {
		log.Warn("marking task HITL failed", zap.Error(err))
	}
}

// resolveMessage applies the terminal state of the run. Every outcome closes
// the channel with a done broadcast except an interrupt, which parks the run
// in HITL and keeps the channel open for the resumed run.
func (s *Service) resolveMessage(runCtx context.Context, channelID, messageID string, task store.Task,
	coll collector.Collector, runID string, interrupted bool, runErr error, log *zap.Logger) {

	ctx, cancel := terminalCtx()
	defer cancel()
	done := func() {
		s.broadcast(ctx, channelID, "done", map[string]any{"message_id": messageID})
	}

	switch {
	case errors.Is(runCtx.Err(), context.Canceled):
		log.Info("message run cancelled")
		s.setMessageState(ctx, task.ID, messageID, store.MessageCancelled, store.TaskCancelled, log)
		done()

	case interrupted:
		// Parked in HITL waiting for the human's answer.
		if runErr != nil {
			log.Warn("stream error after interrupt", zap.Error(runErr))
		}

	case runErr != nil:
		failure := apperr.FailureMessage(runErr)
		log.Error("message run failed", zap.Error(runErr))
		if err := s.store.AppendMessageContent(ctx, messageID, store.ContentPart{
			RunID: runID, Type: "system", Content: failure,
		}); err != nil {
			log.Warn("storing failure content failed", zap.Error(err))
		}
		s.setMessageState(ctx, task.ID, messageID, store.MessageFailed, store.TaskFailed, log)
		s.broadcast(ctx, channelID, "error", map[string]any{
			"message":    failure,
			"message_id": messageID,
		})
		done()

	default:
		result, err := coll.Result()
		content, _ := json.Marshal(result)
		if err != nil {
			log.Warn("collector result incomplete", zap.Error(err))
		}
		if err := s.store.AppendMessageContent(ctx, messageID, store.ContentPart{
			RunID: runID, Type: "ai", Content: string(content),
		}); err != nil {
			log.Warn("storing run content failed", zap.Error(err))
		}

		// An operator may have cancelled the task out of band while the run
		// was streaming; the run then settles as cancelled, not completed.
		if s.taskCancelled(ctx, task.ID) {
			log.Info("task cancelled during run")
			if err := s.store.SetMessageStatus(ctx, messageID, store.MessageCancelled); err != nil {
				log.Warn("cancelling message failed", zap.Error(err))
			}
		} else {
			if err := s.store.SetMessageStatus(ctx, messageID, store.MessageCompleted); err != nil {
				log.Warn("completing message failed", zap.Error(err))
			}
			// The task assistant keeps its task open across messages; other
			// assistants finish the task with the run.
			if task.AgentID != config.AssistantTask {
				if err := s.store.SetTaskStatus(ctx, task.ID, store.TaskCompleted); err != nil {
					log.Warn("completing task failed", zap.Error(err))
				}
			}
		}
		done()
	}
}

// taskCancelled re-reads the task to catch an out-of-band cancel that raced
// the run's terminal write.
func (s *Service) taskCancelled(ctx context.Context, taskID string) bool {
	task, err := s.store.GetTask(ctx, taskID)
	return err == nil && task.Status == store.TaskCancelled
}

func (s *Service) setMessageState(ctx context.Context, taskID, messageID string,
	msgStatus store.MessageStatus, taskStatus store.TaskStatus, log *zap.Logger) {

	if err := s.store.SetMessageStatus(ctx, messageID, msgStatus); err != nil {
		log.Warn("updating message status failed", zap.String("status", string(msgStatus)), zap.Error(err))
	}
	if err := s.store.SetTaskStatus(ctx, taskID, taskStatus); err != nil {
		log.Warn("updating task status failed", zap.String("status", string(taskStatus)), zap.Error(err))
	}
}

// abortRun reports a run that failed before it could change any state.
func (s *Service) abortRun(channelID string, err error, log *zap.Logger) {
	log.Error("run aborted", zap.Error(err))

	ctx, cancel := terminalCtx()
	defer cancel()
	s.broadcast(ctx, channelID, "error", map[string]any{"message": apperr.SystemMessage(err)})
	s.broadcast(ctx, channelID, "done", nil)
}
