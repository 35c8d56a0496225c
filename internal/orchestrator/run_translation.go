package orchestrator

import (
	"context"
	"encoding/json"
	"errors"

	"go.uber.org/zap"

	"github.com/verbatik/agent-stream/internal/agent"
	"github.com/verbatik/agent-stream/internal/apperr"
	"github.com/verbatik/agent-stream/internal/collector"
	"github.com/verbatik/agent-stream/internal/store"
	"github.com/verbatik/agent-stream/internal/textseg"
)

// runTranslation executes one file translation: segment the original text,
// run the preset's assistant over it and finalize the job with the collector
// result.
func (s *Service) runTranslation(ctx context.Context, channelID, translationID, userID string) {
	log := s.logger.With(
		zap.String("translation_id", translationID),
		zap.String("channel", channelID))

	tr, err := s.store.GetTranslation(ctx, translationID)
	if err != nil {
		s.abortRun(channelID, err, log)
		return
	}
	preset, err := s.store.GetFilePreset(ctx, tr.PresetID)
	if err != nil {
		s.abortRun(channelID, err, log)
		return
	}
	original, err := s.store.GetOriginalText(ctx, tr.FileID)
	if err != nil {
		s.abortRun(channelID, err, log)
		return
	}

	assistant, ok := s.assistants.Lookup(preset.AgentID)
	if !ok {
		s.abortRun(channelID, apperr.Newf(apperr.KindValidation, "unknown assistant %q", preset.AgentID), log)
		return
	}
	coll, err := collector.New(assistant.Collector)
	if err != nil {
		s.abortRun(channelID, err, log)
		return
	}

	if err := s.store.SetTranslationStatus(ctx, translationID, store.TaskInProgress); err != nil {
		s.abortRun(channelID, err, log)
		return
	}

	prompt, err := translationPrompt(original.Raw, preset.Prompt)
	if err != nil {
		s.resolveTranslation(ctx, channelID, translationID, coll, err, log)
		return
	}
	s.logPromptSize(TranslationRunKey(translationID), prompt)

	threadID, err := s.agent.CreateThread(ctx)
	if err != nil {
		s.resolveTranslation(ctx, channelID, translationID, coll, err, log)
		return
	}

	chunks, errs := s.agent.RunNewTask(ctx, threadID, assistant.Graph, userID, prompt)

	var runID string
	stream := &chunkStream{}
	for chunk := range chunks {
		coll.Collect(chunk)

		if chunk.Kind == agent.KindMetadata {
			runID = chunk.Metadata.RunID
		}
		for _, ev := range stream.events(chunk) {
			s.broadcast(ctx, channelID, ev.name, ev.payload)
			s.appendRunLog(ctx, runID, ev.name, ev.payload)
		}
	}

	s.resolveTranslation(ctx, channelID, translationID, coll, <-errs, log)
}

// translationPrompt renders the segmented original text as compact JSON and
// appends the preset's instruction prompt.
func translationPrompt(raw, presetPrompt string) (string, error) {
	doc, err := textseg.AnalyzeRawText(raw)
	if err != nil {
		return "", apperr.Wrap(apperr.KindValidation, "segmenting original text", err)
	}

	originalJSON, err := json.Marshal(map[string]any{"original_text": doc.Segments})
	if err != nil {
		return "", apperr.Wrap(apperr.KindInternal, "encoding original text", err)
	}

	prompt := string(originalJSON)
	if presetPrompt != "" {
		prompt += "\n\n" + presetPrompt
	}
	return prompt, nil
}

// appendRunLog mirrors a broadcast into the run's backfill stream.
func (s *Service) appendRunLog(ctx context.Context, runID, eventType string, payload map[string]any) {
	if s.runlog == nil || runID == "" {
		return
	}

	data := make(map[string]any, len(payload)+1)
	for k, v := range payload {
		data[k] = v
	}
	data["event"] = eventType

	if _, err := s.runlog.Append(ctx, runID, data); err != nil {
		s.logger.Warn("run log append failed", zap.String("run_id", runID), zap.Error(err))
	}
}

// resolveTranslation finalizes the job and always closes the channel with a
// done broadcast.
func (s *Service) resolveTranslation(runCtx context.Context, channelID, translationID string,
	coll collector.Collector, runErr error, log *zap.Logger) {

	ctx, cancel := terminalCtx()
	defer cancel()
	defer s.broadcast(ctx, channelID, "done", map[string]any{"translation_id": translationID})

	switch {
	case errors.Is(runCtx.Err(), context.Canceled):
		log.Info("translation run cancelled")
		if err := s.store.SetTranslationStatus(ctx, translationID, store.TaskCancelled); err != nil {
			log.Warn("cancelling translation failed", zap.Error(err))
		}

	case runErr != nil:
		failure := apperr.FailureMessage(runErr)
		log.Error("translation run failed", zap.Error(runErr))
		if err := s.store.FinalizeTranslation(ctx, translationID, "", store.TaskFailed, failure); err != nil {
			log.Warn("finalizing failed translation failed", zap.Error(err))
		}
		s.broadcast(ctx, channelID, "error", map[string]any{
			"message":        failure,
			"translation_id": translationID,
		})

	default:
		result, resErr := coll.Result()
		agentData, _ := json.Marshal(result)

		if resErr != nil {
			failure := apperr.FailureMessage(resErr)
			log.Error("translation result incomplete", zap.Error(resErr))
			if err := s.store.FinalizeTranslation(ctx, translationID, string(agentData), store.TaskFailed, failure); err != nil {
				log.Warn("finalizing failed translation failed", zap.Error(err))
			}
			s.broadcast(ctx, channelID, "error", map[string]any{
				"message":        failure,
				"translation_id": translationID,
			})
			return
		}

		// An out-of-band cancel while streaming wins over completion.
		if cur, err := s.store.GetTranslation(ctx, translationID); err == nil && cur.Status == store.TaskCancelled {
			log.Info("translation cancelled during run")
			return
		}

		if err := s.store.FinalizeTranslation(ctx, translationID, string(agentData), store.TaskCompleted, ""); err != nil {
			log.Warn("finalizing translation failed", zap.Error(err))
		}
	}
}
