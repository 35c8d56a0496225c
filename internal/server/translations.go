package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/verbatik/agent-stream/internal/apperr"
	"github.com/verbatik/agent-stream/internal/orchestrator"
	"github.com/verbatik/agent-stream/internal/store"
)

// handleCreateTranslation starts a translation run for a stored file using a
// stored preset. Both must exist before a run can be spawned.
func (s *Server) handleCreateTranslation(c *gin.Context) {
	ctx := c.Request.Context()

	var body struct {
		FileID   string `json:"file_id" binding:"required"`
		PresetID string `json:"preset_id" binding:"required"`
		UserID   string `json:"user_id"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		respondError(c, apperr.Wrap(apperr.KindValidation, "invalid translation body", err))
		return
	}

	if _, err := s.store.GetFilePreset(ctx, body.PresetID); err != nil {
		respondError(c, err)
		return
	}
	if _, err := s.store.GetOriginalText(ctx, body.FileID); err != nil {
		respondError(c, err)
		return
	}

	tr := store.Translation{
		ID:       newID(),
		FileID:   body.FileID,
		PresetID: body.PresetID,
	}
	if err := s.store.CreateTranslation(ctx, &tr); err != nil {
		respondError(c, err)
		return
	}

	channelID := newID()
	s.orch.SpawnTranslationRun(channelID, tr.ID, body.UserID)

	c.JSON(http.StatusCreated, gin.H{
		"translation_id":  tr.ID,
		"rsmq_channel_id": channelID,
	})
}

// handleListTranslations lists the file's translations, newest first.
func (s *Server) handleListTranslations(c *gin.Context) {
	fileID := c.Param("file_id")

	list, err := s.store.ListTranslations(c.Request.Context(), fileID)
	if err != nil {
		respondError(c, err)
		return
	}
	if list == nil {
		list = []store.Translation{}
	}
	c.JSON(http.StatusOK, gin.H{"file_id": fileID, "translations": list})
}

// handleUpdateTranslation stores a manually edited translated text.
func (s *Server) handleUpdateTranslation(c *gin.Context) {
	translationID := c.Param("translation_id")
	ctx := c.Request.Context()

	var body struct {
		TranslatedText string `json:"translated_text" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		respondError(c, apperr.Wrap(apperr.KindValidation, "invalid translation update", err))
		return
	}

	if err := s.store.UpdateTranslationText(ctx, translationID, body.TranslatedText); err != nil {
		respondError(c, err)
		return
	}

	tr, err := s.store.GetTranslation(ctx, translationID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, tr)
}

// handleCancelTranslationRun aborts an in-flight translation run.
func (s *Server) handleCancelTranslationRun(c *gin.Context) {
	translationID := c.Param("translation_id")
	cancelled := s.orch.Cancel(orchestrator.TranslationRunKey(translationID))
	c.JSON(http.StatusAccepted, gin.H{"translation_id": translationID, "cancelled": cancelled})
}
