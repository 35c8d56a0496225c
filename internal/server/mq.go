package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/verbatik/agent-stream/internal/apperr"
	"github.com/verbatik/agent-stream/internal/rsmq"
)

// handleChannelMessage publishes one message to the channel stream.
func (s *Server) handleChannelMessage(c *gin.Context) {
	channelID := c.Param("channel_id")

	var body struct {
		Sender string `json:"sender"`
		Text   string `json:"text" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		respondError(c, apperr.Wrap(apperr.KindValidation, "invalid message body", err))
		return
	}

	data := map[string]any{
		"id":     newID(),
		"sender": body.Sender,
		"text":   body.Text,
		"ts":     time.Now().UnixMilli(),
	}
	if _, err := s.queue.Send(c.Request.Context(), channelID, data); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, data)
}

// handleChannelEvents streams the channel over SSE. Every subscriber consumes
// through its own group, so all of them see every message. Methods:
// s = replay from the beginning, n = new entries only, p = this consumer's
// pending entries first, then new ones.
func (s *Server) handleChannelEvents(c *gin.Context) {
	channelID := c.Param("channel_id")

	consumerID := c.Query("consumer")
	if consumerID == "" {
		consumerID = newID()
	}

	var startID string
	var method rsmq.ReadMethod
	switch c.DefaultQuery("method", "s") {
	case "s":
		startID, method = rsmq.StartBeginning, rsmq.ReadNew
	case "n":
		startID, method = rsmq.StartNewOnly, rsmq.ReadNew
	case "p":
		startID, method = rsmq.StartBeginning, rsmq.ReadPending
	default:
		respondError(c, apperr.New(apperr.KindValidation, "method must be s, n or p"))
		return
	}
	queue := s.subscriberQueue(consumerID, startID)

	header := c.Writer.Header()
	header.Set("Content-Type", "text/event-stream")
	header.Set("Cache-Control", "no-cache, no-transform")
	header.Set("Connection", "keep-alive")
	header.Set("X-Accel-Buffering", "no")
	c.Writer.WriteHeader(http.StatusOK)

	write := func(payload any, event string) bool {
		frame, err := rsmq.SSEEvent(payload, event)
		if err != nil {
			s.logger.Warn("encoding sse frame failed", zap.Error(err))
			return false
		}
		if _, err := c.Writer.WriteString(frame); err != nil {
			return false
		}
		c.Writer.Flush()
		return true
	}

	if !write(map[string]any{"type": "connected", "consumer": consumerID}, rsmq.SSEEventSystem) {
		return
	}

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	disconnected := func() bool { return c.Request.Context().Err() != nil }
	msgs, errs := queue.ConsumeWithDisconnectCheck(ctx, channelID, consumerID, disconnected, rsmq.ConsumeOptions{
		Method: method,
	})

	for msg := range msgs {
		if !write(rsmq.NewEnvelope(channelID, msg), rsmq.EventName(msg)) {
			cancel()
			break
		}
		if err := queue.Ack(ctx, channelID, msg.ID); err != nil {
			s.logger.Warn("ack failed",
				zap.String("channel", channelID),
				zap.String("entry", msg.ID),
				zap.Error(err))
		}
		if rsmq.IsDone(msg) {
			cancel()
			break
		}
	}

	// Drain the consume error; a deliberate cancel is not a stream failure.
	if err := <-errs; err != nil && c.Request.Context().Err() == nil && ctx.Err() == nil {
		write(map[string]any{"type": "error", "message": err.Error()}, rsmq.SSEEventError)
	}
}

// handleChannelInfo reports the stream, its groups and the consumers of the
// shared group. Group details are best effort: a channel nobody consumed yet
// has no groups.
func (s *Server) handleChannelInfo(c *gin.Context) {
	channelID := c.Param("channel_id")
	ctx := c.Request.Context()

	length, err := s.queue.Len(ctx, channelID)
	if err != nil {
		respondError(c, err)
		return
	}

	info, err := s.queue.Info(ctx, channelID)
	if err != nil {
		s.logger.Debug("stream info unavailable", zap.String("channel", channelID), zap.Error(err))
	}
	groups, err := s.queue.GroupInfo(ctx, channelID)
	if err != nil {
		s.logger.Debug("group info unavailable", zap.String("channel", channelID), zap.Error(err))
	}
	consumers, err := s.queue.ConsumersInfo(ctx, channelID)
	if err != nil {
		s.logger.Debug("consumer info unavailable", zap.String("channel", channelID), zap.Error(err))
	}

	c.JSON(http.StatusOK, gin.H{
		"channel_id":  channelID,
		"length":      length,
		"stream_info": info,
		"group_info":  groups,
		"consumers":   consumers,
	})
}

// handleChannelExpire sets a fresh TTL on the channel stream. Without a body
// the queue's configured TTL is applied.
func (s *Server) handleChannelExpire(c *gin.Context) {
	channelID := c.Param("channel_id")

	var body struct {
		TTLSeconds int64 `json:"ttl_seconds"`
	}
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&body); err != nil {
			respondError(c, apperr.Wrap(apperr.KindValidation, "invalid expire body", err))
			return
		}
	}
	if body.TTLSeconds < 0 {
		respondError(c, apperr.New(apperr.KindValidation, "ttl_seconds must not be negative"))
		return
	}

	ttl := s.cfg.StreamTTL
	if body.TTLSeconds > 0 {
		ttl = time.Duration(body.TTLSeconds) * time.Second
	}

	ok, err := s.queue.Expire(c.Request.Context(), channelID, ttl)
	if err != nil {
		respondError(c, err)
		return
	}
	if !ok {
		respondError(c, apperr.Newf(apperr.KindNotFound, "channel %s not found", channelID))
		return
	}
	c.JSON(http.StatusOK, gin.H{"channel_id": channelID, "ttl_seconds": int64(ttl.Seconds())})
}

// handleChannelDelete removes the channel stream.
func (s *Server) handleChannelDelete(c *gin.Context) {
	channelID := c.Param("channel_id")

	deleted, err := s.queue.Delete(c.Request.Context(), channelID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"channel_id": channelID, "deleted": deleted})
}
