// Package server is the HTTP surface: message queue channels with SSE
// streaming, chatbot tasks and messages, and file translations.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/verbatik/agent-stream/internal/apperr"
	"github.com/verbatik/agent-stream/internal/config"
	"github.com/verbatik/agent-stream/internal/rsbuf"
	"github.com/verbatik/agent-stream/internal/rsmq"
	"github.com/verbatik/agent-stream/internal/store"
)

// Version is set at build time via -ldflags.
var Version = "dev"

// consumerGroupPrefix names the per-subscriber groups that make channel
// consumption a broadcast.
const consumerGroupPrefix = "mq-consumer-"

// Orchestrator is the subset of the run service the handlers use.
type Orchestrator interface {
	SpawnMessageRun(channelID, messageID, userID string)
	SpawnTranslationRun(channelID, translationID, userID string)
	Cancel(runKey string) bool
}

// Server is the HTTP server.
type Server struct {
	cfg        *config.Config
	engine     *gin.Engine
	server     *http.Server
	redis      redis.UniversalClient
	queue      *rsmq.Queue
	runlog     *rsbuf.Buffer
	store      store.Store
	orch       Orchestrator
	assistants config.AssistantRegistry
	logger     *zap.Logger

	startTime time.Time
}

// New assembles the server with its routes. The shared queue handles sends
// and channel administration; SSE subscribers get their own per-consumer
// group queues.
func New(cfg *config.Config, redisClient redis.UniversalClient, st store.Store, orch Orchestrator, assistants config.AssistantRegistry, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if assistants == nil {
		assistants = config.DefaultAssistants()
	}
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()

	s := &Server{
		cfg:    cfg,
		engine: engine,
		redis:  redisClient,
		queue: rsmq.New(&rsmq.ClientAdapter{Client: redisClient}, rsmq.Options{
			MaxLen: cfg.StreamMaxLen,
			TTL:    cfg.StreamTTL,
		}, logger),
		runlog:     rsbuf.New(redisClient, rsbuf.WithTTL(cfg.StreamTTL)),
		store:      st,
		orch:       orch,
		assistants: assistants,
		logger:     logger,
		server: &http.Server{
			Addr:        cfg.ListenAddr,
			Handler:     engine,
			ReadTimeout: 30 * time.Second,
			// No WriteTimeout: SSE streams stay open indefinitely.
			IdleTimeout: 60 * time.Second,
		},
		startTime: time.Now(),
	}

	engine.Use(s.requestIDMiddleware())
	engine.Use(s.loggingMiddleware())
	engine.Use(gin.Recovery())

	s.setupRoutes()
	return s
}

// Handler exposes the router, for tests.
func (s *Server) Handler() http.Handler { return s.engine }

// Start serves until the listener fails or Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info("http server listening", zap.String("addr", s.cfg.ListenAddr))
	return s.server.ListenAndServe()
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) setupRoutes() {
	s.engine.GET("/health", s.handleHealth)
	s.engine.GET("/ready", s.handleReady)
	s.engine.GET("/live", s.handleLive)

	api := s.engine.Group("/api/v1")

	mq := api.Group("/mq/channels/:channel_id")
	{
		mq.POST("/messages", s.handleChannelMessage)
		mq.GET("/events", s.handleChannelEvents)
		mq.GET("/info", s.handleChannelInfo)
		mq.POST("/expire", s.handleChannelExpire)
		mq.DELETE("", s.handleChannelDelete)
	}

	runs := api.Group("/runs/:run_id")
	{
		runs.GET("/events", s.handleRunEvents)
		runs.DELETE("/events", s.handleRunEventsDelete)
	}

	chatbot := api.Group("/chatbot")
	{
		chatbot.POST("/tasks", s.handleCreateTask)
		chatbot.POST("/tasks/:task_id/messages", s.handleCreateTaskMessage)
		chatbot.DELETE("/messages/:message_id/run", s.handleCancelMessageRun)
	}

	translations := api.Group("/translations")
	{
		translations.POST("", s.handleCreateTranslation)
		translations.GET("/:file_id", s.handleListTranslations)
		translations.PUT("/:translation_id", s.handleUpdateTranslation)
		translations.DELETE("/:translation_id/run", s.handleCancelTranslationRun)
	}
}

// subscriberQueue returns a queue bound to the subscriber's own consumer
// group, positioned by startID.
func (s *Server) subscriberQueue(consumerID, startID string) *rsmq.Queue {
	return rsmq.New(&rsmq.ClientAdapter{Client: s.redis}, rsmq.Options{
		Group:   consumerGroupPrefix + consumerID,
		MaxLen:  s.cfg.StreamMaxLen,
		TTL:     s.cfg.StreamTTL,
		StartID: startID,
	}, s.logger)
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"version": Version,
		"uptime":  time.Since(s.startTime).String(),
	})
}

func (s *Server) handleReady(c *gin.Context) {
	ctx := c.Request.Context()
	if err := s.redis.Ping(ctx).Err(); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "redis unavailable"})
		return
	}
	if p, ok := s.store.(interface{ Ping(context.Context) error }); ok {
		if err := p.Ping(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "database unavailable"})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

func (s *Server) handleLive(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "alive"})
}

// respondError maps the error's kind to an HTTP status.
func respondError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch apperr.KindOf(err) {
	case apperr.KindNotFound:
		status = http.StatusNotFound
	case apperr.KindValidation:
		status = http.StatusBadRequest
	case apperr.KindConflict:
		status = http.StatusConflict
	case apperr.KindUpstreamUnavailable, apperr.KindUpstreamTimeout, apperr.KindUpstreamHTTP:
		status = http.StatusBadGateway
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
