package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/verbatik/agent-stream/internal/agent"
	"github.com/verbatik/agent-stream/internal/config"
	"github.com/verbatik/agent-stream/internal/logging"
	"github.com/verbatik/agent-stream/internal/orchestrator"
	"github.com/verbatik/agent-stream/internal/rsbuf"
	"github.com/verbatik/agent-stream/internal/rsmq"
	"github.com/verbatik/agent-stream/internal/server"
	"github.com/verbatik/agent-stream/internal/store"
)

// Serve command flags
var (
	serveEnvFile    string
	serveListenAddr string
	serveLogLevel   string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the streaming server",
	Long:  `Start the HTTP server with its message queue, chatbot and translation endpoints.`,
	Run:   runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveEnvFile, "env", ".env", "Path to .env file")
	serveCmd.Flags().StringVar(&serveListenAddr, "addr", "", "Address to listen on (overrides LISTEN_ADDR)")
	serveCmd.Flags().StringVar(&serveLogLevel, "log-level", "", "Log level: debug, info, warn, error (overrides LOG_LEVEL)")
}

func runServe(cmd *cobra.Command, args []string) {
	loadEnvFile(serveEnvFile)

	if serveListenAddr != "" {
		if err := os.Setenv("LISTEN_ADDR", serveListenAddr); err != nil {
			log.Fatalf("Failed to set LISTEN_ADDR: %v", err)
		}
	}
	if serveLogLevel != "" {
		if err := os.Setenv("LOG_LEVEL", serveLogLevel); err != nil {
			log.Fatalf("Failed to set LOG_LEVEL: %v", err)
		}
	}

	cfg, err := config.New()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger, err := logging.NewLogger(cfg.LogLevel, cfg.LogFormat, cfg.LogFile)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	assistants, err := config.LoadAssistants(cfg.AssistantsConfigPath)
	if err != nil {
		logger.Fatal("Failed to load assistant registry", zap.Error(err))
	}

	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		logger.Fatal("Invalid REDIS_URL", zap.Error(err))
	}
	redisClient := redis.NewClient(redisOpts)
	defer func() { _ = redisClient.Close() }()

	db, err := store.Open(cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("Failed to open database", zap.Error(err))
	}
	defer func() { _ = db.Close() }()

	queue := rsmq.New(&rsmq.ClientAdapter{Client: redisClient}, rsmq.Options{
		MaxLen: cfg.StreamMaxLen,
		TTL:    cfg.StreamTTL,
	}, logger)

	orch := orchestrator.New(orchestrator.Options{
		Store:          db,
		Agent:          agent.NewClient(cfg.AgentAPIURL, cfg.AgentTimeout, logger),
		Queue:          queue,
		RunLog:         rsbuf.New(redisClient, rsbuf.WithTTL(cfg.StreamTTL)),
		Assistants:     assistants,
		Logger:         logger,
		EstimateTokens: true,
	})

	srv := server.New(cfg, redisClient, db, orch, assistants, logger)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	select {
	case err := <-errCh:
		logger.Fatal("Server failed", zap.Error(err))
	case <-ctx.Done():
	}

	logger.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP shutdown failed", zap.Error(err))
	}
	orch.Stop()
	logger.Info("Shutdown complete")
}

// loadEnvFile loads the .env file when present; a missing file is fine.
func loadEnvFile(path string) {
	if _, err := os.Stat(path); err != nil {
		return
	}
	if err := godotenv.Load(path); err != nil {
		log.Printf("Warning: Error loading %s file: %v", path, err)
	}
}
