// Package orchestrator drives agent runs outside the request scope. HTTP
// handlers spawn a run and return; the service streams the run's chunks into
// the message queue and persists the outcome.
package orchestrator

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/pkoukk/tiktoken-go"
	"go.uber.org/zap"

	"github.com/verbatik/agent-stream/internal/agent"
	"github.com/verbatik/agent-stream/internal/config"
	"github.com/verbatik/agent-stream/internal/store"
)

const terminalBroadcastTimeout = 5 * time.Second

// AgentClient is the subset of the agent runtime client the service uses.
type AgentClient interface {
	CreateThread(ctx context.Context) (string, error)
	RunNewTask(ctx context.Context, threadID, assistantID, userID, prompt string) (<-chan agent.Chunk, <-chan error)
	RunHITLTask(ctx context.Context, threadID, assistantID, userID, resumeMsg string) (<-chan agent.Chunk, <-chan error)
}

// Broadcaster publishes run progress to a channel's subscribers.
type Broadcaster interface {
	Broadcast(ctx context.Context, channel, eventType string, payload map[string]any) (string, error)
}

// RunLog records translation run chunks for late-joiner backfill.
type RunLog interface {
	Append(ctx context.Context, runID string, data map[string]any) (string, error)
}

// Options wires the service's collaborators. Logger and HTTPClient default
// when nil; RunLog is optional.
type Options struct {
	Store      store.Store
	Agent      AgentClient
	Queue      Broadcaster
	RunLog     RunLog
	Assistants config.AssistantRegistry
	HTTPClient *http.Client
	Logger     *zap.Logger
	// EstimateTokens enables the prompt token estimate log. The first
	// estimate fetches the BPE ranks, so it stays off in tests.
	EstimateTokens bool
}

// Service runs agent tasks in the background and tracks them for cancellation.
type Service struct {
	store      store.Store
	agent      AgentClient
	queue      Broadcaster
	runlog     RunLog
	assistants config.AssistantRegistry
	httpClient *http.Client
	logger     *zap.Logger

	estimateTokens bool
	encodingOnce   sync.Once
	encoding       *tiktoken.Tiktoken

	mu   sync.Mutex
	runs map[string]context.CancelFunc

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New creates the service.
func New(opts Options) *Service {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	if opts.Assistants == nil {
		opts.Assistants = config.DefaultAssistants()
	}
	return &Service{
		store:      opts.Store,
		agent:      opts.Agent,
		queue:      opts.Queue,
		runlog:     opts.RunLog,
		assistants: opts.Assistants,
		httpClient: opts.HTTPClient,
		logger:     opts.Logger,

		estimateTokens: opts.EstimateTokens,

		runs:   make(map[string]context.CancelFunc),
		stopCh: make(chan struct{}),
	}
}

// MessageRunKey is the cancellation key for a chatbot message run.
func MessageRunKey(messageID string) string { return "message:" + messageID }

// TranslationRunKey is the cancellation key for a file translation run.
func TranslationRunKey(translationID string) string { return "translation:" + translationID }

// SpawnMessageRun starts a chatbot message run in the background.
func (s *Service) SpawnMessageRun(channelID, messageID, userID string) {
	s.spawn(MessageRunKey(messageID), func(ctx context.Context) {
		s.runMessage(ctx, channelID, messageID, userID)
	})
}

// SpawnTranslationRun starts a file translation run in the background.
func (s *Service) SpawnTranslationRun(channelID, translationID, userID string) {
	s.spawn(TranslationRunKey(translationID), func(ctx context.Context) {
		s.runTranslation(ctx, channelID, translationID, userID)
	})
}

func (s *Service) spawn(runKey string, run func(context.Context)) {
	ctx, cancel := context.WithCancel(context.Background())

	s.mu.Lock()
	if prev, ok := s.runs[runKey]; ok {
		prev()
	}
	s.runs[runKey] = cancel
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			cancel()
			s.mu.Lock()
			delete(s.runs, runKey)
			s.mu.Unlock()
		}()

		// Stop() cancels every active run.
		go func() {
			select {
			case <-s.stopCh:
				cancel()
			case <-ctx.Done():
			}
		}()

		run(ctx)
	}()
}

// Cancel aborts the run identified by runKey. It reports whether a run was
// active.
func (s *Service) Cancel(runKey string) bool {
	s.mu.Lock()
	cancel, ok := s.runs[runKey]
	s.mu.Unlock()
	if ok {
		cancel()
	}
	return ok
}

// Active reports whether the run identified by runKey is in flight.
func (s *Service) Active(runKey string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.runs[runKey]
	return ok
}

// Stop cancels all active runs and waits for them to finish.
func (s *Service) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
	s.wg.Wait()
}

// broadcast publishes one progress event, logging delivery failures instead
// of aborting the run.
func (s *Service) broadcast(ctx context.Context, channel, eventType string, payload map[string]any) {
	if _, err := s.queue.Broadcast(ctx, channel, eventType, payload); err != nil {
		s.logger.Warn("broadcast failed",
			zap.String("channel", channel),
			zap.String("event_type", eventType),
			zap.Error(err))
	}
}

// terminalCtx returns a context for broadcasts and writes that must still go
// out after the run context was cancelled.
func terminalCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), terminalBroadcastTimeout)
}

// logPromptSize logs the prompt's token estimate so operators can spot runs
// near the model's context limit.
func (s *Service) logPromptSize(runKey, prompt string) {
	if !s.estimateTokens {
		return
	}
	s.encodingOnce.Do(func() {
		enc, err := tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			s.logger.Warn("token encoding unavailable", zap.Error(err))
			return
		}
		s.encoding = enc
	})
	if s.encoding == nil {
		return
	}
	s.logger.Info("prompt prepared",
		zap.String("run", runKey),
		zap.Int("prompt_tokens", len(s.encoding.Encode(prompt, nil, nil))),
		zap.Int("prompt_chars", len(prompt)))
}
