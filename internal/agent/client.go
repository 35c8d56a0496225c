// Package agent is the HTTP client for the LLM agent runtime. Runs are
// streamed back as typed chunks parsed from the runtime's SSE wire format.
package agent

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/verbatik/agent-stream/internal/apperr"
)

// Stream modes requested for every run. The orchestrator acts on updates,
// tasks and events; metadata arrives regardless and carries the run ID.
var streamModes = []string{"updates", "tasks", "events"}

// translationRole is the default localization brief passed to new runs.
const translationRole = "You are a professional translation/localization expert. " +
	"If the source language is Korean then, Target language: English. Target country: United States. Target city: New York. " +
	"If the source language is English then, Target language: Korean. Target country: South Korea. Target city: Seoul. " +
	"Target audience: General public. Target purpose: Web novel translation."

// Client talks to the agent runtime.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewClient creates a Client for the runtime at baseURL. The timeout bounds a
// whole streamed run; zero means no client-side limit (callers bound runs via
// context). A nil logger defaults to zap.NewNop().
func NewClient(baseURL string, timeout time.Duration, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

// CreateThread creates a new conversation thread on the runtime.
func (c *Client) CreateThread(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/threads", bytes.NewBufferString("{}"))
	if err != nil {
		return "", apperr.Wrap(apperr.KindInternal, "building thread request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", classify(err, "creating thread")
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 {
		return "", httpError(resp)
	}

	var out struct {
		ThreadID string `json:"thread_id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", apperr.Wrap(apperr.KindUpstreamHTTP, "decoding thread response", err)
	}
	if out.ThreadID == "" {
		return "", apperr.New(apperr.KindUpstreamHTTP, "thread response missing thread_id")
	}
	return out.ThreadID, nil
}

type runPayload struct {
	AssistantID string         `json:"assistant_id"`
	Input       any            `json:"input"`
	Command     any            `json:"command,omitempty"`
	Config      map[string]any `json:"config,omitempty"`
	StreamMode  []string       `json:"stream_mode"`
}

// RunNewTask starts a fresh run on the thread with the given prompt and
// streams the parsed chunks back. The chunk channel closes at stream end; a
// terminal failure is delivered on the error channel before both close.
func (c *Client) RunNewTask(ctx context.Context, threadID, assistantID, userID, prompt string) (<-chan Chunk, <-chan error) {
	payload := runPayload{
		AssistantID: assistantID,
		Input: map[string]any{
			"messages": []map[string]any{{"role": "human", "content": prompt}},
		},
		Config: map[string]any{
			"configurable": map[string]any{
				"user_id":          userID,
				"translation_role": translationRole,
			},
		},
		StreamMode: streamModes,
	}
	return c.stream(ctx, threadID, payload)
}

// RunHITLTask resumes an interrupted run with the human's answer.
func (c *Client) RunHITLTask(ctx context.Context, threadID, assistantID, userID, resumeMsg string) (<-chan Chunk, <-chan error) {
	payload := runPayload{
		AssistantID: assistantID,
		Input:       nil,
		Command:     map[string]any{"resume": resumeMsg},
		Config: map[string]any{
			"configurable": map[string]any{"user_id": userID},
		},
		StreamMode: streamModes,
	}
	return c.stream(ctx, threadID, payload)
}

func (c *Client) stream(ctx context.Context, threadID string, payload runPayload) (<-chan Chunk, <-chan error) {
	chunks := make(chan Chunk)
	errs := make(chan error, 1)

	go func() {
		defer close(errs)
		defer close(chunks)
		if err := c.streamRun(ctx, threadID, payload, chunks); err != nil {
			errs <- err
		}
	}()

	return chunks, errs
}

func (c *Client) streamRun(ctx context.Context, threadID string, payload runPayload, chunks chan<- Chunk) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return apperr.Wrap(apperr.KindInternal, "encoding run payload", err)
	}

	url := fmt.Sprintf("%s/threads/%s/runs/stream", c.baseURL, threadID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return apperr.Wrap(apperr.KindInternal, "building run request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return classify(err, "starting run stream")
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 {
		return httpError(resp)
	}

	scanner := bufio.NewScanner(resp.Body)
	// Single chunks can carry full state snapshots.
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)

	var event string
	var data strings.Builder
	dispatch := func() error {
		defer func() { event = ""; data.Reset() }()
		if event == "" || data.Len() == 0 {
			return nil
		}
		chunk, ok := ParseChunk(event, json.RawMessage(data.String()))
		if !ok {
			c.logger.Debug("skipping unhandled chunk", zap.String("event", event))
			return nil
		}
		select {
		case chunks <- chunk:
			return nil
		case <-ctx.Done():
			return classify(ctx.Err(), "delivering chunk")
		}
	}

	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if err := dispatch(); err != nil {
				return err
			}
		case strings.HasPrefix(line, "event: "):
			event = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			if data.Len() > 0 {
				data.WriteString("\n")
			}
			data.WriteString(strings.TrimPrefix(line, "data: "))
		}
	}
	if err := scanner.Err(); err != nil {
		return classify(err, "reading run stream")
	}
	// Flush a final frame not terminated by a blank line.
	return dispatch()
}

func httpError(resp *http.Response) error {
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return apperr.Newf(apperr.KindUpstreamHTTP, "agent runtime returned %d: %s",
		resp.StatusCode, strings.TrimSpace(string(snippet)))
}
