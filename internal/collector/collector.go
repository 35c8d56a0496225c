// Package collector assembles the final result of an agent run from its
// streamed chunks. Each assistant is configured with one collector kind; the
// orchestrator feeds every chunk through Collect and reads Result at the end
// of the run.
package collector

import (
	"strings"

	"github.com/verbatik/agent-stream/internal/agent"
	"github.com/verbatik/agent-stream/internal/apperr"
	"github.com/verbatik/agent-stream/internal/config"
)

// Collector kinds referenced from assistant configuration.
const (
	KindChat        = "chat"
	KindTranslation = "translation"
)

// Collector accumulates parsed chunks and formats them into the run result.
type Collector interface {
	// Collect records one chunk. Chunks the collector has no use for are
	// ignored.
	Collect(chunk agent.Chunk)
	// Result formats the accumulated chunks. A non-nil error means the
	// result could not be assembled into its expected shape; the returned
	// map still carries whatever was salvaged.
	Result() (map[string]any, error)
	// RunID returns the run ID seen in the metadata chunk, or "".
	RunID() string
}

// ForAssistant returns a fresh collector for the assistant ID.
func ForAssistant(id string, assistants config.AssistantRegistry) (Collector, error) {
	a, ok := assistants.Lookup(id)
	if !ok {
		return nil, apperr.Newf(apperr.KindValidation, "unknown assistant %q", id)
	}
	return New(a.Collector)
}

// New returns a fresh collector of the given kind.
func New(kind string) (Collector, error) {
	switch kind {
	case KindChat:
		return &ChatCollector{}, nil
	case KindTranslation:
		return &TranslationCollector{}, nil
	default:
		return nil, apperr.Newf(apperr.KindValidation, "unknown collector kind %q", kind)
	}
}

// accumulator is the shared chunk bookkeeping embedded by every collector.
type accumulator struct {
	runID string
	text  strings.Builder
}

func (a *accumulator) Collect(chunk agent.Chunk) {
	if chunk.Kind == agent.KindMetadata {
		a.runID = chunk.Metadata.RunID
		return
	}
	if text, ok := chunk.AIText(); ok {
		a.text.WriteString(text)
	}
}

func (a *accumulator) RunID() string { return a.runID }

// ChatCollector formats conversational runs as a single content blob.
type ChatCollector struct {
	accumulator
}

func (c *ChatCollector) Result() (map[string]any, error) {
	return map[string]any{"content": c.text.String()}, nil
}
