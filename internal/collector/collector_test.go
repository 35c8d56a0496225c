package collector

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/verbatik/agent-stream/internal/agent"
	"github.com/verbatik/agent-stream/internal/apperr"
	"github.com/verbatik/agent-stream/internal/config"
	"github.com/verbatik/agent-stream/internal/textseg"
)

func metadataChunk(runID string) agent.Chunk {
	return agent.Chunk{Kind: agent.KindMetadata, Metadata: &agent.Metadata{RunID: runID}}
}

func aiTextChunk(text string) agent.Chunk {
	return agent.Chunk{Kind: agent.KindEvents, Events: &agent.Events{
		Name:        "on_chat_model_stream",
		IsAIMessage: true,
		Text:        text,
	}}
}

func feed(c Collector, texts ...string) {
	for _, text := range texts {
		c.Collect(aiTextChunk(text))
	}
}

func TestForAssistant(t *testing.T) {
	assistants := config.DefaultAssistants()

	chat, err := ForAssistant(config.AssistantTask, assistants)
	require.NoError(t, err)
	assert.IsType(t, &ChatCollector{}, chat)

	translation, err := ForAssistant(config.AssistantTranslationA1, assistants)
	require.NoError(t, err)
	assert.IsType(t, &TranslationCollector{}, translation)
}

func TestForAssistantUnknown(t *testing.T) {
	_, err := ForAssistant("task_summarization_a1", config.DefaultAssistants())
	require.Error(t, err)
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
}

func TestNewUnknownKind(t *testing.T) {
	_, err := New("glossary")
	require.Error(t, err)
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
}

func TestRunIDFromMetadata(t *testing.T) {
	c := &ChatCollector{}
	assert.Empty(t, c.RunID())

	c.Collect(metadataChunk("run-42"))
	assert.Equal(t, "run-42", c.RunID())
}

func TestChatResult(t *testing.T) {
	c := &ChatCollector{}
	c.Collect(metadataChunk("run-1"))
	feed(c, "Hello", ", ", "world!")

	// Non-text chunks are ignored.
	c.Collect(agent.Chunk{Kind: agent.KindUpdates, Updates: &agent.Updates{Node: "n"}})
	c.Collect(agent.Chunk{Kind: agent.KindEvents, Events: &agent.Events{
		Name: "on_chat_model_stream", IsToolCall: true, Text: `{"q": 1}`,
	}})

	result, err := c.Result()
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"content": "Hello, world!"}, result)
}

func TestTranslationResultWithMetadataAndTags(t *testing.T) {
	c := &TranslationCollector{}
	feed(c,
		`{"summary": "A greeting", "source_language": "English", "target_language": "Korean"}`,
		"\n<translated_text>",
		"┼1┼First sentence.",
		"┼2┼Second sentence.",
		"</translated_text>",
	)

	result, err := c.Result()
	require.NoError(t, err)

	metadata, ok := result["metadata"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "A greeting", metadata["summary"])

	segments, ok := result["segments"].([]textseg.Segment)
	require.True(t, ok)
	require.Len(t, segments, 2)
	assert.Equal(t, textseg.Segment{SID: 1, Text: "First sentence."}, segments[0])
	assert.Equal(t, textseg.Segment{SID: 2, Text: "Second sentence."}, segments[1])
}

func TestTranslationResultWithoutTags(t *testing.T) {
	c := &TranslationCollector{}
	feed(c, "┼1┼Only the marked text.┼2┼No tags around it.")

	result, err := c.Result()
	require.NoError(t, err)
	assert.NotContains(t, result, "metadata")

	segments := result["segments"].([]textseg.Segment)
	require.Len(t, segments, 2)
	assert.Equal(t, "No tags around it.", segments[1].Text)
}

func TestTranslationResultDirectJSONSegments(t *testing.T) {
	c := &TranslationCollector{}
	feed(c, `<translated_text>{"segments": [{"sid": 1, "text": "Direct."}]}</translated_text>`)

	result, err := c.Result()
	require.NoError(t, err)

	segments := result["segments"].([]textseg.Segment)
	require.Len(t, segments, 1)
	assert.Equal(t, "Direct.", segments[0].Text)
}

func TestTranslationResultPlainTextFallsBackToMarking(t *testing.T) {
	c := &TranslationCollector{}
	feed(c, "<translated_text>An unmarked translated sentence.</translated_text>")

	result, err := c.Result()
	require.NoError(t, err)

	segments := result["segments"].([]textseg.Segment)
	require.Len(t, segments, 1)
	assert.Equal(t, 1, segments[0].SID)
}

func TestTranslationResultMalformedMetadataIgnored(t *testing.T) {
	c := &TranslationCollector{}
	feed(c, `{"summary": broken<translated_text>┼1┼Still parses.</translated_text>`)

	result, err := c.Result()
	require.NoError(t, err)
	assert.NotContains(t, result, "metadata")
	assert.Len(t, result["segments"].([]textseg.Segment), 1)
}

func TestTranslationResultEmpty(t *testing.T) {
	c := &TranslationCollector{}
	result, err := c.Result()
	require.NoError(t, err)
	assert.Empty(t, result["segments"])
}

func TestTranslationResultUnparseableKeepsRaw(t *testing.T) {
	c := &TranslationCollector{}
	feed(c, "<translated_text>   </translated_text>")

	result, err := c.Result()
	require.Error(t, err)
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
	assert.Contains(t, result, "_raw")
}
