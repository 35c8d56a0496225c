package collector

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/verbatik/agent-stream/internal/apperr"
	"github.com/verbatik/agent-stream/internal/textseg"
)

// Translation runs return a compact JSON metadata object followed by the
// translated text wrapped in <translated_text> tags:
//
//	{"summary": "...", "source_language": "English", ...}
//	<translated_text>┼1┼First sentence.┼2┼Second sentence.</translated_text>
var (
	translatedTagRe = regexp.MustCompile(`(?s)<translated_text>(.*?)</translated_text>`)
	// A balanced one-level-nested JSON object before the tag or at end of text.
	metadataRe         = regexp.MustCompile(`(?s)(\{[^{}]*(?:\{[^{}]*\}[^{}]*)*\})\s*(?:<translated_text>|$)`)
	metadataFallbackRe = regexp.MustCompile(`(?s)(\{.*?\})\s*<translated_text>`)
)

// TranslationCollector formats translation runs into numbered segments plus
// the metadata object the agent emitted alongside them.
type TranslationCollector struct {
	accumulator
}

func (c *TranslationCollector) Result() (map[string]any, error) {
	text := c.text.String()
	if text == "" {
		return map[string]any{"segments": []textseg.Segment{}}, nil
	}

	result := map[string]any{}
	if metadata := extractMetadata(text); len(metadata) > 0 {
		result["metadata"] = metadata
	}

	content := text
	if m := translatedTagRe.FindStringSubmatch(text); m != nil {
		content = strings.TrimSpace(m[1])
	}

	doc, err := textseg.AnalyzeRawText(content)
	if err != nil || len(doc.Segments) == 0 {
		result["segments"] = []textseg.Segment{}
		result["_raw"] = text
		return result, &apperr.Error{Kind: apperr.KindValidation, Msg: "no segments parsed from agent response", Err: err}
	}

	result["segments"] = doc.Segments
	return result, nil
}

// extractMetadata pulls the JSON object preceding the translated text. A
// malformed object is ignored rather than failing the run.
func extractMetadata(text string) map[string]any {
	m := metadataRe.FindStringSubmatch(text)
	if m == nil {
		m = metadataFallbackRe.FindStringSubmatch(text)
	}
	if m == nil {
		return nil
	}

	var metadata map[string]any
	if err := json.Unmarshal([]byte(m[1]), &metadata); err != nil {
		return nil
	}
	return metadata
}
