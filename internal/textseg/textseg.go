// Package textseg converts raw document text into numbered sentence segments.
//
// Segments are delimited with ┼N┼ markers. Text may arrive already marked,
// as a JSON segments document, or as plain prose that needs auto-marking.
package textseg

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

const (
	// MarkerStart and MarkerEnd wrap the segment number: ┼12┼.
	MarkerStart = "┼"
	MarkerEnd   = "┼"

	// DefaultMinSentenceLen is the minimum rune count a segment accumulates
	// before a new marker is started.
	DefaultMinSentenceLen = 80
)

var markerRe = regexp.MustCompile(regexp.QuoteMeta(MarkerStart) + `(\d+)` + regexp.QuoteMeta(MarkerEnd))

// Segment is one numbered piece of a document.
type Segment struct {
	SID  int    `json:"sid"`
	Text string `json:"text"`
}

// Document is the segments payload exchanged with the agent and stored on
// translations.
type Document struct {
	Segments []Segment `json:"segments"`
}

// AnalyzeRawText converts raw text into a segments document. It handles three
// input shapes: an existing JSON segments document, text already carrying
// ┼N┼ markers, and plain text which is auto-marked first.
func AnalyzeRawText(raw string) (Document, error) {
	if doc, ok := tryParseJSONSegments(raw); ok {
		return doc, nil
	}

	marked := raw
	if !markerRe.MatchString(raw) {
		marked = AddSentenceMarkers(raw, MarkOptions{
			MinSentenceLen:     DefaultMinSentenceLen,
			StartOnTopOpen:     true,
			EndOnTopClose:      true,
			SkipEmptyLines:     true,
			DetectLineWrapping: true,
		})
	}

	doc := parseMarked(marked)
	if len(doc.Segments) == 0 {
		return Document{}, errors.New("no segments could be derived from text")
	}
	return doc, nil
}

// tryParseJSONSegments detects input that is already a JSON segments
// document. Without this guard such input would be re-wrapped as a single
// marker segment, nesting JSON inside JSON.
func tryParseJSONSegments(raw string) (Document, bool) {
	stripped := strings.TrimSpace(raw)
	if !strings.HasPrefix(stripped, "{") {
		return Document{}, false
	}

	var parsed struct {
		Segments []map[string]any `json:"segments"`
	}
	if err := json.Unmarshal([]byte(stripped), &parsed); err != nil || len(parsed.Segments) == 0 {
		return Document{}, false
	}

	var doc Document
	for _, seg := range parsed.Segments {
		sid, sidOK := seg["sid"]
		text, textOK := seg["text"]
		if !sidOK || !textOK {
			continue
		}
		n, ok := toInt(sid)
		if !ok {
			continue
		}
		doc.Segments = append(doc.Segments, Segment{SID: n, Text: fmt.Sprint(text)})
	}
	return doc, len(doc.Segments) > 0
}

func toInt(v any) (int, bool) {
	switch n := v.(type) {
	case float64:
		return int(n), true
	case int:
		return n, true
	case string:
		i, err := strconv.Atoi(n)
		return i, err == nil
	default:
		return 0, false
	}
}

// parseMarked splits marked text at each ┼N┼ marker. Segment text runs from
// the end of its marker to the start of the next one.
func parseMarked(marked string) Document {
	matches := markerRe.FindAllStringSubmatchIndex(marked, -1)

	var doc Document
	for i, m := range matches {
		sid, _ := strconv.Atoi(marked[m[2]:m[3]])
		start := m[1]
		end := len(marked)
		if i+1 < len(matches) {
			end = matches[i+1][0]
		}
		doc.Segments = append(doc.Segments, Segment{SID: sid, Text: marked[start:end]})
	}
	return doc
}
