package textseg

import (
	"fmt"
	"strings"
	"unicode"
)

// MarkOptions controls sentence marker insertion.
type MarkOptions struct {
	// MinSentenceLen is how many runes a segment accumulates before the next
	// sentence boundary starts a new marker. Zero means every sentence gets
	// its own marker.
	MinSentenceLen int
	// StartOnTopOpen treats a top-level opening quote or bracket as a
	// sentence start.
	StartOnTopOpen bool
	// EndOnTopClose treats a top-level closing quote or bracket as a
	// boundary even without punctuation.
	EndOnTopClose bool
	// SkipEmptyLines keeps blank lines untouched and unnumbered.
	SkipEmptyLines bool
	// DetectLineWrapping groups soft-wrapped lines into paragraphs so a
	// wrapped sentence is not split mid-way.
	DetectLineWrapping bool
}

// Enclosure pairs whose balanced content never yields a boundary.
var enclosurePairs = map[rune]rune{
	'(': ')', '[': ']', '{': '}', '<': '>',
	'«': '»', '‹': '›',
	'“': '”', '‘': '’', '„': '”', '‚': '’',
	'「': '」', '『': '』', '《': '》', '〈': '〉', '【': '】', '〔': '〕',
	'（': '）', '［': '］', '｛': '｝', '＜': '＞', '｢': '｣',
}

// Symmetric quotes open and close with the same character.
var symmetricQuotes = map[rune]bool{'"': true, '\'': true}

// AddSentenceMarkers inserts ┼N┼ markers into text without adding or removing
// any other characters. Marking works per physical line; each marker starts a
// group of whole sentences at least MinSentenceLen runes long, so no marker
// ever lands mid-sentence.
func AddSentenceMarkers(text string, opts MarkOptions) string {
	if text == "" {
		return ""
	}

	paragraphs := opts.DetectLineWrapping && looksLineWrapped(text)
	lines := splitLines(text, paragraphs)

	markerNo := 1
	var out strings.Builder
	for _, lp := range lines {
		if opts.SkipEmptyLines && strings.TrimSpace(lp.line) == "" {
			out.WriteString(lp.line)
			out.WriteString(lp.sep)
			continue
		}
		marked, next := markLine(lp.line, markerNo, opts)
		out.WriteString(marked)
		out.WriteString(lp.sep)
		markerNo = next
	}
	return out.String()
}

type linePair struct {
	line string
	sep  string
}

// splitLines splits text into (line, separator) pairs preserving the exact
// separators. In paragraph mode only runs of two or more line feeds separate,
// keeping soft wraps inside the line.
func splitLines(text string, paragraphs bool) []linePair {
	var res []linePair
	n := len(text)
	i := 0

	if !paragraphs {
		for i < n {
			start := i
			for i < n && text[i] != '\n' && text[i] != '\r' {
				i++
			}
			line := text[start:i]
			sepStart := i
			for i < n && (text[i] == '\n' || text[i] == '\r') {
				i++
			}
			res = append(res, linePair{line: line, sep: text[sepStart:i]})
		}
		return res
	}

	last := 0
	for i < n {
		if text[i] != '\n' && text[i] != '\r' {
			i++
			continue
		}
		sepStart := i
		count := 0
		for i < n && (text[i] == '\n' || text[i] == '\r') {
			if text[i] == '\r' && i+1 < n && text[i+1] == '\n' {
				i += 2
			} else {
				i++
			}
			count++
		}
		if count >= 2 {
			res = append(res, linePair{line: text[last:sepStart], sep: text[sepStart:i]})
			last = i
		}
	}
	if last < n {
		res = append(res, linePair{line: text[last:], sep: ""})
	}
	return res
}

// looksLineWrapped reports whether the text appears soft-wrapped: most
// non-empty physical lines do not end a sentence.
func looksLineWrapped(text string) bool {
	var total, unterminated int
	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimRight(line, " \t\r")
		if strings.TrimSpace(trimmed) == "" {
			continue
		}
		total++
		if !endsWithSentencePunct(trimmed) {
			unterminated++
		}
	}
	return total >= 2 && unterminated*2 > total
}

func endsWithSentencePunct(s string) bool {
	runes := []rune(s)
	switch runes[len(runes)-1] {
	case '.', '!', '?', '…', '‽', '。', '！', '？':
		return true
	}
	// A top-level closing quote after punctuation still ends the sentence.
	if len(runes) >= 2 {
		last := runes[len(runes)-1]
		if last == '"' || last == '”' || last == '」' || last == '’' {
			switch runes[len(runes)-2] {
			case '.', '!', '?', '…', '。', '！', '？':
				return true
			}
		}
	}
	return false
}

// markLine inserts markers into one line, returning the marked line and the
// next marker number. Sentences accumulate into the current group until the
// group reaches MinSentenceLen runes, then the group is emitted behind one
// marker.
func markLine(line string, markerNo int, opts MarkOptions) (string, int) {
	starts := sentenceStarts(line, opts.StartOnTopOpen, opts.EndOnTopClose)

	minLen := opts.MinSentenceLen
	if minLen == 0 {
		minLen = 1
	}

	var marked strings.Builder
	var group strings.Builder

	flush := func() {
		marked.WriteString(fmt.Sprintf("%s%d%s", MarkerStart, markerNo, MarkerEnd))
		marked.WriteString(group.String())
		markerNo++
		group.Reset()
	}

	for idx, s := range starts {
		e := len(line)
		if idx+1 < len(starts) {
			e = starts[idx+1]
		}
		group.WriteString(line[s:e])
		if len([]rune(strings.TrimSpace(group.String()))) >= minLen {
			flush()
		}
	}
	if strings.TrimSpace(group.String()) != "" {
		flush()
	}
	return marked.String(), markerNo
}

// sentenceStarts returns the byte offsets where sentences begin inside one
// line. A sentence begins at the line start, after a sentence-ending
// punctuation cluster with its trailing spaces, and optionally at top-level
// enclosure edges. Punctuation inside balanced enclosures is ignored.
func sentenceStarts(line string, startOnTopOpen, endOnTopClose bool) []int {
	runes := []rune(line)
	starts := []int{0}
	var stack []rune

	addStart := func(byteOff int) {
		if byteOff > 0 && byteOff < len(line) && byteOff != starts[len(starts)-1] {
			starts = append(starts, byteOff)
		}
	}

	byteOff := 0
	i := 0
	for i < len(runes) {
		r := runes[i]
		size := len(string(r))

		// Enclosure tracking.
		if symmetricQuotes[r] {
			if len(stack) > 0 && stack[len(stack)-1] == r {
				stack = stack[:len(stack)-1]
				if endOnTopClose && len(stack) == 0 {
					addStart(byteOff + size)
				}
			} else {
				if startOnTopOpen && len(stack) == 0 {
					addStart(byteOff)
				}
				stack = append(stack, r)
			}
			i++
			byteOff += size
			continue
		}
		if close, isOpen := enclosurePairs[r]; isOpen {
			if startOnTopOpen && len(stack) == 0 {
				addStart(byteOff)
			}
			stack = append(stack, close)
			i++
			byteOff += size
			continue
		}
		if len(stack) > 0 && r == stack[len(stack)-1] {
			stack = stack[:len(stack)-1]
			if endOnTopClose && len(stack) == 0 {
				addStart(byteOff + size)
			}
			i++
			byteOff += size
			continue
		}

		// Boundaries only count at the top level. ASCII punctuation ends a
		// sentence only before a space or the end of the line, so the dot in
		// "3.5" or "e.g." stays inside its token.
		if len(stack) == 0 {
			if clusterLen := punctClusterLen(runes[i:]); clusterLen > 0 {
				j := i + clusterLen
				if !asciiSentencePunct(runes[i]) || j >= len(runes) || unicode.IsSpace(runes[j]) {
					off := byteOff + len(string(runes[i:j]))
					addStart(off)
					byteOff = off
					i = j
					continue
				}
			}
		}

		i++
		byteOff += size
	}
	return starts
}

// punctClusterLen returns the rune length of a sentence-ending punctuation
// cluster at the start of rs, or 0.
func punctClusterLen(rs []rune) int {
	if len(rs) >= 3 && rs[0] == '.' && rs[1] == '.' && rs[2] == '.' {
		return 3
	}
	if len(rs) >= 2 && ((rs[0] == '?' && rs[1] == '!') || (rs[0] == '!' && rs[1] == '?')) {
		return 2
	}
	switch rs[0] {
	case '…', '‽', '.', '?', '!', '。', '？', '！':
		return 1
	}
	return 0
}

// asciiSentencePunct reports whether r is ASCII sentence punctuation, which
// needs a following delimiter to count as a boundary. Full-width punctuation
// and the ellipsis are self-delimiting.
func asciiSentencePunct(r rune) bool {
	return r == '.' || r == '?' || r == '!'
}
