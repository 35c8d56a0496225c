package textseg

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAnalyzeMarkedText(t *testing.T) {
	doc, err := AnalyzeRawText("┼1┼First sentence.┼2┼Second sentence.")
	require.NoError(t, err)
	require.Len(t, doc.Segments, 2)
	assert.Equal(t, Segment{SID: 1, Text: "First sentence."}, doc.Segments[0])
	assert.Equal(t, Segment{SID: 2, Text: "Second sentence."}, doc.Segments[1])
}

func TestAnalyzeJSONSegmentsPassthrough(t *testing.T) {
	// Already-JSON input must not be re-wrapped as a single marker segment.
	raw := `{"segments": [{"sid": 1, "text": "Hello."}, {"sid": 2, "text": "World."}]}`
	doc, err := AnalyzeRawText(raw)
	require.NoError(t, err)
	require.Len(t, doc.Segments, 2)
	assert.Equal(t, 2, doc.Segments[1].SID)
	assert.Equal(t, "World.", doc.Segments[1].Text)
}

func TestAnalyzeJSONWithInvalidSegmentsFallsThrough(t *testing.T) {
	// A JSON object without usable segments is treated as plain text.
	doc, err := AnalyzeRawText(`{"note": "not a segments doc"}`)
	require.NoError(t, err)
	require.NotEmpty(t, doc.Segments)
	assert.Contains(t, doc.Segments[0].Text, "not a segments doc")
}

func TestAnalyzePlainTextAutoMarks(t *testing.T) {
	doc, err := AnalyzeRawText("A short first line.\nA short second line.")
	require.NoError(t, err)
	require.Len(t, doc.Segments, 2)
	assert.Equal(t, 1, doc.Segments[0].SID)
	// Segment text keeps the original separators so joins reconstruct input.
	assert.Equal(t, "A short first line.\n", doc.Segments[0].Text)
	assert.Equal(t, "A short second line.", doc.Segments[1].Text)
}

func TestAnalyzeEmptyTextErrors(t *testing.T) {
	_, err := AnalyzeRawText("")
	assert.Error(t, err)
}

func TestAnalyzeReconstruction(t *testing.T) {
	// Concatenating segment texts restores the marked input minus markers.
	marked := "┼1┼Alpha. ┼2┼Beta! ┼3┼Gamma?"
	doc, err := AnalyzeRawText(marked)
	require.NoError(t, err)

	var joined strings.Builder
	for _, seg := range doc.Segments {
		joined.WriteString(seg.Text)
	}
	assert.Equal(t, "Alpha. Beta! Gamma?", joined.String())
}

func TestAddSentenceMarkersShortLine(t *testing.T) {
	got := AddSentenceMarkers("Hello world.", MarkOptions{
		MinSentenceLen: DefaultMinSentenceLen,
		StartOnTopOpen: true,
		EndOnTopClose:  true,
		SkipEmptyLines: true,
	})
	assert.Equal(t, "┼1┼Hello world.", got)
}

func TestAddSentenceMarkersEverySentence(t *testing.T) {
	got := AddSentenceMarkers("Hello? How are you! I am fine. Are you okay?!", MarkOptions{
		MinSentenceLen: 0,
		StartOnTopOpen: true,
		EndOnTopClose:  true,
	})
	assert.Equal(t, "┼1┼Hello?┼2┼ How are you!┼3┼ I am fine.┼4┼ Are you okay?!", got)
}

func TestAddSentenceMarkersQuotedSpeech(t *testing.T) {
	got := AddSentenceMarkers(`She said, "Hello there!" and walked away.`, MarkOptions{
		MinSentenceLen: 0,
		StartOnTopOpen: true,
		EndOnTopClose:  true,
	})
	assert.Equal(t, `┼1┼She said, ┼2┼"Hello there!"┼3┼ and walked away.`, got)
}

func TestAddSentenceMarkersKeepsMidTokenPunctWhole(t *testing.T) {
	got := AddSentenceMarkers("The value 3.5 is fine. Ask e.g. the docs.", MarkOptions{
		MinSentenceLen: 0,
		StartOnTopOpen: true,
		EndOnTopClose:  true,
	})
	// A dot splits only before a space or the end of the line, so decimals
	// and dotted abbreviations stay inside their sentence.
	assert.Equal(t, "┼1┼The value 3.5 is fine.┼2┼ Ask e.g.┼3┼ the docs.", got)
}

func TestAddSentenceMarkersIgnoresPunctInsideEnclosures(t *testing.T) {
	got := AddSentenceMarkers("Numbers (like 3.14) stay whole.", MarkOptions{
		MinSentenceLen: 0,
		EndOnTopClose:  false,
		StartOnTopOpen: false,
	})
	assert.Equal(t, "┼1┼Numbers (like 3.14) stay whole.", got)
}

func TestAddSentenceMarkersSkipsEmptyLines(t *testing.T) {
	got := AddSentenceMarkers("First.\n\nSecond.", MarkOptions{
		MinSentenceLen: DefaultMinSentenceLen,
		SkipEmptyLines: true,
	})
	assert.Equal(t, "┼1┼First.\n\n┼2┼Second.", got)
}

func TestAddSentenceMarkersGroupsUntilMinLen(t *testing.T) {
	line := "One. Two. Three. Four. Five."
	got := AddSentenceMarkers(line, MarkOptions{MinSentenceLen: 12})
	// Groups accumulate whole sentences past the threshold; nothing is lost.
	assert.Equal(t, line, markerRe.ReplaceAllString(got, ""))
	assert.GreaterOrEqual(t, len(markerRe.FindAllString(got, -1)), 2)
}

func TestAddSentenceMarkersPreservesText(t *testing.T) {
	text := "A first sentence that is reasonably long and detailed. Then a second one follows here!\nAnd a final line."
	got := AddSentenceMarkers(text, MarkOptions{
		MinSentenceLen: 40,
		StartOnTopOpen: true,
		EndOnTopClose:  true,
		SkipEmptyLines: true,
	})
	assert.Equal(t, text, markerRe.ReplaceAllString(got, ""))
}

func TestLooksLineWrapped(t *testing.T) {
	wrapped := "This is a sentence that was\nwrapped across several lines by\na formatter without punctuation"
	assert.True(t, looksLineWrapped(wrapped))

	prose := "First sentence.\nSecond sentence.\nThird sentence."
	assert.False(t, looksLineWrapped(prose))
}

func TestAddSentenceMarkersWrappedParagraph(t *testing.T) {
	text := "A long opening sentence that was\nsoft wrapped midway through\n\nNext paragraph sentence here"
	got := AddSentenceMarkers(text, MarkOptions{
		MinSentenceLen:     DefaultMinSentenceLen,
		SkipEmptyLines:     true,
		DetectLineWrapping: true,
	})
	// Wrapped lines stay inside one segment; the paragraph break starts a new one.
	assert.Equal(t, "┼1┼A long opening sentence that was\nsoft wrapped midway through\n\n┼2┼Next paragraph sentence here", got)
}

func TestMarkedNumbersRoundTrip(t *testing.T) {
	text := "First sentence here. Second sentence follows. Third wraps it up."
	marked := AddSentenceMarkers(text, MarkOptions{MinSentenceLen: 20})
	doc, err := AnalyzeRawText(marked)
	require.NoError(t, err)

	for i, seg := range doc.Segments {
		assert.Equal(t, i+1, seg.SID)
	}
}
