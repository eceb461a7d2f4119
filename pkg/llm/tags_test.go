package llm

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// feedAll runs a sequence of chunks through a fresh splitter and returns the
// resolved segments plus the unclosed flag from the final flush.
func feedAll(chunks ...string) ([]Segment, bool) {
	var t TagSplitter
	var segs []Segment
	for _, c := range chunks {
		segs = append(segs, t.Feed(c)...)
	}
	tail, unclosed := t.Flush()
	return append(segs, tail...), unclosed
}

// join concatenates segment text filtered by thinking classification.
func join(segs []Segment, thinking bool) string {
	var b strings.Builder
	for _, s := range segs {
		if s.Thinking == thinking {
			b.WriteString(s.Text)
		}
	}
	return b.String()
}

func TestTagSplitterSingleChunk(t *testing.T) {
	segs, unclosed := feedAll("<think>plan</think>code")
	assert.False(t, unclosed)
	assert.Equal(t, "plan", join(segs, true))
	assert.Equal(t, "code", join(segs, false))
}

func TestTagSplitterTagSplitAcrossChunks(t *testing.T) {
	// The opener arrives split mid-name: no partial tag may be emitted.
	segs, unclosed := feedAll("<th", "ink>plan</think>code")
	assert.False(t, unclosed)
	require.NotEmpty(t, segs)
	assert.Equal(t, "plan", join(segs, true))
	assert.Equal(t, "code", join(segs, false))
}

func TestTagSplitterCloserSplitAcrossChunks(t *testing.T) {
	segs, unclosed := feedAll("<think>deep", " thought</thi", "nk>answer")
	assert.False(t, unclosed)
	assert.Equal(t, "deep thought", join(segs, true))
	assert.Equal(t, "answer", join(segs, false))
}

func TestTagSplitterAlternateTagNames(t *testing.T) {
	for _, name := range []string{"think", "thinking", "thought"} {
		segs, unclosed := feedAll("<" + name + ">a</" + name + ">b")
		assert.False(t, unclosed, name)
		assert.Equal(t, "a", join(segs, true), name)
		assert.Equal(t, "b", join(segs, false), name)
	}
}

func TestTagSplitterCaseInsensitive(t *testing.T) {
	segs, unclosed := feedAll("<THINK>a</Think>b")
	assert.False(t, unclosed)
	assert.Equal(t, "a", join(segs, true))
	assert.Equal(t, "b", join(segs, false))
}

func TestTagSplitterAttributeTolerant(t *testing.T) {
	segs, unclosed := feedAll(`<think budget="high">a</think>b`)
	assert.False(t, unclosed)
	assert.Equal(t, "a", join(segs, true))
	assert.Equal(t, "b", join(segs, false))
}

func TestTagSplitterUnclosedThinkFlushedAsThinking(t *testing.T) {
	segs, unclosed := feedAll("<think>never finished")
	assert.True(t, unclosed)
	assert.Equal(t, "never finished", join(segs, true))
	assert.Empty(t, join(segs, false))
}

func TestTagSplitterLiteralAngleBracketPassesThrough(t *testing.T) {
	segs, unclosed := feedAll("a < b and x<y>z")
	assert.False(t, unclosed)
	assert.Empty(t, join(segs, true))
	assert.Equal(t, "a < b and x<y>z", join(segs, false))
}

func TestTagSplitterUnknownTagIsContent(t *testing.T) {
	segs, _ := feedAll("<code>x</code>")
	assert.Equal(t, "<code>x</code>", join(segs, false))
	assert.Empty(t, join(segs, true))
}

func TestTagSplitterPartialTagAtEndIsFlushedLiterally(t *testing.T) {
	segs, unclosed := feedAll("text<thi")
	assert.False(t, unclosed)
	assert.Equal(t, "text<thi", join(segs, false))
}

func TestTagSplitterStrayCloserIsConsumed(t *testing.T) {
	// A closer while outside thinking returns to OUTSIDE (no-op) and is
	// not emitted as content.
	segs, unclosed := feedAll("a</think>b")
	assert.False(t, unclosed)
	assert.Equal(t, "ab", join(segs, false))
}

func TestTagSplitterLongNonTagRunIsNotHeldForever(t *testing.T) {
	long := "<" + strings.Repeat("think ", 30) // '>' never arrives
	var sp TagSplitter
	segs := sp.Feed(long)
	tail, unclosed := sp.Flush()
	segs = append(segs, tail...)
	assert.False(t, unclosed)
	assert.Equal(t, long, join(segs, false))
}

func TestTagSplitterByteAtATime(t *testing.T) {
	input := "<think>alpha</think>beta"
	var sp TagSplitter
	var segs []Segment
	for i := 0; i < len(input); i++ {
		segs = append(segs, sp.Feed(input[i:i+1])...)
	}
	tail, unclosed := sp.Flush()
	segs = append(segs, tail...)

	assert.False(t, unclosed)
	assert.Equal(t, "alpha", join(segs, true))
	assert.Equal(t, "beta", join(segs, false))
}

func TestTagSplitterRoundTrip(t *testing.T) {
	// Thinking concat + content concat must reconstruct the tag-stripped
	// halves of the original, regardless of chunking.
	input := "intro <think>step one</think> middle <thought>step two</thought> done"
	for _, size := range []int{1, 3, 7, len(input)} {
		var sp TagSplitter
		var segs []Segment
		for i := 0; i < len(input); i += size {
			end := i + size
			if end > len(input) {
				end = len(input)
			}
			segs = append(segs, sp.Feed(input[i:end])...)
		}
		tail, _ := sp.Flush()
		segs = append(segs, tail...)

		assert.Equal(t, "step onestep two", join(segs, true), "chunk size %d", size)
		assert.Equal(t, "intro  middle  done", join(segs, false), "chunk size %d", size)
	}
}
