package llm

import "strings"

// Segment is a run of text classified as thinking or content.
type Segment struct {
	Text     string
	Thinking bool
}

// Reasoning tag names recognized by the splitter. Matching is
// case-insensitive and tolerates attributes ("<think foo=1>").
var thinkTagNames = map[string]bool{
	"think":    true,
	"thinking": true,
	"thought":  true,
}

// maxTagLen bounds how much text is held back while a potential tag is still
// incomplete. Anything longer starting at '<' cannot be one of our tags.
const maxTagLen = 64

// TagSplitter is the tag state machine that demultiplexes an LLM token
// stream into thinking and content runs. It never emits a partial tag:
// text that could still be the start of a tag is held back until the next
// Feed resolves it. Substring search over raw chunks mishandles tags split
// across chunk boundaries, which is exactly what this type exists to avoid.
type TagSplitter struct {
	inThink bool
	pending string
}

// InThink reports whether the splitter is currently inside a thinking block.
func (t *TagSplitter) InThink() bool { return t.inThink }

// Feed consumes the next transport chunk and returns any resolved segments.
func (t *TagSplitter) Feed(chunk string) []Segment {
	s := t.pending + chunk
	t.pending = ""

	var segs []Segment
	var out strings.Builder
	flush := func(thinking bool) {
		if out.Len() > 0 {
			segs = append(segs, Segment{Text: out.String(), Thinking: thinking})
			out.Reset()
		}
	}

	i := 0
	for i < len(s) {
		lt := strings.IndexByte(s[i:], '<')
		if lt < 0 {
			out.WriteString(s[i:])
			i = len(s)
			break
		}
		lt += i
		out.WriteString(s[i:lt])

		kind, length := matchTag(s[lt:])
		switch kind {
		case tagIncomplete:
			if len(s)-lt > maxTagLen {
				// Too long to be one of our tags, emit '<' literally.
				out.WriteByte('<')
				i = lt + 1
				continue
			}
			// Hold back the unresolved suffix for the next Feed.
			t.pending = s[lt:]
			flush(t.inThink)
			return segs
		case tagNone:
			out.WriteByte('<')
			i = lt + 1
		case tagOpen:
			flush(t.inThink)
			t.inThink = true
			i = lt + length
		case tagClose:
			flush(t.inThink)
			t.inThink = false
			i = lt + length
		}
	}

	flush(t.inThink)
	return segs
}

// Flush drains any held-back text at stream end. An unresolved partial tag is
// emitted literally. Returns the final segments and whether the stream ended
// inside an unclosed thinking block (which the caller force-closes).
func (t *TagSplitter) Flush() ([]Segment, bool) {
	unclosed := t.inThink
	if t.pending == "" {
		t.inThink = false
		return nil, unclosed
	}
	seg := Segment{Text: t.pending, Thinking: t.inThink}
	t.pending = ""
	t.inThink = false
	return []Segment{seg}, unclosed
}

type tagKind int

const (
	tagNone tagKind = iota
	tagIncomplete
	tagOpen
	tagClose
)

// matchTag inspects s, which starts at '<', and classifies the candidate tag.
// length is the number of bytes consumed for tagOpen/tagClose.
func matchTag(s string) (kind tagKind, length int) {
	i := 1
	closing := false
	if i < len(s) && s[i] == '/' {
		closing = true
		i++
	}

	start := i
	for i < len(s) && isTagNameByte(s[i]) {
		i++
	}
	name := strings.ToLower(s[start:i])

	if i == len(s) {
		// Ran out of input mid-name; incomplete only if it can still grow
		// into one of our tags.
		if isTagNamePrefix(name) {
			return tagIncomplete, 0
		}
		return tagNone, 0
	}

	if !thinkTagNames[name] {
		return tagNone, 0
	}

	// Attribute-tolerant: skip everything up to the closing '>'.
	gt := strings.IndexByte(s[i:], '>')
	if gt < 0 {
		return tagIncomplete, 0
	}

	end := i + gt + 1
	if closing {
		return tagClose, end
	}
	return tagOpen, end
}

func isTagNameByte(b byte) bool {
	return (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z')
}

func isTagNamePrefix(name string) bool {
	for candidate := range thinkTagNames {
		if strings.HasPrefix(candidate, name) {
			return true
		}
	}
	return false
}
