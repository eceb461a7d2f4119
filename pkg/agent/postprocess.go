package agent

import "strings"

// ExtractCode pulls code out of a model reply. Fenced blocks win: all fenced
// blocks are concatenated in order, with language markers and surrounding
// prose dropped. A reply without fences is returned trimmed as-is.
func ExtractCode(reply string) string {
	blocks := fencedBlocks(reply)
	if len(blocks) == 0 {
		return strings.TrimSpace(reply)
	}
	return strings.TrimSpace(strings.Join(blocks, "\n\n"))
}

// fencedBlocks returns the bodies of all ``` fenced blocks, in order.
func fencedBlocks(s string) []string {
	var blocks []string
	for {
		start := strings.Index(s, "```")
		if start < 0 {
			return blocks
		}
		s = s[start+3:]
		// Drop the language marker line, if any.
		if nl := strings.IndexByte(s, '\n'); nl >= 0 {
			s = s[nl+1:]
		} else {
			return blocks
		}
		end := strings.Index(s, "```")
		if end < 0 {
			// Unterminated fence: take the remainder. Models truncate.
			blocks = append(blocks, strings.TrimRight(s, "\n"))
			return blocks
		}
		blocks = append(blocks, strings.TrimRight(s[:end], "\n"))
		s = s[end+3:]
	}
}
