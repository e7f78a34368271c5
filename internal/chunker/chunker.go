package chunker

import (
	"strings"
	"unicode/utf8"
)

// DefaultLimit keeps replies under Telegram's 4096 character cap.
const DefaultLimit = 4000

// Chunker packs rendered list entries into messages of bounded length
type Chunker struct {
	limit int
}

// NewChunker creates a chunker whose messages never exceed limit characters
func NewChunker(limit int) *Chunker {
	if limit <= 0 {
		limit = DefaultLimit
	}
	return &Chunker{limit: limit}
}

// Limit returns the maximum message length in characters.
func (c *Chunker) Limit() int {
	return c.limit
}

// Chunk lays entries out after header, starting every further message with
// continuation and closing the last one with footer. An entry is only split
// across messages when it cannot fit in a message on its own.
func (c *Chunker) Chunk(header, continuation string, entries []string, footer string) []string {
	if length(continuation) >= c.limit {
		continuation = ""
	}

	var parts []string
	var b strings.Builder
	size, base := 0, 0
	start := func(prefix string) {
		b.Reset()
		b.WriteString(prefix)
		size = length(prefix)
		base = size
	}
	flush := func() {
		parts = append(parts, b.String())
		start(continuation)
	}

	add := func(text string) {
		n := length(text)
		if size+n > c.limit && size > base {
			flush()
		}
		for size+n > c.limit {
			room := c.limit - size
			if room <= 0 {
				// only reachable when the header alone exceeds the limit
				flush()
				continue
			}
			head, rest := splitRunes(text, room)
			b.WriteString(head)
			flush()
			text, n = rest, n-room
		}
		b.WriteString(text)
		size += n
	}

	start(header)
	for _, entry := range entries {
		add(entry)
	}
	add(footer)

	if size > base || len(parts) == 0 {
		parts = append(parts, b.String())
	}
	return parts
}

func length(s string) int {
	return utf8.RuneCountInString(s)
}

// splitRunes cuts s after n runes.
func splitRunes(s string, n int) (string, string) {
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos], s[pos:]
		}
		i++
	}
	return s, ""
}
