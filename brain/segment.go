package brain

import "strings"

// sentenceBoundaries covers both Chinese and English terminal
// punctuation, since a session can switch language turn to turn (spec
// §4.4: assistant text is chunked into speakable sentences before being
// handed to TTS, and either script's punctuation must trigger a cut).
var sentenceBoundaries = []rune{'。', '！', '？', '.', '!', '?', '\n'}

// SentenceChunker accumulates streamed text deltas and yields complete
// sentences as they arrive, holding back any trailing partial sentence
// until either more text or Flush closes it out.
type SentenceChunker struct {
	buf           strings.Builder
	minChunkChars int
}

// NewSentenceChunker builds a chunker that will not emit a chunk shorter
// than minChunkChars unless a Flush forces it, avoiding a TTS request
// per short clause.
func NewSentenceChunker(minChunkChars int) *SentenceChunker {
	if minChunkChars <= 0 {
		minChunkChars = 1
	}
	return &SentenceChunker{minChunkChars: minChunkChars}
}

// Push appends delta to the pending buffer and returns every complete
// sentence it now contains, in order.
func (c *SentenceChunker) Push(delta string) []string {
	c.buf.WriteString(delta)
	return c.drain(false)
}

// Flush returns any remaining buffered text as a final chunk, even if
// it never reached a sentence boundary or the minimum length.
func (c *SentenceChunker) Flush() []string {
	return c.drain(true)
}

func (c *SentenceChunker) drain(force bool) []string {
	text := c.buf.String()
	var chunks []string
	start := 0

	for i, r := range text {
		if !isBoundary(r) {
			continue
		}
		end := i + len(string(r))
		candidate := text[start:end]
		if len([]rune(strings.TrimSpace(candidate))) == 0 {
			start = end
			continue
		}
		if len([]rune(candidate)) < c.minChunkChars && !force {
			continue
		}
		chunks = append(chunks, strings.TrimSpace(candidate))
		start = end
	}

	remainder := text[start:]
	if force {
		if trimmed := strings.TrimSpace(remainder); trimmed != "" {
			chunks = append(chunks, trimmed)
		}
		c.buf.Reset()
		return chunks
	}

	c.buf.Reset()
	c.buf.WriteString(remainder)
	return chunks
}

func isBoundary(r rune) bool {
	for _, b := range sentenceBoundaries {
		if r == b {
			return true
		}
	}
	return false
}
