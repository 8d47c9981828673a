package voice

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// Chunker splits streamed response text into sentence groups for synthesis.
// The first chunk closes after firstSentences sentences so audio starts as
// early as possible; later chunks close after subsequentSentences. Invariant:
// concatenating every emitted chunk, in order, reproduces the fed text byte
// for byte. The chunker never trims or normalizes.
type Chunker struct {
	buffer              string
	scanPos             int
	pendingSentences    int
	pendingBoundary     int
	emittedAnyChunk     bool
	firstSentences      int
	subsequentSentences int
}

func NewChunker(firstSentences, subsequentSentences int) *Chunker {
	if firstSentences < 1 {
		firstSentences = 1
	}
	if subsequentSentences < 1 {
		subsequentSentences = 1
	}
	return &Chunker{
		firstSentences:      firstSentences,
		subsequentSentences: subsequentSentences,
	}
}

// Feed appends a model delta and returns any chunks that became complete.
func (c *Chunker) Feed(delta string) []string {
	if delta == "" {
		return nil
	}
	c.buffer += delta

	var out []string
	for {
		boundary := c.nextBoundary()
		if boundary < 0 {
			break
		}
		c.pendingSentences++
		c.pendingBoundary = boundary
		if c.pendingSentences >= c.target() {
			out = append(out, c.cut(c.pendingBoundary))
		}
	}
	return out
}

// Flush returns the trailing chunk, if any. Called when the stream ends.
func (c *Chunker) Flush() []string {
	if c.buffer == "" {
		return nil
	}
	chunk := c.cut(len(c.buffer))
	if strings.TrimSpace(chunk) == "" {
		// Trailing whitespace still belongs to the reassembled text, but it
		// is not worth a synthesis call on its own.
		if c.emittedAnyChunk {
			return []string{chunk}
		}
		return nil
	}
	return []string{chunk}
}

func (c *Chunker) target() int {
	if c.emittedAnyChunk {
		return c.subsequentSentences
	}
	return c.firstSentences
}

func (c *Chunker) cut(boundary int) string {
	chunk := c.buffer[:boundary]
	c.buffer = c.buffer[boundary:]
	c.scanPos = 0
	c.pendingSentences = 0
	c.pendingBoundary = 0
	c.emittedAnyChunk = true
	return chunk
}

// nextBoundary finds the end of the next complete sentence at or after
// scanPos. A boundary is a run of terminator punctuation that is followed by
// whitespace already present in the buffer; the buffer tail is never a
// boundary because more terminators may still arrive.
func (c *Chunker) nextBoundary() int {
	for i := c.scanPos; i < len(c.buffer); {
		r, size := utf8.DecodeRuneInString(c.buffer[i:])
		if !isTerminator(r) {
			i += size
			continue
		}

		end := i + size
		for end < len(c.buffer) {
			nr, nsize := utf8.DecodeRuneInString(c.buffer[end:])
			if !isTerminator(nr) && !isClosingMark(nr) {
				break
			}
			end += nsize
		}
		if end >= len(c.buffer) {
			// Cannot tell yet whether the run has ended.
			c.scanPos = i
			return -1
		}

		next, _ := utf8.DecodeRuneInString(c.buffer[end:])
		if !unicode.IsSpace(next) || !c.isSentenceEnd(i, end) {
			// Rejected candidate; resume scanning after the run.
			c.scanPos = end
			i = end
			continue
		}

		c.scanPos = end
		return end
	}
	c.scanPos = len(c.buffer)
	return -1
}

// isSentenceEnd rejects periods that end abbreviations or sit inside numbers.
func (c *Chunker) isSentenceEnd(start, end int) bool {
	if c.buffer[start] != '.' || end != start+1 {
		return true
	}

	before := c.buffer[:start]
	if before == "" {
		return false
	}

	// "3." followed by a digit would be a number split, but the boundary
	// already requires whitespace next, so only list-style "1." matters.
	word := lastWord(before)
	if word == "" {
		return false
	}
	if isAllDigits(word) {
		return false
	}
	if _, ok := abbreviations[strings.ToLower(word)]; ok {
		return false
	}
	return true
}

var abbreviations = map[string]struct{}{
	"mr": {}, "mrs": {}, "ms": {}, "dr": {}, "prof": {},
	"sr": {}, "jr": {}, "st": {}, "vs": {}, "etc": {},
	"approx": {}, "dept": {}, "est": {}, "min": {}, "max": {},
}

func isTerminator(r rune) bool {
	switch r {
	case '.', '!', '?', '…':
		return true
	}
	return false
}

func isClosingMark(r rune) bool {
	switch r {
	case '"', '\'', ')', ']', '”', '’':
		return true
	}
	return false
}

func lastWord(s string) string {
	end := len(s)
	start := end
	for start > 0 {
		r, size := utf8.DecodeLastRuneInString(s[:start])
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			break
		}
		start -= size
	}
	return s[start:end]
}

func isAllDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}
