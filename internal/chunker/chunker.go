package chunker

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/dgnsrekt/streamtts/internal/tts"
)

// DefaultMaxLen is the chunk size used when none is configured.
const DefaultMaxLen = 300

var (
	paragraphBreak = regexp.MustCompile(`\n[ \t\r]*\n`)
	clauseBreak    = regexp.MustCompile(`[,;:]\s+`)
)

// Chunker splits text into pieces no longer than MaxLen runes.
//
// Text is cut on the largest boundary that fits: paragraphs, then sentences,
// then clauses, then words. A word longer than MaxLen is emitted on its own.
// HardLimit, when positive, cuts such words at rune offsets instead.
type Chunker struct {
	MaxLen    int
	HardLimit int
}

// New returns a chunker for maxLen. A non-positive maxLen disables the limit.
func New(maxLen int) Chunker {
	return Chunker{MaxLen: maxLen}
}

// Chunk splits text with the default chunker for maxLen.
func Chunk(text string, maxLen int) []string {
	return New(maxLen).Split(text)
}

// Chunks splits text and attaches index and total to every piece.
func Chunks(text string, maxLen int) []tts.TextChunk {
	return New(maxLen).TextChunks(text)
}

// Split returns the ordered pieces of text. Empty input yields no pieces.
func (c Chunker) Split(text string) []string {
	var out []string
	for _, para := range paragraphBreak.Split(text, -1) {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}
		if c.fits(para) {
			out = append(out, para)
			continue
		}
		out = append(out, c.pack(Sentences(para), c.splitSentence)...)
	}
	return out
}

// TextChunks is Split with index and total attached.
func (c Chunker) TextChunks(text string) []tts.TextChunk {
	pieces := c.Split(text)
	chunks := make([]tts.TextChunk, len(pieces))
	for i, p := range pieces {
		chunks[i] = tts.TextChunk{Index: i, Total: len(pieces), Text: p}
	}
	return chunks
}

func (c Chunker) fits(s string) bool {
	return c.MaxLen <= 0 || utf8.RuneCountInString(s) <= c.MaxLen
}

// pack greedily joins units with single spaces, flushing before the buffer
// would exceed MaxLen. Units that are too long on their own go through lower.
func (c Chunker) pack(units []string, lower func(string) []string) []string {
	var (
		out []string
		buf strings.Builder
	)
	flush := func() {
		if buf.Len() > 0 {
			out = append(out, buf.String())
			buf.Reset()
		}
	}

	for _, u := range units {
		u = strings.TrimSpace(u)
		if u == "" {
			continue
		}
		if !c.fits(u) {
			flush()
			out = append(out, lower(u)...)
			continue
		}
		if buf.Len() > 0 && !c.fits(buf.String()+" "+u) {
			flush()
		}
		if buf.Len() > 0 {
			buf.WriteByte(' ')
		}
		buf.WriteString(u)
	}
	flush()
	return out
}

func (c Chunker) splitSentence(s string) []string {
	return c.pack(Clauses(s), c.splitClause)
}

func (c Chunker) splitClause(s string) []string {
	return c.pack(strings.Fields(s), c.splitWord)
}

func (c Chunker) splitWord(w string) []string {
	if c.HardLimit <= 0 || utf8.RuneCountInString(w) <= c.HardLimit {
		return []string{w}
	}
	runes := []rune(w)
	var out []string
	for len(runes) > 0 {
		n := min(c.HardLimit, len(runes))
		out = append(out, string(runes[:n]))
		runes = runes[n:]
	}
	return out
}

// Clauses splits s after commas, semicolons and colons that are followed by
// whitespace. The punctuation stays with the preceding clause.
func Clauses(s string) []string {
	return splitAfter(s, clauseBreak)
}

func splitAfter(s string, re *regexp.Regexp) []string {
	var out []string
	start := 0
	for _, m := range re.FindAllStringIndex(s, -1) {
		if piece := strings.TrimSpace(s[start:m[1]]); piece != "" {
			out = append(out, piece)
		}
		start = m[1]
	}
	if rest := strings.TrimSpace(s[start:]); rest != "" {
		out = append(out, rest)
	}
	return out
}

// WordGroups splits s into groups of size words.
func WordGroups(s string, size int) []string {
	if size <= 0 {
		size = 4
	}
	words := strings.Fields(s)
	var out []string
	for len(words) > 0 {
		n := min(size, len(words))
		out = append(out, strings.Join(words[:n], " "))
		words = words[n:]
	}
	return out
}

// Halves splits s at the whitespace closest to its middle. Text without
// inner whitespace is returned whole.
func Halves(s string) []string {
	s = strings.TrimSpace(s)
	mid := len(s) / 2
	best := -1
	for i, r := range s {
		if r != ' ' && r != '\n' && r != '\t' {
			continue
		}
		if best < 0 || abs(i-mid) < abs(best-mid) {
			best = i
		}
	}
	if best <= 0 {
		return []string{s}
	}
	left, right := strings.TrimSpace(s[:best]), strings.TrimSpace(s[best:])
	if left == "" || right == "" {
		return []string{s}
	}
	return []string{left, right}
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
