package chunker

import "github.com/dgnsrekt/streamtts/internal/tts"

// Iterator hands out the chunks of one text in order. It can be rewound or
// positioned so that an interrupted job resumes where it left off.
type Iterator struct {
	chunks []tts.TextChunk
	pos    int
}

// NewIterator chunks text with c and returns an iterator at the first chunk.
func (c Chunker) NewIterator(text string) *Iterator {
	return &Iterator{chunks: c.TextChunks(text)}
}

// Next returns the next chunk, or false when none remain.
func (it *Iterator) Next() (tts.TextChunk, bool) {
	if it.pos >= len(it.chunks) {
		return tts.TextChunk{}, false
	}
	ch := it.chunks[it.pos]
	it.pos++
	return ch, true
}

// Seek positions the iterator so that Next returns chunk i. Out of range
// values are clamped.
func (it *Iterator) Seek(i int) {
	it.pos = max(0, min(i, len(it.chunks)))
}

// Reset rewinds to the first chunk.
func (it *Iterator) Reset() { it.pos = 0 }

// Total is the number of chunks in the text.
func (it *Iterator) Total() int { return len(it.chunks) }

// Remaining is the number of chunks Next has yet to return.
func (it *Iterator) Remaining() int { return len(it.chunks) - it.pos }
