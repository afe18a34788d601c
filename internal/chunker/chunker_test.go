package chunker

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestChunkEmpty(t *testing.T) {
	for _, in := range []string{"", "   ", "\n\n\t\n"} {
		if got := Chunk(in, 100); len(got) != 0 {
			t.Errorf("Expected 0 chunks for %q, got %d", in, len(got))
		}
	}
}

func TestChunkParagraphs(t *testing.T) {
	text := "First paragraph here.\n\nSecond paragraph,\nwith a line break.\n \n\nThird."
	got := Chunk(text, 100)

	want := []string{
		"First paragraph here.",
		"Second paragraph,\nwith a line break.",
		"Third.",
	}
	if len(got) != len(want) {
		t.Fatalf("Expected %d chunks, got %d: %q", len(want), len(got), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Chunk %d: expected %q, got %q", i, want[i], got[i])
		}
	}
}

func TestChunkSentencesPacked(t *testing.T) {
	text := "One two three. Four five six. Seven eight nine. Ten."
	got := Chunk(text, 30)

	want := []string{
		"One two three. Four five six.",
		"Seven eight nine. Ten.",
	}
	if len(got) != len(want) {
		t.Fatalf("Expected %d chunks, got %d: %q", len(want), len(got), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Chunk %d: expected %q, got %q", i, want[i], got[i])
		}
	}
}

func TestChunkFallsBackToClausesAndWords(t *testing.T) {
	text := "This sentence has a clause, and another clause, and a final clause that runs on for a while"
	got := Chunk(text, 30)

	for i, c := range got {
		if n := utf8.RuneCountInString(c); n > 30 {
			t.Errorf("Chunk %d exceeds limit (%d): %q", i, n, c)
		}
	}
	if got[0] != "This sentence has a clause," {
		t.Errorf("Expected first chunk to end on the comma, got %q", got[0])
	}
}

func TestChunkOversizedWord(t *testing.T) {
	long := strings.Repeat("x", 50)
	text := "short words " + long + " more words"

	got := Chunk(text, 20)
	found := false
	for _, c := range got {
		if c == long {
			found = true
		}
	}
	if !found {
		t.Fatalf("Expected the oversized word as its own chunk, got %q", got)
	}

	hard := Chunker{MaxLen: 20, HardLimit: 20}.Split(long)
	if len(hard) != 3 {
		t.Fatalf("Expected 3 hard-split pieces, got %d: %q", len(hard), hard)
	}
	if strings.Join(hard, "") != long {
		t.Error("Hard split pieces do not reassemble the word")
	}
}

func TestChunkPreservesText(t *testing.T) {
	texts := []string{
		"Hello world.",
		"Dr. Smith went to Washington. He arrived at 5 p.m. on time!\n\nNext, the meeting began; everyone sat down: quietly, calmly, and slowly.",
		strings.Repeat("The quick brown fox jumps over the lazy dog, again and again. ", 40),
		"Numbers like 1,000 and 2,500.50 stay intact, right? Yes… they do.",
		"Ünïcödé téxt wörks tôo, désπite the åccents. Ok.",
	}
	limits := []int{5, 16, 40, 120, 1000}

	for _, text := range texts {
		for _, limit := range limits {
			got := Chunk(text, limit)
			joined := strings.Join(got, " ")
			if strings.Join(strings.Fields(joined), " ") != strings.Join(strings.Fields(text), " ") {
				t.Errorf("limit %d: chunks do not reproduce the input\nwant: %q\ngot:  %q", limit, text, joined)
			}
			for _, c := range got {
				if utf8.RuneCountInString(c) > limit && len(strings.Fields(c)) != 1 {
					t.Errorf("limit %d: multi-word chunk exceeds the limit: %q", limit, c)
				}
			}
		}
	}
}

func TestChunksIndexAndTotal(t *testing.T) {
	chunks := Chunks("A. B. C.", 2)
	if len(chunks) != 3 {
		t.Fatalf("Expected 3 chunks, got %d", len(chunks))
	}
	for i, c := range chunks {
		if c.Index != i || c.Total != 3 {
			t.Errorf("Chunk %d has index %d total %d", i, c.Index, c.Total)
		}
	}
}

func TestSentences(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want []string
	}{
		{"simple", "Hi there. How are you? Fine!", []string{"Hi there.", "How are you?", "Fine!"}},
		{"abbreviation", "Mr. Smith met Dr. Jones. They talked.", []string{"Mr. Smith met Dr. Jones.", "They talked."}},
		{"initials", "J. R. R. Tolkien wrote it. Then he slept.", []string{"J. R. R. Tolkien wrote it.", "Then he slept."}},
		{"quotes", `He said "stop." Then left.`, []string{`He said "stop."`, "Then left."}},
		{"no terminator", "no punctuation at all", []string{"no punctuation at all"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Sentences(tt.in)
			if len(got) != len(tt.want) {
				t.Fatalf("Expected %d sentences, got %d: %q", len(tt.want), len(got), got)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("Sentence %d: expected %q, got %q", i, tt.want[i], got[i])
				}
			}
		})
	}
}

func TestShrinkHelpers(t *testing.T) {
	halves := Halves("one two three four")
	if len(halves) != 2 || halves[0] != "one two" || halves[1] != "three four" {
		t.Errorf("Unexpected halves: %q", halves)
	}
	if got := Halves("unsplittable"); len(got) != 1 {
		t.Errorf("Expected a single piece, got %q", got)
	}

	groups := WordGroups("a b c d e f g h i", 4)
	want := []string{"a b c d", "e f g h", "i"}
	if len(groups) != len(want) {
		t.Fatalf("Expected %d groups, got %d", len(want), len(groups))
	}
	for i := range want {
		if groups[i] != want[i] {
			t.Errorf("Group %d: expected %q, got %q", i, want[i], groups[i])
		}
	}
}

func TestIterator(t *testing.T) {
	it := New(12).NewIterator("One. Two. Three. Four.")
	if it.Total() != 2 {
		t.Fatalf("Expected 2 chunks, got %d", it.Total())
	}

	first, ok := it.Next()
	if !ok || first.Index != 0 {
		t.Fatalf("Expected first chunk, got %+v %v", first, ok)
	}
	it.Seek(1)
	second, ok := it.Next()
	if !ok || second.Index != 1 || second.Text != "Three. Four." {
		t.Fatalf("Unexpected chunk after seek: %+v", second)
	}
	if _, ok := it.Next(); ok {
		t.Error("Expected iterator to be exhausted")
	}
	if it.Remaining() != 0 {
		t.Errorf("Expected 0 remaining, got %d", it.Remaining())
	}

	it.Seek(99)
	if it.Remaining() != 0 {
		t.Error("Seek past the end should clamp")
	}
	it.Reset()
	if it.Remaining() != 2 {
		t.Errorf("Expected 2 remaining after reset, got %d", it.Remaining())
	}
}

func TestFromMarkdown(t *testing.T) {
	src := "# Title\n\nSome *emphasis* and a [link](http://example.com).\n\n```go\nfmt.Println(\"hi\")\n```\n\n- first item\n- second item\n\n> quoted text\n"

	got, err := FromMarkdown(src)
	if err != nil {
		t.Fatalf("FromMarkdown failed: %v", err)
	}

	for _, want := range []string{"Title.", "Some emphasis and a link.", "first item", "second item", "quoted text"} {
		if !strings.Contains(got, want) {
			t.Errorf("Expected output to contain %q, got %q", want, got)
		}
	}
	if strings.Contains(got, "Println") {
		t.Errorf("Code blocks should be dropped, got %q", got)
	}
	if strings.Contains(got, "http://") {
		t.Errorf("Link targets should be dropped, got %q", got)
	}
}

func TestNormalize(t *testing.T) {
	got := Normalize("café\r\nnext word")
	if got != "café\nnext word" {
		t.Errorf("Unexpected normalization: %q", got)
	}
}
