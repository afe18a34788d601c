package chunker

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

var sentenceEnd = regexp.MustCompile(`[.!?…]+["'”’)\]]*\s+`)

// Abbreviations that end in a period but do not end a sentence.
var abbreviations = map[string]bool{
	"mr": true, "mrs": true, "ms": true, "dr": true, "prof": true,
	"sr": true, "jr": true, "st": true, "vs": true, "etc": true,
	"e.g": true, "i.e": true, "no": true, "fig": true, "inc": true,
	"ltd": true, "co": true, "mt": true, "approx": true,
}

// Sentences splits text after sentence ending punctuation followed by
// whitespace. Common abbreviations and single letter initials do not end a
// sentence.
func Sentences(text string) []string {
	var out []string
	start := 0
	for _, m := range sentenceEnd.FindAllStringIndex(text, -1) {
		if text[m[0]] == '.' && endsWithAbbreviation(text[start:m[0]]) {
			continue
		}
		if piece := strings.TrimSpace(text[start:m[1]]); piece != "" {
			out = append(out, piece)
		}
		start = m[1]
	}
	if rest := strings.TrimSpace(text[start:]); rest != "" {
		out = append(out, rest)
	}
	return out
}

func endsWithAbbreviation(s string) bool {
	i := strings.LastIndexFunc(s, unicode.IsSpace)
	word := s[i+1:]
	if word == "" {
		return false
	}
	if utf8.RuneCountInString(word) == 1 {
		r, _ := utf8.DecodeRuneInString(word)
		return unicode.IsUpper(r)
	}
	return abbreviations[strings.ToLower(strings.TrimLeft(word, `"'(“‘[`))]
}
