package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/atotto/clipboard"
	"github.com/sahilm/fuzzy"

	"github.com/dgnsrekt/streamtts/internal/chunker"
	"github.com/dgnsrekt/streamtts/internal/tts"
)

var markdownExtensions = []string{".md", ".mdown", ".mkdn", ".mkd", ".markdown"}

var errNoInput = errors.New("no input: pass a file, - for stdin, or --clipboard")

// readInput returns the raw text to speak and a name for where it came from.
func readInput(args []string, fromClipboard bool, stdin io.Reader) (string, string, error) {
	if fromClipboard {
		if len(args) > 0 {
			return "", "", errors.New("cannot combine --clipboard with a file argument")
		}
		text, err := clipboard.ReadAll()
		if err != nil {
			return "", "", fmt.Errorf("unable to read clipboard: %w", err)
		}
		return text, "clipboard", nil
	}

	if len(args) == 0 || args[0] == "-" {
		if len(args) == 0 {
			if yes, err := stdinIsPipe(); err != nil {
				return "", "", err
			} else if !yes {
				return "", "", errNoInput
			}
		}
		b, err := io.ReadAll(stdin)
		if err != nil {
			return "", "", fmt.Errorf("unable to read from stdin: %w", err)
		}
		return string(b), "stdin", nil
	}

	b, err := os.ReadFile(args[0])
	if err != nil {
		return "", "", fmt.Errorf("unable to open file: %w", err)
	}
	src, err := filepath.Abs(args[0])
	if err != nil {
		src = args[0]
	}
	return string(b), src, nil
}

func stdinIsPipe() (bool, error) {
	stat, err := os.Stdin.Stat()
	if err != nil {
		return false, fmt.Errorf("unable to open file: %w", err)
	}
	if stat.Mode()&os.ModeCharDevice == 0 || stat.Size() > 0 {
		return true, nil
	}
	return false, nil
}

func isMarkdownFile(path string) bool {
	return slices.Contains(markdownExtensions, strings.ToLower(filepath.Ext(path)))
}

// prepareText normalizes raw input and, for markdown, reduces it to the
// text a listener should hear.
func prepareText(raw, source string, markdown bool) (string, error) {
	text := chunker.Normalize(raw)
	if markdown || isMarkdownFile(source) {
		var err error
		text, err = chunker.FromMarkdown(text)
		if err != nil {
			return "", fmt.Errorf("unable to read markdown: %w", err)
		}
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", tts.ErrEmptyText
	}
	return text, nil
}

// resolveVoice matches query against the engine's voice ids. An exact id
// wins; otherwise the best fuzzy match is used.
func resolveVoice(query string, ids []string) (string, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return "", nil
	}
	slices.Sort(ids)
	for _, id := range ids {
		if strings.EqualFold(id, query) {
			return id, nil
		}
	}
	matches := fuzzy.Find(strings.ToLower(query), ids)
	if len(matches) == 0 {
		return "", fmt.Errorf("unknown voice %q (available: %s)", query, strings.Join(ids, ", "))
	}
	return matches[0].Str, nil
}
