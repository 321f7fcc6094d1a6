package channels

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// Chunker splits long outbound text into platform-safe pieces. It breaks on
// line boundaries whenever possible and only splits inside a line when a
// single line exceeds the limit.
type Chunker struct {
	// MaxSize is the maximum chunk size in bytes.
	MaxSize int
}

// NewChunker creates a chunker with the given max size.
func NewChunker(maxSize int) *Chunker {
	if maxSize <= 0 {
		maxSize = 4000
	}
	return &Chunker{MaxSize: maxSize}
}

// Split breaks text into pieces that fit within MaxSize.
// Break points are tried in order:
//  1. Paragraph breaks (double newlines)
//  2. Single newlines
//  3. Sentence endings
//  4. Word boundaries
//  5. Hard break at MaxSize
//
// Whitespace around a break point is trimmed; concatenating the returned
// chunks reproduces the input up to that trimming.
func (c *Chunker) Split(text string) []string {
	if text == "" {
		return nil
	}
	if len(text) <= c.MaxSize {
		return []string{text}
	}

	var chunks []string
	remaining := text

	for len(remaining) > c.MaxSize {
		idx := c.breakPoint(remaining)
		if idx <= 0 {
			idx = c.MaxSize
		}

		chunk := strings.TrimRightFunc(remaining[:idx], unicode.IsSpace)
		if chunk != "" {
			chunks = append(chunks, chunk)
		}
		remaining = strings.TrimLeftFunc(remaining[idx:], unicode.IsSpace)
	}

	if remaining = strings.TrimSpace(remaining); remaining != "" {
		chunks = append(chunks, remaining)
	}

	return chunks
}

// breakPoint finds the best position to split the current window.
func (c *Chunker) breakPoint(text string) int {
	window := text[:c.MaxSize]

	if idx := strings.LastIndex(window, "\n\n"); idx > 0 {
		return idx + 1
	}
	if idx := strings.LastIndex(window, "\n"); idx > 0 {
		return idx + 1
	}
	for _, ending := range []string{". ", "! ", "? "} {
		if idx := strings.LastIndex(window, ending); idx > 0 {
			return idx + 1
		}
	}
	if idx := strings.LastIndexFunc(window, unicode.IsSpace); idx > 0 {
		return idx
	}

	// Hard break. MaxSize is a byte offset and may land inside a
	// multi-byte rune; back up to the rune start so every chunk stays
	// valid UTF-8.
	idx := c.MaxSize
	for idx > 0 && !utf8.RuneStart(text[idx]) {
		idx--
	}
	if idx == 0 {
		idx = c.MaxSize
	}
	return idx
}

// SplitMessage is a convenience wrapper for one-off splitting.
func SplitMessage(text string, maxLength int) []string {
	return NewChunker(maxLength).Split(text)
}
