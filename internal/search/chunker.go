// Package search maintains the incremental index over the generated
// notes tree and serves hybrid lexical+vector queries against it.
package search

import (
	"strings"
)

const (
	// chunkWords bounds a chunk's size; chunkOverlap is how many words
	// the next chunk re-reads so sentences cut at a boundary are still
	// retrievable in one piece.
	chunkWords   = 400
	chunkOverlap = 60
)

// chunk is one split block with its line span in the source file.
type chunk struct {
	content   string
	startLine int
	endLine   int
}

type word struct {
	text string
	line int
}

// splitChunks breaks a document into overlapping word-bounded chunks.
// Lines are 1-based. An empty or whitespace-only document yields none.
func splitChunks(text string) []chunk {
	var words []word
	for i, line := range strings.Split(text, "\n") {
		for _, w := range strings.Fields(line) {
			words = append(words, word{text: w, line: i + 1})
		}
	}
	if len(words) == 0 {
		return nil
	}

	step := chunkWords - chunkOverlap
	var chunks []chunk
	for start := 0; ; start += step {
		end := start + chunkWords
		if end > len(words) {
			end = len(words)
		}
		span := words[start:end]
		parts := make([]string, len(span))
		for i, w := range span {
			parts[i] = w.text
		}
		chunks = append(chunks, chunk{
			content:   strings.Join(parts, " "),
			startLine: span[0].line,
			endLine:   span[len(span)-1].line,
		})
		if end == len(words) {
			break
		}
	}
	return chunks
}
