// Package sentence accumulates committed words into a candidate sentence.
package sentence

import (
	"strings"

	"github.com/androsja/Se-alyze/pkg/types"
)

// DefaultPrefix is the technical-label prefix used when none is configured.
const DefaultPrefix = "_"

// Buffer is the ordered word buffer plus the most recently generated sentence.
//
// No two adjacent words are ever equal and no word is empty or technical.
// Buffer is owned by the pipeline goroutine and is not safe for concurrent use.
type Buffer struct {
	prefix   string
	words    []string
	sentence string
}

// New returns an empty Buffer that rejects labels starting with prefix.
func New(prefix string) *Buffer {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Buffer{prefix: prefix}
}

// AddWord appends word unless it is empty, technical, or equal to the last
// buffered word. It reports whether the word was appended.
func (b *Buffer) AddWord(word string) bool {
	word = strings.TrimSpace(word)
	if word == "" || types.IsTechnicalLabel(word, b.prefix) {
		return false
	}
	if n := len(b.words); n > 0 && b.words[n-1] == word {
		return false
	}
	b.words = append(b.words, word)
	return true
}

// Words returns a copy of the buffered words.
func (b *Buffer) Words() []string {
	return append([]string(nil), b.words...)
}

// Len returns the number of buffered words.
func (b *Buffer) Len() int { return len(b.words) }

// Raw joins the buffered words with single spaces.
func (b *Buffer) Raw() string { return strings.Join(b.words, " ") }

// Finalize empties the word buffer and records text as the generated sentence.
func (b *Buffer) Finalize(text string) {
	b.words = nil
	b.sentence = text
}

// Sentence returns the last generated sentence, or "".
func (b *Buffer) Sentence() string { return b.sentence }

// ClearSentence forgets the generated sentence but keeps buffered words.
func (b *Buffer) ClearSentence() { b.sentence = "" }

// Clear empties the buffer and any pending generated sentence.
func (b *Buffer) Clear() {
	b.words = nil
	b.sentence = ""
}
