// Package chunker splits long text into token-bounded segments for ingestion.
//
// Token counts are estimated, not exact: the estimator approximates the cost
// charged by the embedding tokenizer without invoking it. The budget is
// advisory; a single sentence that alone exceeds the budget is emitted whole
// rather than truncated.
package chunker

import (
	"strings"
	"unicode"
)

// DefaultMaxTokens is the default token budget per chunk, with some margin
// below the embedding model's context limit.
const DefaultMaxTokens = 6000

// EstimateTokens approximates the tokenizer cost of text.
// CJK characters weigh ~1.2 tokens, whitespace-delimited words ~1.5.
func EstimateTokens(text string) int {
	cjk := 0
	for _, r := range text {
		if unicode.Is(unicode.Han, r) {
			cjk++
		}
	}
	words := len(strings.Fields(text))
	return int(float64(cjk)*1.2 + float64(words)*1.5)
}

// Chunker splits text into chunks bounded by a token budget.
type Chunker struct {
	maxTokens int
}

// New creates a chunker with the given token budget.
// A non-positive budget falls back to DefaultMaxTokens.
func New(maxTokens int) *Chunker {
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}
	return &Chunker{maxTokens: maxTokens}
}

// MaxTokens returns the configured token budget.
func (c *Chunker) MaxTokens() int {
	return c.maxTokens
}

// Split divides text into chunks whose estimated token count stays within
// the budget. Chunks are emitted in document order, never overlap, and their
// ordered concatenation reconstructs the input modulo boundary whitespace.
// Input at or under budget (including empty input) yields exactly one chunk.
func (c *Chunker) Split(text string) []string {
	if EstimateTokens(text) <= c.maxTokens {
		return []string{text}
	}

	paragraphs := strings.Split(text, "\n\n")
	var chunks []string
	var current strings.Builder

	flush := func() {
		if current.Len() > 0 {
			chunks = append(chunks, strings.TrimSpace(current.String()))
			current.Reset()
		}
	}

	for _, paragraph := range paragraphs {
		if EstimateTokens(paragraph) > c.maxTokens {
			// Oversized paragraph: flush what we have, then split it on
			// sentence boundaries.
			flush()
			chunks = append(chunks, c.splitParagraph(paragraph)...)
			continue
		}
		if EstimateTokens(current.String()+paragraph) <= c.maxTokens {
			current.WriteString(paragraph)
			current.WriteString("\n\n")
		} else {
			flush()
			current.WriteString(paragraph)
			current.WriteString("\n\n")
		}
	}
	flush()

	return chunks
}

// splitParagraph splits a single oversized paragraph on sentence boundaries
// with the same greedy accumulation. A sentence that alone exceeds the budget
// is emitted as its own chunk.
func (c *Chunker) splitParagraph(paragraph string) []string {
	sentences := splitSentences(paragraph)
	var chunks []string
	var current strings.Builder

	for _, sentence := range sentences {
		if strings.TrimSpace(sentence) == "" {
			continue
		}
		if current.Len() > 0 && EstimateTokens(current.String()+sentence) > c.maxTokens {
			chunks = append(chunks, strings.TrimSpace(current.String()))
			current.Reset()
		}
		current.WriteString(sentence)
	}
	if current.Len() > 0 {
		chunks = append(chunks, strings.TrimSpace(current.String()))
	}

	return chunks
}

// splitSentences splits text after sentence-ending punctuation, keeping the
// delimiter attached to the preceding sentence.
func splitSentences(text string) []string {
	var sentences []string
	var current strings.Builder

	for _, r := range text {
		current.WriteRune(r)
		switch r {
		case '。', '．', '.', '!', '?', '！', '？':
			sentences = append(sentences, current.String())
			current.Reset()
		}
	}
	if current.Len() > 0 {
		sentences = append(sentences, current.String())
	}

	return sentences
}
