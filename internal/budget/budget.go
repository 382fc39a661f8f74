// Package budget provides token budget estimation and context fitting for
// the agent prompts. Because the agents support multiple LLM backends with
// different tokenizers, this package uses a conservative character-based
// heuristic: 1 token ≈ 4 characters.
package budget

import (
	"github.com/cloudwego/eino/schema"

	"github.com/54b3r/routerag-go/internal/rag"
)

const (
	// charsPerToken is the character-to-token ratio used for estimation.
	charsPerToken = 4

	// perMessageOverhead approximates the role and framing tokens each
	// message costs in most chat APIs.
	perMessageOverhead = 4

	// DefaultMaxContextTokens is the default input context budget in tokens.
	// Fits 8k-context models while leaving room for the output.
	DefaultMaxContextTokens = 6000
)

// Estimate returns a rough token count for s using the character heuristic.
func Estimate(s string) int {
	n := len(s) / charsPerToken
	if n == 0 && len(s) > 0 {
		return 1
	}
	return n
}

// EstimateMessages returns the estimated total token count for a slice of
// schema.Message values, summing role + content for each message.
func EstimateMessages(msgs []*schema.Message) int {
	total := 0
	for _, m := range msgs {
		total += perMessageOverhead
		total += Estimate(string(m.Role))
		total += Estimate(m.Content)
	}
	return total
}

// FitChunks returns the longest rank-ordered prefix of chunks whose text,
// added to fixed, stays within maxTokens. Lower-ranked chunks are dropped
// first. When not even the top chunk fits but some budget remains, its
// text is truncated to the remainder so the prompt never loses all
// context. The input slice is not modified.
func FitChunks(fixed []*schema.Message, chunks []rag.ScoredChunk, maxTokens int) []rag.ScoredChunk {
	remaining := maxTokens - EstimateMessages(fixed)
	if remaining <= 0 || len(chunks) == 0 {
		return nil
	}

	n := 0
	for _, c := range chunks {
		cost := Estimate(c.Text) + perMessageOverhead
		if cost > remaining {
			break
		}
		remaining -= cost
		n++
	}
	if n > 0 {
		return chunks[:n:n]
	}

	room := remaining - perMessageOverhead
	if room <= 0 {
		return nil
	}
	top := chunks[0]
	top.Text = Truncate(top.Text, room)
	return []rag.ScoredChunk{top}
}

// Truncate cuts s to at most maxTokens estimated tokens on a rune boundary.
func Truncate(s string, maxTokens int) string {
	limit := maxTokens * charsPerToken
	if len(s) <= limit {
		return s
	}
	cut := 0
	for i := range s {
		if i > limit {
			break
		}
		cut = i
	}
	return s[:cut]
}
