// Package evaluation scores a finished answer. Relevance compares the
// query with the answer; groundedness (RAG branch only) compares the
// answer with the retrieved chunks. An optional model judge adds a 1-5
// rating. Completeness and clarity rate the answer's length and layout and
// only feed the reader-facing feedback. Scores are in [0, 1].
package evaluation

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/54b3r/routerag-go/internal/agent"
	"github.com/54b3r/routerag-go/internal/classifier"
	"github.com/54b3r/routerag-go/internal/fault"
	"github.com/54b3r/routerag-go/internal/tokens"
	"github.com/54b3r/routerag-go/internal/trace"
)

// Config holds the settings for an Evaluator.
type Config struct {
	// ChatModel backs the judge. Ignored unless Judge is set.
	ChatModel model.BaseChatModel
	// Judge enables the model rating.
	Judge bool
	// CallTimeout bounds the judge call. Defaults to 20s if zero.
	CallTimeout time.Duration
}

// Evaluator scores traces. It is safe for concurrent use.
type Evaluator struct {
	model       model.BaseChatModel
	callTimeout time.Duration
}

// New constructs an Evaluator. The judge is active only when cfg.Judge is
// set and a model is supplied.
func New(cfg *Config) *Evaluator {
	e := &Evaluator{callTimeout: 20 * time.Second}
	if cfg == nil {
		return e
	}
	if cfg.Judge {
		e.model = cfg.ChatModel
	}
	if cfg.CallTimeout > 0 {
		e.callTimeout = cfg.CallTimeout
	}
	return e
}

// Evaluate scores t's final answer against query. It fails with
// fault.ErrEvaluation when the judge cannot rate the answer, and with the
// context error when ctx is done; no partial score is returned in either
// case.
func (e *Evaluator) Evaluate(ctx context.Context, query string, t *trace.Trace) (*trace.Evaluation, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("evaluation: %w", err)
	}
	if t == nil {
		return nil, fmt.Errorf("evaluation: nil trace: %w", fault.ErrEvaluation)
	}

	answer := t.FinalAnswer
	ev := &trace.Evaluation{}
	var notes []string

	rel, matched, total := Relevance(query, answer)
	ev.Relevance = rel
	notes = append(notes, fmt.Sprintf("relevance %.2f (%d of %d query terms addressed)", rel, matched, total))
	scores := []float64{rel}

	if t.Branch() == classifier.BranchRAG {
		texts := make([]string, len(t.Retrieval))
		for i, c := range t.Retrieval {
			texts[i] = c.Text
		}
		g, supported, words := Groundedness(answer, texts)
		ev.Groundedness = &g
		notes = append(notes, fmt.Sprintf("groundedness %.2f (%d of %d answer terms found in retrieved text)", g, supported, words))
		scores = append(scores, g)
	}

	if e.model != nil {
		j, reason, err := e.judge(ctx, query, answer)
		if err != nil {
			return nil, err
		}
		ev.Judge = &j
		notes = append(notes, fmt.Sprintf("judge %.2f: %s", j, reason))
		scores = append(scores, j)
	}

	var sum float64
	for _, s := range scores {
		sum += s
	}
	ev.Overall = sum / float64(len(scores))
	ev.Completeness = Completeness(answer)
	ev.Clarity = Clarity(answer)
	notes = append(notes, fmt.Sprintf("completeness %.2f, clarity %.2f", ev.Completeness, ev.Clarity))
	ev.Rationale = strings.Join(notes, "; ")
	ev.Feedback = feedback(ev, t.Degraded())
	return ev, nil
}

// Relevance returns the share of the query's content words the answer
// uses, with the counts behind it. A query without content words scores
// 1 against any non-empty answer.
func Relevance(query, answer string) (score float64, matched, total int) {
	if strings.TrimSpace(answer) == "" {
		return 0, 0, len(tokens.Set(query))
	}
	q := tokens.Set(query)
	if len(q) == 0 {
		return 1, 0, 0
	}
	a := tokens.Set(answer)
	for w := range q {
		if _, ok := a[w]; ok {
			matched++
		}
	}
	return float64(matched) / float64(len(q)), matched, len(q)
}

// Groundedness returns the share of the answer's content words found in
// the retrieved texts. The fixed no-context answer makes no claims and
// scores 1; any other answer without retrieved text scores 0.
func Groundedness(answer string, retrieved []string) (score float64, supported, total int) {
	if answer == agent.NoContextAnswer {
		return 1, 0, 0
	}
	a := tokens.Set(answer)
	if len(a) == 0 {
		return 0, 0, 0
	}
	src := make(map[string]struct{})
	for _, t := range retrieved {
		for w := range tokens.Set(t) {
			src[w] = struct{}{}
		}
	}
	for w := range a {
		if _, ok := src[w]; ok {
			supported++
		}
	}
	return float64(supported) / float64(len(a)), supported, len(a)
}

// completenessBands maps answer word counts onto scores: an answer with
// fewer than words words scores score.
var completenessBands = []struct {
	words int
	score float64
}{
	{1, 0},
	{10, 0.25},
	{50, 0.5},
	{200, 0.75},
}

// Completeness scores answer by length. The fixed no-context answer is
// complete by definition.
func Completeness(answer string) float64 {
	if answer == agent.NoContextAnswer {
		return 1
	}
	n := len(strings.Fields(answer))
	for _, b := range completenessBands {
		if n < b.words {
			return b.score
		}
	}
	return 1
}

// Clarity scores answer by layout. Plain prose scores 0.5; headings or
// emphasis, list items, and paragraph breaks each add 0.25. An empty
// answer scores 0.
func Clarity(answer string) float64 {
	if strings.TrimSpace(answer) == "" {
		return 0
	}
	score := 0.5
	if strings.Contains(answer, "**") || hasLinePrefix(answer, "#") {
		score += 0.25
	}
	if hasListItem(answer) {
		score += 0.25
	}
	if strings.Contains(strings.TrimSpace(answer), "\n\n") {
		score += 0.25
	}
	return min(score, 1)
}

func hasLinePrefix(text, prefix string) bool {
	for line := range strings.Lines(text) {
		if strings.HasPrefix(strings.TrimSpace(line), prefix) {
			return true
		}
	}
	return false
}

// hasListItem reports whether any line is a bullet or numbered item.
func hasListItem(text string) bool {
	for line := range strings.Lines(text) {
		line = strings.TrimSpace(line)
		for _, bullet := range []string{"- ", "* ", "• "} {
			if strings.HasPrefix(line, bullet) {
				return true
			}
		}
		digits := strings.IndexFunc(line, func(r rune) bool { return r < '0' || r > '9' })
		if digits > 0 && strings.HasPrefix(line[digits:], ". ") {
			return true
		}
	}
	return false
}

// feedback turns the scores into short reader-facing notes.
func feedback(ev *trace.Evaluation, degraded bool) []string {
	var out []string
	if ev.Relevance < 0.34 {
		out = append(out, "Response could be more relevant to the query")
	}
	if ev.Groundedness != nil && *ev.Groundedness < 0.5 {
		out = append(out, "Response includes content not found in the retrieved documents")
	}
	if ev.Completeness < 0.5 {
		out = append(out, "Response could be more comprehensive")
	}
	if ev.Clarity < 0.5 {
		out = append(out, "Response could be clearer and better formatted")
	}
	if ev.Judge != nil && *ev.Judge < 0.5 {
		out = append(out, "Judge rated the response below average")
	}
	if degraded {
		out = append(out, "Answer was produced on a degraded path")
	}
	switch {
	case ev.Overall >= 0.8:
		out = append(out, "Excellent response quality")
	case ev.Overall >= 0.5:
		out = append(out, "Good response quality")
	default:
		out = append(out, "Response quality needs improvement")
	}
	return out
}

const judgePrompt = `You grade answers from an assistant. Given a question and an answer, rate
how well the answer addresses the question on a scale of 1 (useless) to 5
(complete and accurate). Reply with ONLY a JSON object, no markdown:
{"rating": <integer 1..5>, "reason": "<one short sentence>"}`

// judge asks the model for a rating and maps it from 1..5 onto 0..1.
func (e *Evaluator) judge(ctx context.Context, query, answer string) (float64, string, error) {
	msg, err := fault.Call(ctx, e.callTimeout, "evaluation judge", func(ctx context.Context) (*schema.Message, error) {
		return e.model.Generate(ctx, []*schema.Message{
			schema.SystemMessage(judgePrompt),
			schema.UserMessage(fmt.Sprintf("Question: %s\n\nAnswer:\n%s", query, answer)),
		})
	})
	if err != nil {
		if ctx.Err() != nil {
			return 0, "", fmt.Errorf("evaluation: %w", ctx.Err())
		}
		return 0, "", fmt.Errorf("evaluation: judge call failed: %v: %w", err, fault.ErrEvaluation)
	}

	reply := msg.Content
	start, end := strings.Index(reply, "{"), strings.LastIndex(reply, "}")
	if start < 0 || end < start {
		return 0, "", fmt.Errorf("evaluation: judge reply has no JSON object: %w", fault.ErrEvaluation)
	}
	var v struct {
		Rating float64 `json:"rating"`
		Reason string  `json:"reason"`
	}
	if err := json.Unmarshal([]byte(reply[start:end+1]), &v); err != nil {
		return 0, "", fmt.Errorf("evaluation: failed to unmarshal judge reply: %v: %w", err, fault.ErrEvaluation)
	}
	if v.Rating < 1 || v.Rating > 5 {
		return 0, "", fmt.Errorf("evaluation: judge rating %v out of range: %w", v.Rating, fault.ErrEvaluation)
	}
	return (v.Rating - 1) / 4, strings.TrimSpace(v.Reason), nil
}
