// Package trace records how one query moved through the pipeline: the
// state transitions, the route, the branch data, every agent turn and the
// evaluation. A Trace is built by a single goroutine and is read-only once
// the query finishes.
package trace

import (
	"fmt"
	"time"

	"github.com/54b3r/routerag-go/internal/classifier"
	"github.com/54b3r/routerag-go/internal/rag"
	"github.com/54b3r/routerag-go/internal/weather"
)

// State is a pipeline state.
type State string

const (
	Received             State = "RECEIVED"
	Routed               State = "ROUTED"
	BranchExecuted       State = "BRANCH_EXECUTED"
	Synthesized          State = "SYNTHESIZED"
	Evaluated            State = "EVALUATED"
	FailedDegraded       State = "FAILED_DEGRADED"
	ClassificationFailed State = "CLASSIFICATION_FAILED"
)

// next lists the legal successors of each state. FailedDegraded only
// loops onto itself so later best-effort stages are still recorded.
var next = map[State][]State{
	Received:       {Routed, ClassificationFailed},
	Routed:         {BranchExecuted, FailedDegraded},
	BranchExecuted: {Synthesized, FailedDegraded},
	Synthesized:    {Evaluated, FailedDegraded},
	FailedDegraded: {FailedDegraded},
}

// Terminal reports whether no further stage follows s in a normal run.
func (s State) Terminal() bool {
	return s == Evaluated || s == ClassificationFailed
}

// Transition is one recorded state change.
type Transition struct {
	From State     `json:"from"`
	To   State     `json:"to"`
	At   time.Time `json:"at"`
	Note string    `json:"note,omitempty"`
}

// Turn is one agent invocation.
type Turn struct {
	Role      string        `json:"role"`
	Input     string        `json:"input"`
	Output    string        `json:"output,omitempty"`
	Latency   time.Duration `json:"latencyNs"`
	Success   bool          `json:"success"`
	Error     string        `json:"error,omitempty"`
	StartedAt time.Time     `json:"startedAt"`
}

// Evaluation is the quality score attached to a finished trace.
// Scores are in [0, 1].
type Evaluation struct {
	Relevance float64 `json:"relevance"`
	// Groundedness is only set on the RAG branch.
	Groundedness *float64 `json:"groundedness,omitempty"`
	// Judge is the normalised model rating when the judge is enabled.
	Judge *float64 `json:"judge,omitempty"`
	// Completeness and Clarity describe the answer's length and layout.
	// They are reported alongside Overall, not folded into it.
	Completeness float64  `json:"completeness"`
	Clarity      float64  `json:"clarity"`
	Overall      float64  `json:"overall"`
	Rationale    string   `json:"rationale"`
	Feedback     []string `json:"feedback,omitempty"`
}

// Trace is the explainability record for one query.
type Trace struct {
	QueryID     string                    `json:"queryId"`
	Query       string                    `json:"query"`
	ReceivedAt  time.Time                 `json:"receivedAt"`
	State       State                     `json:"state"`
	Transitions []Transition              `json:"transitions"`
	Route       *classifier.RouteDecision `json:"route,omitempty"`
	Retrieval   []rag.ScoredChunk         `json:"retrieval,omitempty"`
	Weather     *weather.Snapshot         `json:"weather,omitempty"`
	Turns       []Turn                    `json:"turns"`
	FinalAnswer string                    `json:"finalAnswer"`
	Evaluation  *Evaluation               `json:"evaluation,omitempty"`
	// EvaluationError explains an omitted evaluation.
	EvaluationError string `json:"evaluationError,omitempty"`
	// Errors lists the non-fatal failures absorbed on the way.
	Errors []string `json:"errors,omitempty"`
}

// New starts a trace in the Received state.
func New(queryID, query string, at time.Time) *Trace {
	return &Trace{
		QueryID:    queryID,
		Query:      query,
		ReceivedAt: at,
		State:      Received,
		Transitions: []Transition{
			{From: "", To: Received, At: at},
		},
	}
}

// Advance moves the trace to `to`, recording note. Illegal transitions are
// rejected and leave the trace unchanged.
func (t *Trace) Advance(to State, note string, at time.Time) error {
	for _, s := range next[t.State] {
		if s == to {
			t.Transitions = append(t.Transitions, Transition{From: t.State, To: to, At: at, Note: note})
			t.State = to
			return nil
		}
	}
	return fmt.Errorf("trace: illegal transition %s -> %s", t.State, to)
}

// Degrade moves the trace to FailedDegraded and records err.
func (t *Trace) Degrade(stage string, err error, at time.Time) {
	msg := fmt.Sprintf("%s: %v", stage, err)
	t.Errors = append(t.Errors, msg)
	_ = t.Advance(FailedDegraded, msg, at)
}

// Degraded reports whether any stage failed.
func (t *Trace) Degraded() bool { return t.State == FailedDegraded }

// Step advances to `to` on the normal path, or records a self-transition
// with note once the trace is degraded.
func (t *Trace) Step(to State, note string, at time.Time) {
	if t.Degraded() {
		_ = t.Advance(FailedDegraded, note, at)
		return
	}
	_ = t.Advance(to, note, at)
}

// AddTurn appends an agent turn.
func (t *Trace) AddTurn(turn Turn) {
	t.Turns = append(t.Turns, turn)
}

// Branch returns the routed branch, or "" before routing.
func (t *Trace) Branch() classifier.Branch {
	if t.Route == nil {
		return ""
	}
	return t.Route.Branch
}

// Duration is the time from receipt to the last transition.
func (t *Trace) Duration() time.Duration {
	if len(t.Transitions) == 0 {
		return 0
	}
	return t.Transitions[len(t.Transitions)-1].At.Sub(t.ReceivedAt)
}
