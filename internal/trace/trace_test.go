package trace

import (
	"errors"
	"testing"
	"time"

	"github.com/54b3r/routerag-go/internal/classifier"
)

func TestTrace_HappyPath(t *testing.T) {
	t.Parallel()
	at := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	tr := New("q1", "weather in Tokyo", at)

	for i, s := range []State{Routed, BranchExecuted, Synthesized, Evaluated} {
		tr.Step(s, string(s), at.Add(time.Duration(i+1)*time.Second))
	}
	if tr.State != Evaluated || !tr.State.Terminal() {
		t.Fatalf("State = %s", tr.State)
	}
	if len(tr.Transitions) != 5 {
		t.Errorf("transitions = %d, want 5", len(tr.Transitions))
	}
	if tr.Duration() != 4*time.Second {
		t.Errorf("Duration = %v", tr.Duration())
	}
}

func TestTrace_IllegalTransition(t *testing.T) {
	t.Parallel()
	tr := New("q", "x", time.Now())
	if err := tr.Advance(Synthesized, "", time.Now()); err == nil {
		t.Fatal("expected illegal transition error")
	}
	if tr.State != Received || len(tr.Transitions) != 1 {
		t.Errorf("trace changed by illegal transition: %+v", tr)
	}
	if err := tr.Advance(FailedDegraded, "", time.Now()); err == nil {
		t.Error("classification stage must not degrade")
	}
}

func TestTrace_DegradedIsAbsorbing(t *testing.T) {
	t.Parallel()
	now := time.Now()
	tr := New("q", "x", now)
	tr.Step(Routed, "", now)
	tr.Degrade("weather", errors.New("timeout"), now)
	tr.Step(Synthesized, "supervisor ran", now)
	tr.Step(Evaluated, "scored", now)

	if tr.State != FailedDegraded || !tr.Degraded() {
		t.Fatalf("State = %s", tr.State)
	}
	last := tr.Transitions[len(tr.Transitions)-1]
	if last.From != FailedDegraded || last.To != FailedDegraded || last.Note != "scored" {
		t.Errorf("last transition = %+v", last)
	}
	if len(tr.Errors) != 1 || tr.Errors[0] != "weather: timeout" {
		t.Errorf("Errors = %v", tr.Errors)
	}
}

func TestTrace_Branch(t *testing.T) {
	t.Parallel()
	tr := New("q", "x", time.Now())
	if tr.Branch() != "" {
		t.Error("branch set before routing")
	}
	tr.Route = &classifier.RouteDecision{Branch: classifier.BranchRAG}
	if tr.Branch() != classifier.BranchRAG {
		t.Errorf("Branch = %s", tr.Branch())
	}
}
