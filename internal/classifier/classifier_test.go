package classifier

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/54b3r/routerag-go/internal/fault"
	"github.com/54b3r/routerag-go/internal/llmtest"
)

func TestHeuristic_WeatherWithLocation(t *testing.T) {
	t.Parallel()
	queries := []string{
		"What's the weather in Tokyo?",
		"temperature in paris today",
		"Will it rain in Reykjavik tomorrow?",
		"berlin weather forecast",
		"How humid is it in New York right now",
		"What is the AQI in Delhi?",
	}
	for _, q := range queries {
		for _, docs := range []bool{false, true} {
			d := Heuristic(q, docs)
			if d.Branch != BranchWeather {
				t.Errorf("Heuristic(%q, %v).Branch = %s", q, docs, d.Branch)
			}
			if d.Confidence < DefaultThreshold {
				t.Errorf("Heuristic(%q, %v).Confidence = %v, below threshold", q, docs, d.Confidence)
			}
			if d.Location == "" {
				t.Errorf("Heuristic(%q) found no location", q)
			}
		}
	}
}

func TestHeuristic_NoWeatherTermsWithDocuments(t *testing.T) {
	t.Parallel()
	queries := []string{
		"What is the capital of France?",
		"Summarise the quarterly report",
		"Who signed the contract in Berlin?",
	}
	for _, q := range queries {
		d := Heuristic(q, true)
		if d.Branch != BranchRAG {
			t.Errorf("Heuristic(%q).Branch = %s, want RAG", q, d.Branch)
		}
		if d.Confidence < DefaultThreshold {
			t.Errorf("Heuristic(%q).Confidence = %v", q, d.Confidence)
		}
		if d.Location != "" {
			t.Errorf("RAG decision carries location %q", d.Location)
		}
	}
}

func TestHeuristic_TieBreaks(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name  string
		query string
		docs  bool
		want  Branch
		conf  float32
	}{
		{"no terms no docs", "Tell me something interesting", false, BranchRAG, 0.5},
		{"ambiguous no docs", "is it cold", false, BranchWeather, 0.3},
		{"ambiguous with docs", "is it cold", true, BranchRAG, 0.45},
		{"weather without place", "what's the forecast", true, BranchWeather, 0.55},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			d := Heuristic(tt.query, tt.docs)
			if d.Branch != tt.want || d.Confidence != tt.conf {
				t.Errorf("got %s/%v, want %s/%v (%s)", d.Branch, d.Confidence, tt.want, tt.conf, d.Rationale)
			}
		})
	}
}

func TestHeuristic_AirQuality(t *testing.T) {
	t.Parallel()
	if d := Heuristic("air quality in Mumbai", false); !d.AirQuality || d.Location != "Mumbai" {
		t.Errorf("decision = %+v", d)
	}
	if d := Heuristic("weather in Mumbai", false); d.AirQuality {
		t.Error("AirQuality set for plain weather query")
	}
}

func TestExtractLocation(t *testing.T) {
	t.Parallel()
	tests := []struct {
		query, want string
	}{
		{"weather in new delhi", "New Delhi"},
		{"What's the weather in San Francisco?", "San Francisco"},
		{"Is it sunny in Buenos Aires?", "Buenos Aires"},
		{"forecast for lagos", "Lagos"},
		{"oslo weather", "Oslo"},
		{"what's the weather", ""},
		{"temperature in Celsius please", ""},
		{"today's weather", ""},
		{"What is the weather in India?", "Delhi"},
		{"Is it hot across Indian cities today?", "Delhi"},
	}
	for _, tt := range tests {
		if got := ExtractLocation(tt.query); got != tt.want {
			t.Errorf("ExtractLocation(%q) = %q, want %q", tt.query, got, tt.want)
		}
	}
}

func TestClassify_EmptyQuery(t *testing.T) {
	t.Parallel()
	c := New(nil)
	for _, q := range []string{"", "   \n\t"} {
		if _, err := c.Classify(context.Background(), q, true); !errors.Is(err, fault.ErrClassification) {
			t.Errorf("Classify(%q) err = %v, want classification failure", q, err)
		}
	}
}

func TestClassify_ConfidentHeuristicSkipsModel(t *testing.T) {
	t.Parallel()
	m := llmtest.Fixed(`{"branch":"rag","confidence":0.9,"rationale":"x"}`)
	c := New(&Config{ChatModel: m})
	d, err := c.Classify(context.Background(), "What's the weather in Tokyo?", true)
	if err != nil {
		t.Fatal(err)
	}
	if d.Branch != BranchWeather || d.Source != SourceHeuristic {
		t.Errorf("decision = %+v", d)
	}
	if m.Calls() != 0 {
		t.Errorf("model called %d times", m.Calls())
	}
}

func TestClassify_ModelDecidesWithoutEvidence(t *testing.T) {
	t.Parallel()
	m := llmtest.Fixed("Sure! ```json\n{\"branch\": \"weather\", \"confidence\": 0.8, \"rationale\": \"asks about outdoor conditions\"}\n```")
	c := New(&Config{ChatModel: m})
	d, err := c.Classify(context.Background(), "Should I bring a jacket to Lisbon?", false)
	if err != nil {
		t.Fatal(err)
	}
	if d.Branch != BranchWeather || d.Confidence != 0.8 || d.Source != SourceModel {
		t.Errorf("decision = %+v", d)
	}
	if d.Location != "Lisbon" {
		t.Errorf("Location = %q", d.Location)
	}
	if m.Calls() != 1 {
		t.Errorf("model calls = %d, want exactly 1", m.Calls())
	}
}

func TestClassify_HeuristicEvidenceWinsDisagreement(t *testing.T) {
	t.Parallel()
	m := llmtest.Fixed(`{"branch":"rag","confidence":0.99,"rationale":"sounds like a document question"}`)
	c := New(&Config{ChatModel: m})
	d, err := c.Classify(context.Background(), "what's the forecast", true)
	if err != nil {
		t.Fatal(err)
	}
	if d.Branch != BranchWeather || d.Confidence != 0.55 || d.Source != SourceCombined {
		t.Errorf("decision = %+v", d)
	}
}

func TestClassify_AgreementRaisesConfidence(t *testing.T) {
	t.Parallel()
	m := llmtest.Fixed(`{"branch":"WEATHER","confidence":0.9,"rationale":"forecast request"}`)
	c := New(&Config{ChatModel: m})
	d, _ := c.Classify(context.Background(), "what's the forecast", false)
	if d.Branch != BranchWeather || d.Confidence != 0.9 {
		t.Errorf("decision = %+v", d)
	}
}

func TestClassify_ModelFailureKeepsHeuristic(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		m    *llmtest.Model
	}{
		{"error", llmtest.Failing(errors.New("boom"))},
		{"garbage", llmtest.Fixed("I think it is about weather")},
		{"unknown branch", llmtest.Fixed(`{"branch":"sports"}`)},
		{"timeout", llmtest.Blocking()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			c := New(&Config{ChatModel: tt.m, CallTimeout: 20 * time.Millisecond})
			d, err := c.Classify(context.Background(), "Tell me something", false)
			if err != nil {
				t.Fatalf("Classify error: %v", err)
			}
			if d.Branch != BranchRAG || d.Source != SourceHeuristic {
				t.Errorf("decision = %+v", d)
			}
		})
	}
}

func TestClassify_Cancelled(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := New(nil).Classify(ctx, "anything", false); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v", err)
	}
}
