// Package classifier decides which branch answers a query. A cheap
// deterministic keyword heuristic runs first; when its confidence is below
// the configured threshold and a chat model is available, the model is
// asked once for a verdict.
//
// When the heuristic found weather evidence it keeps its branch even if the
// model disagrees; the model's verdict only decides queries the heuristic
// had no evidence for.
package classifier

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/54b3r/routerag-go/internal/fault"
	"github.com/54b3r/routerag-go/internal/logging"
)

// Branch is one of the two query-processing paths.
type Branch string

const (
	// BranchWeather answers from live weather data.
	BranchWeather Branch = "WEATHER"
	// BranchRAG answers from retrieved document chunks.
	BranchRAG Branch = "RAG"
)

// Source records which path produced a decision.
type Source string

const (
	SourceHeuristic Source = "heuristic"
	SourceModel     Source = "model"
	SourceCombined  Source = "heuristic+model"
)

// RouteDecision is the classifier's verdict for one query.
type RouteDecision struct {
	Branch     Branch  `json:"branch"`
	Confidence float32 `json:"confidence"`
	Rationale  string  `json:"rationale"`
	// Location is the place named in the query, if any.
	Location string `json:"location,omitempty"`
	// AirQuality is set when the query asks about pollution.
	AirQuality bool   `json:"airQuality,omitempty"`
	Source     Source `json:"source"`
}

// DefaultThreshold is the heuristic confidence below which the model
// fallback is consulted.
const DefaultThreshold float32 = 0.6

// Config holds the settings for a Classifier.
type Config struct {
	// ChatModel is the optional fallback. Nil disables it.
	ChatModel model.BaseChatModel
	// Threshold defaults to DefaultThreshold if zero.
	Threshold float32
	// CallTimeout bounds the fallback call. Defaults to 20s if zero.
	CallTimeout time.Duration
}

// Classifier routes queries. It holds no per-query state and is safe for
// concurrent use.
type Classifier struct {
	model       model.BaseChatModel
	threshold   float32
	callTimeout time.Duration
}

// New constructs a Classifier.
func New(cfg *Config) *Classifier {
	if cfg == nil {
		cfg = &Config{}
	}
	c := &Classifier{model: cfg.ChatModel, threshold: cfg.Threshold, callTimeout: cfg.CallTimeout}
	if c.threshold <= 0 {
		c.threshold = DefaultThreshold
	}
	if c.callTimeout <= 0 {
		c.callTimeout = 20 * time.Second
	}
	return c
}

// Threshold returns the configured confidence threshold.
func (c *Classifier) Threshold() float32 { return c.threshold }

// Classify routes query. documentsIngested drives the tie-break when
// neither branch is clearly indicated. An empty query fails with
// fault.ErrClassification; a failing fallback model does not.
func (c *Classifier) Classify(ctx context.Context, query string, documentsIngested bool) (RouteDecision, error) {
	if strings.TrimSpace(query) == "" {
		return RouteDecision{}, fmt.Errorf("classifier: empty query: %w", fault.ErrClassification)
	}
	if err := ctx.Err(); err != nil {
		return RouteDecision{}, fmt.Errorf("classifier: %w", err)
	}

	h := analyze(query, documentsIngested)
	d := h.decision
	if d.Confidence >= c.threshold || c.model == nil {
		return d, nil
	}

	log := logging.FromContext(ctx)
	v, err := c.askModel(ctx, query)
	if err != nil {
		if ctx.Err() != nil {
			return RouteDecision{}, fmt.Errorf("classifier: %w", ctx.Err())
		}
		log.Warn("classifier: model fallback failed, keeping heuristic route",
			slog.String("branch", string(d.Branch)),
			slog.Any("error", err),
		)
		d.Rationale += "; model fallback unavailable"
		return d, nil
	}

	return merge(h, v), nil
}

// merge applies the disagreement policy to a heuristic result and a model
// verdict.
func merge(h analysis, v verdict) RouteDecision {
	d := h.decision
	switch {
	case v.Branch == d.Branch:
		d.Confidence = max(d.Confidence, v.Confidence)
		d.Rationale += "; model agrees: " + v.Rationale
		d.Source = SourceCombined
	case h.evidence:
		d.Rationale += fmt.Sprintf("; model suggested %s (%.2f), keeping keyword evidence", v.Branch, v.Confidence)
		d.Source = SourceCombined
	default:
		d.Branch = v.Branch
		d.Confidence = v.Confidence
		d.Rationale = "model: " + v.Rationale
		d.Source = SourceModel
		if d.Branch == BranchWeather {
			d.Location = h.location
		} else {
			d.Location = ""
		}
	}
	return d
}

// classifyPrompt asks for a single JSON object.
const classifyPrompt = `You route user questions for an assistant with two capabilities:
- "weather": current weather or air quality for a place
- "rag": answering from documents the user uploaded, or anything else

Reply with ONLY a JSON object, no markdown:
{"branch": "weather" | "rag", "confidence": <number 0..1>, "rationale": "<one short sentence>"}`

// verdict is the model's parsed answer.
type verdict struct {
	Branch     Branch
	Confidence float32
	Rationale  string
}

func (c *Classifier) askModel(ctx context.Context, query string) (verdict, error) {
	msg, err := fault.Call(ctx, c.callTimeout, "classifier model", func(ctx context.Context) (*schema.Message, error) {
		return c.model.Generate(ctx, []*schema.Message{
			schema.SystemMessage(classifyPrompt),
			schema.UserMessage(query),
		})
	})
	if err != nil {
		return verdict{}, err
	}
	return parseVerdict(msg.Content)
}

// parseVerdict extracts the JSON verdict from a model reply, tolerating
// surrounding prose or code fences.
func parseVerdict(reply string) (verdict, error) {
	start := strings.Index(reply, "{")
	end := strings.LastIndex(reply, "}")
	if start < 0 || end < start {
		return verdict{}, fmt.Errorf("classifier: no JSON object in model reply")
	}

	var raw struct {
		Branch     string  `json:"branch"`
		Confidence float32 `json:"confidence"`
		Rationale  string  `json:"rationale"`
	}
	if err := json.Unmarshal([]byte(reply[start:end+1]), &raw); err != nil {
		return verdict{}, fmt.Errorf("classifier: failed to unmarshal model verdict: %w", err)
	}

	v := verdict{Confidence: min(max(raw.Confidence, 0), 1), Rationale: strings.TrimSpace(raw.Rationale)}
	switch strings.ToLower(strings.TrimSpace(raw.Branch)) {
	case "weather":
		v.Branch = BranchWeather
	case "rag", "documents", "document":
		v.Branch = BranchRAG
	default:
		return verdict{}, fmt.Errorf("classifier: unknown branch %q in model verdict", raw.Branch)
	}
	if v.Rationale == "" {
		v.Rationale = "no rationale given"
	}
	return v, nil
}
