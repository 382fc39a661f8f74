// Package agent implements the three role-specialised agents that turn a
// branch result into the final answer.
//
// The weather agent interprets a weather snapshot, the RAG agent answers
// from retrieved chunks only, and the supervisor always runs last to
// produce the user-facing reply. Every agent is stateless between queries.
// Without a chat model each role answers deterministically.
package agent

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cloudwego/eino/callbacks"
	"github.com/cloudwego/eino/components"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/54b3r/routerag-go/internal/budget"
	"github.com/54b3r/routerag-go/internal/classifier"
	"github.com/54b3r/routerag-go/internal/fault"
	"github.com/54b3r/routerag-go/internal/rag"
	"github.com/54b3r/routerag-go/internal/weather"
)

// Role is one of the closed set of agent roles.
type Role string

const (
	RoleWeather    Role = "weather"
	RoleRAG        Role = "rag"
	RoleSupervisor Role = "supervisor"
)

// NoContextAnswer is the RAG agent's reply when no retrieved chunk is
// similar enough to the query to answer from.
const NoContextAnswer = "No relevant document content is available to answer this question. " +
	"Upload a document that covers it, or rephrase the question."

// Input is everything an agent may read for one invocation. Each role
// only looks at the fields that belong to it.
type Input struct {
	// Query is the user's question.
	Query string

	// Route is the classifier's decision.
	Route classifier.RouteDecision

	// Weather is the snapshot for the weather agent.
	Weather *weather.Snapshot

	// Chunks are the retrieved chunks for the RAG agent, best first.
	Chunks []rag.ScoredChunk

	// SpecialistOutput is the specialist's reply, read by the supervisor.
	SpecialistOutput string

	// SpecialistErr is the specialist's failure, read by the supervisor.
	SpecialistErr error
}

// Config holds the settings shared by every role.
type Config struct {
	// ChatModel answers prompts. Nil makes every role deterministic.
	ChatModel model.BaseChatModel

	// SimilarityThreshold is the minimum chunk score the RAG agent answers
	// from. Defaults to 0.35 if zero.
	SimilarityThreshold float32

	// CallTimeout bounds each model call. Defaults to 20s if zero.
	CallTimeout time.Duration

	// MaxContextTokens bounds the RAG prompt. Defaults to
	// budget.DefaultMaxContextTokens if zero.
	MaxContextTokens int

	// GroundingTolerance is the share of supervisor content words that may
	// be absent from the specialist output and query on the RAG branch.
	// Defaults to 0.2 if zero.
	GroundingTolerance float64
}

// Agent is one role bound to the shared model and settings.
// It is safe for concurrent use.
type Agent struct {
	role Role
	cfg  Config
}

// Team holds one agent per role.
type Team struct {
	Weather    *Agent
	RAG        *Agent
	Supervisor *Agent
}

// NewTeam constructs the three agents from cfg.
func NewTeam(cfg *Config) *Team {
	c := Config{}
	if cfg != nil {
		c = *cfg
	}
	if c.SimilarityThreshold == 0 {
		c.SimilarityThreshold = 0.35
	}
	if c.CallTimeout <= 0 {
		c.CallTimeout = 20 * time.Second
	}
	if c.MaxContextTokens <= 0 {
		c.MaxContextTokens = budget.DefaultMaxContextTokens
	}
	if c.GroundingTolerance <= 0 {
		c.GroundingTolerance = 0.2
	}
	return &Team{
		Weather:    &Agent{role: RoleWeather, cfg: c},
		RAG:        &Agent{role: RoleRAG, cfg: c},
		Supervisor: &Agent{role: RoleSupervisor, cfg: c},
	}
}

// Specialist returns the agent that handles branch.
func (t *Team) Specialist(branch classifier.Branch) *Agent {
	if branch == classifier.BranchWeather {
		return t.Weather
	}
	return t.RAG
}

// Role returns the agent's role.
func (a *Agent) Role() Role { return a.role }

// Respond runs the agent's transformation over in.
func (a *Agent) Respond(ctx context.Context, in Input) (string, error) {
	switch a.role {
	case RoleWeather:
		return a.respondWeather(ctx, in)
	case RoleRAG:
		return a.respondRAG(ctx, in)
	case RoleSupervisor:
		return a.respondSupervisor(ctx, in)
	default:
		return "", fmt.Errorf("agent: unknown role %q", a.role)
	}
}

// Describe summarises the context a role received, for the trace.
func (a *Agent) Describe(in Input) string {
	switch a.role {
	case RoleWeather:
		if in.Weather == nil {
			return "no weather snapshot"
		}
		return fmt.Sprintf("snapshot %s: %.1f°C, %s", in.Weather.Location, in.Weather.Temperature, in.Weather.Conditions)
	case RoleRAG:
		relevant := len(rag.AboveThreshold(in.Chunks, a.cfg.SimilarityThreshold))
		return fmt.Sprintf("%d chunks retrieved, %d above %.2f", len(in.Chunks), relevant, a.cfg.SimilarityThreshold)
	default:
		if in.SpecialistErr != nil {
			return fmt.Sprintf("%s branch, specialist failed: %s", in.Route.Branch, fault.Kind(in.SpecialistErr))
		}
		return fmt.Sprintf("%s branch, specialist output %d chars", in.Route.Branch, len(in.SpecialistOutput))
	}
}

// generate sends msgs to the chat model under the per-call timeout. The
// call is tagged with the role so tracing handlers can tell agents apart.
func (a *Agent) generate(ctx context.Context, msgs []*schema.Message) (string, error) {
	ctx = callbacks.InitCallbacks(ctx, &callbacks.RunInfo{
		Name:      string(a.role) + "-agent",
		Type:      "Agent",
		Component: components.ComponentOfChatModel,
	})
	name := string(a.role) + " agent"
	msg, err := fault.Call(ctx, a.cfg.CallTimeout, name, func(ctx context.Context) (*schema.Message, error) {
		return a.cfg.ChatModel.Generate(ctx, msgs)
	})
	if err != nil {
		if !fault.Retryable(err) && ctx.Err() == nil {
			err = fmt.Errorf("%w: %w", err, fault.ErrUpstreamUnavailable)
		}
		return "", fmt.Errorf("agent: %w", err)
	}
	out := strings.TrimSpace(msg.Content)
	if out == "" {
		return "", fmt.Errorf("agent: %s returned an empty reply: %w", name, fault.ErrUpstreamUnavailable)
	}
	return out, nil
}
