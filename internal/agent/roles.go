package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/schema"

	"github.com/54b3r/routerag-go/internal/budget"
	"github.com/54b3r/routerag-go/internal/classifier"
	"github.com/54b3r/routerag-go/internal/fault"
	"github.com/54b3r/routerag-go/internal/rag"
	"github.com/54b3r/routerag-go/internal/weather"
)

const weatherPrompt = `You are a weather assistant. You receive a current weather report and the
user's question. Answer the question using only the report. Always name the
place and give the temperature in °C. Mention anything practical the
conditions imply (umbrella, sun protection, poor air quality). Keep it under
120 words.`

const ragPrompt = `You answer questions strictly from the numbered document excerpts provided.
Rules:
- Use only facts stated in the excerpts. Do not add outside knowledge.
- Cite excerpts inline as [1], [2] where you use them.
- If the excerpts do not contain the answer, reply exactly: ` + NoContextAnswer

const supervisorPrompt = `You are the final editor of an assistant's reply. You receive the user's
question and a specialist's draft answer. Return the reply the user should
see: fix tone and clarity, keep it concise, keep every fact, number, place
name and citation from the draft. Do not add any fact, number or claim that
is not in the draft. Return only the reply text.`

const failurePrompt = `You are the final editor of an assistant's reply. The specialist that should
have answered the user's question failed. Write a short, polite reply that
says the information could not be retrieved right now and suggests trying
again. Do not guess an answer.`

func (a *Agent) respondWeather(ctx context.Context, in Input) (string, error) {
	if in.Weather == nil {
		return "", fmt.Errorf("agent: weather agent needs a snapshot")
	}
	report := weather.Report(in.Weather)
	if a.cfg.ChatModel == nil {
		return report, nil
	}
	return a.generate(ctx, []*schema.Message{
		schema.SystemMessage(weatherPrompt),
		schema.UserMessage(fmt.Sprintf("Weather report:\n%s\n\nQuestion: %s", report, in.Query)),
	})
}

func (a *Agent) respondRAG(ctx context.Context, in Input) (string, error) {
	relevant := rag.AboveThreshold(in.Chunks, a.cfg.SimilarityThreshold)
	if len(relevant) == 0 {
		return NoContextAnswer, nil
	}
	if a.cfg.ChatModel == nil {
		return excerptAnswer(relevant), nil
	}

	fixed := []*schema.Message{
		schema.SystemMessage(ragPrompt),
		schema.UserMessage("Question: " + in.Query),
	}
	fitted := budget.FitChunks(fixed, relevant, a.cfg.MaxContextTokens)
	if len(fitted) == 0 {
		return excerptAnswer(relevant[:1]), nil
	}

	var sb strings.Builder
	sb.WriteString("Document excerpts:\n\n")
	for i, c := range fitted {
		fmt.Fprintf(&sb, "[%d] %s\n%s\n\n", i+1, sourceLabel(c.Chunk), c.Text)
	}
	fmt.Fprintf(&sb, "Question: %s", in.Query)

	return a.generate(ctx, []*schema.Message{
		schema.SystemMessage(ragPrompt),
		schema.UserMessage(sb.String()),
	})
}

func (a *Agent) respondSupervisor(ctx context.Context, in Input) (string, error) {
	if in.SpecialistErr != nil {
		if a.cfg.ChatModel == nil {
			return FailureAnswer(in), nil
		}
		reply, err := a.generate(ctx, []*schema.Message{
			schema.SystemMessage(failurePrompt),
			schema.UserMessage(fmt.Sprintf("Question: %s\nFailure: %s", in.Query, describeFailure(in.SpecialistErr))),
		})
		if err != nil {
			return "", err
		}
		return reply, nil
	}

	draft := in.SpecialistOutput
	if draft == NoContextAnswer || a.cfg.ChatModel == nil {
		return draft, nil
	}

	reply, err := a.generate(ctx, []*schema.Message{
		schema.SystemMessage(supervisorPrompt),
		schema.UserMessage(fmt.Sprintf("Question: %s\nBranch: %s\n\nDraft answer:\n%s", in.Query, in.Route.Branch, draft)),
	})
	if err != nil {
		return "", err
	}

	if in.Route.Branch == classifier.BranchRAG {
		if extra := Unsupported(reply, draft, in.Query); exceedsTolerance(extra, reply, a.cfg.GroundingTolerance) {
			return draft, nil
		}
	}
	return reply, nil
}

// Fallback assembles a deterministic answer from in when the model-backed
// path failed. It never fails and never returns an empty string.
func Fallback(in Input) string {
	switch {
	case in.SpecialistErr != nil:
		return FailureAnswer(in)
	case in.SpecialistOutput != "":
		return in.SpecialistOutput
	case in.Route.Branch == classifier.BranchWeather && in.Weather != nil:
		return weather.Report(in.Weather)
	case in.Route.Branch == classifier.BranchRAG:
		return NoContextAnswer
	default:
		return FailureAnswer(Input{Query: in.Query, Route: in.Route, SpecialistErr: fault.ErrUpstreamUnavailable})
	}
}

// FailureAnswer is the apology shown when the specialist could not answer.
func FailureAnswer(in Input) string {
	if in.Route.Branch == classifier.BranchWeather {
		place := in.Route.Location
		if in.Weather != nil {
			place = in.Weather.Location
		}
		if place == "" {
			place = "that location"
		}
		return fmt.Sprintf("Sorry, I couldn't get weather information for %s: %s. Please try again shortly.",
			place, describeFailure(in.SpecialistErr))
	}
	return fmt.Sprintf("Sorry, I couldn't answer from the uploaded documents: %s. Please try again shortly.",
		describeFailure(in.SpecialistErr))
}

// describeFailure turns an error into a phrase safe to show users.
func describeFailure(err error) string {
	switch {
	case errors.Is(err, fault.ErrLocationNotFound):
		return "the weather service does not recognise that place"
	case errors.Is(err, fault.ErrUpstreamTimeout):
		return "the service did not respond in time"
	case errors.Is(err, fault.ErrUpstreamUnavailable):
		return "the service is currently unavailable"
	case errors.Is(err, fault.ErrIndexUnavailable):
		return "the document index is currently unavailable"
	default:
		return "an unexpected error occurred"
	}
}

// excerptAnswer lists the relevant chunks as the answer when no model is
// available to phrase one.
func excerptAnswer(chunks []rag.ScoredChunk) string {
	var sb strings.Builder
	sb.WriteString("Here is what the uploaded documents say:\n")
	for i, c := range chunks {
		fmt.Fprintf(&sb, "\n[%d] %s (similarity %.2f)\n%s\n", i+1, sourceLabel(c.Chunk), c.Score, excerpt(c.Text, 400))
	}
	return strings.TrimRight(sb.String(), "\n")
}

func sourceLabel(c rag.Chunk) string {
	if c.Source == "" {
		return c.DocumentID
	}
	if sheet := c.Metadata["sheet"]; sheet != "" {
		return fmt.Sprintf("%s, sheet %s", c.Source, sheet)
	}
	if c.Page > 0 {
		return fmt.Sprintf("%s, page %d", c.Source, c.Page)
	}
	return c.Source
}

// excerpt shortens text to about limit runes, cutting at a word boundary.
func excerpt(text string, limit int) string {
	r := []rune(strings.TrimSpace(text))
	if len(r) <= limit {
		return string(r)
	}
	cut := limit
	for cut > limit/2 && r[cut] != ' ' {
		cut--
	}
	return strings.TrimSpace(string(r[:cut])) + " …"
}
