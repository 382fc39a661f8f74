// Package llmtest provides a scripted chat model for tests.
package llmtest

import (
	"context"
	"sync"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

// ReplyFunc produces the reply for one call.
type ReplyFunc func(ctx context.Context, msgs []*schema.Message) (string, error)

// Model is a model.BaseChatModel whose replies come from a ReplyFunc. It
// records every prompt it receives and is safe for concurrent use.
type Model struct {
	reply ReplyFunc

	mu    sync.Mutex
	calls [][]*schema.Message
}

var _ model.BaseChatModel = (*Model)(nil)

// New returns a Model answering with fn.
func New(fn ReplyFunc) *Model {
	return &Model{reply: fn}
}

// Fixed returns a Model that always answers text.
func Fixed(text string) *Model {
	return New(func(context.Context, []*schema.Message) (string, error) { return text, nil })
}

// Failing returns a Model whose every call fails with err.
func Failing(err error) *Model {
	return New(func(context.Context, []*schema.Message) (string, error) { return "", err })
}

// Blocking returns a Model that waits for ctx to end and returns its error.
func Blocking() *Model {
	return New(func(ctx context.Context, _ []*schema.Message) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	})
}

// Generate implements model.BaseChatModel.
func (m *Model) Generate(ctx context.Context, input []*schema.Message, _ ...model.Option) (*schema.Message, error) {
	m.mu.Lock()
	m.calls = append(m.calls, input)
	m.mu.Unlock()

	text, err := m.reply(ctx, input)
	if err != nil {
		return nil, err
	}
	return schema.AssistantMessage(text, nil), nil
}

// Stream implements model.BaseChatModel with a single-message stream.
func (m *Model) Stream(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	msg, err := m.Generate(ctx, input, opts...)
	if err != nil {
		return nil, err
	}
	return schema.StreamReaderFromArray([]*schema.Message{msg}), nil
}

// Calls returns the number of Generate calls so far.
func (m *Model) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

// Prompt returns the messages of call i.
func (m *Model) Prompt(i int) []*schema.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[i]
}

// LastUser returns the content of the last user message of call i.
func (m *Model) LastUser(i int) string {
	msgs := m.Prompt(i)
	for j := len(msgs) - 1; j >= 0; j-- {
		if msgs[j].Role == schema.User {
			return msgs[j].Content
		}
	}
	return ""
}
