package client

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/leofalp/webchat/providers/ai"
	"github.com/leofalp/webchat/providers/observability"
)

// Client keeps the history and the conversation pointer of one chat and
// sends every turn through the middleware chain.
type Client struct {
	provider     ai.Provider
	model        string
	systemPrompt string
	observer     observability.Provider
	middlewares  []MiddlewareConfig

	send   SendFunc
	stream StreamFunc

	mu           sync.Mutex
	messages     []ai.Message
	conversation *ai.Conversation
}

// Option configures a Client.
type Option func(*Client)

// WithModel sets the model, or alias, sent with every request.
func WithModel(model string) Option {
	return func(c *Client) { c.model = model }
}

// WithSystemPrompt prepends a system message to the history.
func WithSystemPrompt(prompt string) Option {
	return func(c *Client) { c.systemPrompt = prompt }
}

// WithMiddleware appends middlewares to the chain, first entry outermost.
func WithMiddleware(middlewares ...MiddlewareConfig) Option {
	return func(c *Client) { c.middlewares = append(c.middlewares, middlewares...) }
}

// WithObserver installs the observability middleware as the outermost
// wrapper and exposes the observer to providers through the context.
func WithObserver(observer observability.Provider) Option {
	return func(c *Client) { c.observer = observer }
}

// New creates a client for provider.
func New(provider ai.Provider, opts ...Option) (*Client, error) {
	if provider == nil {
		return nil, errors.New("client: provider is nil")
	}

	c := &Client{provider: provider}
	for _, opt := range opts {
		opt(c)
	}
	for i, middleware := range c.middlewares {
		if middleware.Send == nil {
			return nil, fmt.Errorf("client: middleware %d has no Send function", i)
		}
	}

	middlewares := c.middlewares
	if c.observer != nil {
		middlewares = append([]MiddlewareConfig{NewObservabilityMiddleware(c.observer, c.model)}, middlewares...)
	}
	c.send = buildSendChain(provider, middlewares)
	c.stream = buildStreamChain(provider, middlewares)

	if c.systemPrompt != "" {
		c.messages = []ai.Message{{Role: ai.RoleSystem, Content: c.systemPrompt}}
	}
	return c, nil
}

// Provider returns the wrapped provider.
func (c *Client) Provider() ai.Provider { return c.provider }

// Messages returns a copy of the committed history.
func (c *Client) Messages() []ai.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.messages)
}

// Conversation returns the conversation reached by the last turn, or nil.
func (c *Client) Conversation() *ai.Conversation {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conversation == nil {
		return nil
	}
	return c.conversation.Clone()
}

// Reset drops the history, keeping the system prompt, and starts a new
// conversation.
func (c *Client) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = c.messages[:0]
	if c.systemPrompt != "" {
		c.messages = append(c.messages, ai.Message{Role: ai.RoleSystem, Content: c.systemPrompt})
	}
	c.conversation = nil
}

func (c *Client) request(action ai.Action, user *ai.Message, images []ai.ImageInput) ai.ChatRequest {
	c.mu.Lock()
	defer c.mu.Unlock()

	messages := slices.Clone(c.messages)
	if user != nil {
		messages = append(messages, *user)
	}
	request := ai.ChatRequest{
		Model:    c.model,
		Messages: messages,
		Images:   images,
		Action:   action,
	}
	if c.conversation != nil {
		request.Conversation = c.conversation.Clone()
	}
	return request
}

// commit records a finished turn. A continuation extends the last assistant
// message instead of adding one.
func (c *Client) commit(action ai.Action, user *ai.Message, content string, conversation *ai.Conversation) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if user != nil {
		c.messages = append(c.messages, *user)
	}
	last := len(c.messages) - 1
	if action == ai.ActionContinue && last >= 0 && c.messages[last].Role == ai.RoleAssistant {
		c.messages[last].Content += content
	} else {
		c.messages = append(c.messages, ai.Message{Role: ai.RoleAssistant, Content: content})
	}
	if conversation != nil {
		c.conversation = conversation.Clone()
	}
}

// SendMessage sends content as the next user message. The history is only
// updated when the turn succeeds.
func (c *Client) SendMessage(ctx context.Context, content string, images ...ai.ImageInput) (*ai.ChatResponse, error) {
	user := &ai.Message{Role: ai.RoleUser, Content: content}
	return c.do(ctx, ai.ActionNext, user, images)
}

// Continue asks the backend to continue its last, truncated, answer.
func (c *Client) Continue(ctx context.Context) (*ai.ChatResponse, error) {
	return c.do(ctx, ai.ActionContinue, nil, nil)
}

func (c *Client) do(ctx context.Context, action ai.Action, user *ai.Message, images []ai.ImageInput) (*ai.ChatResponse, error) {
	response, err := c.send(ctx, c.request(action, user, images))
	if err != nil {
		return response, err
	}
	c.commit(action, user, response.Content, response.Conversation)
	return response, nil
}

// StreamMessage is the streaming form of SendMessage. The history is updated
// when the done event is reached.
func (c *Client) StreamMessage(ctx context.Context, content string, images ...ai.ImageInput) (*ai.ChatStream, error) {
	user := &ai.Message{Role: ai.RoleUser, Content: content}
	stream, err := c.stream(ctx, c.request(ai.ActionNext, user, images))
	if err != nil {
		return nil, err
	}

	return ai.NewChatStream(func(yield func(ai.StreamEvent, error) bool) {
		var content strings.Builder
		var conversation *ai.Conversation
		for event, err := range stream.Iter() {
			if Fatal(err) {
				yield(event, err)
				return
			}
			if err == nil {
				switch event.Type {
				case ai.StreamEventContent:
					content.WriteString(event.Content)
				case ai.StreamEventConversation:
					conversation = event.Conversation
				case ai.StreamEventDone:
					if event.Conversation != nil {
						conversation = event.Conversation
					}
					c.commit(ai.ActionNext, user, content.String(), conversation)
				}
			}
			if !yield(event, err) {
				return
			}
		}
	}), nil
}
