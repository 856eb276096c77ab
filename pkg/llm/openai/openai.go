package openai

import (
	"context"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/barekit/ragchat/pkg/llm"
)

const (
	DefaultModel       = openai.ChatModelGPT4o
	DefaultTemperature = 0.7
)

var _ llm.Provider = (*Provider)(nil)

type Provider struct {
	client      *openai.Client
	model       string
	temperature float64
	maxTokens   int64
}

// Option configures a Provider.
type Option func(*Provider)

// WithModel sets the chat model.
func WithModel(model string) Option {
	return func(p *Provider) {
		if model != "" {
			p.model = model
		}
	}
}

// WithTemperature sets the sampling temperature.
func WithTemperature(t float64) Option {
	return func(p *Provider) {
		p.temperature = t
	}
}

// WithMaxTokens caps the completion length. Zero leaves it to the API.
func WithMaxTokens(n int64) Option {
	return func(p *Provider) {
		p.maxTokens = n
	}
}

func New(requestOpts []option.RequestOption, opts ...Option) *Provider {
	client := openai.NewClient(requestOpts...)
	p := &Provider{
		client:      &client,
		model:       DefaultModel, // Default to GPT-4o
		temperature: DefaultTemperature,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Model returns the configured model.
func (p *Provider) Model() string {
	return p.model
}

// Temperature returns the configured temperature.
func (p *Provider) Temperature() float64 {
	return p.temperature
}

func (p *Provider) params(messages []llm.Message) (openai.ChatCompletionNewParams, error) {
	openaiMessages, err := buildMessages(messages)
	if err != nil {
		return openai.ChatCompletionNewParams{}, err
	}
	params := openai.ChatCompletionNewParams{
		Messages:    openaiMessages,
		Model:       p.model,
		Temperature: openai.Float(p.temperature),
	}
	if p.maxTokens > 0 {
		params.MaxCompletionTokens = openai.Int(p.maxTokens)
	}
	return params, nil
}

func (p *Provider) Chat(ctx context.Context, messages []llm.Message) (*llm.Message, error) {
	params, err := p.params(messages)
	if err != nil {
		return nil, err
	}

	completion, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, err
	}
	if len(completion.Choices) == 0 {
		return nil, fmt.Errorf("completion returned no choices")
	}

	msg := llm.NewMessage(llm.RoleAssistant, completion.Choices[0].Message.Content, map[string]any{
		"model": completion.Model,
	})
	return &msg, nil
}

// Stream sends a list of messages to the LLM and returns a channel of response chunks.
// A failure reported by the stream is delivered as a final chunk with Err set.
func (p *Provider) Stream(ctx context.Context, messages []llm.Message) (<-chan llm.Chunk, error) {
	params, err := p.params(messages)
	if err != nil {
		return nil, err
	}

	stream := p.client.Chat.Completions.NewStreaming(ctx, params)

	out := make(chan llm.Chunk)
	go func() {
		defer close(out)
		defer stream.Close()

		send := func(c llm.Chunk) bool {
			select {
			case out <- c:
				return true
			case <-ctx.Done():
				return false
			}
		}

		for stream.Next() {
			chunk := stream.Current()
			if len(chunk.Choices) == 0 || chunk.Choices[0].Delta.Content == "" {
				continue
			}
			if !send(llm.Chunk{Content: chunk.Choices[0].Delta.Content}) {
				return
			}
		}
		if err := stream.Err(); err != nil {
			send(llm.Chunk{Err: err})
		}
	}()

	return out, nil
}

func buildMessages(messages []llm.Message) ([]openai.ChatCompletionMessageParamUnion, error) {
	openaiMessages := make([]openai.ChatCompletionMessageParamUnion, len(messages))
	for i, msg := range messages {
		switch msg.Role {
		case llm.RoleSystem:
			openaiMessages[i] = openai.SystemMessage(msg.Content)
		case llm.RoleUser:
			openaiMessages[i] = openai.UserMessage(msg.Content)
		case llm.RoleAssistant:
			openaiMessages[i] = openai.AssistantMessage(msg.Content)
		default:
			return nil, fmt.Errorf("unknown role: %s", msg.Role)
		}
	}
	return openaiMessages, nil
}
