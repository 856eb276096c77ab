package llm

import (
	"context"
	"time"
)

// Role represents the role of the message sender (system, user, assistant).
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message represents a single message in the conversation.
type Message struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
	// Metadata carries model name, temperature, context documents used and
	// similar details about how the message was produced.
	Metadata map[string]any `json:"metadata,omitempty"`
}

// NewMessage creates a message stamped with the current time.
func NewMessage(role Role, content string, metadata map[string]any) Message {
	return Message{
		Role:      role,
		Content:   content,
		Timestamp: time.Now().UTC(),
		Metadata:  metadata,
	}
}

// Chunk is one fragment of a streamed response. A chunk with Err set is the
// last one sent on the channel.
type Chunk struct {
	Content string
	Err     error
}

// Provider defines the interface for an LLM provider.
type Provider interface {
	// Chat sends a list of messages to the LLM and returns the response.
	Chat(ctx context.Context, messages []Message) (*Message, error)
	// Stream sends a list of messages to the LLM and returns a channel of
	// response chunks. The channel is closed when the response is complete.
	Stream(ctx context.Context, messages []Message) (<-chan Chunk, error)
}

// Collect drains a stream into a single string.
func Collect(stream <-chan Chunk) (string, error) {
	var out []byte
	for c := range stream {
		if c.Err != nil {
			return string(out), c.Err
		}
		out = append(out, c.Content...)
	}
	return string(out), nil
}
