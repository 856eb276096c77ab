package inmemory

import (
	"context"
	"sync"

	"github.com/barekit/ragchat/pkg/llm"
)

// InMemory implements Memory using a map.
type InMemory struct {
	mu       sync.RWMutex
	messages map[string][]llm.Message
}

// New creates a new InMemory adapter.
func New() *InMemory {
	return &InMemory{
		messages: make(map[string][]llm.Message),
	}
}

// Save saves a message to the in-memory store.
func (m *InMemory) Save(_ context.Context, sessionID string, msg llm.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.messages[sessionID] = append(m.messages[sessionID], msg)
	return nil
}

// Load loads messages from the in-memory store.
func (m *InMemory) Load(_ context.Context, sessionID string) ([]llm.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	// Return a copy so callers can append without racing Save.
	msgs := m.messages[sessionID]
	result := make([]llm.Message, len(msgs))
	copy(result, msgs)

	return result, nil
}

// Delete drops a session's messages.
func (m *InMemory) Delete(_ context.Context, sessionID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, ok := m.messages[sessionID]
	delete(m.messages, sessionID)
	return ok, nil
}

func (m *InMemory) Close(context.Context) error { return nil }
