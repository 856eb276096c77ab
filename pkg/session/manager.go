package session

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/barekit/ragchat/pkg/errdefs"
	"github.com/barekit/ragchat/pkg/llm"
	"github.com/barekit/ragchat/pkg/memory"
)

const (
	DefaultSystemPrompt = "You are a helpful vehicle expert assistant."

	// MessageTypeKey marks the system prompt message in its metadata.
	MessageTypeKey    = "type"
	MessageTypeSystem = "system_prompt"
)

// Manager owns the sessions of a process. With a memory mirror every message
// is also persisted and unknown sessions are loaded from it on access.
type Manager struct {
	mu           sync.RWMutex
	sessions     map[string]*Session
	systemPrompt string
	memory       memory.Memory
	now          func() time.Time
}

// Option configures a Manager.
type Option func(*Manager)

// WithSystemPrompt sets the prompt of the first message of new sessions.
func WithSystemPrompt(prompt string) Option {
	return func(m *Manager) {
		if prompt != "" {
			m.systemPrompt = prompt
		}
	}
}

// WithMemory mirrors transcripts into mem.
func WithMemory(mem memory.Memory) Option {
	return func(m *Manager) {
		m.memory = mem
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
	}
}

// NewManager creates a Manager.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		sessions:     make(map[string]*Session),
		systemPrompt: DefaultSystemPrompt,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// SystemPrompt returns the configured system prompt.
func (m *Manager) SystemPrompt() string {
	return m.systemPrompt
}

// CreateSession creates a session whose first message is the system prompt.
// An empty id is replaced by a random UUID. An existing id returns the
// existing session unchanged.
func (m *Manager) CreateSession(ctx context.Context, id string) (*Session, error) {
	if id == "" {
		id = uuid.NewString()
	}

	if s, err := m.GetSession(ctx, id); err != nil || s != nil {
		return s, err
	}

	m.mu.Lock()
	if s, ok := m.sessions[id]; ok {
		m.mu.Unlock()
		return s, nil
	}
	s := newSession(id, m.now)
	m.sessions[id] = s
	m.mu.Unlock()

	sys := llm.Message{
		Role:     llm.RoleSystem,
		Content:  m.systemPrompt,
		Metadata: map[string]any{MessageTypeKey: MessageTypeSystem},
	}
	if err := m.append(ctx, s, sys); err != nil {
		m.mu.Lock()
		delete(m.sessions, id)
		m.mu.Unlock()
		return nil, err
	}

	slog.Info("session created", "session_id", id)
	return s, nil
}

// GetSession returns the session or nil if it does not exist.
func (m *Manager) GetSession(ctx context.Context, id string) (*Session, error) {
	m.mu.RLock()
	s, ok := m.sessions[id]
	m.mu.RUnlock()
	if ok {
		return s, nil
	}
	if m.memory == nil {
		return nil, nil
	}

	msgs, err := m.memory.Load(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("%w: load session %s: %w", errdefs.ErrStorage, id, err)
	}
	if len(msgs) == 0 {
		return nil, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[id]; ok {
		return s, nil
	}
	s = newSession(id, m.now)
	s.CreatedAt = msgs[0].Timestamp
	s.messages = msgs
	s.updatedAt = msgs[len(msgs)-1].Timestamp
	m.sessions[id] = s
	slog.Debug("session restored", "session_id", id, "messages", len(msgs))
	return s, nil
}

// UpdateSessionMetadata merges md into the session metadata.
func (m *Manager) UpdateSessionMetadata(ctx context.Context, id string, md map[string]any) error {
	s, err := m.require(ctx, id)
	if err != nil {
		return err
	}
	s.UpdateMetadata(md)
	return nil
}

// DeleteSession removes the session and its mirrored transcript. It reports
// false when the session did not exist.
func (m *Manager) DeleteSession(ctx context.Context, id string) (bool, error) {
	m.mu.Lock()
	_, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()

	if m.memory != nil {
		stored, err := m.memory.Delete(ctx, id)
		if err != nil {
			return ok, fmt.Errorf("%w: delete session %s: %w", errdefs.ErrStorage, id, err)
		}
		ok = ok || stored
	}
	if ok {
		slog.Info("session deleted", "session_id", id)
	}
	return ok, nil
}

// AddMessage appends msg to session id. It fails with errdefs.ErrNotFound if
// the session does not exist.
func (m *Manager) AddMessage(ctx context.Context, id string, msg llm.Message) error {
	s, err := m.require(ctx, id)
	if err != nil {
		return err
	}
	return m.append(ctx, s, msg)
}

// GetContext returns the latest maxMessages messages of session id, or nil if the
// session does not exist.
func (m *Manager) GetContext(ctx context.Context, id string, maxMessages int, includeSystem bool) ([]llm.Message, error) {
	s, err := m.GetSession(ctx, id)
	if err != nil || s == nil {
		return nil, err
	}
	return s.Context(maxMessages, includeSystem), nil
}

// ListSessions returns the ids of the sessions held in memory, oldest first.
func (m *Manager) ListSessions() []string {
	m.mu.RLock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.RUnlock()

	sort.Slice(sessions, func(i, j int) bool {
		if !sessions[i].CreatedAt.Equal(sessions[j].CreatedAt) {
			return sessions[i].CreatedAt.Before(sessions[j].CreatedAt)
		}
		return sessions[i].ID < sessions[j].ID
	})
	ids := make([]string, len(sessions))
	for i, s := range sessions {
		ids[i] = s.ID
	}
	return ids
}

func (m *Manager) require(ctx context.Context, id string) (*Session, error) {
	s, err := m.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}
	if s == nil {
		return nil, fmt.Errorf("%w: session %s", errdefs.ErrNotFound, id)
	}
	return s, nil
}

func (m *Manager) append(ctx context.Context, s *Session, msg llm.Message) error {
	msg = s.AddMessage(msg)
	if m.memory == nil {
		return nil
	}
	if err := m.memory.Save(ctx, s.ID, msg); err != nil {
		return fmt.Errorf("%w: persist message for session %s: %w", errdefs.ErrStorage, s.ID, err)
	}
	return nil
}
