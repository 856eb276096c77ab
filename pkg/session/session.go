// Package session keeps per-conversation message history.
package session

import (
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/barekit/ragchat/pkg/llm"
)

// KeyContextDocuments is the session metadata key listing the ids of the
// documents relevant to the conversation.
const KeyContextDocuments = "context_documents"

// Session is one conversation. Its methods are safe for concurrent use.
type Session struct {
	ID        string
	CreatedAt time.Time

	mu        sync.RWMutex
	updatedAt time.Time
	messages  []llm.Message
	metadata  map[string]any
	now       func() time.Time
}

func newSession(id string, now func() time.Time) *Session {
	t := now().UTC()
	return &Session{
		ID:        id,
		CreatedAt: t,
		updatedAt: t,
		metadata:  map[string]any{KeyContextDocuments: []string{}},
		now:       now,
	}
}

// AddMessage appends msg, stamping its timestamp if unset.
func (s *Session) AddMessage(msg llm.Message) llm.Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	if msg.Timestamp.IsZero() {
		msg.Timestamp = s.now().UTC()
	}
	s.messages = append(s.messages, msg)
	s.updatedAt = s.now().UTC()
	return msg
}

// Messages returns a copy of the transcript.
func (s *Session) Messages() []llm.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.messages)
}

// Len returns the number of messages.
func (s *Session) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.messages)
}

// Context returns at most maxMessages of the latest messages, in order. System
// messages are skipped unless includeSystem is set. A non-positive maxMessages
// returns every message.
func (s *Session) Context(maxMessages int, includeSystem bool) []llm.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]llm.Message, 0, len(s.messages))
	for _, m := range s.messages {
		if m.Role == llm.RoleSystem && !includeSystem {
			continue
		}
		out = append(out, m)
	}
	if maxMessages > 0 && len(out) > maxMessages {
		out = out[len(out)-maxMessages:]
	}
	return out
}

// UpdatedAt returns the time of the last change.
func (s *Session) UpdatedAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.updatedAt
}

// Metadata returns a copy of the session metadata.
func (s *Session) Metadata() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	md := maps.Clone(s.metadata)
	if ids, ok := md[KeyContextDocuments].([]string); ok {
		md[KeyContextDocuments] = slices.Clone(ids)
	}
	return md
}

// UpdateMetadata merges md into the session metadata.
func (s *Session) UpdateMetadata(md map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	maps.Copy(s.metadata, md)
	s.updatedAt = s.now().UTC()
}

// ContextDocuments returns the ids of the documents attached to the
// conversation.
func (s *Session) ContextDocuments() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.contextDocuments()
}

func (s *Session) contextDocuments() []string {
	switch v := s.metadata[KeyContextDocuments].(type) {
	case []string:
		return slices.Clone(v)
	case []any:
		ids := make([]string, 0, len(v))
		for _, x := range v {
			if id, ok := x.(string); ok {
				ids = append(ids, id)
			}
		}
		return ids
	}
	return []string{}
}

// AddContextDocument attaches a document id if not yet present.
func (s *Session) AddContextDocument(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := s.contextDocuments()
	if slices.Contains(ids, id) {
		return
	}
	s.metadata[KeyContextDocuments] = append(ids, id)
	s.updatedAt = s.now().UTC()
}

// SetContextDocuments replaces the attached document ids.
func (s *Session) SetContextDocuments(ids []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metadata[KeyContextDocuments] = slices.Clone(ids)
	s.updatedAt = s.now().UTC()
}

// ClearContextDocuments detaches every document.
func (s *Session) ClearContextDocuments() {
	s.SetContextDocuments([]string{})
}
