// Package chat assembles retrieval context and conversation history into a
// prompt and streams the model's answer back into the session.
package chat

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/barekit/ragchat/pkg/document"
	"github.com/barekit/ragchat/pkg/errdefs"
	"github.com/barekit/ragchat/pkg/llm"
	"github.com/barekit/ragchat/pkg/session"
	"github.com/barekit/ragchat/pkg/vectorstore"
)

const (
	DefaultMaxContextMessages = 10
	DefaultRetrieveLimit      = 3

	// Keys of the assistant message metadata.
	KeyModel        = "model"
	KeyTemperature  = "temperature"
	KeyResponseTime = "response_time"
)

// Retriever is the part of the retrieval service the chat needs.
type Retriever interface {
	GetDocument(ctx context.Context, id string) (*document.Document, error)
	SearchDocuments(ctx context.Context, query string, limit int, filter vectorstore.Filter) ([]*document.Document, error)
}

// ModelInfo is implemented by providers that can report their settings.
type ModelInfo interface {
	Model() string
	Temperature() float64
}

// Service runs chat turns.
type Service struct {
	llm       llm.Provider
	retriever Retriever
	sessions  *session.Manager
	contexts  *ContextManager
	prompts   *PromptManager

	template           string
	maxContextMessages int
	autoRetrieve       bool
	retrieveLimit      int
	now                func() time.Time
	debug              bool
}

// Option configures a Service.
type Option func(*Service)

// WithContextManager replaces the default ContextManager.
func WithContextManager(c *ContextManager) Option {
	return func(s *Service) {
		s.contexts = c
	}
}

// WithPromptManager replaces the default PromptManager.
func WithPromptManager(p *PromptManager) Option {
	return func(s *Service) {
		s.prompts = p
	}
}

// WithTemplate selects the prompt template used for every turn.
func WithTemplate(name string) Option {
	return func(s *Service) {
		if name != "" {
			s.template = name
		}
	}
}

// WithMaxContextMessages bounds how many session messages feed the history.
func WithMaxContextMessages(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxContextMessages = n
		}
	}
}

// WithAutoRetrieve searches the store for context when a session has no
// context documents yet.
func WithAutoRetrieve(enabled bool, limit int) Option {
	return func(s *Service) {
		s.autoRetrieve = enabled
		if limit > 0 {
			s.retrieveLimit = limit
		}
	}
}

// WithClock overrides the time source used for response timing.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// WithDebug enables per-step logging.
func WithDebug(debug bool) Option {
	return func(s *Service) {
		s.debug = debug
	}
}

// NewService creates a chat Service.
func NewService(provider llm.Provider, retriever Retriever, sessions *session.Manager, opts ...Option) *Service {
	s := &Service{
		llm:                provider,
		retriever:          retriever,
		sessions:           sessions,
		contexts:           NewContextManager(DefaultMaxContextLength, DefaultMaxHistoryMessages),
		prompts:            NewPromptManager(nil),
		template:           TemplateDefault,
		maxContextMessages: DefaultMaxContextMessages,
		retrieveLimit:      DefaultRetrieveLimit,
		now:                time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Prompts returns the template registry.
func (s *Service) Prompts() *PromptManager {
	return s.prompts
}

// GetResponse runs one turn. The user message is recorded, context documents
// are resolved (contextDocs, else the session's context documents, else a
// fresh search when auto retrieval is on), and the rendered prompt is
// streamed to the model. Chunks are forwarded as they arrive. When the
// stream ends the full answer is appended to the session; a failure after
// streaming started is delivered as a final Chunk with Err set. Cancel ctx to
// abandon the stream.
func (s *Service) GetResponse(ctx context.Context, query, sessionID string, contextDocs []*document.Document) (<-chan llm.Chunk, error) {
	start := s.now()
	if s.debug {
		slog.Info("chat turn started", "session_id", sessionID, "query_length", len(query))
	}

	sess, err := s.sessions.GetSession(ctx, sessionID)
	if err == nil && sess == nil {
		sess, err = s.sessions.CreateSession(ctx, sessionID)
	}
	if err != nil {
		return nil, s.fail(sessionID, query, err)
	}
	sessionID = sess.ID

	if err := s.sessions.AddMessage(ctx, sessionID, llm.NewMessage(llm.RoleUser, query, nil)); err != nil {
		return nil, s.fail(sessionID, query, err)
	}

	docs, err := s.resolveDocuments(ctx, sess, query, contextDocs)
	if err != nil {
		return nil, s.fail(sessionID, query, err)
	}

	combined := s.contexts.PrepareCombinedContext(query, docs, sess.Context(s.maxContextMessages, true), false)
	prompt, err := s.prompts.FormatPrompt(s.template, map[string]string{
		VarQuery:       query,
		VarContext:     combined.Documents,
		VarChatHistory: combined.ChatHistory,
	})
	if err != nil {
		return nil, s.fail(sessionID, query, err)
	}
	if s.debug {
		slog.Info("prompt prepared", "session_id", sessionID, "documents", len(docs), "prompt_length", len(prompt))
	}

	stream, err := s.llm.Stream(ctx, []llm.Message{llm.NewMessage(llm.RoleSystem, prompt, nil)})
	if err != nil {
		return nil, s.fail(sessionID, query, fmt.Errorf("%w: %w", errdefs.ErrProvider, err))
	}

	out := make(chan llm.Chunk)
	go func() {
		defer close(out)

		var full strings.Builder
		for chunk := range stream {
			if chunk.Err != nil {
				send(ctx, out, llm.Chunk{Err: s.fail(sessionID, query, fmt.Errorf("%w: %w", errdefs.ErrProvider, chunk.Err))})
				return
			}
			full.WriteString(chunk.Content)
			if !send(ctx, out, chunk) {
				return
			}
		}
		if err := ctx.Err(); err != nil {
			return
		}

		md := map[string]any{
			session.KeyContextDocuments: documentIDs(docs),
			KeyResponseTime:             s.now().Sub(start).Seconds(),
		}
		if info, ok := s.llm.(ModelInfo); ok {
			md[KeyModel] = info.Model()
			md[KeyTemperature] = info.Temperature()
		}
		answer := llm.NewMessage(llm.RoleAssistant, full.String(), md)
		if err := s.sessions.AddMessage(ctx, sessionID, answer); err != nil {
			send(ctx, out, llm.Chunk{Err: s.fail(sessionID, query, err)})
			return
		}

		if s.debug {
			slog.Info("chat turn completed", "session_id", sessionID, "response_length", full.Len(), "duration", s.now().Sub(start))
		}
	}()

	return out, nil
}

func (s *Service) resolveDocuments(ctx context.Context, sess *session.Session, query string, supplied []*document.Document) ([]*document.Document, error) {
	if len(supplied) > 0 {
		return supplied, nil
	}

	if ids := sess.ContextDocuments(); len(ids) > 0 {
		docs := make([]*document.Document, 0, len(ids))
		for _, id := range ids {
			doc, err := s.retriever.GetDocument(ctx, id)
			if err != nil {
				return nil, err
			}
			if doc == nil {
				slog.Warn("context document not found", "session_id", sess.ID, "document_id", id)
				continue
			}
			docs = append(docs, doc)
		}
		return docs, nil
	}

	if !s.autoRetrieve {
		return nil, nil
	}
	docs, err := s.retriever.SearchDocuments(ctx, query, s.retrieveLimit, nil)
	if err != nil {
		return nil, err
	}
	for _, id := range parentIDs(docs) {
		sess.AddContextDocument(id)
	}
	if s.debug {
		slog.Info("context documents retrieved", "session_id", sess.ID, "documents", len(docs))
	}
	return docs, nil
}

func (s *Service) fail(sessionID, query string, err error) error {
	slog.Error("chat turn failed", "session_id", sessionID, "query_length", len(query), "error", err)
	return fmt.Errorf("%w: session %s: %w", errdefs.ErrChat, sessionID, err)
}

func send(ctx context.Context, out chan<- llm.Chunk, c llm.Chunk) bool {
	select {
	case out <- c:
		return true
	case <-ctx.Done():
		return false
	}
}

func documentIDs(docs []*document.Document) []string {
	ids := make([]string, len(docs))
	for i, d := range docs {
		ids[i] = d.ID
	}
	return ids
}

// parentIDs maps search hits, which are chunks, to the distinct ids of their
// documents in first-seen order.
func parentIDs(docs []*document.Document) []string {
	seen := make(map[string]bool, len(docs))
	var ids []string
	for _, d := range docs {
		id := d.ID
		if d.OriginalDocID != "" {
			id = d.OriginalDocID
		}
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	return ids
}

// CreateSession creates a session and merges md into its metadata.
func (s *Service) CreateSession(ctx context.Context, id string, md map[string]any) (*session.Session, error) {
	sess, err := s.sessions.CreateSession(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("%w: create session: %w", errdefs.ErrChat, err)
	}
	if len(md) > 0 {
		sess.UpdateMetadata(md)
	}
	return sess, nil
}

// GetSession returns the session or nil if it does not exist.
func (s *Service) GetSession(ctx context.Context, id string) (*session.Session, error) {
	return s.sessions.GetSession(ctx, id)
}

// UpdateSessionMetadata merges md into the session metadata.
func (s *Service) UpdateSessionMetadata(ctx context.Context, id string, md map[string]any) error {
	return s.sessions.UpdateSessionMetadata(ctx, id, md)
}

// DeleteSession removes a session and reports whether it existed.
func (s *Service) DeleteSession(ctx context.Context, id string) (bool, error) {
	return s.sessions.DeleteSession(ctx, id)
}
