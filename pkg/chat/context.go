package chat

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/barekit/ragchat/pkg/document"
	"github.com/barekit/ragchat/pkg/llm"
	"github.com/barekit/ragchat/pkg/session"
)

const (
	DefaultMaxContextLength   = 2048
	DefaultMaxHistoryMessages = 10

	// NoHistory stands in for an empty chat history.
	NoHistory   = "Keine vorherigen Nachrichten."
	unknownType = "unbekannt"
)

// CombinedContext is the rendered input for a prompt template.
type CombinedContext struct {
	Documents   string
	ChatHistory string
	Timestamp   time.Time
}

// ContextManager renders documents and chat history into bounded strings.
type ContextManager struct {
	maxContextLength   int
	maxHistoryMessages int
	now                func() time.Time
}

// NewContextManager creates a ContextManager. Non-positive limits fall back
// to the defaults.
func NewContextManager(maxContextLength, maxHistoryMessages int) *ContextManager {
	if maxContextLength <= 0 {
		maxContextLength = DefaultMaxContextLength
	}
	if maxHistoryMessages <= 0 {
		maxHistoryMessages = DefaultMaxHistoryMessages
	}
	return &ContextManager{
		maxContextLength:   maxContextLength,
		maxHistoryMessages: maxHistoryMessages,
		now:                time.Now,
	}
}

// PrepareDocumentContext renders docs in the given order. Documents are added
// whole until the next one would push the result past the maximum context
// length; that one and all following are left out. Documents keep their
// retrieval order and query is only logged.
func (c *ContextManager) PrepareDocumentContext(docs []*document.Document, query string) string {
	if len(docs) == 0 {
		return ""
	}

	parts := make([]string, 0, len(docs))
	total := 0
	for i, doc := range docs {
		text := fmt.Sprintf("Dokument %d (%s):\n%s\n", i+1, typeLabel(doc), doc.Content)
		n := utf8.RuneCountInString(text)
		if len(parts) > 0 {
			n++ // separator
		}
		if total+n > c.maxContextLength {
			slog.Debug("context length limit reached", "used_documents", i, "total_documents", len(docs))
			break
		}
		parts = append(parts, text)
		total += n
	}

	out := strings.Join(parts, "\n")
	slog.Debug("document context prepared", "documents", len(parts), "context_length", len(out), "query_length", len(query))
	return out
}

func typeLabel(doc *document.Document) string {
	if doc.Type == "" {
		return unknownType
	}
	return string(doc.Type)
}

// FormatChatHistory renders the latest non-system messages as "Role: text"
// lines. With includeMetadata each line carries its message metadata.
func (c *ContextManager) FormatChatHistory(messages []llm.Message, includeMetadata bool) string {
	filtered := make([]llm.Message, 0, len(messages))
	for _, m := range messages {
		if m.Role != llm.RoleSystem {
			filtered = append(filtered, m)
		}
	}
	if len(filtered) > c.maxHistoryMessages {
		filtered = filtered[len(filtered)-c.maxHistoryMessages:]
	}
	if len(filtered) == 0 {
		return NoHistory
	}

	lines := make([]string, len(filtered))
	for i, m := range filtered {
		line := capitalize(string(m.Role)) + ": " + m.Content
		if includeMetadata {
			if meta := formatMetadata(m.Metadata); meta != "" {
				line += " [" + meta + "]"
			}
		}
		lines[i] = line
	}
	return strings.Join(lines, "\n")
}

func formatMetadata(md map[string]any) string {
	keys := make([]string, 0, len(md))
	for k := range md {
		if k != session.MessageTypeKey {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s: %v", k, md[k])
	}
	return strings.Join(parts, ", ")
}

func capitalize(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return s
	}
	return string(unicode.ToUpper(r)) + s[size:]
}

// PrepareCombinedContext renders both the documents and the history.
func (c *ContextManager) PrepareCombinedContext(query string, docs []*document.Document, messages []llm.Message, includeMetadata bool) CombinedContext {
	return CombinedContext{
		Documents:   c.PrepareDocumentContext(docs, query),
		ChatHistory: c.FormatChatHistory(messages, includeMetadata),
		Timestamp:   c.now().UTC(),
	}
}
