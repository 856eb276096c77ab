package chat

import (
	"fmt"
	"log/slog"
	"maps"
	"regexp"
	"slices"
	"strings"
	"sync"

	"github.com/barekit/ragchat/pkg/errdefs"
)

// Template names and the variables they reference.
const (
	TemplateDefault          = "default"
	TemplateDocumentAnalysis = "document_analysis"
	TemplateTechnical        = "technical"

	VarQuery       = "query"
	VarContext     = "context"
	VarChatHistory = "chat_history"
)

var placeholderPattern = regexp.MustCompile(`\{([a-zA-Z_][a-zA-Z0-9_]*)\}`)

var defaultTemplates = map[string]string{
	TemplateDefault: `Du bist ein Fahrzeug-Experten-Assistent.
Nutze den folgenden Kontext und Chat-Verlauf, um die Frage des Benutzers zu beantworten.
Wenn du die Antwort nicht weisst, sag es ehrlich und erfinde keine Informationen.

Kontext:
{context}

Chat-Verlauf:
{chat_history}

Benutzeranfrage: {query}

Antworte in der gleichen Sprache wie die Anfrage. Sei präzise aber gründlich.`,

	TemplateDocumentAnalysis: `Du bist ein Fahrzeug-Experten-Assistent, der sich auf die Analyse von Dokumenten spezialisiert.
Analysiere die folgenden Dokumente im Kontext der Benutzeranfrage.
Beziehe dich spezifisch auf die relevanten Abschnitte.

Dokumente:
{context}

Benutzeranfrage: {query}

Liefere eine strukturierte Analyse mit Verweisen auf die Quellen.`,

	TemplateTechnical: `Du bist ein technischer Fahrzeug-Experte.
Beantworte die folgende Frage mit Fokus auf technische Details und Spezifikationen.
Nutze den bereitgestellten Kontext und ergänze ihn mit deinem Fachwissen.

Kontext:
{context}

Chat-Verlauf:
{chat_history}

Technische Anfrage: {query}

Liefere eine detaillierte technische Erklärung.`,
}

// PromptManager is a registry of named templates with {name} placeholders.
type PromptManager struct {
	mu        sync.RWMutex
	templates map[string]string
}

// NewPromptManager creates a PromptManager holding the built-in templates
// plus extra, which may override all but the default template.
func NewPromptManager(extra map[string]string) *PromptManager {
	p := &PromptManager{templates: maps.Clone(defaultTemplates)}
	for name, tmpl := range extra {
		if name == TemplateDefault {
			slog.Warn("ignoring override of the default template")
			continue
		}
		if err := p.AddTemplate(name, tmpl); err != nil {
			slog.Warn("ignoring invalid template", "template", name, "error", err)
		}
	}
	return p
}

// AddTemplate registers or replaces a template.
func (p *PromptManager) AddTemplate(name, tmpl string) error {
	if name == "" || strings.TrimSpace(tmpl) == "" {
		return fmt.Errorf("%w: template name and text must not be empty", errdefs.ErrValidation)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.templates[name] = tmpl
	slog.Debug("template added", "template", name)
	return nil
}

// RemoveTemplate deletes a template and reports whether it existed. The
// default template cannot be removed.
func (p *PromptManager) RemoveTemplate(name string) (bool, error) {
	if name == TemplateDefault {
		return false, fmt.Errorf("%w: the default template cannot be removed", errdefs.ErrValidation)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.templates[name]; !ok {
		return false, nil
	}
	delete(p.templates, name)
	return true, nil
}

// GetTemplate returns the template text and whether it exists.
func (p *PromptManager) GetTemplate(name string) (string, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	t, ok := p.templates[name]
	return t, ok
}

// Names returns the registered template names in sorted order.
func (p *PromptManager) Names() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return slices.Sorted(maps.Keys(p.templates))
}

// FormatPrompt substitutes every {name} placeholder of the template with
// vars[name]. Substituted text is not scanned again.
func (p *PromptManager) FormatPrompt(name string, vars map[string]string) (string, error) {
	tmpl, ok := p.GetTemplate(name)
	if !ok {
		return "", fmt.Errorf("%w: template %q", errdefs.ErrNotFound, name)
	}

	var missing []string
	out := placeholderPattern.ReplaceAllStringFunc(tmpl, func(ph string) string {
		key := ph[1 : len(ph)-1]
		v, ok := vars[key]
		if !ok {
			missing = append(missing, key)
			return ph
		}
		return v
	})
	if len(missing) > 0 {
		return "", fmt.Errorf("%w: template %q is missing variables %v", errdefs.ErrValidation, name, missing)
	}
	return out, nil
}
