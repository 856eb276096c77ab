package chat

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/barekit/ragchat/pkg/errdefs"
)

func TestFormatPrompt_Substitutes(t *testing.T) {
	p := NewPromptManager(nil)

	out, err := p.FormatPrompt(TemplateDefault, map[string]string{
		VarQuery:       "Wie schnell?",
		VarContext:     "Dokument 1",
		VarChatHistory: "User: hallo",
	})
	require.NoError(t, err)
	assert.Contains(t, out, "Benutzeranfrage: Wie schnell?")
	assert.Contains(t, out, "Dokument 1")
	assert.Contains(t, out, "User: hallo")
	assert.NotContains(t, out, "{query}")
}

func TestFormatPrompt_DoesNotRescanValues(t *testing.T) {
	p := NewPromptManager(nil)
	require.NoError(t, p.AddTemplate("echo", "Q: {query}"))

	out, err := p.FormatPrompt("echo", map[string]string{VarQuery: "{context}"})
	require.NoError(t, err)
	assert.Equal(t, "Q: {context}", out)
}

func TestFormatPrompt_Errors(t *testing.T) {
	p := NewPromptManager(nil)

	_, err := p.FormatPrompt("missing", nil)
	assert.ErrorIs(t, err, errdefs.ErrNotFound)

	_, err = p.FormatPrompt(TemplateDocumentAnalysis, map[string]string{VarQuery: "q"})
	assert.ErrorIs(t, err, errdefs.ErrValidation)
	assert.Contains(t, err.Error(), "context")
}

func TestPromptManager_Registry(t *testing.T) {
	p := NewPromptManager(map[string]string{
		"short":         "{query}",
		TemplateDefault: "ignored",
	})

	assert.Equal(t, []string{TemplateDefault, TemplateDocumentAnalysis, "short", TemplateTechnical}, p.Names())

	def, ok := p.GetTemplate(TemplateDefault)
	require.True(t, ok)
	assert.NotEqual(t, "ignored", def)

	_, err := p.RemoveTemplate(TemplateDefault)
	assert.ErrorIs(t, err, errdefs.ErrValidation)

	removed, err := p.RemoveTemplate("short")
	require.NoError(t, err)
	assert.True(t, removed)

	removed, err = p.RemoveTemplate("short")
	require.NoError(t, err)
	assert.False(t, removed)

	assert.ErrorIs(t, p.AddTemplate("blank", "  "), errdefs.ErrValidation)
}
