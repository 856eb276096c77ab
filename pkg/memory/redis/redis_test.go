package redis

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/barekit/ragchat/pkg/errdefs"
	"github.com/barekit/ragchat/pkg/llm"
)

func TestKey(t *testing.T) {
	assert.Equal(t, "ragchat:session:abc", Key("abc"))
}

func TestDecode(t *testing.T) {
	ts := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	b, err := json.Marshal(llm.Message{
		Role:      llm.RoleAssistant,
		Content:   "Antwort",
		Timestamp: ts,
		Metadata:  map[string]any{"model": "gpt-4o", "context_docs": 2},
	})
	require.NoError(t, err)

	msgs, err := Decode([]string{string(b)})
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, llm.RoleAssistant, msgs[0].Role)
	assert.True(t, ts.Equal(msgs[0].Timestamp))
	assert.Equal(t, "gpt-4o", msgs[0].Metadata["model"])
	assert.Equal(t, float64(2), msgs[0].Metadata["context_docs"])

	_, err = Decode([]string{"{broken"})
	assert.ErrorIs(t, err, errdefs.ErrStorage)
}
