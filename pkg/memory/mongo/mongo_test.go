package mongo

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/barekit/ragchat/pkg/llm"
)

func TestMessageDoc_BSONRoundTrip(t *testing.T) {
	ts := time.Date(2024, 3, 2, 8, 30, 0, 0, time.UTC)
	msg := llm.Message{Role: llm.RoleUser, Content: "Frage", Timestamp: ts, Metadata: map[string]any{"source": "cli"}}

	raw, err := bson.Marshal(ToDoc("s1", msg))
	require.NoError(t, err)

	var doc MessageDoc
	require.NoError(t, bson.Unmarshal(raw, &doc))
	assert.Equal(t, "s1", doc.SessionID)

	got := doc.Message()
	assert.Equal(t, llm.RoleUser, got.Role)
	assert.Equal(t, "Frage", got.Content)
	assert.True(t, ts.Equal(got.Timestamp))
	assert.Equal(t, "cli", got.Metadata["source"])
}

func TestToDoc_StampsMissingTimestamp(t *testing.T) {
	doc := ToDoc("s1", llm.Message{Role: llm.RoleUser, Content: "x"})
	assert.False(t, doc.CreatedAt.IsZero())
	assert.Nil(t, doc.Metadata)
}
