package memory

import (
	"context"

	"github.com/barekit/ragchat/pkg/llm"
)

// Memory persists chat transcripts by session id.
type Memory interface {
	// Save appends a message to the transcript of a session.
	Save(ctx context.Context, sessionID string, msg llm.Message) error
	// Load returns the transcript of a session in the order it was saved.
	// An unknown session yields an empty transcript.
	Load(ctx context.Context, sessionID string) ([]llm.Message, error)
	// Delete removes a session's transcript and reports whether it existed.
	Delete(ctx context.Context, sessionID string) (bool, error)
	// Close releases the underlying connection.
	Close(ctx context.Context) error
}
