package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/barekit/ragchat/pkg/errdefs"
	"github.com/barekit/ragchat/pkg/llm"
	"github.com/barekit/ragchat/pkg/memory/consts"
)

// RedisMemory implements Memory using Redis.
type RedisMemory struct {
	client *redis.Client
}

// New creates a new RedisMemory.
func New(client *redis.Client) *RedisMemory {
	return &RedisMemory{client: client}
}

// Key returns the list key holding a session's transcript.
func Key(sessionID string) string {
	return consts.KeyPrefixSession + sessionID
}

// Save saves a message to Redis.
// Messages are stored as a JSON list under Key(sessionID).
func (m *RedisMemory) Save(ctx context.Context, sessionID string, msg llm.Message) error {
	b, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	if err := m.client.RPush(ctx, Key(sessionID), b).Err(); err != nil {
		return fmt.Errorf("%w: rpush: %w", errdefs.ErrStorage, err)
	}
	return nil
}

// Load loads messages from Redis.
func (m *RedisMemory) Load(ctx context.Context, sessionID string) ([]llm.Message, error) {
	result, err := m.client.LRange(ctx, Key(sessionID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: lrange: %w", errdefs.ErrStorage, err)
	}
	return Decode(result)
}

// Decode parses stored list items.
func Decode(items []string) ([]llm.Message, error) {
	messages := make([]llm.Message, len(items))
	for i, item := range items {
		var msg llm.Message
		if err := json.Unmarshal([]byte(item), &msg); err != nil {
			return nil, fmt.Errorf("%w: failed to unmarshal message at index %d: %w", errdefs.ErrStorage, i, err)
		}
		messages[i] = msg
	}
	return messages, nil
}

// Delete removes the session's list.
func (m *RedisMemory) Delete(ctx context.Context, sessionID string) (bool, error) {
	n, err := m.client.Del(ctx, Key(sessionID)).Result()
	if err != nil {
		return false, fmt.Errorf("%w: del: %w", errdefs.ErrStorage, err)
	}
	return n > 0, nil
}

func (m *RedisMemory) Close(context.Context) error {
	return m.client.Close()
}
