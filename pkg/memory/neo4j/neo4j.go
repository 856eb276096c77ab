package neo4j

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/barekit/ragchat/pkg/errdefs"
	"github.com/barekit/ragchat/pkg/llm"
	"github.com/barekit/ragchat/pkg/memory/consts"
)

type Neo4jMemory struct {
	driver neo4j.DriverWithContext
	dbName string
}

var (
	saveSessionQuery = fmt.Sprintf(`
		MERGE (s:%s {id: $sessionID})
		RETURN s
		`, consts.LabelSession)

	saveMessageQuery = fmt.Sprintf(`
		MATCH (s:%s {id: $sessionID})
		CREATE (m:%s {
			%s: $role,
			%s: $content,
			%s: $metadata,
			%s: $createdAt
		})
		CREATE (s)-[:%s]->(m)
		RETURN m
		`, consts.LabelSession, consts.LabelMessage,
		consts.ColRole, consts.ColContent, consts.ColMetadata, consts.ColCreatedAt,
		consts.RelHasMessage)

	loadQuery = fmt.Sprintf(`
		MATCH (s:%s {id: $sessionID})-[:%s]->(m:%s)
		RETURN m.%s, m.%s, m.%s, m.%s
		ORDER BY m.%s ASC, id(m) ASC
		`, consts.LabelSession, consts.RelHasMessage, consts.LabelMessage,
		consts.ColRole, consts.ColContent, consts.ColMetadata, consts.ColCreatedAt,
		consts.ColCreatedAt)

	deleteQuery = fmt.Sprintf(`
		MATCH (s:%s {id: $sessionID})
		OPTIONAL MATCH (s)-[:%s]->(m:%s)
		WITH s, collect(m) AS msgs
		FOREACH (x IN msgs | DETACH DELETE x)
		DETACH DELETE s
		RETURN 1 AS deleted
		`, consts.LabelSession, consts.RelHasMessage, consts.LabelMessage)
)

// New creates a new Neo4jMemory adapter.
func New(ctx context.Context, uri, username, password, dbName string) (*Neo4jMemory, error) {
	driver, err := neo4j.NewDriverWithContext(uri, neo4j.BasicAuth(username, password, ""))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errdefs.ErrStorage, err)
	}

	if err := driver.VerifyConnectivity(ctx); err != nil {
		_ = driver.Close(ctx)
		return nil, fmt.Errorf("%w: %w", errdefs.ErrStorage, err)
	}

	return &Neo4jMemory{
		driver: driver,
		dbName: dbName,
	}, nil
}

func (m *Neo4jMemory) Save(ctx context.Context, sessionID string, msg llm.Message) error {
	session := m.driver.NewSession(ctx, neo4j.SessionConfig{DatabaseName: m.dbName})
	defer session.Close(ctx)

	params, err := messageParams(sessionID, msg)
	if err != nil {
		return err
	}

	_, err = session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		if _, err := tx.Run(ctx, saveSessionQuery, map[string]any{"sessionID": sessionID}); err != nil {
			return nil, err
		}
		_, err := tx.Run(ctx, saveMessageQuery, params)
		return nil, err
	})
	if err != nil {
		return fmt.Errorf("%w: save message: %w", errdefs.ErrStorage, err)
	}
	return nil
}

// messageParams builds the query parameters for a message node. Metadata is
// stored as a JSON string since node properties cannot hold maps.
func messageParams(sessionID string, msg llm.Message) (map[string]any, error) {
	var metadataJSON string
	if len(msg.Metadata) > 0 {
		b, err := json.Marshal(msg.Metadata)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal metadata: %w", err)
		}
		metadataJSON = string(b)
	}

	created := msg.Timestamp
	if created.IsZero() {
		created = time.Now().UTC()
	}

	return map[string]any{
		"sessionID": sessionID,
		"role":      string(msg.Role),
		"content":   msg.Content,
		"metadata":  metadataJSON,
		"createdAt": created,
	}, nil
}

func (m *Neo4jMemory) Load(ctx context.Context, sessionID string) ([]llm.Message, error) {
	session := m.driver.NewSession(ctx, neo4j.SessionConfig{DatabaseName: m.dbName})
	defer session.Close(ctx)

	result, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		result, err := tx.Run(ctx, loadQuery, map[string]any{"sessionID": sessionID})
		if err != nil {
			return nil, err
		}

		messages := []llm.Message{}
		for result.Next(ctx) {
			record := result.Record()

			role, _ := record.Get("m." + consts.ColRole)
			content, _ := record.Get("m." + consts.ColContent)
			metadataStr, _ := record.Get("m." + consts.ColMetadata)
			createdAt, _ := record.Get("m." + consts.ColCreatedAt)

			msg, err := recordMessage(role, content, metadataStr, createdAt)
			if err != nil {
				return nil, err
			}
			messages = append(messages, msg)
		}

		return messages, result.Err()
	})

	if err != nil {
		return nil, fmt.Errorf("%w: load messages: %w", errdefs.ErrStorage, err)
	}

	return result.([]llm.Message), nil
}

func recordMessage(role, content, metadataStr, createdAt any) (llm.Message, error) {
	msg := llm.Message{}
	if s, ok := role.(string); ok {
		msg.Role = llm.Role(s)
	}
	if s, ok := content.(string); ok {
		msg.Content = s
	}
	if ts, ok := createdAt.(time.Time); ok {
		msg.Timestamp = ts
	}
	if s, ok := metadataStr.(string); ok && s != "" {
		if err := json.Unmarshal([]byte(s), &msg.Metadata); err != nil {
			return msg, fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
	}
	return msg, nil
}

func (m *Neo4jMemory) Delete(ctx context.Context, sessionID string) (bool, error) {
	session := m.driver.NewSession(ctx, neo4j.SessionConfig{DatabaseName: m.dbName})
	defer session.Close(ctx)

	deleted, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		result, err := tx.Run(ctx, deleteQuery, map[string]any{"sessionID": sessionID})
		if err != nil {
			return false, err
		}
		// No row means the session node did not exist.
		if !result.Next(ctx) {
			return false, result.Err()
		}
		return true, nil
	})
	if err != nil {
		return false, fmt.Errorf("%w: delete session: %w", errdefs.ErrStorage, err)
	}
	return deleted.(bool), nil
}

func (m *Neo4jMemory) Close(ctx context.Context) error {
	return m.driver.Close(ctx)
}
