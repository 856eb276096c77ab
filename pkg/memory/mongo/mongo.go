package mongo

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/barekit/ragchat/pkg/errdefs"
	"github.com/barekit/ragchat/pkg/llm"
	"github.com/barekit/ragchat/pkg/memory/consts"
)

type MongoMemory struct {
	client     *mongo.Client
	collection *mongo.Collection
}

type MessageDoc struct {
	SessionID string         `bson:"session_id"`
	Role      string         `bson:"role"`
	Content   string         `bson:"content"`
	Metadata  map[string]any `bson:"metadata,omitempty"`
	CreatedAt time.Time      `bson:"created_at"`
}

// New creates a new MongoMemory adapter.
func New(client *mongo.Client, dbName, collectionName string) *MongoMemory {
	return &MongoMemory{
		client:     client,
		collection: client.Database(dbName).Collection(collectionName),
	}
}

// ToDoc converts a message into its stored form.
func ToDoc(sessionID string, msg llm.Message) MessageDoc {
	created := msg.Timestamp
	if created.IsZero() {
		created = time.Now().UTC()
	}
	return MessageDoc{
		SessionID: sessionID,
		Role:      string(msg.Role),
		Content:   msg.Content,
		Metadata:  msg.Metadata,
		CreatedAt: created,
	}
}

// Message converts a stored document back into a message.
func (d MessageDoc) Message() llm.Message {
	return llm.Message{
		Role:      llm.Role(d.Role),
		Content:   d.Content,
		Timestamp: d.CreatedAt,
		Metadata:  d.Metadata,
	}
}

func (m *MongoMemory) Save(ctx context.Context, sessionID string, msg llm.Message) error {
	if _, err := m.collection.InsertOne(ctx, ToDoc(sessionID, msg)); err != nil {
		return fmt.Errorf("%w: insert message: %w", errdefs.ErrStorage, err)
	}
	return nil
}

func (m *MongoMemory) Load(ctx context.Context, sessionID string) ([]llm.Message, error) {
	filter := bson.M{consts.ColSessionID: sessionID}
	opts := options.Find().SetSort(bson.D{{Key: consts.ColCreatedAt, Value: 1}, {Key: "_id", Value: 1}})

	cursor, err := m.collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("%w: find messages: %w", errdefs.ErrStorage, err)
	}
	defer cursor.Close(ctx)

	messages := []llm.Message{}
	for cursor.Next(ctx) {
		var doc MessageDoc
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("%w: decode message: %w", errdefs.ErrStorage, err)
		}
		messages = append(messages, doc.Message())
	}

	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", errdefs.ErrStorage, err)
	}

	return messages, nil
}

func (m *MongoMemory) Delete(ctx context.Context, sessionID string) (bool, error) {
	res, err := m.collection.DeleteMany(ctx, bson.M{consts.ColSessionID: sessionID})
	if err != nil {
		return false, fmt.Errorf("%w: delete messages: %w", errdefs.ErrStorage, err)
	}
	return res.DeletedCount > 0, nil
}

func (m *MongoMemory) Close(ctx context.Context) error {
	return m.client.Disconnect(ctx)
}
