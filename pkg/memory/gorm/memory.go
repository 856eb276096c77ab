package gorm

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/barekit/ragchat/pkg/errdefs"
	"github.com/barekit/ragchat/pkg/llm"
	"github.com/barekit/ragchat/pkg/memory/consts"
)

// Memory implements Memory using GORM.
type Memory struct {
	db *gorm.DB
}

// MessageModel represents the database schema for a message.
type MessageModel struct {
	ID        uint   `gorm:"primaryKey"`
	SessionID string `gorm:"index;size:64"`
	Role      string `gorm:"size:16"`
	Content   string
	Metadata  string // JSON object, empty when the message has none
	CreatedAt time.Time
}

// TableName overrides the table name.
func (MessageModel) TableName() string {
	return consts.TableNameMessages
}

// Open connects through dialector and migrates the schema.
func Open(dialector gorm.Dialector) (*Memory, error) {
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open %s: %w", errdefs.ErrStorage, dialector.Name(), err)
	}
	return New(db)
}

// New creates a new Memory.
func New(db *gorm.DB) (*Memory, error) {
	if err := db.AutoMigrate(&MessageModel{}); err != nil {
		return nil, fmt.Errorf("%w: failed to migrate schema: %w", errdefs.ErrStorage, err)
	}
	return &Memory{db: db}, nil
}

// Save saves a message to the database.
func (m *Memory) Save(ctx context.Context, sessionID string, msg llm.Message) error {
	var metadataJSON string
	if len(msg.Metadata) > 0 {
		b, err := json.Marshal(msg.Metadata)
		if err != nil {
			return fmt.Errorf("failed to marshal metadata: %w", err)
		}
		metadataJSON = string(b)
	}

	created := msg.Timestamp
	if created.IsZero() {
		created = time.Now().UTC()
	}

	model := MessageModel{
		SessionID: sessionID,
		Role:      string(msg.Role),
		Content:   msg.Content,
		Metadata:  metadataJSON,
		CreatedAt: created,
	}

	if err := m.db.WithContext(ctx).Create(&model).Error; err != nil {
		return fmt.Errorf("%w: insert message: %w", errdefs.ErrStorage, err)
	}
	return nil
}

// Load loads messages from the database.
func (m *Memory) Load(ctx context.Context, sessionID string) ([]llm.Message, error) {
	var models []MessageModel
	err := m.db.WithContext(ctx).
		Where(consts.ColSessionID+" = ?", sessionID).
		Order(consts.ColCreatedAt + " asc, id asc").
		Find(&models).Error
	if err != nil {
		return nil, fmt.Errorf("%w: load messages: %w", errdefs.ErrStorage, err)
	}

	messages := make([]llm.Message, len(models))
	for i, model := range models {
		msg := llm.Message{
			Role:      llm.Role(model.Role),
			Content:   model.Content,
			Timestamp: model.CreatedAt,
		}

		if model.Metadata != "" {
			if err := json.Unmarshal([]byte(model.Metadata), &msg.Metadata); err != nil {
				return nil, fmt.Errorf("%w: failed to unmarshal metadata for msg %d: %w", errdefs.ErrStorage, model.ID, err)
			}
		}

		messages[i] = msg
	}

	return messages, nil
}

// Delete removes every message of a session.
func (m *Memory) Delete(ctx context.Context, sessionID string) (bool, error) {
	res := m.db.WithContext(ctx).Where(consts.ColSessionID+" = ?", sessionID).Delete(&MessageModel{})
	if res.Error != nil {
		return false, fmt.Errorf("%w: delete messages: %w", errdefs.ErrStorage, res.Error)
	}
	return res.RowsAffected > 0, nil
}

func (m *Memory) Close(context.Context) error {
	sqlDB, err := m.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
