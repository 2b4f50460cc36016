package repository

import (
	"fmt"

	"gorm.io/gorm"

	"github.com/GroundCtrlHQ/ai-chat-demo/internal/model"
)

type MessageRepository struct {
	db *gorm.DB
}

func NewMessageRepository(db *gorm.DB) *MessageRepository {
	return &MessageRepository{db: db}
}

func (r *MessageRepository) Create(message *model.Message) error {
	if err := r.db.Create(message).Error; err != nil {
		return fmt.Errorf("create message failed: %w", err)
	}
	return nil
}

// ListBySessionToken returns the session's messages oldest first, capped at
// limit, excluding system-role entries.
func (r *MessageRepository) ListBySessionToken(token string, limit int) ([]model.Message, error) {
	if limit <= 0 || limit > 200 {
		limit = 100
	}

	var messages []model.Message
	err := r.db.Where("session_token = ? AND role <> ?", token, "system").
		Order("created_at ASC, id ASC").
		Limit(limit).
		Find(&messages).Error
	if err != nil {
		return nil, fmt.Errorf("list messages failed: %w", err)
	}
	return messages, nil
}
