package repository

import (
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/GroundCtrlHQ/ai-chat-demo/internal/model"
)

// ErrQuotaExhausted signals that the session already used every slot of its
// message quota. The counter is untouched when this is returned.
var ErrQuotaExhausted = errors.New("session message quota exhausted")

type RateLimitRepository struct {
	db *gorm.DB
}

func NewRateLimitRepository(db *gorm.DB) *RateLimitRepository {
	return &RateLimitRepository{db: db}
}

func (r *RateLimitRepository) GetByToken(token string) (*model.RateLimit, error) {
	var rateLimit model.RateLimit
	if err := r.db.Where("session_token = ?", token).First(&rateLimit).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("get rate limit failed: %w", err)
	}
	return &rateLimit, nil
}

// ConsumeSlot admits one user message for the session. The quota increment is a
// single conditional UPDATE, so two concurrent requests can never both pass the
// check with only one slot remaining. The user message insert and the session
// message-count bump ride in the same transaction: all three writes land, or none.
func (r *RateLimitRepository) ConsumeSlot(token string, message *model.Message) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&model.RateLimit{}).
			Where("session_token = ? AND used_count < message_limit", token).
			UpdateColumn("used_count", gorm.Expr("used_count + 1"))
		if res.Error != nil {
			return fmt.Errorf("consume quota slot failed: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return ErrQuotaExhausted
		}

		if err := tx.Create(message).Error; err != nil {
			return fmt.Errorf("create user message failed: %w", err)
		}
		if err := tx.Model(&model.Session{}).
			Where("token = ?", token).
			UpdateColumn("message_count", gorm.Expr("message_count + 1")).Error; err != nil {
			return fmt.Errorf("bump session message count failed: %w", err)
		}
		return nil
	})
}
