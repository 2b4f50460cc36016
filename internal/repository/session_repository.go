package repository

import (
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/GroundCtrlHQ/ai-chat-demo/internal/model"
)

type SessionRepository struct {
	db *gorm.DB
}

func NewSessionRepository(db *gorm.DB) *SessionRepository {
	return &SessionRepository{db: db}
}

// EnsureWithRateLimit returns the session for token, creating the Session and
// its RateLimit record together in one transaction when the token is new.
// Both rows exist afterwards, or neither.
func (r *SessionRepository) EnsureWithRateLimit(token string, limit int) (*model.Session, error) {
	var session model.Session
	err := r.db.Transaction(func(tx *gorm.DB) error {
		findErr := tx.Where("token = ?", token).First(&session).Error
		if findErr == nil {
			return nil
		}
		if !errors.Is(findErr, gorm.ErrRecordNotFound) {
			return fmt.Errorf("query session failed: %w", findErr)
		}

		session = model.Session{Token: token}
		if createErr := tx.Create(&session).Error; createErr != nil {
			return fmt.Errorf("create session failed: %w", createErr)
		}
		rateLimit := model.RateLimit{SessionToken: token, MessageLimit: limit}
		if createErr := tx.Create(&rateLimit).Error; createErr != nil {
			return fmt.Errorf("create rate limit failed: %w", createErr)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &session, nil
}

func (r *SessionRepository) GetByToken(token string) (*model.Session, error) {
	var session model.Session
	if err := r.db.Where("token = ?", token).First(&session).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("get session failed: %w", err)
	}
	return &session, nil
}
