package model

import "time"

// Message is one immutable entry in a session's conversation log.
type Message struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	SessionToken string    `gorm:"size:64;not null;index" json:"-"`
	Role         string    `gorm:"size:16;not null" json:"role"`
	Content      string    `gorm:"type:text;not null" json:"content"`
	CreatedAt    time.Time `json:"created_at"`
}
