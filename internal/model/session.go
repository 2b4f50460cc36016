package model

import "time"

// Session is the durable record behind one gc_session_id cookie. Sessions are
// created on first contact and never deleted server-side.
type Session struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	Token        string    `gorm:"size:64;not null;uniqueIndex" json:"-"`
	MessageCount int       `gorm:"not null;default:0" json:"message_count"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}
