package model

import "time"

// RateLimit is the per-session quota counter pair. UsedCount only ever grows;
// there is no reset or decay, a session that hits its limit stays locked out.
type RateLimit struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	SessionToken string    `gorm:"size:64;not null;uniqueIndex" json:"-"`
	MessageLimit int       `gorm:"not null" json:"limit"`
	UsedCount    int       `gorm:"not null;default:0" json:"used"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}
