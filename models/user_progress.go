package models

import (
	"time"
)

// UserProgress is the per-user progression aggregate. It is mutated only by the XP ledger.
type UserProgress struct {
	ID     string `gorm:"primaryKey;type:uuid" json:"id"`
	UserID string `gorm:"uniqueIndex;not null" json:"user_id"` // links to profile service

	CurrentXP int64 `gorm:"not null;default:0" json:"current_xp"`
	Level     int   `gorm:"not null;default:1;index" json:"level"`

	// Premium status is mirrored from the subscription service
	IsPremium           bool    `gorm:"not null;default:false" json:"is_premium"`
	PremiumXPMultiplier float64 `gorm:"type:numeric(4,2);not null;default:0" json:"premium_xp_multiplier"` // 0 means the configured default

	LastLevelUpAt *time.Time `json:"last_level_up_at,omitempty"`

	Timestamps
}

func (UserProgress) TableName() string { return "user_progress" }

// Timestamps adds GORM auto-times
type Timestamps struct {
	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}
