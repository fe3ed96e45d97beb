package models

import (
	"time"

	"gorm.io/datatypes"
)

// XPBoostEvent is a time-boxed promotional XP multiplier.
// AppliesToActions holds action names or the single entry "all".
type XPBoostEvent struct {
	ID               string                      `gorm:"primaryKey;type:uuid" json:"id"`
	Slug             string                      `gorm:"uniqueIndex;not null" json:"slug"`
	Name             string                      `gorm:"size:255;not null" json:"name"`
	Multiplier       float64                     `gorm:"type:numeric(4,2);not null" json:"multiplier"`
	AppliesToActions datatypes.JSONSlice[string] `json:"applies_to_actions"`
	StartAt          time.Time                   `gorm:"not null;index" json:"start_at"`
	EndAt            time.Time                   `gorm:"not null;index" json:"end_at"`
	IsActive         bool                        `gorm:"not null;default:false;index" json:"is_active"`
	CancelledAt      *time.Time                  `gorm:"index" json:"cancelled_at,omitempty"` // set by an admin; never reactivated
	Timestamps
}

// SystemConfig is a key/value row for global settings such as the XP multiplier
// and the active boost descriptor.
type SystemConfig struct {
	Key       string    `gorm:"primaryKey;size:128" json:"key"`
	Value     string    `gorm:"type:text;not null" json:"value"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (SystemConfig) TableName() string { return "system_config" }
