package models

import (
	"time"
)

// RewardType indicates what a streak milestone pays out
type RewardType string

const (
	RewardTypeXP      RewardType = "xp"
	RewardTypeToken   RewardType = "token"
	RewardTypeBadge   RewardType = "badge"
	RewardTypePremium RewardType = "premium"
)

// StreakReward records a claimed streak milestone.
// At most one row exists per (user_id, milestone); the unique index is the race-safety net.
type StreakReward struct {
	ID                string     `gorm:"primaryKey;type:uuid" json:"id"`
	UserID            string     `gorm:"not null;uniqueIndex:idx_streak_rewards_user_milestone,priority:1" json:"user_id"`
	Milestone         int        `gorm:"not null;uniqueIndex:idx_streak_rewards_user_milestone,priority:2" json:"milestone"`
	RewardType        RewardType `gorm:"type:varchar(16);not null" json:"reward_type"`
	RewardAmount      int64      `json:"reward_amount"`
	RewardDescription string     `gorm:"size:100" json:"reward_description"`
	ClaimedAt         *time.Time `json:"claimed_at,omitempty"`
	CreatedAt         time.Time  `gorm:"autoCreateTime" json:"created_at"`
}
