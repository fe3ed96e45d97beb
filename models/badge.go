package models

import (
	"time"
)

// BadgeType names a permanent streak achievement
type BadgeType string

const (
	BadgeStreak3          BadgeType = "streak_3"
	BadgeStreak7          BadgeType = "streak_7"
	BadgeStreak14         BadgeType = "streak_14"
	BadgeStreak30         BadgeType = "streak_30"
	BadgeStreak60         BadgeType = "streak_60"
	BadgeStreak100        BadgeType = "streak_100"
	BadgeStreak365        BadgeType = "streak_365"
	BadgeLongestStreak10  BadgeType = "longest_streak_10"
	BadgeLongestStreak30  BadgeType = "longest_streak_30"
	BadgeLongestStreak100 BadgeType = "longest_streak_100"
)

// StreakBadge: awarded instance, unique per (user_id, badge_type)
type StreakBadge struct {
	ID          string    `gorm:"primaryKey;type:uuid" json:"id"`
	UserID      string    `gorm:"not null;index;uniqueIndex:idx_streak_badges_user_badge,priority:1" json:"user_id"`
	BadgeType   BadgeType `gorm:"type:varchar(32);not null;uniqueIndex:idx_streak_badges_user_badge,priority:2" json:"badge_type"`
	Description string    `gorm:"size:200" json:"description"`
	CreatedAt   time.Time `gorm:"autoCreateTime" json:"created_at"`
}
