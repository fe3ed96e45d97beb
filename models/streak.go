package models

import "time"

// Streak is the daily-login state, one row per user.
type Streak struct {
	ID               string     `gorm:"primaryKey;type:uuid" json:"id"`
	UserID           string     `gorm:"uniqueIndex;not null" json:"user_id"`
	CurrentStreak    int        `gorm:"not null;default:0;index" json:"current_streak"`
	LongestStreak    int        `gorm:"not null;default:0" json:"longest_streak"`
	LastActivityDate *time.Time `json:"last_activity_date"` // UTC midnight of the last counted day
	FreezeItemCount  int        `gorm:"not null;default:0" json:"freeze_item_count"`
	GracePeriodEnd   *time.Time `json:"grace_period_end"` // cleared by every counted login; reads fill in a pending deadline
	StreakMultiplier float64    `gorm:"type:numeric(3,2);not null;default:1" json:"streak_multiplier"`
	TotalDaysLogged  int        `gorm:"not null;default:0" json:"total_days_logged"`

	Timestamps
}

// StreakAction labels a streak ledger row.
type StreakAction string

const (
	StreakLogin           StreakAction = "login"
	StreakIncrement       StreakAction = "increment"
	StreakReset           StreakAction = "reset"
	StreakFreezeUsed      StreakAction = "freeze_used"
	StreakGracePeriodUsed StreakAction = "grace_period_used"
	StreakRewardClaimed   StreakAction = "reward_claimed"
)

// StreakHistory is the append-only streak ledger.
type StreakHistory struct {
	ID           string       `gorm:"primaryKey;type:uuid" json:"id"`
	UserID       string       `gorm:"not null;index:idx_streak_history_user_created,priority:1" json:"user_id"`
	Action       StreakAction `gorm:"type:varchar(32);not null" json:"action"`
	StreakBefore int          `json:"streak_before"`
	StreakAfter  int          `json:"streak_after"`
	Description  string       `gorm:"type:text" json:"description"`
	CreatedAt    time.Time    `gorm:"not null;index:idx_streak_history_user_created,priority:2" json:"created_at"`
}

func (StreakHistory) TableName() string { return "streak_history" }
