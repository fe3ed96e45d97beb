package models

import (
	"time"

	"gorm.io/datatypes"
)

// Notification is the durable outbox row behind the notification sink.
// Delivery (push, SSE, chat) reads from here. Readers page by Seq; events
// from one operation share CreatedAt.
type Notification struct {
	Seq       int64          `gorm:"primaryKey;autoIncrement" json:"seq"`
	ID        string         `gorm:"type:uuid;uniqueIndex;not null" json:"id"`
	UserID    string         `gorm:"not null;index:idx_notifications_user_created,priority:1;index:idx_notifications_user_seq,priority:1" json:"user_id"`
	Type      string         `gorm:"size:32;not null" json:"type"`
	Message   string         `gorm:"type:text" json:"message"`
	Payload   datatypes.JSON `json:"payload"`
	CreatedAt time.Time      `gorm:"not null;index:idx_notifications_user_created,priority:2" json:"created_at"`
}

// All lists every table the service migrates.
func All() []interface{} {
	return []interface{}{
		&UserProgress{},
		&XPHistory{},
		&Streak{},
		&StreakHistory{},
		&StreakReward{},
		&StreakBadge{},
		&XPBoostEvent{},
		&SystemConfig{},
		&LeaderboardEntry{},
		&Notification{},
	}
}
