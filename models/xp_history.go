package models

import "time"

// XPAction identifies what earned the XP.
type XPAction string

const (
	ActionMessageSent      XPAction = "MESSAGE_SENT"
	ActionRoomCreated      XPAction = "ROOM_CREATED"
	ActionRoomJoined       XPAction = "ROOM_JOINED"
	ActionProfileCompleted XPAction = "PROFILE_COMPLETED"
	ActionAvatarUploaded   XPAction = "AVATAR_UPLOADED"
	ActionFriendAdded      XPAction = "FRIEND_ADDED"
	ActionReactionGiven    XPAction = "REACTION_GIVEN"
	ActionQuestCompleted   XPAction = "QUEST_COMPLETED"
	ActionDailyLogin       XPAction = "DAILY_LOGIN"

	// ActionStreakReward carries milestone XP; its amount comes from the milestone config.
	ActionStreakReward XPAction = "STREAK_REWARD"
)

// XPHistory is one append-only XP ledger row. Rows are never updated or deleted.
type XPHistory struct {
	ID          string    `gorm:"primaryKey;type:uuid" json:"id"`
	UserID      string    `gorm:"not null;index;index:idx_xp_history_user_created,priority:1" json:"user_id"`
	Amount      int64     `gorm:"not null" json:"amount"`
	Action      XPAction  `gorm:"type:varchar(32);not null" json:"action"`
	Description string    `gorm:"type:text" json:"description"`
	LevelBefore int       `gorm:"not null" json:"level_before"`
	LevelAfter  int       `gorm:"not null" json:"level_after"`
	CreatedAt   time.Time `gorm:"not null;index:idx_xp_history_user_created,priority:2" json:"created_at"`
}

func (XPHistory) TableName() string { return "xp_history" }
