package models

import "time"

// LeaderboardEntry accumulates a score per user, category and timeframe bucket.
// PeriodStart is the UTC start of the bucket (day, ISO week) or the zero epoch for all-time.
type LeaderboardEntry struct {
	ID          string    `json:"id" gorm:"primaryKey;type:uuid"`
	UserID      string    `json:"user_id" gorm:"not null;uniqueIndex:idx_leaderboard_bucket,priority:1"`
	Category    string    `json:"category" gorm:"size:32;not null;uniqueIndex:idx_leaderboard_bucket,priority:2"`
	Timeframe   string    `json:"timeframe" gorm:"size:16;not null;uniqueIndex:idx_leaderboard_bucket,priority:3"`
	PeriodStart time.Time `json:"period_start" gorm:"not null;uniqueIndex:idx_leaderboard_bucket,priority:4"`
	Score       int64     `json:"score" gorm:"not null;default:0;index"`
	UpdatedAt   time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}
