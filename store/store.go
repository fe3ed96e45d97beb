// Package store persists progression state. Every mutating engine operation
// runs inside Transact; reads outside a transaction see committed data only.
package store

import (
	"context"
	"errors"
	"time"

	"progression-engine/models"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("record not found")

// Store is the engine's view of persistent storage.
type Store interface {
	// Transact runs fn in a single transaction. If fn returns an error nothing it wrote is kept.
	Transact(ctx context.Context, fn func(tx Tx) error) error

	// EnsureProgress creates a level-1 progress row for userID unless one exists.
	EnsureProgress(ctx context.Context, userID string) error
	GetProgress(ctx context.Context, userID string) (*models.UserProgress, error)
	// RankOf counts users strictly ahead of (level, xp).
	RankOf(ctx context.Context, level int, xp int64) (int64, error)
	SumXPSince(ctx context.Context, userID string, since time.Time) (int64, error)
	ListXPHistory(ctx context.Context, userID string, offset, limit int) ([]models.XPHistory, int64, error)

	GetStreak(ctx context.Context, userID string) (*models.Streak, error)
	ListStreakHistory(ctx context.Context, userID string, offset, limit int) ([]models.StreakHistory, int64, error)
	ListBadges(ctx context.Context, userID string) ([]models.StreakBadge, error)
	ListRewards(ctx context.Context, userID string) ([]models.StreakReward, error)
	TopStreaks(ctx context.Context, offset, limit int) ([]models.Streak, int64, error)

	// Ledger export, [from, to).
	XPHistoryBetween(ctx context.Context, from, to time.Time) ([]models.XPHistory, error)
	StreakHistoryBetween(ctx context.Context, from, to time.Time) ([]models.StreakHistory, error)

	// XPByAction groups the XP ledger by action, biggest total first. An empty
	// userID covers every user.
	XPByAction(ctx context.Context, userID string) ([]ActionTotal, error)
	StreakTotals(ctx context.Context) (*StreakTotals, error)
}

// ActionTotal is one row of XPByAction.
type ActionTotal struct {
	Action  models.XPAction `json:"action"`
	Count   int64           `json:"count"`
	TotalXP int64           `json:"total_xp"`
}

// StreakTotals aggregates every streak row.
type StreakTotals struct {
	Users          int64
	SumCurrent     int64
	SumLongest     int64
	ByCurrent      map[int]int64 // current streak length -> users
	FreezesUsed    int64         // freeze_used ledger rows
	RewardsClaimed int64
}

// Tx is a unit of work scoped to one Transact call.
type Tx interface {
	// LoadProgress reads and locks the user's progress row. It serializes
	// concurrent writers for the same user across processes.
	LoadProgress(userID string) (*models.UserProgress, error)
	SaveProgress(p *models.UserProgress) error
	AppendXPHistory(h *models.XPHistory) error
	SumXPSince(userID string, since time.Time) (int64, error)

	LoadStreak(userID string) (*models.Streak, error)
	SaveStreak(s *models.Streak) error
	AppendStreakHistory(h *models.StreakHistory) error

	// Insert*IfAbsent report false when the row already exists.
	InsertRewardIfAbsent(r *models.StreakReward) (bool, error)
	InsertBadgeIfAbsent(b *models.StreakBadge) (bool, error)
}
