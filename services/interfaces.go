package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"progression-engine/models"
)

// Well-known config keys.
const (
	GlobalMultiplierKey = "xp_multiplier"
	ActiveBoostKey      = "xp:boost:active"
)

// EventType names a notification the engine emits.
type EventType string

const (
	EventLevelUp         EventType = "LEVEL_UP"
	EventStreakIncrement EventType = "STREAK_INCREMENT"
	EventStreakReset     EventType = "STREAK_RESET"
	EventStreakReward    EventType = "STREAK_REWARD"
	EventStreakBadge     EventType = "STREAK_BADGE"
)

// Event is handed to the NotificationSink after the originating transaction commits.
type Event struct {
	Type         EventType        `json:"type"`
	UserID       string           `json:"user_id"`
	Message      string           `json:"message"`
	OldLevel     int              `json:"old_level,omitempty"`
	NewLevel     int              `json:"new_level,omitempty"`
	LevelsGained int              `json:"levels_gained,omitempty"`
	CurrentXP    int64            `json:"current_xp,omitempty"`
	Streak       int              `json:"current_streak,omitempty"`
	Milestone    int              `json:"milestone,omitempty"`
	RewardAmount int64            `json:"reward_amount,omitempty"`
	BadgeType    models.BadgeType `json:"badge_type,omitempty"`
	OccurredAt   time.Time        `json:"occurred_at"`
}

type NotificationSink interface {
	Emit(ctx context.Context, ev Event) error
}

type LeaderboardSink interface {
	Increment(ctx context.Context, userID, category string, amount int64) error
}

// PremiumStatus is a user's subscription state as seen by the XP ledger.
type PremiumStatus struct {
	IsPremium  bool    `json:"is_premium"`
	Multiplier float64 `json:"xp_multiplier"`
}

type PremiumStatusProvider interface {
	PremiumStatus(ctx context.Context, userID string) (PremiumStatus, error)
}

// GlobalConfigProvider returns a raw config value and whether the key exists.
type GlobalConfigProvider interface {
	GetConfig(ctx context.Context, key string) (string, bool, error)
}

// PromotionalBoostProvider returns the active boost, or nil when none is set.
// A malformed descriptor is an error.
type PromotionalBoostProvider interface {
	ActiveBoost(ctx context.Context) (*PromoBoost, error)
}

// PromoBoost is the active boost descriptor. On the wire appliesToActions is
// either a list of action names or the string "all".
type PromoBoost struct {
	Multiplier       float64
	AppliesToActions []string
	All              bool
	EndAt            *time.Time
}

type promoBoostWire struct {
	Multiplier       float64         `json:"multiplier"`
	AppliesToActions json.RawMessage `json:"appliesToActions"`
	EndAt            *time.Time      `json:"endAt,omitempty"`
}

func (b *PromoBoost) UnmarshalJSON(data []byte) error {
	var w promoBoostWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	if w.Multiplier <= 0 {
		return fmt.Errorf("boost multiplier must be positive, got %v", w.Multiplier)
	}
	out := PromoBoost{Multiplier: w.Multiplier, EndAt: w.EndAt}

	var single string
	var list []string
	switch {
	case len(w.AppliesToActions) == 0 || string(w.AppliesToActions) == "null":
		return fmt.Errorf("boost has no appliesToActions")
	case json.Unmarshal(w.AppliesToActions, &single) == nil:
		if !strings.EqualFold(single, "all") {
			out.AppliesToActions = []string{single}
		}
		out.All = strings.EqualFold(single, "all")
	case json.Unmarshal(w.AppliesToActions, &list) == nil:
		for _, a := range list {
			if strings.EqualFold(a, "all") {
				out.All = true
			}
		}
		out.AppliesToActions = list
	default:
		return fmt.Errorf("appliesToActions must be a string or a list of strings")
	}

	*b = out
	return nil
}

func (b PromoBoost) MarshalJSON() ([]byte, error) {
	w := promoBoostWire{Multiplier: b.Multiplier, EndAt: b.EndAt}
	var err error
	if b.All {
		w.AppliesToActions, err = json.Marshal("all")
	} else {
		w.AppliesToActions, err = json.Marshal(b.AppliesToActions)
	}
	if err != nil {
		return nil, err
	}
	return json.Marshal(w)
}

// AppliesTo reports whether the boost covers action at now.
func (b *PromoBoost) AppliesTo(action models.XPAction, now time.Time) bool {
	if b == nil {
		return false
	}
	if b.EndAt != nil && now.After(*b.EndAt) {
		return false
	}
	if b.All {
		return true
	}
	for _, a := range b.AppliesToActions {
		if strings.EqualFold(a, string(action)) {
			return true
		}
	}
	return false
}

type nopNotifier struct{}

func (nopNotifier) Emit(context.Context, Event) error { return nil }

type nopLeaderboard struct{}

func (nopLeaderboard) Increment(context.Context, string, string, int64) error { return nil }
