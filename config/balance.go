package config

import (
	"fmt"
	"sort"

	"github.com/BurntSushi/toml"
)

// Milestone is a streak length that pays a one-time XP reward.
type Milestone struct {
	Days        int    `toml:"days"`
	XP          int64  `toml:"xp"`
	Description string `toml:"description"`
}

// Balance holds the tunable progression numbers.
type Balance struct {
	XPPerLevel          int64            `toml:"xp_per_level"`
	DailyXPCapRegular   int64            `toml:"daily_xp_cap_regular"`
	PremiumXPMultiplier float64          `toml:"premium_xp_multiplier"`
	GracePeriodHours    int              `toml:"grace_period_hours"`
	XPValues            map[string]int64 `toml:"xp_values"`
	Milestones          []Milestone      `toml:"milestones"`

	StreakBadgeThresholds []int `toml:"streak_badge_thresholds"`
	LongestStreakTiers    []int `toml:"longest_streak_tiers"`
}

// DefaultBalance returns the production numbers.
func DefaultBalance() Balance {
	return Balance{
		XPPerLevel:          1000,
		DailyXPCapRegular:   500,
		PremiumXPMultiplier: 1.5,
		GracePeriodHours:    6,
		XPValues: map[string]int64{
			"MESSAGE_SENT":      10,
			"ROOM_CREATED":      50,
			"ROOM_JOINED":       5,
			"PROFILE_COMPLETED": 100,
			"AVATAR_UPLOADED":   25,
			"FRIEND_ADDED":      20,
			"REACTION_GIVEN":    2,
			"DAILY_LOGIN":       25,
			"QUEST_COMPLETED":   75,
		},
		Milestones: []Milestone{
			{Days: 3, XP: 50, Description: "3-day streak bonus"},
			{Days: 7, XP: 150, Description: "7-day streak bonus"},
			{Days: 14, XP: 350, Description: "14-day streak bonus"},
			{Days: 30, XP: 1000, Description: "30-day streak bonus"},
		},
		StreakBadgeThresholds: []int{3, 7, 14, 30, 60, 100, 365},
		LongestStreakTiers:    []int{10, 30, 100},
	}
}

// LoadBalance decodes a TOML balance file on top of the defaults.
// Keys absent from the file keep their default value. xp_values entries are merged,
// lists given in the file replace the default list.
func LoadBalance(path string) (Balance, error) {
	def := DefaultBalance()
	b := def
	b.XPValues, b.Milestones = nil, nil
	b.StreakBadgeThresholds, b.LongestStreakTiers = nil, nil

	if _, err := toml.DecodeFile(path, &b); err != nil {
		return Balance{}, fmt.Errorf("decode balance file %s: %w", path, err)
	}
	if b.Milestones == nil {
		b.Milestones = def.Milestones
	}
	if b.StreakBadgeThresholds == nil {
		b.StreakBadgeThresholds = def.StreakBadgeThresholds
	}
	if b.LongestStreakTiers == nil {
		b.LongestStreakTiers = def.LongestStreakTiers
	}

	merged := make(map[string]int64, len(def.XPValues))
	for k, v := range def.XPValues {
		merged[k] = v
	}
	for k, v := range b.XPValues {
		merged[k] = v
	}
	b.XPValues = merged

	sort.Slice(b.Milestones, func(i, j int) bool { return b.Milestones[i].Days < b.Milestones[j].Days })
	sort.Ints(b.StreakBadgeThresholds)
	sort.Ints(b.LongestStreakTiers)

	return b, b.Validate()
}

// Validate rejects numbers the engine cannot work with.
func (b Balance) Validate() error {
	if b.XPPerLevel <= 0 {
		return fmt.Errorf("xp_per_level must be positive, got %d", b.XPPerLevel)
	}
	if b.DailyXPCapRegular <= 0 {
		return fmt.Errorf("daily_xp_cap_regular must be positive, got %d", b.DailyXPCapRegular)
	}
	if b.PremiumXPMultiplier < 1 {
		return fmt.Errorf("premium_xp_multiplier must be >= 1, got %v", b.PremiumXPMultiplier)
	}
	if b.GracePeriodHours < 0 || b.GracePeriodHours >= 48 {
		return fmt.Errorf("grace_period_hours must be in [0,48), got %d", b.GracePeriodHours)
	}
	for action, xp := range b.XPValues {
		if xp <= 0 {
			return fmt.Errorf("xp_values.%s must be positive, got %d", action, xp)
		}
	}
	seen := make(map[int]bool, len(b.Milestones))
	for _, m := range b.Milestones {
		if m.Days <= 0 || m.XP <= 0 {
			return fmt.Errorf("milestone %+v must have positive days and xp", m)
		}
		if seen[m.Days] {
			return fmt.Errorf("duplicate milestone for %d days", m.Days)
		}
		seen[m.Days] = true
	}
	return nil
}

// BaseXP returns the configured XP for an action name.
func (b Balance) BaseXP(action string) (int64, bool) {
	xp, ok := b.XPValues[action]
	return xp, ok
}

// MilestoneFor returns the milestone reached at exactly days, if any.
func (b Balance) MilestoneFor(days int) (Milestone, bool) {
	for _, m := range b.Milestones {
		if m.Days == days {
			return m, true
		}
	}
	return Milestone{}, false
}
