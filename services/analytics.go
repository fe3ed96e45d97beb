package services

import (
	"context"
	"fmt"
	"math"
	"time"

	"progression-engine/store"
)

// AnalyticsService answers admin questions about the ledgers. It never writes.
type AnalyticsService struct {
	*deps
}

type StreakRange struct {
	Range string `json:"range"`
	Count int64  `json:"count"`
}

type StreakAnalytics struct {
	TotalUsersWithStreaks int64         `json:"total_users_with_streaks"`
	AverageCurrentStreak  float64       `json:"average_current_streak"`
	AverageLongestStreak  float64       `json:"average_longest_streak"`
	TotalFreezeItemsUsed  int64         `json:"total_freeze_items_used"`
	TotalRewardsClaimed   int64         `json:"total_rewards_claimed"`
	UsersByStreakRange    []StreakRange `json:"users_by_streak_range"`
}

var streakRanges = []struct {
	min, max int
	label    string
}{
	{0, 2, "0-2 days"},
	{3, 6, "3-6 days"},
	{7, 13, "7-13 days"},
	{14, 29, "14-29 days"},
	{30, 59, "30-59 days"},
	{60, 99, "60-99 days"},
	{100, math.MaxInt, "100+ days"},
}

func round2(v float64) float64 { return math.Round(v*100) / 100 }

// StreakAnalytics summarizes every streak row. Averages are rounded to two decimals.
func (a *AnalyticsService) StreakAnalytics(ctx context.Context) (*StreakAnalytics, error) {
	totals, err := a.store.StreakTotals(ctx)
	if err != nil {
		return nil, err
	}
	out := &StreakAnalytics{
		TotalUsersWithStreaks: totals.Users,
		TotalFreezeItemsUsed:  totals.FreezesUsed,
		TotalRewardsClaimed:   totals.RewardsClaimed,
		UsersByStreakRange:    make([]StreakRange, len(streakRanges)),
	}
	if totals.Users > 0 {
		out.AverageCurrentStreak = round2(float64(totals.SumCurrent) / float64(totals.Users))
		out.AverageLongestStreak = round2(float64(totals.SumLongest) / float64(totals.Users))
	}
	for i, r := range streakRanges {
		out.UsersByStreakRange[i].Range = r.label
	}
	for streak, users := range totals.ByCurrent {
		for i, r := range streakRanges {
			if streak >= r.min && streak <= r.max {
				out.UsersByStreakRange[i].Count += users
				break
			}
		}
	}
	return out, nil
}

type DayXP struct {
	Date string `json:"date"`
	XP   int64  `json:"xp"`
}

type WeeklyXP struct {
	WeeklyTotal    int64   `json:"weekly_total"`
	DailyBreakdown []DayXP `json:"daily_breakdown"`
}

const weeklyDays = 7

// WeeklyXP sums the ledger over the last seven UTC days, today included. Every
// day appears in the breakdown, oldest first, zero when nothing was earned.
func (a *AnalyticsService) WeeklyXP(ctx context.Context) (*WeeklyXP, error) {
	today := utcMidnight(a.now())
	from := today.AddDate(0, 0, -(weeklyDays - 1))
	rows, err := a.store.XPHistoryBetween(ctx, from, today.AddDate(0, 0, 1))
	if err != nil {
		return nil, fmt.Errorf("weekly xp: %w", err)
	}

	out := &WeeklyXP{DailyBreakdown: make([]DayXP, weeklyDays)}
	for i := range out.DailyBreakdown {
		out.DailyBreakdown[i].Date = from.AddDate(0, 0, i).Format(time.DateOnly)
	}
	for _, r := range rows {
		i := int(utcMidnight(r.CreatedAt).Sub(from) / (24 * time.Hour))
		if i < 0 || i >= weeklyDays {
			continue
		}
		out.DailyBreakdown[i].XP += r.Amount
		out.WeeklyTotal += r.Amount
	}
	return out, nil
}

// XPByAction breaks the ledger down per action. An empty userID covers everyone.
func (a *AnalyticsService) XPByAction(ctx context.Context, userID string) ([]store.ActionTotal, error) {
	return a.store.XPByAction(ctx, userID)
}

// TotalXP is the sum of every ledger row.
func (a *AnalyticsService) TotalXP(ctx context.Context) (int64, error) {
	rows, err := a.store.XPByAction(ctx, "")
	if err != nil {
		return 0, err
	}
	var total int64
	for _, r := range rows {
		total += r.TotalXP
	}
	return total, nil
}
