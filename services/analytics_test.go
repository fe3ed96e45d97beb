package services

import (
	"context"
	"testing"
	"time"

	"progression-engine/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStreakAnalytics(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	empty, err := h.engine.Analytics.StreakAnalytics(ctx)
	require.NoError(t, err)
	assert.Zero(t, empty.TotalUsersWithStreaks)
	assert.Zero(t, empty.AverageCurrentStreak)
	require.Len(t, empty.UsersByStreakRange, 7)
	assert.Equal(t, "100+ days", empty.UsersByStreakRange[6].Range)

	a, b, c := h.user(t), h.user(t), h.user(t)
	for _, u := range []string{a, b, c} {
		_, err := h.engine.Streaks.TrackDailyLogin(ctx, u)
		require.NoError(t, err)
	}
	_, err = h.engine.Streaks.AddFreezeItems(ctx, a, 1)
	require.NoError(t, err)

	// a and b keep going for two more days, a bridges a missed day with a freeze
	h.setTime(at(tuesday, 9))
	_, err = h.engine.Streaks.TrackDailyLogin(ctx, b)
	require.NoError(t, err)
	h.setTime(at(wednesday, 9))
	for _, u := range []string{a, b} {
		_, err := h.engine.Streaks.TrackDailyLogin(ctx, u)
		require.NoError(t, err)
	}

	out, err := h.engine.Analytics.StreakAnalytics(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), out.TotalUsersWithStreaks)
	// a=2, b=3, c=1
	assert.Equal(t, 2.0, out.AverageCurrentStreak)
	assert.Equal(t, 2.0, out.AverageLongestStreak)
	assert.Equal(t, int64(1), out.TotalFreezeItemsUsed)
	assert.Equal(t, int64(1), out.TotalRewardsClaimed)
	assert.Equal(t, StreakRange{Range: "0-2 days", Count: 2}, out.UsersByStreakRange[0])
	assert.Equal(t, StreakRange{Range: "3-6 days", Count: 1}, out.UsersByStreakRange[1])
}

func TestStreakAnalyticsRoundsAverages(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	a, b, c := h.user(t), h.user(t), h.user(t)

	_, err := h.engine.Streaks.TrackDailyLogin(ctx, a)
	require.NoError(t, err)
	h.setTime(at(tuesday, 9))
	for _, u := range []string{a, b, c} {
		_, err := h.engine.Streaks.TrackDailyLogin(ctx, u)
		require.NoError(t, err)
	}

	out, err := h.engine.Analytics.StreakAnalytics(ctx)
	require.NoError(t, err)
	// (2+1+1)/3
	assert.Equal(t, 1.33, out.AverageCurrentStreak)
}

func TestWeeklyXPAndActionBreakdown(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	u, v := h.user(t), h.user(t)

	award := func(user string, action models.XPAction) {
		t.Helper()
		_, err := h.engine.Progression.AddXP(ctx, user, action, "")
		require.NoError(t, err)
	}
	award(u, models.ActionMessageSent)
	award(u, models.ActionQuestCompleted)
	h.setTime(at(wednesday, 12))
	award(u, models.ActionMessageSent)
	award(v, models.ActionRoomCreated)

	// monday drops out of the window eight days later
	h.setTime(monday.AddDate(0, 0, 7).Add(time.Hour))
	weekly, err := h.engine.Analytics.WeeklyXP(ctx)
	require.NoError(t, err)
	require.Len(t, weekly.DailyBreakdown, 7)
	assert.Equal(t, "2026-03-03", weekly.DailyBreakdown[0].Date)
	assert.Equal(t, "2026-03-09", weekly.DailyBreakdown[6].Date)
	assert.Equal(t, int64(60), weekly.DailyBreakdown[1].XP)
	assert.Equal(t, int64(60), weekly.WeeklyTotal)

	byAction, err := h.engine.Analytics.XPByAction(ctx, "")
	require.NoError(t, err)
	require.Len(t, byAction, 3)
	assert.Equal(t, models.ActionQuestCompleted, byAction[0].Action)
	assert.Equal(t, models.ActionRoomCreated, byAction[1].Action)
	assert.Equal(t, models.ActionMessageSent, byAction[2].Action)
	assert.Equal(t, int64(2), byAction[2].Count)

	mine, err := h.engine.Analytics.XPByAction(ctx, v)
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, int64(50), mine[0].TotalXP)

	total, err := h.engine.Analytics.TotalXP(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(145), total)
}
