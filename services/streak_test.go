package services

import (
	"context"
	"testing"
	"time"

	"progression-engine/config"
	"progression-engine/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func at(day time.Time, hour int) time.Time {
	return time.Date(day.Year(), day.Month(), day.Day(), hour, 0, 0, 0, time.UTC)
}

var (
	tuesday   = monday.AddDate(0, 0, 1)
	wednesday = monday.AddDate(0, 0, 2)
	thursday  = monday.AddDate(0, 0, 3)
)

func streakActions(rows []models.StreakHistory) []models.StreakAction {
	out := make([]models.StreakAction, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.Action)
	}
	return out
}

func TestFirstLoginStartsStreak(t *testing.T) {
	h := newHarness(t)
	u := h.user(t)

	res, err := h.engine.Streaks.TrackDailyLogin(context.Background(), u)
	require.NoError(t, err)
	assert.Equal(t, models.StreakLogin, res.Action)
	assert.True(t, res.Incremented)
	assert.False(t, res.Reset)
	assert.Equal(t, 1, res.Streak.CurrentStreak)
	assert.Equal(t, 1, res.Streak.LongestStreak)
	assert.Equal(t, 1, res.Streak.TotalDaysLogged)
	assert.Equal(t, 1.0, res.Streak.StreakMultiplier)
	require.NotNil(t, res.Streak.LastActivityDate)
	assert.Equal(t, at(monday, 0), *res.Streak.LastActivityDate)

	assert.Equal(t, []models.StreakAction{models.StreakLogin}, streakActions(h.streakRows(t, u)))
	assert.Empty(t, h.notifier.ofType(EventStreakIncrement))
}

func TestFirstLoginCreatesProgressRow(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.engine.Streaks.TrackDailyLogin(ctx, "fresh-user")
	require.NoError(t, err)
	prog, err := h.store.GetProgress(ctx, "fresh-user")
	require.NoError(t, err)
	assert.Equal(t, 1, prog.Level)
}

func TestSameDayLoginIsIdempotent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	u := h.user(t)

	first, err := h.engine.Streaks.TrackDailyLogin(ctx, u)
	require.NoError(t, err)
	h.setTime(at(monday, 23))
	second, err := h.engine.Streaks.TrackDailyLogin(ctx, u)
	require.NoError(t, err)

	assert.True(t, second.SameDay)
	assert.False(t, second.Incremented)
	assert.Equal(t, first.Streak.CurrentStreak, second.Streak.CurrentStreak)
	assert.Equal(t, first.Streak.TotalDaysLogged, second.Streak.TotalDaysLogged)
	assert.Len(t, h.streakRows(t, u), 1)
	assert.Empty(t, h.notifier.ofType(EventStreakIncrement))

	h.setTime(at(tuesday, 9))
	_, err = h.engine.Streaks.TrackDailyLogin(ctx, u)
	require.NoError(t, err)
	incs := h.notifier.ofType(EventStreakIncrement)
	require.Len(t, incs, 1)
	assert.Equal(t, 2, incs[0].Streak)
}

func TestStreakTransitions(t *testing.T) {
	cases := []struct {
		name       string
		second     time.Time
		freezes    int
		want       models.StreakAction
		wantStreak int
		wantFreeze int
	}{
		{"next day early morning", at(tuesday, 5), 0, models.StreakIncrement, 2, 0},
		{"next day late", at(tuesday, 23), 0, models.StreakIncrement, 2, 0},
		{"missed day early morning resets", at(wednesday, 2), 0, models.StreakReset, 0, 0},
		{"missed day early morning uses freeze", at(wednesday, 2), 1, models.StreakFreezeUsed, 2, 0},
		{"freeze after missed day", at(wednesday, 7), 1, models.StreakFreezeUsed, 2, 0},
		{"missed without freeze", at(wednesday, 7), 0, models.StreakReset, 0, 0},
		{"two days missed", at(thursday, 1), 0, models.StreakReset, 0, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t)
			ctx := context.Background()
			u := h.user(t)

			_, err := h.engine.Streaks.TrackDailyLogin(ctx, u)
			require.NoError(t, err)
			if tc.freezes > 0 {
				_, err = h.engine.Streaks.AddFreezeItems(ctx, u, tc.freezes)
				require.NoError(t, err)
			}

			h.setTime(tc.second)
			res, err := h.engine.Streaks.TrackDailyLogin(ctx, u)
			require.NoError(t, err)
			assert.Equal(t, tc.want, res.Action)
			assert.Equal(t, tc.wantStreak, res.Streak.CurrentStreak)
			assert.Equal(t, tc.wantFreeze, res.Streak.FreezeItemCount)
			assert.Equal(t, max(1, tc.wantStreak), res.Streak.LongestStreak)
			assert.Equal(t, 2, res.Streak.TotalDaysLogged)
			assert.Equal(t, at(tc.second, 0), *res.Streak.LastActivityDate)

			rows := h.streakRows(t, u)
			require.Len(t, rows, 2)
			assert.Equal(t, tc.want, rows[0].Action)
			assert.Equal(t, 1, rows[0].StreakBefore)
			assert.Equal(t, tc.wantStreak, rows[0].StreakAfter)
		})
	}
}

func graceHours(hours int) func(*Options) {
	return func(o *Options) {
		b := config.DefaultBalance()
		b.GracePeriodHours = hours
		o.Balance = b
	}
}

func TestGraceDeadline(t *testing.T) {
	h := newHarness(t)
	assert.Equal(t, at(tuesday, 6), h.engine.Streaks.graceDeadline(at(monday, 0)))

	long := newHarness(t, graceHours(30))
	assert.Equal(t, at(wednesday, 6), long.engine.Streaks.graceDeadline(at(monday, 0)))
}

func TestGraceWindowReachingPastMissedDay(t *testing.T) {
	cases := []struct {
		name       string
		second     time.Time
		freezes    int
		want       models.StreakAction
		wantFreeze int
	}{
		{"inside grace window", at(wednesday, 2), 0, models.StreakGracePeriodUsed, 0},
		{"grace keeps freeze", at(wednesday, 2), 1, models.StreakGracePeriodUsed, 1},
		{"boundary instant", at(wednesday, 6), 0, models.StreakGracePeriodUsed, 0},
		{"freeze after grace", at(wednesday, 7), 1, models.StreakFreezeUsed, 0},
		{"reset after grace", at(wednesday, 7), 0, models.StreakReset, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t, graceHours(30))
			ctx := context.Background()
			u := h.user(t)

			_, err := h.engine.Streaks.TrackDailyLogin(ctx, u)
			require.NoError(t, err)
			if tc.freezes > 0 {
				_, err = h.engine.Streaks.AddFreezeItems(ctx, u, tc.freezes)
				require.NoError(t, err)
			}

			h.setTime(tc.second)
			res, err := h.engine.Streaks.TrackDailyLogin(ctx, u)
			require.NoError(t, err)
			assert.Equal(t, tc.want, res.Action)
			assert.Equal(t, tc.wantFreeze, res.Streak.FreezeItemCount)
			assert.Nil(t, res.Streak.GracePeriodEnd)
		})
	}
}

func TestResetKeepsLongestAndNotifies(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	u := h.user(t)

	for _, ts := range []time.Time{at(monday, 11), at(tuesday, 9), at(wednesday, 9)} {
		h.setTime(ts)
		_, err := h.engine.Streaks.TrackDailyLogin(ctx, u)
		require.NoError(t, err)
	}

	h.setTime(at(monday.AddDate(0, 0, 6), 12))
	res, err := h.engine.Streaks.TrackDailyLogin(ctx, u)
	require.NoError(t, err)
	assert.True(t, res.Reset)
	assert.False(t, res.Incremented)
	assert.Equal(t, 0, res.Streak.CurrentStreak)
	assert.Equal(t, 3, res.Streak.LongestStreak)
	assert.Equal(t, 1.0, res.Streak.StreakMultiplier)
	assert.Len(t, h.notifier.ofType(EventStreakReset), 1)

	// the day after a reset counts from zero
	h.setTime(at(monday.AddDate(0, 0, 7), 12))
	res, err = h.engine.Streaks.TrackDailyLogin(ctx, u)
	require.NoError(t, err)
	assert.Equal(t, models.StreakIncrement, res.Action)
	assert.Equal(t, 1, res.Streak.CurrentStreak)
}

func TestThirdDayClaimsMilestone(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	u := h.user(t)

	var res *LoginResult
	for _, ts := range []time.Time{at(monday, 11), at(tuesday, 9), at(wednesday, 9)} {
		h.setTime(ts)
		var err error
		res, err = h.engine.Streaks.TrackDailyLogin(ctx, u)
		require.NoError(t, err)
	}

	assert.Equal(t, 3, res.Streak.CurrentStreak)
	assert.Equal(t, 1.1, res.Streak.StreakMultiplier)
	assert.True(t, res.RewardClaimed)
	require.NotNil(t, res.Milestone)
	assert.Equal(t, 3, *res.Milestone)

	xp := h.xpRows(t, u)
	require.Len(t, xp, 1)
	assert.Equal(t, models.ActionStreakReward, xp[0].Action)
	assert.Equal(t, int64(50), xp[0].Amount)
	assert.Equal(t, "3-day streak bonus", xp[0].Description)

	assert.Contains(t, streakActions(h.streakRows(t, u)), models.StreakRewardClaimed)
	rewards, err := h.store.ListRewards(ctx, u)
	require.NoError(t, err)
	require.Len(t, rewards, 1)
	assert.Equal(t, int64(50), rewards[0].RewardAmount)

	badges, err := h.store.ListBadges(ctx, u)
	require.NoError(t, err)
	require.Len(t, badges, 1)
	assert.Equal(t, models.BadgeType("streak_3"), badges[0].BadgeType)

	assert.Len(t, h.notifier.ofType(EventStreakReward), 1)
	assert.Len(t, h.notifier.ofType(EventStreakBadge), 1)
}

func TestClaimMilestoneRewardOnce(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	u := h.user(t)

	ok, err := h.engine.Awards.ClaimMilestoneReward(ctx, u, 7)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = h.engine.Awards.ClaimMilestoneReward(ctx, u, 7)
	require.NoError(t, err)
	assert.False(t, ok)

	assert.Len(t, h.xpRows(t, u), 1)
	assert.Len(t, h.notifier.ofType(EventStreakReward), 1)

	_, err = h.engine.Awards.ClaimMilestoneReward(ctx, u, 5)
	assert.ErrorIs(t, err, ErrInvalidOperation)
}

func TestMilestoneXPIsBoosted(t *testing.T) {
	h := newHarness(t, func(o *Options) {
		o.GlobalConfig = staticConfig{GlobalMultiplierKey: "2"}
	})
	u := h.user(t)

	_, err := h.engine.Awards.ClaimMilestoneReward(context.Background(), u, 3)
	require.NoError(t, err)
	xp := h.xpRows(t, u)
	require.Len(t, xp, 1)
	assert.Equal(t, int64(100), xp[0].Amount)
}

func TestCheckAndAwardBadges(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	u := h.user(t)

	granted, err := h.engine.Awards.CheckAndAwardBadges(ctx, u, 15, 35)
	require.NoError(t, err)
	assert.Equal(t, []models.BadgeType{"streak_3", "streak_7", "streak_14", "longest_streak_30"}, granted)

	granted, err = h.engine.Awards.CheckAndAwardBadges(ctx, u, 15, 35)
	require.NoError(t, err)
	assert.Empty(t, granted)

	badges, err := h.store.ListBadges(ctx, u)
	require.NoError(t, err)
	assert.Len(t, badges, 4)
	assert.Len(t, h.notifier.ofType(EventStreakBadge), 4)
}

func TestBadgeTitle(t *testing.T) {
	assert.Equal(t, "Longest Streak 30", BadgeTitle("longest_streak_30"))
	assert.Equal(t, "Streak 7", BadgeTitle(StreakBadgeType(7)))
}

func TestStreakMultiplier(t *testing.T) {
	cases := map[int]float64{0: 1, 2: 1, 3: 1.1, 6: 1.1, 7: 1.25, 13: 1.25, 14: 1.5, 29: 1.5, 30: 2, 400: 2}
	for streak, want := range cases {
		assert.Equal(t, want, StreakMultiplier(streak), "streak %d", streak)
	}
}

func TestUseFreezeItem(t *testing.T) {
	ctx := context.Background()

	t.Run("no items", func(t *testing.T) {
		h := newHarness(t)
		u := h.user(t)
		_, err := h.engine.Streaks.UseFreezeItem(ctx, u)
		assert.ErrorIs(t, err, ErrInsufficientResource)
	})

	t.Run("nothing to recover", func(t *testing.T) {
		h := newHarness(t)
		u := h.user(t)
		_, err := h.engine.Streaks.AddFreezeItems(ctx, u, 1)
		require.NoError(t, err)
		_, err = h.engine.Streaks.UseFreezeItem(ctx, u)
		assert.ErrorIs(t, err, ErrInvalidOperation)

		_, err = h.engine.Streaks.TrackDailyLogin(ctx, u)
		require.NoError(t, err)
		h.setTime(at(tuesday, 12))
		_, err = h.engine.Streaks.UseFreezeItem(ctx, u)
		assert.ErrorIs(t, err, ErrInvalidOperation)
	})

	t.Run("bridges missed days", func(t *testing.T) {
		h := newHarness(t)
		u := h.user(t)
		_, err := h.engine.Streaks.TrackDailyLogin(ctx, u)
		require.NoError(t, err)
		_, err = h.engine.Streaks.AddFreezeItems(ctx, u, 1)
		require.NoError(t, err)

		h.setTime(at(thursday, 12))
		st, err := h.engine.Streaks.UseFreezeItem(ctx, u)
		require.NoError(t, err)
		assert.Equal(t, 0, st.FreezeItemCount)
		assert.Equal(t, 1, st.CurrentStreak)
		assert.Equal(t, at(wednesday, 0), *st.LastActivityDate)

		h.setTime(at(thursday, 13))
		res, err := h.engine.Streaks.TrackDailyLogin(ctx, u)
		require.NoError(t, err)
		assert.Equal(t, models.StreakIncrement, res.Action)
		assert.Equal(t, 2, res.Streak.CurrentStreak)

		assert.Equal(t,
			[]models.StreakAction{models.StreakIncrement, models.StreakFreezeUsed, models.StreakLogin},
			streakActions(h.streakRows(t, u)))
	})
}

func TestAddFreezeItems(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	u := h.user(t)

	_, err := h.engine.Streaks.AddFreezeItems(ctx, u, 0)
	assert.ErrorIs(t, err, ErrInvalidOperation)

	st, err := h.engine.Streaks.AddFreezeItems(ctx, u, 2)
	require.NoError(t, err)
	assert.Equal(t, 2, st.FreezeItemCount)
	st, err = h.engine.Streaks.AddFreezeItems(ctx, u, 3)
	require.NoError(t, err)
	assert.Equal(t, 5, st.FreezeItemCount)
	assert.Equal(t, 0, st.CurrentStreak)
	assert.Empty(t, h.streakRows(t, u))
}

func TestGetUserStreak(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	u := h.user(t)

	info, err := h.engine.Streaks.GetUserStreak(ctx, u)
	require.NoError(t, err)
	assert.Equal(t, 0, info.Streak.CurrentStreak)
	require.NotNil(t, info.NextMilestone)
	assert.Equal(t, 3, *info.NextMilestone)
	assert.Equal(t, 3, *info.DaysUntilNextMilestone)
	assert.False(t, info.CanUseFreeze)
	assert.Empty(t, h.streakRows(t, u))

	_, err = h.engine.Streaks.TrackDailyLogin(ctx, u)
	require.NoError(t, err)
	_, err = h.engine.Streaks.AddFreezeItems(ctx, u, 1)
	require.NoError(t, err)

	h.setTime(at(wednesday, 2))
	info, err = h.engine.Streaks.GetUserStreak(ctx, u)
	require.NoError(t, err)
	assert.False(t, info.CanUseGracePeriod)
	assert.True(t, info.CanUseFreeze)
	assert.Equal(t, 2, *info.DaysUntilNextMilestone)
	require.NotNil(t, info.Streak.GracePeriodEnd)
	assert.Equal(t, at(tuesday, 6), *info.Streak.GracePeriodEnd)
}

func TestGetUserStreakGraceFlag(t *testing.T) {
	h := newHarness(t, graceHours(30))
	ctx := context.Background()
	u := h.user(t)

	_, err := h.engine.Streaks.TrackDailyLogin(ctx, u)
	require.NoError(t, err)

	h.setTime(at(tuesday, 9))
	info, err := h.engine.Streaks.GetUserStreak(ctx, u)
	require.NoError(t, err)
	assert.False(t, info.CanUseGracePeriod)
	assert.Nil(t, info.Streak.GracePeriodEnd)

	h.setTime(at(wednesday, 2))
	info, err = h.engine.Streaks.GetUserStreak(ctx, u)
	require.NoError(t, err)
	assert.True(t, info.CanUseGracePeriod)
	assert.False(t, info.CanUseFreeze)

	h.setTime(at(wednesday, 10))
	info, err = h.engine.Streaks.GetUserStreak(ctx, u)
	require.NoError(t, err)
	assert.False(t, info.CanUseGracePeriod)
}

func TestRecentRewardsNewestMilestoneFirst(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	u := h.user(t)
	h.store.SetPremium(u, true, 0)

	for _, m := range []int{3, 14, 7} {
		_, err := h.engine.Awards.ClaimMilestoneReward(ctx, u, m)
		require.NoError(t, err)
	}
	info, err := h.engine.Streaks.GetUserStreak(ctx, u)
	require.NoError(t, err)
	require.Len(t, info.RecentRewards, 3)
	assert.Equal(t, 14, info.RecentRewards[0].Milestone)
	assert.Equal(t, 7, info.RecentRewards[1].Milestone)
	assert.Equal(t, 3, info.RecentRewards[2].Milestone)
}

func TestStreakLeaderboardAndHistory(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	a, b, idle := h.user(t), h.user(t), h.user(t)

	_, err := h.engine.Streaks.TrackDailyLogin(ctx, a)
	require.NoError(t, err)
	_, err = h.engine.Streaks.TrackDailyLogin(ctx, b)
	require.NoError(t, err)
	_, err = h.engine.Streaks.AddFreezeItems(ctx, idle, 1)
	require.NoError(t, err)

	h.setTime(at(tuesday, 9))
	_, err = h.engine.Streaks.TrackDailyLogin(ctx, b)
	require.NoError(t, err)

	board, err := h.engine.Streaks.GetStreakLeaderboard(ctx, 1, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(2), board.Total)
	require.Len(t, board.Items, 2)
	assert.Equal(t, b, board.Items[0].UserID)
	assert.Equal(t, a, board.Items[1].UserID)

	hist, err := h.engine.Streaks.GetStreakHistory(ctx, b, 1, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(2), hist.Total)
	require.Len(t, hist.Items, 1)
	assert.Equal(t, models.StreakIncrement, hist.Items[0].Action)
}
