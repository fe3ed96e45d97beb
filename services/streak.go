package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"progression-engine/models"
	"progression-engine/store"
)

// LoginResult is the outcome of TrackDailyLogin.
type LoginResult struct {
	Streak        models.Streak       `json:"streak"`
	Incremented   bool                `json:"incremented"`
	Reset         bool                `json:"reset"`
	RewardClaimed bool                `json:"reward_claimed"`
	Milestone     *int                `json:"milestone,omitempty"`
	SameDay       bool                `json:"same_day"`
	Action        models.StreakAction `json:"action,omitempty"`
}

// StreakInfo is the read-only view returned by GetUserStreak.
type StreakInfo struct {
	Streak                 models.Streak         `json:"streak"`
	NextMilestone          *int                  `json:"next_milestone"`
	DaysUntilNextMilestone *int                  `json:"days_until_next_milestone"`
	CanUseFreeze           bool                  `json:"can_use_freeze"`
	CanUseGracePeriod      bool                  `json:"can_use_grace_period"`
	Badges                 []models.StreakBadge  `json:"badges"`
	RecentRewards          []models.StreakReward `json:"recent_rewards"`
}

const recentRewardsLimit = 5

// StreakService tracks consecutive UTC login days.
//
// A missed day can be absorbed two ways. The grace window ends GracePeriodHours
// after the midnight following the last login day; past that, one freeze item
// bridges the gap. Otherwise the streak resets to zero.
type StreakService struct {
	*deps
	awards *Awarder
}

// StreakMultiplier is a pure function of the current streak length.
func StreakMultiplier(streak int) float64 {
	switch {
	case streak >= 30:
		return 2.0
	case streak >= 14:
		return 1.5
	case streak >= 7:
		return 1.25
	case streak >= 3:
		return 1.1
	default:
		return 1.0
	}
}

// graceDeadline is the last instant a login after a missed day still continues
// the streak: (last + 1 day) + GracePeriodHours.
func (s *StreakService) graceDeadline(last time.Time) time.Time {
	return last.AddDate(0, 0, 1).Add(time.Duration(s.balance.GracePeriodHours) * time.Hour)
}

// lapsed reports a missed day that has not been reset yet.
func lapsed(st *models.Streak, today time.Time) bool {
	if st.LastActivityDate == nil {
		return false
	}
	return utcMidnight(*st.LastActivityDate).Before(today.AddDate(0, 0, -1))
}

// TrackDailyLogin applies today's login to the user's streak. A second call on
// the same UTC day changes nothing.
func (s *StreakService) TrackDailyLogin(ctx context.Context, userID string) (*LoginResult, error) {
	if err := s.store.EnsureProgress(ctx, userID); err != nil {
		return nil, err
	}

	var res *LoginResult
	err := s.runLocked(ctx, userID, func(tx store.Tx, in boostInputs, fx *effects) error {
		if _, err := tx.LoadProgress(userID); err != nil {
			return fmt.Errorf("lock progress %s: %w", userID, err)
		}
		st, err := loadOrNewStreak(tx, userID)
		if err != nil {
			return err
		}
		res, err = s.trackTx(tx, st, in, fx)
		return err
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (s *StreakService) trackTx(tx store.Tx, st *models.Streak, in boostInputs, fx *effects) (*LoginResult, error) {
	now := s.now()
	today := utcMidnight(now)
	yesterday := today.AddDate(0, 0, -1)
	res := &LoginResult{}

	var last *time.Time
	if st.LastActivityDate != nil {
		l := utcMidnight(*st.LastActivityDate)
		last = &l
	}

	if last != nil && last.Equal(today) {
		res.SameDay = true
		res.Streak = *st
		return res, nil
	}

	before := st.CurrentStreak
	switch {
	case last == nil:
		st.CurrentStreak = 1
		res.Action = models.StreakLogin
	case last.Equal(yesterday):
		st.CurrentStreak++
		res.Action = models.StreakIncrement
	case !now.After(s.graceDeadline(*last)):
		st.CurrentStreak++
		res.Action = models.StreakGracePeriodUsed
	case st.FreezeItemCount > 0:
		st.FreezeItemCount--
		st.CurrentStreak++
		res.Action = models.StreakFreezeUsed
	default:
		st.CurrentStreak = 0
		res.Action = models.StreakReset
		res.Reset = true
	}
	res.Incremented = !res.Reset
	if st.CurrentStreak > st.LongestStreak {
		st.LongestStreak = st.CurrentStreak
	}
	st.StreakMultiplier = StreakMultiplier(st.CurrentStreak)
	st.LastActivityDate = &today
	st.GracePeriodEnd = nil
	st.TotalDaysLogged++

	if err := tx.SaveStreak(st); err != nil {
		return nil, fmt.Errorf("save streak %s: %w", st.UserID, err)
	}
	if err := tx.AppendStreakHistory(&models.StreakHistory{
		UserID:       st.UserID,
		Action:       res.Action,
		StreakBefore: before,
		StreakAfter:  st.CurrentStreak,
		Description:  describeTransition(res.Action, before, st.CurrentStreak),
		CreatedAt:    now,
	}); err != nil {
		return nil, fmt.Errorf("append streak history %s: %w", st.UserID, err)
	}

	if res.Incremented {
		if _, ok := s.balance.MilestoneFor(st.CurrentStreak); ok {
			claimed, err := s.awards.claimMilestoneTx(tx, st.UserID, st.CurrentStreak, st.CurrentStreak, in, fx)
			if err != nil {
				return nil, err
			}
			if claimed {
				m := st.CurrentStreak
				res.RewardClaimed = true
				res.Milestone = &m
			}
		}
		if _, err := s.awards.checkBadgesTx(tx, st.UserID, st.CurrentStreak, st.LongestStreak, fx); err != nil {
			return nil, err
		}
		// a first login has no streak to announce yet
		if st.CurrentStreak > 1 {
			fx.emit(Event{
				Type:       EventStreakIncrement,
				UserID:     st.UserID,
				Message:    fmt.Sprintf("🔥 Your streak is now %d days! Keep it going!", st.CurrentStreak),
				Streak:     st.CurrentStreak,
				OccurredAt: now,
			})
		}
	}
	if res.Reset {
		fx.emit(Event{
			Type:       EventStreakReset,
			UserID:     st.UserID,
			Message:    "Your streak has been reset. Start a new one today!",
			OccurredAt: now,
		})
	}
	action := string(res.Action)
	fx.count(func(m *Metrics) { m.StreakTransitions.WithLabelValues(action).Inc() })

	res.Streak = *st
	return res, nil
}

func describeTransition(action models.StreakAction, before, after int) string {
	switch action {
	case models.StreakLogin:
		return "First daily login tracked"
	case models.StreakGracePeriodUsed:
		return fmt.Sprintf("Grace period used to keep streak, now %d", after)
	case models.StreakFreezeUsed:
		return fmt.Sprintf("Freeze item used to keep streak, now %d", after)
	case models.StreakReset:
		return fmt.Sprintf("Streak reset from %d days", before)
	default:
		return fmt.Sprintf("Streak incremented to %d", after)
	}
}

func loadOrNewStreak(tx store.Tx, userID string) (*models.Streak, error) {
	st, err := tx.LoadStreak(userID)
	if errors.Is(err, store.ErrNotFound) {
		return &models.Streak{UserID: userID, StreakMultiplier: 1}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load streak %s: %w", userID, err)
	}
	return st, nil
}

// GetUserStreak is read-only. A user who never logged in gets a zero streak.
func (s *StreakService) GetUserStreak(ctx context.Context, userID string) (*StreakInfo, error) {
	st, err := s.store.GetStreak(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		st = &models.Streak{UserID: userID, StreakMultiplier: 1}
	} else if err != nil {
		return nil, err
	}

	badges, err := s.store.ListBadges(ctx, userID)
	if err != nil {
		return nil, err
	}
	rewards, err := s.store.ListRewards(ctx, userID)
	if err != nil {
		return nil, err
	}
	// newest milestone first
	recent := make([]models.StreakReward, 0, recentRewardsLimit)
	for i := len(rewards) - 1; i >= 0 && len(recent) < recentRewardsLimit; i-- {
		recent = append(recent, rewards[i])
	}

	now := s.now()
	today := utcMidnight(now)
	info := &StreakInfo{
		Streak:        *st,
		Badges:        badges,
		RecentRewards: recent,
	}
	for _, m := range s.balance.Milestones {
		if m.Days > st.CurrentStreak {
			next, left := m.Days, m.Days-st.CurrentStreak
			info.NextMilestone, info.DaysUntilNextMilestone = &next, &left
			break
		}
	}
	if lapsed(st, today) {
		deadline := s.graceDeadline(utcMidnight(*st.LastActivityDate))
		info.Streak.GracePeriodEnd = &deadline
		info.CanUseFreeze = st.CurrentStreak > 0 && st.FreezeItemCount > 0
		info.CanUseGracePeriod = !now.After(deadline)
	}
	return info, nil
}

// UseFreezeItem spends one freeze item to bridge a missed day right away, so the
// next login continues the streak.
func (s *StreakService) UseFreezeItem(ctx context.Context, userID string) (*models.Streak, error) {
	if err := s.store.EnsureProgress(ctx, userID); err != nil {
		return nil, err
	}

	var out *models.Streak
	err := s.lockedTx(ctx, userID, func(tx store.Tx, fx *effects) error {
		if _, err := tx.LoadProgress(userID); err != nil {
			return fmt.Errorf("lock progress %s: %w", userID, err)
		}
		st, err := loadOrNewStreak(tx, userID)
		if err != nil {
			return err
		}
		if st.FreezeItemCount <= 0 {
			return fmt.Errorf("%w: no freeze items left", ErrInsufficientResource)
		}

		now := s.now()
		today := utcMidnight(now)
		if !lapsed(st, today) || st.CurrentStreak == 0 {
			return fmt.Errorf("%w: streak has no missed day to recover", ErrInvalidOperation)
		}

		yesterday := today.AddDate(0, 0, -1)
		st.FreezeItemCount--
		st.LastActivityDate = &yesterday
		st.GracePeriodEnd = nil
		if err := tx.SaveStreak(st); err != nil {
			return fmt.Errorf("save streak %s: %w", userID, err)
		}
		if err := tx.AppendStreakHistory(&models.StreakHistory{
			UserID:       userID,
			Action:       models.StreakFreezeUsed,
			StreakBefore: st.CurrentStreak,
			StreakAfter:  st.CurrentStreak,
			Description:  "Freeze item used to maintain streak",
			CreatedAt:    now,
		}); err != nil {
			return fmt.Errorf("append streak history %s: %w", userID, err)
		}
		fx.count(func(m *Metrics) { m.StreakTransitions.WithLabelValues(string(models.StreakFreezeUsed)).Inc() })
		out = st
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// AddFreezeItems credits freeze items, creating the streak row if needed.
func (s *StreakService) AddFreezeItems(ctx context.Context, userID string, amount int) (*models.Streak, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("%w: freeze amount must be positive, got %d", ErrInvalidOperation, amount)
	}
	if err := s.store.EnsureProgress(ctx, userID); err != nil {
		return nil, err
	}

	var out *models.Streak
	err := s.lockedTx(ctx, userID, func(tx store.Tx, _ *effects) error {
		if _, err := tx.LoadProgress(userID); err != nil {
			return fmt.Errorf("lock progress %s: %w", userID, err)
		}
		st, err := loadOrNewStreak(tx, userID)
		if err != nil {
			return err
		}
		st.FreezeItemCount += amount
		if err := tx.SaveStreak(st); err != nil {
			return fmt.Errorf("save streak %s: %w", userID, err)
		}
		out = st
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// GetStreakHistory pages the streak ledger, newest first.
func (s *StreakService) GetStreakHistory(ctx context.Context, userID string, page, limit int) (*Page[models.StreakHistory], error) {
	page, limit = normalizePage(page, limit)
	rows, total, err := s.store.ListStreakHistory(ctx, userID, (page-1)*limit, limit)
	if err != nil {
		return nil, err
	}
	return &Page[models.StreakHistory]{Items: rows, Page: page, Limit: limit, Total: total}, nil
}

// GetStreakLeaderboard ranks active streaks, longest first.
func (s *StreakService) GetStreakLeaderboard(ctx context.Context, page, limit int) (*Page[models.Streak], error) {
	page, limit = normalizePage(page, limit)
	rows, total, err := s.store.TopStreaks(ctx, (page-1)*limit, limit)
	if err != nil {
		return nil, err
	}
	return &Page[models.Streak]{Items: rows, Page: page, Limit: limit, Total: total}, nil
}
