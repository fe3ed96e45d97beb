package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"progression-engine/models"
	"progression-engine/store"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Awarder grants streak milestone rewards and badges at most once per user.
// Insert-if-absent on the unique (user, milestone) and (user, badge) keys decides the winner.
type Awarder struct {
	*deps
	xp *ProgressionService
}

// ClaimMilestoneReward grants the reward for milestone unless it was already claimed.
// It reports whether this call made the grant.
func (a *Awarder) ClaimMilestoneReward(ctx context.Context, userID string, milestone int) (bool, error) {
	if _, ok := a.balance.MilestoneFor(milestone); !ok {
		return false, fmt.Errorf("%w: no reward configured for %d days", ErrInvalidOperation, milestone)
	}
	if err := a.store.EnsureProgress(ctx, userID); err != nil {
		return false, err
	}

	var granted bool
	err := a.runLocked(ctx, userID, func(tx store.Tx, in boostInputs, fx *effects) error {
		if _, err := tx.LoadProgress(userID); err != nil {
			return fmt.Errorf("lock progress %s: %w", userID, err)
		}
		streak := 0
		st, err := tx.LoadStreak(userID)
		switch {
		case err == nil:
			streak = st.CurrentStreak
		case !errors.Is(err, store.ErrNotFound):
			return err
		}
		granted, err = a.claimMilestoneTx(tx, userID, milestone, streak, in, fx)
		return err
	})
	return granted, err
}

func (a *Awarder) claimMilestoneTx(tx store.Tx, userID string, milestone, streak int, in boostInputs, fx *effects) (bool, error) {
	m, ok := a.balance.MilestoneFor(milestone)
	if !ok {
		return false, nil
	}

	now := a.now()
	inserted, err := tx.InsertRewardIfAbsent(&models.StreakReward{
		UserID:            userID,
		Milestone:         milestone,
		RewardType:        models.RewardTypeXP,
		RewardAmount:      m.XP,
		RewardDescription: m.Description,
		ClaimedAt:         &now,
	})
	if err != nil {
		return false, fmt.Errorf("insert reward %s/%d: %w", userID, milestone, err)
	}
	if !inserted {
		return false, nil
	}

	if _, err := a.xp.addXPTx(tx, xpGrant{
		userID:      userID,
		action:      models.ActionStreakReward,
		base:        m.XP,
		description: m.Description,
	}, in, fx); err != nil {
		return false, err
	}

	if err := tx.AppendStreakHistory(&models.StreakHistory{
		UserID:       userID,
		Action:       models.StreakRewardClaimed,
		StreakBefore: streak,
		StreakAfter:  streak,
		Description:  fmt.Sprintf("Claimed %d-day streak reward: %d XP", milestone, m.XP),
		CreatedAt:    now,
	}); err != nil {
		return false, fmt.Errorf("append streak history %s: %w", userID, err)
	}

	fx.emit(Event{
		Type:         EventStreakReward,
		UserID:       userID,
		Message:      fmt.Sprintf("🎉 Congratulations! You've reached a %d-day streak and earned %d XP!", milestone, m.XP),
		Streak:       streak,
		Milestone:    milestone,
		RewardAmount: m.XP,
		OccurredAt:   now,
	})
	fx.count(func(mt *Metrics) { mt.MilestonesClaimed.Inc() })
	return true, nil
}

// CheckAndAwardBadges grants every streak badge up to current and the highest
// longest-streak tier reached. It returns the badges granted by this call.
func (a *Awarder) CheckAndAwardBadges(ctx context.Context, userID string, current, longest int) ([]models.BadgeType, error) {
	if err := a.store.EnsureProgress(ctx, userID); err != nil {
		return nil, err
	}
	var granted []models.BadgeType
	err := a.lockedTx(ctx, userID, func(tx store.Tx, fx *effects) error {
		if _, err := tx.LoadProgress(userID); err != nil {
			return fmt.Errorf("lock progress %s: %w", userID, err)
		}
		var err error
		granted, err = a.checkBadgesTx(tx, userID, current, longest, fx)
		return err
	})
	return granted, err
}

func (a *Awarder) checkBadgesTx(tx store.Tx, userID string, current, longest int, fx *effects) ([]models.BadgeType, error) {
	var granted []models.BadgeType
	now := a.now()

	grant := func(badge models.BadgeType, desc string) error {
		ok, err := tx.InsertBadgeIfAbsent(&models.StreakBadge{
			UserID:      userID,
			BadgeType:   badge,
			Description: desc,
			CreatedAt:   now,
		})
		if err != nil {
			return fmt.Errorf("insert badge %s/%s: %w", userID, badge, err)
		}
		if !ok {
			return nil
		}
		granted = append(granted, badge)
		fx.emit(Event{
			Type:       EventStreakBadge,
			UserID:     userID,
			Message:    fmt.Sprintf("🏆 New badge unlocked: %s!", BadgeTitle(badge)),
			Streak:     current,
			BadgeType:  badge,
			OccurredAt: now,
		})
		label := string(badge)
		fx.count(func(m *Metrics) { m.BadgesGranted.WithLabelValues(label).Inc() })
		return nil
	}

	for _, days := range a.balance.StreakBadgeThresholds {
		if current < days {
			break
		}
		if err := grant(StreakBadgeType(days), fmt.Sprintf("Achieved %d-day streak", days)); err != nil {
			return nil, err
		}
	}

	tier := 0
	for _, t := range a.balance.LongestStreakTiers {
		if longest >= t {
			tier = t
		}
	}
	if tier > 0 {
		if err := grant(LongestStreakBadgeType(tier), fmt.Sprintf("Longest streak: %d days", longest)); err != nil {
			return nil, err
		}
	}
	return granted, nil
}

func StreakBadgeType(days int) models.BadgeType {
	return models.BadgeType(fmt.Sprintf("streak_%d", days))
}

func LongestStreakBadgeType(days int) models.BadgeType {
	return models.BadgeType(fmt.Sprintf("longest_streak_%d", days))
}

// BadgeTitle turns "longest_streak_30" into "Longest Streak 30".
func BadgeTitle(b models.BadgeType) string {
	return cases.Title(language.English).String(strings.ReplaceAll(string(b), "_", " "))
}
