package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"progression-engine/models"
	"progression-engine/store"
)

// XPResult is the outcome of one AddXP call.
type XPResult struct {
	NewXP        int64 `json:"new_xp"`
	Level        int   `json:"level"`
	LeveledUp    bool  `json:"leveled_up"`
	LevelsGained int   `json:"levels_gained"`
	Awarded      int64 `json:"awarded"`
	CapReached   bool  `json:"cap_reached"`
}

// XPStats summarizes a user's XP standing.
type XPStats struct {
	CurrentXP       int64 `json:"current_xp"`
	Level           int   `json:"level"`
	XPForNextLevel  int64 `json:"xp_for_next_level"`
	TotalXPEarned   int64 `json:"total_xp_earned"`
	DailyXPEarned   int64 `json:"daily_xp_earned"`
	DailyCapReached bool  `json:"daily_cap_reached"`
	Rank            int64 `json:"rank"`
	IsPremium       bool  `json:"is_premium"`
}

// ProgressionService is the XP ledger: it applies deltas, enforces the daily cap
// and keeps level derived from XP.
type ProgressionService struct {
	*deps
}

// ComputeLevel derives the level for a cumulative XP total.
func (s *ProgressionService) ComputeLevel(xp int64) int {
	return int(xp/s.balance.XPPerLevel) + 1
}

// XPForNextLevel returns how much XP is missing to reach the next level.
func (s *ProgressionService) XPForNextLevel(xp int64) int64 {
	return int64(s.ComputeLevel(xp))*s.balance.XPPerLevel - xp
}

// AddXP awards the configured XP for action. A user at the daily cap gets their
// current state back with CapReached set; that is not an error.
func (s *ProgressionService) AddXP(ctx context.Context, userID string, action models.XPAction, description string) (*XPResult, error) {
	base, ok := s.balance.BaseXP(string(action))
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAction, action)
	}

	var res *XPResult
	err := s.runLocked(ctx, userID, func(tx store.Tx, in boostInputs, fx *effects) error {
		var err error
		res, err = s.addXPTx(tx, xpGrant{userID: userID, action: action, base: base, description: description}, in, fx)
		return err
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

type xpGrant struct {
	userID      string
	action      models.XPAction
	base        int64
	description string
}

// addXPTx runs inside a transaction that already serializes the user.
func (s *ProgressionService) addXPTx(tx store.Tx, g xpGrant, in boostInputs, fx *effects) (*XPResult, error) {
	prog, err := tx.LoadProgress(g.userID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrUserNotFound, g.userID)
	}
	if err != nil {
		return nil, fmt.Errorf("load progress %s: %w", g.userID, err)
	}

	now := s.now()
	unchanged := &XPResult{NewXP: prog.CurrentXP, Level: prog.Level}

	premium, premiumMult := s.boosts.PremiumMultiplier(prog, in.premium)

	var dailyTotal int64
	if !premium {
		dailyTotal, err = tx.SumXPSince(g.userID, utcMidnight(now))
		if err != nil {
			return nil, fmt.Errorf("sum daily xp %s: %w", g.userID, err)
		}
		if dailyTotal >= s.balance.DailyXPCapRegular {
			unchanged.CapReached = true
			fx.count(func(m *Metrics) { m.CapHits.Inc() })
			return unchanged, nil
		}
	}

	effective := Effective(premiumMult, in.factors.Global, in.factors.PromoFor(g.action, now))
	delta := ApplyBoost(g.base, effective)
	capped := false
	if !premium && dailyTotal+delta > s.balance.DailyXPCapRegular {
		delta = s.balance.DailyXPCapRegular - dailyTotal
		capped = true
	}

	oldLevel := prog.Level
	prog.CurrentXP += delta
	prog.Level = s.ComputeLevel(prog.CurrentXP)
	levelsGained := prog.Level - oldLevel
	if levelsGained > 0 {
		prog.LastLevelUpAt = &now
	}

	if err := tx.SaveProgress(prog); err != nil {
		return nil, fmt.Errorf("save progress %s: %w", g.userID, err)
	}

	desc := g.description
	if desc == "" {
		desc = fmt.Sprintf("Earned %d XP for %s", delta, g.action)
	}
	if err := tx.AppendXPHistory(&models.XPHistory{
		UserID:      g.userID,
		Amount:      delta,
		Action:      g.action,
		Description: desc,
		LevelBefore: oldLevel,
		LevelAfter:  prog.Level,
		CreatedAt:   now,
	}); err != nil {
		return nil, fmt.Errorf("append xp history %s: %w", g.userID, err)
	}

	if delta > 0 {
		fx.score(g.userID, "xp", delta)
	}
	if levelsGained > 0 {
		fx.emit(Event{
			Type:         EventLevelUp,
			UserID:       g.userID,
			Message:      fmt.Sprintf("⬆️ You reached level %d!", prog.Level),
			OldLevel:     oldLevel,
			NewLevel:     prog.Level,
			LevelsGained: levelsGained,
			CurrentXP:    prog.CurrentXP,
			OccurredAt:   now,
		})
	}
	action := string(g.action)
	fx.count(func(m *Metrics) {
		m.XPAwarded.WithLabelValues(action).Add(float64(delta))
		if levelsGained > 0 {
			m.LevelUps.Add(float64(levelsGained))
		}
	})

	return &XPResult{
		NewXP:        prog.CurrentXP,
		Level:        prog.Level,
		LeveledUp:    levelsGained > 0,
		LevelsGained: levelsGained,
		Awarded:      delta,
		CapReached:   capped,
	}, nil
}

// GetUserXPStats reads committed state only.
func (s *ProgressionService) GetUserXPStats(ctx context.Context, userID string) (*XPStats, error) {
	prog, err := s.store.GetProgress(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrUserNotFound, userID)
	}
	if err != nil {
		return nil, err
	}

	total, err := s.store.SumXPSince(ctx, userID, time.Time{})
	if err != nil {
		return nil, err
	}
	daily, err := s.store.SumXPSince(ctx, userID, utcMidnight(s.now()))
	if err != nil {
		return nil, err
	}
	ahead, err := s.store.RankOf(ctx, prog.Level, prog.CurrentXP)
	if err != nil {
		return nil, err
	}

	premium, _ := s.boosts.PremiumMultiplier(prog, s.boosts.LookupPremium(ctx, userID))
	return &XPStats{
		CurrentXP:       prog.CurrentXP,
		Level:           prog.Level,
		XPForNextLevel:  s.XPForNextLevel(prog.CurrentXP),
		TotalXPEarned:   total,
		DailyXPEarned:   daily,
		DailyCapReached: !premium && daily >= s.balance.DailyXPCapRegular,
		Rank:            ahead + 1,
		IsPremium:       premium,
	}, nil
}

// GetXPHistory pages the XP ledger, newest first.
func (s *ProgressionService) GetXPHistory(ctx context.Context, userID string, page, limit int) (*Page[models.XPHistory], error) {
	page, limit = normalizePage(page, limit)
	rows, total, err := s.store.ListXPHistory(ctx, userID, (page-1)*limit, limit)
	if err != nil {
		return nil, err
	}
	return &Page[models.XPHistory]{Items: rows, Page: page, Limit: limit, Total: total}, nil
}
