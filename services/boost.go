package services

import (
	"context"
	"log/slog"
	"math"
	"strconv"
	"strings"
	"time"

	"progression-engine/config"
	"progression-engine/models"
)

// BoostResolver combines premium, global and promotional multipliers.
// Lookups fail open: an unreadable factor counts as 1.
type BoostResolver struct {
	Global  GlobalConfigProvider
	Promo   PromotionalBoostProvider
	Premium PremiumStatusProvider // optional override of the mirrored row
	Balance config.Balance
	Log     *slog.Logger
}

// Factors are the user-independent multipliers, read once per operation.
type Factors struct {
	Global float64
	Promo  *PromoBoost
}

// NoBoost is the neutral set of factors.
var NoBoost = Factors{Global: 1}

// PromoFor returns the promotional factor for action at now.
func (f Factors) PromoFor(action models.XPAction, now time.Time) float64 {
	if f.Promo.AppliesTo(action, now) {
		return f.Promo.Multiplier
	}
	return 1
}

// Factors reads the global multiplier and the active promotion.
func (r *BoostResolver) Factors(ctx context.Context) Factors {
	f := NoBoost

	if r.Global != nil {
		raw, ok, err := r.Global.GetConfig(ctx, GlobalMultiplierKey)
		switch {
		case err != nil:
			r.Log.Warn("global multiplier unreadable, using 1.0", "error", err)
		case ok:
			v, perr := strconv.ParseFloat(strings.TrimSpace(raw), 64)
			if perr != nil || v <= 0 || math.IsInf(v, 0) || math.IsNaN(v) {
				r.Log.Warn("global multiplier invalid, using 1.0", "value", raw)
			} else {
				f.Global = v
			}
		}
	}

	if r.Promo != nil {
		boost, err := r.Promo.ActiveBoost(ctx)
		if err != nil {
			r.Log.Warn("⚠️ promotional boost unreadable, treating as absent", "error", err)
		} else {
			f.Promo = boost
		}
	}
	return f
}

// LookupPremium asks the external provider, if any. nil means "use the stored row".
func (r *BoostResolver) LookupPremium(ctx context.Context, userID string) *PremiumStatus {
	if r.Premium == nil {
		return nil
	}
	st, err := r.Premium.PremiumStatus(ctx, userID)
	if err != nil {
		r.Log.Warn("premium status lookup failed, using stored status", "user_id", userID, "error", err)
		return nil
	}
	return &st
}

// PremiumMultiplier returns (isPremium, multiplier) for a user.
func (r *BoostResolver) PremiumMultiplier(prog *models.UserProgress, override *PremiumStatus) (bool, float64) {
	premium, mult := prog.IsPremium, prog.PremiumXPMultiplier
	if override != nil {
		premium, mult = override.IsPremium, override.Multiplier
	}
	if !premium {
		return false, 1
	}
	if mult <= 0 {
		mult = r.Balance.PremiumXPMultiplier
	}
	return true, mult
}

// Effective multiplies the three factors. Order does not matter; flooring happens once in ApplyBoost.
func Effective(premium, global, promo float64) float64 {
	return premium * global * promo
}

// ApplyBoost floors base × effective to whole XP.
func ApplyBoost(base int64, effective float64) int64 {
	return int64(math.Floor(float64(base) * effective))
}
