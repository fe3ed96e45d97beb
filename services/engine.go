package services

import (
	"context"
	"log/slog"
	"time"

	"progression-engine/config"
	"progression-engine/store"

	"github.com/jonboulle/clockwork"
)

// Options wires the engine. Only Store is required.
type Options struct {
	Store       store.Store
	Balance     config.Balance
	Clock       clockwork.Clock
	Notifier    NotificationSink
	Leaderboard LeaderboardSink

	Premium      PremiumStatusProvider
	GlobalConfig GlobalConfigProvider
	Promo        PromotionalBoostProvider

	Metrics *Metrics
	Logger  *slog.Logger
}

// Engine groups the progression services over one store and one per-user lock table.
type Engine struct {
	Progression *ProgressionService
	Streaks     *StreakService
	Awards      *Awarder
	Boosts      *BoostResolver
	Activities  *ActivityClassifier
	Analytics   *AnalyticsService

	store store.Store
}

func NewEngine(opts Options) *Engine {
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Notifier == nil {
		opts.Notifier = nopNotifier{}
	}
	if opts.Leaderboard == nil {
		opts.Leaderboard = nopLeaderboard{}
	}
	if opts.Metrics == nil {
		opts.Metrics = NewMetrics(nil)
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Balance.XPPerLevel == 0 {
		opts.Balance = config.DefaultBalance()
	}

	boosts := &BoostResolver{
		Global:  opts.GlobalConfig,
		Promo:   opts.Promo,
		Premium: opts.Premium,
		Balance: opts.Balance,
		Log:     opts.Logger.With("component", "boost"),
	}
	d := &deps{
		store:    opts.Store,
		locks:    store.NewKeyedMutex(),
		boosts:   boosts,
		notifier: opts.Notifier,
		board:    opts.Leaderboard,
		balance:  opts.Balance,
		clock:    opts.Clock,
		metrics:  opts.Metrics,
		log:      opts.Logger,
	}

	progression := &ProgressionService{deps: d}
	awards := &Awarder{deps: d, xp: progression}
	streaks := &StreakService{deps: d, awards: awards}

	e := &Engine{
		Progression: progression,
		Streaks:     streaks,
		Awards:      awards,
		Boosts:      boosts,
		Analytics:   &AnalyticsService{deps: d},
		store:       opts.Store,
	}
	e.Activities = &ActivityClassifier{engine: e, balance: opts.Balance}
	return e
}

// EnsureUser creates the user's level-1 progress row if it is missing.
func (e *Engine) EnsureUser(ctx context.Context, userID string) error {
	return e.store.EnsureProgress(ctx, userID)
}

// deps is shared by the engine's services. locks gives one writer per user inside
// this process; the store's row lock covers other processes.
type deps struct {
	store    store.Store
	locks    *store.KeyedMutex
	boosts   *BoostResolver
	notifier NotificationSink
	board    LeaderboardSink
	balance  config.Balance
	clock    clockwork.Clock
	metrics  *Metrics
	log      *slog.Logger
}

func (d *deps) now() time.Time {
	return d.clock.Now().UTC()
}

// runLocked resolves the boost factors outside the lock, then runs fn like lockedTx.
func (d *deps) runLocked(ctx context.Context, userID string, fn func(tx store.Tx, in boostInputs, fx *effects) error) error {
	in := boostInputs{
		factors: d.boosts.Factors(ctx),
		premium: d.boosts.LookupPremium(ctx, userID),
	}
	return d.lockedTx(ctx, userID, func(tx store.Tx, fx *effects) error {
		return fn(tx, in, fx)
	})
}

// lockedTx runs fn under the user's lock in one transaction and flushes side
// effects once it commits.
func (d *deps) lockedTx(ctx context.Context, userID string, fn func(tx store.Tx, fx *effects) error) error {
	unlock := d.locks.Lock(userID)
	defer unlock()

	fx := &effects{}
	if err := d.store.Transact(ctx, func(tx store.Tx) error {
		return fn(tx, fx)
	}); err != nil {
		return err
	}
	d.flush(ctx, fx)
	return nil
}

type boostInputs struct {
	factors Factors
	premium *PremiumStatus
}

type scoreIncrement struct {
	userID   string
	category string
	amount   int64
}

// effects collects what must only happen after commit.
type effects struct {
	events  []Event
	scores  []scoreIncrement
	metrics []func(*Metrics)
}

func (fx *effects) emit(ev Event) {
	fx.events = append(fx.events, ev)
}

func (fx *effects) score(userID, category string, amount int64) {
	fx.scores = append(fx.scores, scoreIncrement{userID, category, amount})
}

func (fx *effects) count(f func(*Metrics)) {
	fx.metrics = append(fx.metrics, f)
}

func (d *deps) flush(ctx context.Context, fx *effects) {
	for _, f := range fx.metrics {
		f(d.metrics)
	}
	for _, s := range fx.scores {
		if err := d.board.Increment(ctx, s.userID, s.category, s.amount); err != nil {
			d.log.Warn("leaderboard increment failed", "user_id", s.userID, "category", s.category, "error", err)
		}
	}
	for _, ev := range fx.events {
		if err := d.notifier.Emit(ctx, ev); err != nil {
			d.log.Warn("notification emit failed", "user_id", ev.UserID, "type", ev.Type, "error", err)
		}
	}
}

// Page is one page of a newest-first listing.
type Page[T any] struct {
	Items []T   `json:"items"`
	Page  int   `json:"page"`
	Limit int   `json:"limit"`
	Total int64 `json:"total"`
}

func normalizePage(page, limit int) (int, int) {
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 100 {
		limit = 20
	}
	return page, limit
}

func utcMidnight(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
