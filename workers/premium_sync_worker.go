package workers

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"progression-engine/models"
	"progression-engine/services"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// PremiumChangeSource lists premium status changes after a cursor.
type PremiumChangeSource interface {
	ChangedSince(ctx context.Context, since time.Time) ([]services.PremiumChange, error)
}

// PremiumSyncWorker mirrors premium status from the subscription service onto user_progress.
type PremiumSyncWorker struct {
	db       *gorm.DB
	source   PremiumChangeSource
	interval time.Duration
	clock    clockwork.Clock
	log      *slog.Logger

	lastSync time.Time
}

func NewPremiumSyncWorker(db *gorm.DB, source PremiumChangeSource, interval time.Duration, clock clockwork.Clock, log *slog.Logger) *PremiumSyncWorker {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &PremiumSyncWorker{
		db:       db,
		source:   source,
		interval: interval,
		clock:    clock,
		log:      log.With("component", "premium_sync"),
		lastSync: clock.Now().UTC().Add(-24 * time.Hour),
	}
}

func (w *PremiumSyncWorker) Start(ctx context.Context) {
	w.log.Info("🔁 starting premium sync", "interval", w.interval)
	go w.run(ctx)
}

func (w *PremiumSyncWorker) run(ctx context.Context) {
	ticker := w.clock.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Info("premium sync stopped")
			return
		case <-ticker.Chan():
			if _, err := w.SyncOnce(ctx); err != nil {
				w.log.Error("❌ premium sync failed", "since", w.lastSync.Format(time.RFC3339), "error", err)
			}
		}
	}
}

// SyncOnce pulls changes since the last successful run and upserts them.
// On failure the cursor stays put so the same window is retried.
func (w *PremiumSyncWorker) SyncOnce(ctx context.Context) (int, error) {
	started := w.clock.Now().UTC()

	changes, err := w.source.ChangedSince(ctx, w.lastSync)
	if err != nil {
		return 0, err
	}
	if len(changes) == 0 {
		w.lastSync = started
		return 0, nil
	}

	rows := make([]models.UserProgress, 0, len(changes))
	for _, ch := range changes {
		if ch.UserID == "" {
			continue
		}
		rows = append(rows, models.UserProgress{
			ID:                  uuid.NewString(),
			UserID:              ch.UserID,
			Level:               1,
			IsPremium:           ch.IsPremium,
			PremiumXPMultiplier: ch.Multiplier,
		})
	}
	if len(rows) == 0 {
		w.lastSync = started
		return 0, nil
	}

	err = w.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"is_premium", "premium_xp_multiplier", "updated_at"}),
	}).Create(&rows).Error
	if err != nil {
		return 0, fmt.Errorf("upsert %d premium change(s): %w", len(rows), err)
	}

	w.lastSync = started
	w.log.Info("✅ premium status mirrored", "users", len(rows))
	return len(rows), nil
}
