// services/scheduler.go
package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"progression-engine/models"

	"github.com/go-co-op/gocron/v2"
	"github.com/google/uuid"
	"github.com/gosimple/slug"
	"github.com/jonboulle/clockwork"
	"gorm.io/gorm"
)

// BoostScheduler owns XP boost events and keeps the active-boost key in sync with them.
type BoostScheduler struct {
	DB       *gorm.DB
	Config   *ConfigStore
	Clock    clockwork.Clock
	Archiver *LedgerArchiver // optional nightly ledger export
	Metrics  *Metrics
	Log      *slog.Logger
}

// NewBoostRequest is the admin payload for a boost event.
type NewBoostRequest struct {
	Name             string    `json:"name"`
	Multiplier       float64   `json:"multiplier"`
	AppliesToActions []string  `json:"applies_to_actions"`
	StartAt          time.Time `json:"start_at"`
	EndAt            time.Time `json:"end_at"`
}

// CreateBoost stores a new boost event and syncs right away, so a window that is
// already open takes effect without waiting for the next tick.
func (b *BoostScheduler) CreateBoost(ctx context.Context, req NewBoostRequest) (*models.XPBoostEvent, error) {
	name := strings.TrimSpace(req.Name)
	switch {
	case name == "":
		return nil, fmt.Errorf("%w: boost name is required", ErrInvalidOperation)
	case req.Multiplier <= 0:
		return nil, fmt.Errorf("%w: multiplier must be positive", ErrInvalidOperation)
	case !req.EndAt.After(req.StartAt):
		return nil, fmt.Errorf("%w: end_at must be after start_at", ErrInvalidOperation)
	}
	actions := normalizeActions(req.AppliesToActions)

	ev := models.XPBoostEvent{
		ID:               uuid.NewString(),
		Slug:             fmt.Sprintf("%s-%s", slug.Make(name), req.StartAt.UTC().Format("20060102")),
		Name:             name,
		Multiplier:       req.Multiplier,
		AppliesToActions: actions,
		StartAt:          req.StartAt.UTC(),
		EndAt:            req.EndAt.UTC(),
	}

	var count int64
	if err := b.DB.WithContext(ctx).Model(&models.XPBoostEvent{}).Where("slug = ?", ev.Slug).Count(&count).Error; err != nil {
		return nil, err
	}
	if count > 0 {
		return nil, fmt.Errorf("%w: boost %q already exists", ErrInvalidOperation, ev.Slug)
	}
	if err := b.DB.WithContext(ctx).Create(&ev).Error; err != nil {
		return nil, fmt.Errorf("create boost: %w", err)
	}

	if err := b.Sync(ctx); err != nil {
		return nil, err
	}
	if err := b.DB.WithContext(ctx).First(&ev, "id = ?", ev.ID).Error; err != nil {
		return nil, err
	}
	return &ev, nil
}

func normalizeActions(in []string) []string {
	if len(in) == 0 {
		return []string{"all"}
	}
	out := make([]string, len(in))
	for i, a := range in {
		out[i] = strings.ToUpper(strings.TrimSpace(a))
		if out[i] == "ALL" {
			out[i] = "all"
		}
	}
	return out
}

func (b *BoostScheduler) ListBoosts(ctx context.Context) ([]models.XPBoostEvent, error) {
	var events []models.XPBoostEvent
	err := b.DB.WithContext(ctx).Order("start_at DESC").Find(&events).Error
	return events, err
}

// ActiveBoost returns the boost currently published, nil when none is active.
func (b *BoostScheduler) ActiveBoost(ctx context.Context) (*models.XPBoostEvent, error) {
	var active []models.XPBoostEvent
	err := b.DB.WithContext(ctx).
		Where("is_active = ?", true).
		Order("multiplier DESC").Order("end_at ASC").
		Limit(1).Find(&active).Error
	if err != nil {
		return nil, fmt.Errorf("load active boost: %w", err)
	}
	if len(active) == 0 {
		return nil, nil
	}
	return &active[0], nil
}

// UpdateBoostRequest changes the fields that are set. The slug never changes.
type UpdateBoostRequest struct {
	Name             *string    `json:"name"`
	Multiplier       *float64   `json:"multiplier"`
	AppliesToActions []string   `json:"applies_to_actions"`
	StartAt          *time.Time `json:"start_at"`
	EndAt            *time.Time `json:"end_at"`
}

// UpdateBoost edits a boost that has not ended and republishes the active key,
// so a running boost picks up the new multiplier or window immediately.
func (b *BoostScheduler) UpdateBoost(ctx context.Context, id string, req UpdateBoostRequest) (*models.XPBoostEvent, error) {
	ev, err := b.editableBoost(ctx, id)
	if err != nil {
		return nil, err
	}
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return nil, fmt.Errorf("%w: boost name is required", ErrInvalidOperation)
		}
		ev.Name = name
	}
	if req.Multiplier != nil {
		if *req.Multiplier <= 0 {
			return nil, fmt.Errorf("%w: multiplier must be positive", ErrInvalidOperation)
		}
		ev.Multiplier = *req.Multiplier
	}
	if req.AppliesToActions != nil {
		ev.AppliesToActions = normalizeActions(req.AppliesToActions)
	}
	if req.StartAt != nil {
		ev.StartAt = req.StartAt.UTC()
	}
	if req.EndAt != nil {
		ev.EndAt = req.EndAt.UTC()
	}
	if !ev.EndAt.After(ev.StartAt) {
		return nil, fmt.Errorf("%w: end_at must be after start_at", ErrInvalidOperation)
	}

	err = b.DB.WithContext(ctx).Model(ev).
		Select("name", "multiplier", "applies_to_actions", "start_at", "end_at").
		Updates(ev).Error
	if err != nil {
		return nil, fmt.Errorf("update boost %s: %w", id, err)
	}
	b.Log.Info("✏️ boost updated", "slug", ev.Slug, "multiplier", ev.Multiplier)
	return b.syncAndReload(ctx, id)
}

// CancelBoost stops a boost before its window ends. A running boost leaves the
// active key at once and the scheduler never reactivates it.
func (b *BoostScheduler) CancelBoost(ctx context.Context, id string) (*models.XPBoostEvent, error) {
	ev, err := b.editableBoost(ctx, id)
	if err != nil {
		return nil, err
	}
	now := b.Clock.Now().UTC()
	err = b.DB.WithContext(ctx).Model(ev).Updates(map[string]interface{}{
		"cancelled_at": now,
		"is_active":    false,
	}).Error
	if err != nil {
		return nil, fmt.Errorf("cancel boost %s: %w", id, err)
	}
	b.Log.Info("🛑 boost cancelled", "slug", ev.Slug, "was_active", ev.IsActive)
	return b.syncAndReload(ctx, id)
}

// editableBoost loads a boost that is neither cancelled nor over.
func (b *BoostScheduler) editableBoost(ctx context.Context, id string) (*models.XPBoostEvent, error) {
	var ev models.XPBoostEvent
	err := b.DB.WithContext(ctx).First(&ev, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrBoostNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	switch {
	case ev.CancelledAt != nil:
		return nil, fmt.Errorf("%w: boost %q is cancelled", ErrInvalidOperation, ev.Slug)
	case !ev.EndAt.After(b.Clock.Now().UTC()):
		return nil, fmt.Errorf("%w: boost %q has ended", ErrInvalidOperation, ev.Slug)
	}
	return &ev, nil
}

func (b *BoostScheduler) syncAndReload(ctx context.Context, id string) (*models.XPBoostEvent, error) {
	if err := b.Sync(ctx); err != nil {
		return nil, err
	}
	var ev models.XPBoostEvent
	if err := b.DB.WithContext(ctx).First(&ev, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &ev, nil
}

// Sync activates boosts whose window is open, deactivates expired ones, and
// publishes the strongest active boost under ActiveBoostKey.
func (b *BoostScheduler) Sync(ctx context.Context) error {
	now := b.Clock.Now().UTC()
	db := b.DB.WithContext(ctx)

	opened := db.Model(&models.XPBoostEvent{}).
		Where("is_active = ? AND cancelled_at IS NULL AND start_at <= ? AND end_at > ?", false, now, now).
		Update("is_active", true)
	if opened.Error != nil {
		return fmt.Errorf("activate boosts: %w", opened.Error)
	}
	closed := db.Model(&models.XPBoostEvent{}).
		Where("is_active = ? AND (end_at <= ? OR start_at > ?)", true, now, now).
		Update("is_active", false)
	if closed.Error != nil {
		return fmt.Errorf("deactivate boosts: %w", closed.Error)
	}
	if opened.RowsAffected > 0 || closed.RowsAffected > 0 {
		b.Log.Info("✅ boost windows updated", "activated", opened.RowsAffected, "deactivated", closed.RowsAffected)
	}

	top, err := b.ActiveBoost(ctx)
	if err != nil {
		return err
	}
	if top == nil {
		return b.Config.DeleteConfig(ctx, ActiveBoostKey)
	}

	desc := PromoBoost{Multiplier: top.Multiplier, EndAt: &top.EndAt}
	for _, a := range top.AppliesToActions {
		if a == "all" {
			desc.All = true
		}
	}
	if !desc.All {
		desc.AppliesToActions = append([]string(nil), top.AppliesToActions...)
	}
	raw, err := json.Marshal(desc)
	if err != nil {
		return err
	}
	return b.Config.SetConfig(ctx, ActiveBoostKey, string(raw))
}

// Start schedules the boost sync every minute and, when an archiver is set, the
// ledger export at 00:15 UTC for the previous day.
func (b *BoostScheduler) Start(ctx context.Context) (gocron.Scheduler, error) {
	sched, err := gocron.NewScheduler(
		gocron.WithClock(b.Clock),
		gocron.WithLocation(time.UTC),
	)
	if err != nil {
		return nil, err
	}

	_, err = sched.NewJob(
		gocron.DurationJob(1*time.Minute),
		gocron.NewTask(func() {
			if err := b.Sync(ctx); err != nil {
				b.Log.Error("[Scheduler] boost sync failed", "error", err)
				b.Metrics.BoostSyncs.WithLabelValues("error").Inc()
				return
			}
			b.Metrics.BoostSyncs.WithLabelValues("ok").Inc()
		}),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return nil, err
	}

	if b.Archiver != nil {
		_, err = sched.NewJob(
			gocron.DailyJob(1, gocron.NewAtTimes(gocron.NewAtTime(0, 15, 0))),
			gocron.NewTask(func() {
				day := utcMidnight(b.Clock.Now()).AddDate(0, 0, -1)
				if err := b.Archiver.ArchiveDay(ctx, day); err != nil {
					b.Log.Error("[Scheduler] ledger archive failed", "day", day.Format(time.DateOnly), "error", err)
				}
			}),
		)
		if err != nil {
			return nil, err
		}
	}

	sched.Start()
	return sched, nil
}
