package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"progression-engine/models"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru"
	"github.com/jonboulle/clockwork"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ConfigStore is the system_config table behind a small TTL cache.
type ConfigStore struct {
	DB    *gorm.DB
	cache *lru.Cache
	ttl   time.Duration
	clock clockwork.Clock
}

type cachedConfig struct {
	value   string
	found   bool
	expires time.Time
}

func NewConfigStore(db *gorm.DB, ttl time.Duration, clock clockwork.Clock) *ConfigStore {
	cache, _ := lru.New(256)
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &ConfigStore{DB: db, cache: cache, ttl: ttl, clock: clock}
}

func (c *ConfigStore) GetConfig(ctx context.Context, key string) (string, bool, error) {
	if v, ok := c.cache.Get(key); ok {
		if cv := v.(cachedConfig); c.clock.Now().Before(cv.expires) {
			return cv.value, cv.found, nil
		}
	}

	var row models.SystemConfig
	err := c.DB.WithContext(ctx).Where(&models.SystemConfig{Key: key}).First(&row).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		c.cache.Add(key, cachedConfig{found: false, expires: c.clock.Now().Add(c.ttl)})
		return "", false, nil
	case err != nil:
		return "", false, fmt.Errorf("read config %s: %w", key, err)
	}
	c.cache.Add(key, cachedConfig{value: row.Value, found: true, expires: c.clock.Now().Add(c.ttl)})
	return row.Value, true, nil
}

func (c *ConfigStore) SetConfig(ctx context.Context, key, value string) error {
	row := models.SystemConfig{Key: key, Value: value}
	err := c.DB.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&row).Error
	c.cache.Remove(key)
	if err != nil {
		return fmt.Errorf("write config %s: %w", key, err)
	}
	return nil
}

func (c *ConfigStore) DeleteConfig(ctx context.Context, key string) error {
	err := c.DB.WithContext(ctx).Where(&models.SystemConfig{Key: key}).Delete(&models.SystemConfig{}).Error
	c.cache.Remove(key)
	return err
}

// ConfigPromoProvider reads the active boost descriptor from config.
type ConfigPromoProvider struct {
	Config GlobalConfigProvider
}

func (p ConfigPromoProvider) ActiveBoost(ctx context.Context) (*PromoBoost, error) {
	raw, ok, err := p.Config.GetConfig(ctx, ActiveBoostKey)
	if err != nil || !ok {
		return nil, err
	}
	var b PromoBoost
	if err := json.Unmarshal([]byte(raw), &b); err != nil {
		return nil, fmt.Errorf("decode %s: %w", ActiveBoostKey, err)
	}
	return &b, nil
}

// Leaderboard timeframes.
const (
	TimeframeDaily   = "daily"
	TimeframeWeekly  = "weekly"
	TimeframeAllTime = "all_time"
)

// LeaderboardStore accumulates scores per daily, weekly (ISO) and all-time bucket.
type LeaderboardStore struct {
	DB    *gorm.DB
	Clock clockwork.Clock
}

func periodStart(timeframe string, now time.Time) time.Time {
	day := utcMidnight(now)
	switch timeframe {
	case TimeframeDaily:
		return day
	case TimeframeWeekly:
		offset := (int(day.Weekday()) + 6) % 7 // Monday = 0
		return day.AddDate(0, 0, -offset)
	default:
		return time.Unix(0, 0).UTC()
	}
}

func (l *LeaderboardStore) Increment(ctx context.Context, userID, category string, amount int64) error {
	now := l.Clock.Now().UTC()
	rows := make([]models.LeaderboardEntry, 0, 3)
	for _, tf := range []string{TimeframeDaily, TimeframeWeekly, TimeframeAllTime} {
		rows = append(rows, models.LeaderboardEntry{
			ID:          uuid.NewString(),
			UserID:      userID,
			Category:    category,
			Timeframe:   tf,
			PeriodStart: periodStart(tf, now),
			Score:       amount,
		})
	}
	err := l.DB.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "user_id"}, {Name: "category"}, {Name: "timeframe"}, {Name: "period_start"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"score":      gorm.Expr("leaderboard_entries.score + excluded.score"),
			"updated_at": now,
		}),
	}).Create(&rows).Error
	if err != nil {
		return fmt.Errorf("leaderboard increment %s/%s: %w", userID, category, err)
	}
	return nil
}

// Top returns the current bucket's best scores.
func (l *LeaderboardStore) Top(ctx context.Context, category, timeframe string, limit int) ([]models.LeaderboardEntry, error) {
	var rows []models.LeaderboardEntry
	err := l.DB.WithContext(ctx).
		Where("category = ? AND timeframe = ? AND period_start = ?", category, timeframe, periodStart(timeframe, l.Clock.Now())).
		Order("score DESC").Order("user_id ASC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

// NotificationOutbox persists engine events for delivery by other processes.
type NotificationOutbox struct {
	DB    *gorm.DB
	Clock clockwork.Clock
}

func (o *NotificationOutbox) Emit(ctx context.Context, ev Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	created := ev.OccurredAt
	if created.IsZero() {
		created = o.Clock.Now()
	}
	return o.DB.WithContext(ctx).Create(&models.Notification{
		ID:        uuid.NewString(),
		UserID:    ev.UserID,
		Type:      string(ev.Type),
		Message:   ev.Message,
		Payload:   datatypes.JSON(payload),
		CreatedAt: created.UTC(),
	}).Error
}

// Since returns the user's notifications with Seq above the cursor, oldest first.
func (o *NotificationOutbox) Since(ctx context.Context, userID string, afterSeq int64, limit int) ([]models.Notification, error) {
	var rows []models.Notification
	err := o.DB.WithContext(ctx).
		Where("user_id = ? AND seq > ?", userID, afterSeq).
		Order("seq ASC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

// Latest returns the user's newest Seq, zero when none.
func (o *NotificationOutbox) Latest(ctx context.Context, userID string) (int64, error) {
	var row models.Notification
	err := o.DB.WithContext(ctx).Where("user_id = ?", userID).Order("seq DESC").First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	return row.Seq, err
}
