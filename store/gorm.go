package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"progression-engine/models"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormStore implements Store on gorm. PostgreSQL in production, SQLite in tests.
type GormStore struct {
	DB *gorm.DB
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{DB: db}
}

// Migrate creates or updates every table the engine owns.
func (s *GormStore) Migrate() error {
	if err := s.DB.AutoMigrate(models.All()...); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}
	return nil
}

func (s *GormStore) Transact(ctx context.Context, fn func(tx Tx) error) error {
	return s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&gormTx{db: tx})
	})
}

func (s *GormStore) EnsureProgress(ctx context.Context, userID string) error {
	prog := models.UserProgress{
		ID:     uuid.NewString(),
		UserID: userID,
		Level:  1,
	}
	err := s.DB.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "user_id"}}, DoNothing: true}).
		Create(&prog).Error
	if err != nil && !isUniqueViolation(err) {
		return fmt.Errorf("ensure progress for %s: %w", userID, err)
	}
	return nil
}

func (s *GormStore) GetProgress(ctx context.Context, userID string) (*models.UserProgress, error) {
	var prog models.UserProgress
	if err := s.DB.WithContext(ctx).Where("user_id = ?", userID).First(&prog).Error; err != nil {
		return nil, notFound(err)
	}
	return &prog, nil
}

func (s *GormStore) RankOf(ctx context.Context, level int, xp int64) (int64, error) {
	var ahead int64
	err := s.DB.WithContext(ctx).Model(&models.UserProgress{}).
		Where("level > ? OR (level = ? AND current_xp > ?)", level, level, xp).
		Count(&ahead).Error
	return ahead, err
}

func (s *GormStore) SumXPSince(ctx context.Context, userID string, since time.Time) (int64, error) {
	return sumXP(s.DB.WithContext(ctx), userID, since)
}

func (s *GormStore) ListXPHistory(ctx context.Context, userID string, offset, limit int) ([]models.XPHistory, int64, error) {
	var (
		rows  []models.XPHistory
		total int64
	)
	q := s.DB.WithContext(ctx).Model(&models.XPHistory{}).Where("user_id = ?", userID)
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	err := q.Order("created_at DESC").Offset(offset).Limit(limit).Find(&rows).Error
	return rows, total, err
}

func (s *GormStore) GetStreak(ctx context.Context, userID string) (*models.Streak, error) {
	var st models.Streak
	if err := s.DB.WithContext(ctx).Where("user_id = ?", userID).First(&st).Error; err != nil {
		return nil, notFound(err)
	}
	return &st, nil
}

func (s *GormStore) ListStreakHistory(ctx context.Context, userID string, offset, limit int) ([]models.StreakHistory, int64, error) {
	var (
		rows  []models.StreakHistory
		total int64
	)
	q := s.DB.WithContext(ctx).Model(&models.StreakHistory{}).Where("user_id = ?", userID)
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	err := q.Order("created_at DESC").Offset(offset).Limit(limit).Find(&rows).Error
	return rows, total, err
}

func (s *GormStore) ListBadges(ctx context.Context, userID string) ([]models.StreakBadge, error) {
	var badges []models.StreakBadge
	err := s.DB.WithContext(ctx).Where("user_id = ?", userID).Order("created_at ASC").Find(&badges).Error
	return badges, err
}

func (s *GormStore) ListRewards(ctx context.Context, userID string) ([]models.StreakReward, error) {
	var rewards []models.StreakReward
	err := s.DB.WithContext(ctx).Where("user_id = ?", userID).Order("milestone ASC").Find(&rewards).Error
	return rewards, err
}

func (s *GormStore) TopStreaks(ctx context.Context, offset, limit int) ([]models.Streak, int64, error) {
	var (
		rows  []models.Streak
		total int64
	)
	q := s.DB.WithContext(ctx).Model(&models.Streak{}).Where("current_streak > 0")
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	err := q.Order("current_streak DESC").Order("longest_streak DESC").Order("user_id ASC").
		Offset(offset).Limit(limit).Find(&rows).Error
	return rows, total, err
}

func (s *GormStore) XPHistoryBetween(ctx context.Context, from, to time.Time) ([]models.XPHistory, error) {
	var rows []models.XPHistory
	err := s.DB.WithContext(ctx).
		Where("created_at >= ? AND created_at < ?", from.UTC(), to.UTC()).
		Order("created_at ASC").Find(&rows).Error
	return rows, err
}

func (s *GormStore) StreakHistoryBetween(ctx context.Context, from, to time.Time) ([]models.StreakHistory, error) {
	var rows []models.StreakHistory
	err := s.DB.WithContext(ctx).
		Where("created_at >= ? AND created_at < ?", from.UTC(), to.UTC()).
		Order("created_at ASC").Find(&rows).Error
	return rows, err
}

func (s *GormStore) XPByAction(ctx context.Context, userID string) ([]ActionTotal, error) {
	q := s.DB.WithContext(ctx).Model(&models.XPHistory{}).
		Select("action, COUNT(*) AS count, COALESCE(SUM(amount), 0) AS total_xp")
	if userID != "" {
		q = q.Where("user_id = ?", userID)
	}
	var out []ActionTotal
	err := q.Group("action").Order("total_xp DESC").Order("action ASC").Scan(&out).Error
	return out, err
}

func (s *GormStore) StreakTotals(ctx context.Context) (*StreakTotals, error) {
	db := s.DB.WithContext(ctx)

	var agg struct {
		Users      int64
		SumCurrent int64
		SumLongest int64
	}
	if err := db.Model(&models.Streak{}).
		Select("COUNT(*) AS users, COALESCE(SUM(current_streak), 0) AS sum_current, COALESCE(SUM(longest_streak), 0) AS sum_longest").
		Scan(&agg).Error; err != nil {
		return nil, fmt.Errorf("streak totals: %w", err)
	}

	var buckets []struct {
		CurrentStreak int
		Users         int64
	}
	if err := db.Model(&models.Streak{}).
		Select("current_streak, COUNT(*) AS users").
		Group("current_streak").
		Scan(&buckets).Error; err != nil {
		return nil, fmt.Errorf("streak buckets: %w", err)
	}

	out := &StreakTotals{
		Users:      agg.Users,
		SumCurrent: agg.SumCurrent,
		SumLongest: agg.SumLongest,
		ByCurrent:  make(map[int]int64, len(buckets)),
	}
	for _, b := range buckets {
		out.ByCurrent[b.CurrentStreak] = b.Users
	}
	if err := db.Model(&models.StreakHistory{}).Where("action = ?", models.StreakFreezeUsed).Count(&out.FreezesUsed).Error; err != nil {
		return nil, fmt.Errorf("count freezes: %w", err)
	}
	if err := db.Model(&models.StreakReward{}).Where("claimed_at IS NOT NULL").Count(&out.RewardsClaimed).Error; err != nil {
		return nil, fmt.Errorf("count rewards: %w", err)
	}
	return out, nil
}

type gormTx struct {
	db *gorm.DB
}

func (t *gormTx) LoadProgress(userID string) (*models.UserProgress, error) {
	var prog models.UserProgress
	err := t.db.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("user_id = ?", userID).
		First(&prog).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &prog, nil
}

func (t *gormTx) SaveProgress(p *models.UserProgress) error {
	return t.db.Save(p).Error
}

func (t *gormTx) AppendXPHistory(h *models.XPHistory) error {
	if h.ID == "" {
		h.ID = uuid.NewString()
	}
	return t.db.Create(h).Error
}

func (t *gormTx) SumXPSince(userID string, since time.Time) (int64, error) {
	return sumXP(t.db, userID, since)
}

func (t *gormTx) LoadStreak(userID string) (*models.Streak, error) {
	var st models.Streak
	if err := t.db.Where("user_id = ?", userID).First(&st).Error; err != nil {
		return nil, notFound(err)
	}
	return &st, nil
}

func (t *gormTx) SaveStreak(s *models.Streak) error {
	if s.CreatedAt.IsZero() {
		if s.ID == "" {
			s.ID = uuid.NewString()
		}
		return t.db.Create(s).Error
	}
	return t.db.Save(s).Error
}

func (t *gormTx) AppendStreakHistory(h *models.StreakHistory) error {
	if h.ID == "" {
		h.ID = uuid.NewString()
	}
	return t.db.Create(h).Error
}

func (t *gormTx) InsertRewardIfAbsent(r *models.StreakReward) (bool, error) {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	return insertIfAbsent(t.db, r, "user_id", "milestone")
}

func (t *gormTx) InsertBadgeIfAbsent(b *models.StreakBadge) (bool, error) {
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	return insertIfAbsent(t.db, b, "user_id", "badge_type")
}

func insertIfAbsent(db *gorm.DB, value interface{}, conflictCols ...string) (bool, error) {
	cols := make([]clause.Column, 0, len(conflictCols))
	for _, c := range conflictCols {
		cols = append(cols, clause.Column{Name: c})
	}
	res := db.Clauses(clause.OnConflict{Columns: cols, DoNothing: true}).Create(value)
	if res.Error != nil {
		if isUniqueViolation(res.Error) {
			return false, nil
		}
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func sumXP(db *gorm.DB, userID string, since time.Time) (int64, error) {
	var total int64
	err := db.Model(&models.XPHistory{}).
		Select("COALESCE(SUM(amount), 0)").
		Where("user_id = ? AND created_at >= ?", userID, since.UTC()).
		Scan(&total).Error
	return total, err
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}

// isUniqueViolation covers both gorm's translated error and a raw PostgreSQL 23505.
func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
