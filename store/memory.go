package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"progression-engine/models"

	"github.com/google/uuid"
)

// MemoryStore is an in-process Store. Transactions are serialized and their writes
// are staged until fn returns nil.
//
// A single mutex serializes every transaction across all users, so this backend
// says nothing about per-user locking under load. It exists for tests; GormStore
// with row locks is the concurrent implementation.
type MemoryStore struct {
	mu sync.RWMutex // guards the maps below
	tx sync.Mutex   // one writer transaction at a time

	progress      map[string]models.UserProgress
	streaks       map[string]models.Streak
	xpHistory     []models.XPHistory
	streakHistory []models.StreakHistory
	rewards       map[rewardKey]models.StreakReward
	badges        map[badgeKey]models.StreakBadge
}

type rewardKey struct {
	userID    string
	milestone int
}

type badgeKey struct {
	userID string
	badge  models.BadgeType
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		progress: make(map[string]models.UserProgress),
		streaks:  make(map[string]models.Streak),
		rewards:  make(map[rewardKey]models.StreakReward),
		badges:   make(map[badgeKey]models.StreakBadge),
	}
}

func (s *MemoryStore) Transact(ctx context.Context, fn func(tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.tx.Lock()
	defer s.tx.Unlock()

	t := &memoryTx{
		s:        s,
		progress: make(map[string]models.UserProgress),
		streaks:  make(map[string]models.Streak),
		rewards:  make(map[rewardKey]models.StreakReward),
		badges:   make(map[badgeKey]models.StreakBadge),
	}
	if err := fn(t); err != nil {
		return err
	}
	t.commit()
	return nil
}

func (s *MemoryStore) EnsureProgress(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.progress[userID]; ok {
		return nil
	}
	now := time.Now().UTC()
	s.progress[userID] = models.UserProgress{
		ID:         uuid.NewString(),
		UserID:     userID,
		Level:      1,
		Timestamps: models.Timestamps{CreatedAt: now, UpdatedAt: now},
	}
	return nil
}

// SetPremium is a test and sync helper that flips the mirrored premium flag.
func (s *MemoryStore) SetPremium(userID string, premium bool, multiplier float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.progress[userID]
	if !ok {
		return
	}
	p.IsPremium = premium
	p.PremiumXPMultiplier = multiplier
	s.progress[userID] = p
}

func (s *MemoryStore) GetProgress(_ context.Context, userID string) (*models.UserProgress, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.progress[userID]
	if !ok {
		return nil, ErrNotFound
	}
	return &p, nil
}

func (s *MemoryStore) RankOf(_ context.Context, level int, xp int64) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var ahead int64
	for _, p := range s.progress {
		if p.Level > level || (p.Level == level && p.CurrentXP > xp) {
			ahead++
		}
	}
	return ahead, nil
}

func (s *MemoryStore) SumXPSince(_ context.Context, userID string, since time.Time) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return sumHistory(s.xpHistory, userID, since), nil
}

func (s *MemoryStore) ListXPHistory(_ context.Context, userID string, offset, limit int) ([]models.XPHistory, int64, error) {
	s.mu.RLock()
	var rows []models.XPHistory
	for _, h := range s.xpHistory {
		if h.UserID == userID {
			rows = append(rows, h)
		}
	}
	s.mu.RUnlock()

	sort.SliceStable(rows, func(i, j int) bool { return rows[i].CreatedAt.After(rows[j].CreatedAt) })
	return page(rows, offset, limit), int64(len(rows)), nil
}

func (s *MemoryStore) GetStreak(_ context.Context, userID string) (*models.Streak, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.streaks[userID]
	if !ok {
		return nil, ErrNotFound
	}
	return &st, nil
}

func (s *MemoryStore) ListStreakHistory(_ context.Context, userID string, offset, limit int) ([]models.StreakHistory, int64, error) {
	s.mu.RLock()
	var rows []models.StreakHistory
	for _, h := range s.streakHistory {
		if h.UserID == userID {
			rows = append(rows, h)
		}
	}
	s.mu.RUnlock()

	sort.SliceStable(rows, func(i, j int) bool { return rows[i].CreatedAt.After(rows[j].CreatedAt) })
	return page(rows, offset, limit), int64(len(rows)), nil
}

func (s *MemoryStore) ListBadges(_ context.Context, userID string) ([]models.StreakBadge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.StreakBadge
	for k, b := range s.badges {
		if k.userID == userID {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].BadgeType < out[j].BadgeType })
	return out, nil
}

func (s *MemoryStore) ListRewards(_ context.Context, userID string) ([]models.StreakReward, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.StreakReward
	for k, r := range s.rewards {
		if k.userID == userID {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Milestone < out[j].Milestone })
	return out, nil
}

func (s *MemoryStore) TopStreaks(_ context.Context, offset, limit int) ([]models.Streak, int64, error) {
	s.mu.RLock()
	var rows []models.Streak
	for _, st := range s.streaks {
		if st.CurrentStreak > 0 {
			rows = append(rows, st)
		}
	}
	s.mu.RUnlock()

	sort.Slice(rows, func(i, j int) bool {
		if rows[i].CurrentStreak != rows[j].CurrentStreak {
			return rows[i].CurrentStreak > rows[j].CurrentStreak
		}
		if rows[i].LongestStreak != rows[j].LongestStreak {
			return rows[i].LongestStreak > rows[j].LongestStreak
		}
		return rows[i].UserID < rows[j].UserID
	})
	return page(rows, offset, limit), int64(len(rows)), nil
}

func (s *MemoryStore) XPHistoryBetween(_ context.Context, from, to time.Time) ([]models.XPHistory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.XPHistory
	for _, h := range s.xpHistory {
		if !h.CreatedAt.Before(from) && h.CreatedAt.Before(to) {
			out = append(out, h)
		}
	}
	return out, nil
}

func (s *MemoryStore) StreakHistoryBetween(_ context.Context, from, to time.Time) ([]models.StreakHistory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.StreakHistory
	for _, h := range s.streakHistory {
		if !h.CreatedAt.Before(from) && h.CreatedAt.Before(to) {
			out = append(out, h)
		}
	}
	return out, nil
}

func (s *MemoryStore) XPByAction(_ context.Context, userID string) ([]ActionTotal, error) {
	s.mu.RLock()
	totals := make(map[models.XPAction]*ActionTotal)
	for _, h := range s.xpHistory {
		if userID != "" && h.UserID != userID {
			continue
		}
		t, ok := totals[h.Action]
		if !ok {
			t = &ActionTotal{Action: h.Action}
			totals[h.Action] = t
		}
		t.Count++
		t.TotalXP += h.Amount
	}
	s.mu.RUnlock()

	out := make([]ActionTotal, 0, len(totals))
	for _, t := range totals {
		out = append(out, *t)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].TotalXP != out[j].TotalXP {
			return out[i].TotalXP > out[j].TotalXP
		}
		return out[i].Action < out[j].Action
	})
	return out, nil
}

func (s *MemoryStore) StreakTotals(_ context.Context) (*StreakTotals, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := &StreakTotals{ByCurrent: make(map[int]int64)}
	for _, st := range s.streaks {
		out.Users++
		out.SumCurrent += int64(st.CurrentStreak)
		out.SumLongest += int64(st.LongestStreak)
		out.ByCurrent[st.CurrentStreak]++
	}
	for _, h := range s.streakHistory {
		if h.Action == models.StreakFreezeUsed {
			out.FreezesUsed++
		}
	}
	for _, r := range s.rewards {
		if r.ClaimedAt != nil {
			out.RewardsClaimed++
		}
	}
	return out, nil
}

type memoryTx struct {
	s *MemoryStore

	progress      map[string]models.UserProgress
	streaks       map[string]models.Streak
	xpHistory     []models.XPHistory
	streakHistory []models.StreakHistory
	rewards       map[rewardKey]models.StreakReward
	badges        map[badgeKey]models.StreakBadge
}

func (t *memoryTx) LoadProgress(userID string) (*models.UserProgress, error) {
	if p, ok := t.progress[userID]; ok {
		return &p, nil
	}
	return t.s.GetProgress(context.Background(), userID)
}

func (t *memoryTx) SaveProgress(p *models.UserProgress) error {
	p.UpdatedAt = time.Now().UTC()
	t.progress[p.UserID] = *p
	return nil
}

func (t *memoryTx) AppendXPHistory(h *models.XPHistory) error {
	if h.ID == "" {
		h.ID = uuid.NewString()
	}
	t.xpHistory = append(t.xpHistory, *h)
	return nil
}

func (t *memoryTx) SumXPSince(userID string, since time.Time) (int64, error) {
	t.s.mu.RLock()
	committed := sumHistory(t.s.xpHistory, userID, since)
	t.s.mu.RUnlock()
	return committed + sumHistory(t.xpHistory, userID, since), nil
}

func (t *memoryTx) LoadStreak(userID string) (*models.Streak, error) {
	if st, ok := t.streaks[userID]; ok {
		return &st, nil
	}
	return t.s.GetStreak(context.Background(), userID)
}

func (t *memoryTx) SaveStreak(st *models.Streak) error {
	now := time.Now().UTC()
	if st.CreatedAt.IsZero() {
		if st.ID == "" {
			st.ID = uuid.NewString()
		}
		st.CreatedAt = now
	}
	st.UpdatedAt = now
	t.streaks[st.UserID] = *st
	return nil
}

func (t *memoryTx) AppendStreakHistory(h *models.StreakHistory) error {
	if h.ID == "" {
		h.ID = uuid.NewString()
	}
	t.streakHistory = append(t.streakHistory, *h)
	return nil
}

func (t *memoryTx) InsertRewardIfAbsent(r *models.StreakReward) (bool, error) {
	k := rewardKey{r.UserID, r.Milestone}
	if _, ok := t.rewards[k]; ok {
		return false, nil
	}
	t.s.mu.RLock()
	_, exists := t.s.rewards[k]
	t.s.mu.RUnlock()
	if exists {
		return false, nil
	}
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	t.rewards[k] = *r
	return true, nil
}

func (t *memoryTx) InsertBadgeIfAbsent(b *models.StreakBadge) (bool, error) {
	k := badgeKey{b.UserID, b.BadgeType}
	if _, ok := t.badges[k]; ok {
		return false, nil
	}
	t.s.mu.RLock()
	_, exists := t.s.badges[k]
	t.s.mu.RUnlock()
	if exists {
		return false, nil
	}
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	if b.CreatedAt.IsZero() {
		b.CreatedAt = time.Now().UTC()
	}
	t.badges[k] = *b
	return true, nil
}

func (t *memoryTx) commit() {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	for k, v := range t.progress {
		t.s.progress[k] = v
	}
	for k, v := range t.streaks {
		t.s.streaks[k] = v
	}
	for k, v := range t.rewards {
		t.s.rewards[k] = v
	}
	for k, v := range t.badges {
		t.s.badges[k] = v
	}
	t.s.xpHistory = append(t.s.xpHistory, t.xpHistory...)
	t.s.streakHistory = append(t.s.streakHistory, t.streakHistory...)
}

func sumHistory(rows []models.XPHistory, userID string, since time.Time) int64 {
	var total int64
	for _, h := range rows {
		if h.UserID == userID && !h.CreatedAt.Before(since) {
			total += h.Amount
		}
	}
	return total
}

func page[T any](rows []T, offset, limit int) []T {
	if offset >= len(rows) {
		return nil
	}
	end := len(rows)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return rows[offset:end]
}
