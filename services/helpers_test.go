package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"progression-engine/config"
	"progression-engine/models"
	"progression-engine/store"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var quietLog = slog.New(slog.NewTextHandler(io.Discard, nil))

type recordingNotifier struct {
	mu     sync.Mutex
	events []Event
}

func (r *recordingNotifier) Emit(_ context.Context, ev Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *recordingNotifier) ofType(t EventType) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Event
	for _, ev := range r.events {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

type recordingBoard struct {
	mu     sync.Mutex
	totals map[string]int64
}

func (r *recordingBoard) Increment(_ context.Context, userID, category string, amount int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.totals == nil {
		r.totals = map[string]int64{}
	}
	r.totals[userID+"/"+category] += amount
	return nil
}

func (r *recordingBoard) total(userID, category string) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.totals[userID+"/"+category]
}

// staticConfig is a GlobalConfigProvider over a map.
type staticConfig map[string]string

func (s staticConfig) GetConfig(_ context.Context, key string) (string, bool, error) {
	v, ok := s[key]
	return v, ok, nil
}

type failingConfig struct{}

func (failingConfig) GetConfig(context.Context, string) (string, bool, error) {
	return "", false, errors.New("config backend down")
}

type fixedPremium struct {
	status PremiumStatus
	err    error
}

func (f fixedPremium) PremiumStatus(context.Context, string) (PremiumStatus, error) {
	return f.status, f.err
}

type harness struct {
	engine   *Engine
	store    *store.MemoryStore
	clock    *clockwork.FakeClock
	notifier *recordingNotifier
	board    *recordingBoard
}

// Monday 2026-03-02 10:00 UTC.
var monday = time.Date(2026, time.March, 2, 10, 0, 0, 0, time.UTC)

func newHarness(t *testing.T, mutate ...func(*Options)) *harness {
	t.Helper()
	h := &harness{
		store:    store.NewMemoryStore(),
		clock:    clockwork.NewFakeClockAt(monday),
		notifier: &recordingNotifier{},
		board:    &recordingBoard{},
	}
	opts := Options{
		Store:       h.store,
		Balance:     config.DefaultBalance(),
		Clock:       h.clock,
		Notifier:    h.notifier,
		Leaderboard: h.board,
		Logger:      quietLog,
	}
	for _, m := range mutate {
		m(&opts)
	}
	h.engine = NewEngine(opts)
	return h
}

func (h *harness) user(t *testing.T) string {
	t.Helper()
	id := uuid.NewString()
	require.NoError(t, h.store.EnsureProgress(context.Background(), id))
	return id
}

// setTime moves the fake clock to an absolute instant.
func (h *harness) setTime(t time.Time) {
	h.clock.Advance(t.Sub(h.clock.Now()))
}

func (h *harness) xpRows(t *testing.T, userID string) []models.XPHistory {
	t.Helper()
	rows, _, err := h.store.ListXPHistory(context.Background(), userID, 0, 1000)
	require.NoError(t, err)
	return rows
}

func (h *harness) streakRows(t *testing.T, userID string) []models.StreakHistory {
	t.Helper()
	rows, _, err := h.store.ListStreakHistory(context.Background(), userID, 0, 1000)
	require.NoError(t, err)
	return rows
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, store.NewGormStore(db).Migrate())
	return db
}
