package handlers

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"progression-engine/config"
	"progression-engine/services"
	"progression-engine/store"
	"progression-engine/workers"

	"github.com/glebarez/sqlite"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var quietLog = slog.New(slog.NewTextHandler(io.Discard, nil))

func newTestApp(t *testing.T) *fiber.App {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent), TranslateError: true})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	gs := store.NewGormStore(db)
	require.NoError(t, gs.Migrate())

	clock := clockwork.NewFakeClockAt(time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC))
	reg := prometheus.NewRegistry()
	metrics := services.NewMetrics(reg)
	cfg := services.NewConfigStore(db, time.Minute, clock)
	engine := services.NewEngine(services.Options{
		Store:        gs,
		Balance:      config.DefaultBalance(),
		Clock:        clock,
		GlobalConfig: cfg,
		Promo:        services.ConfigPromoProvider{Config: cfg},
		Metrics:      metrics,
		Logger:       quietLog,
	})
	dispatcher := workers.NewActivityDispatcher(engine.Activities, 2, 16, metrics, quietLog)
	t.Cleanup(dispatcher.Stop)

	app := fiber.New()
	SetupPublicRoutes(app, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}), nil, nil)
	SetupProgressionRoutes(app, &ProgressionHandlers{
		Engine:     engine,
		Dispatcher: dispatcher,
		Boosts:     &services.BoostScheduler{DB: db, Config: cfg, Clock: clock, Metrics: metrics, Log: quietLog},
		Config:     cfg,
		Log:        quietLog,
	})
	return app
}

type call struct {
	method, path, body, user, roles string
}

func (c call) do(t *testing.T, app *fiber.App) (int, map[string]interface{}) {
	t.Helper()
	var body io.Reader
	if c.body != "" {
		body = strings.NewReader(c.body)
	}
	req := httptest.NewRequest(c.method, c.path, body)
	req.Header.Set("Content-Type", "application/json")
	if c.user != "" {
		req.Header.Set("X-User-ID", c.user)
	}
	if c.roles != "" {
		req.Header.Set("X-User-Roles", c.roles)
	}
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	raw, _ := io.ReadAll(resp.Body)
	out := map[string]interface{}{}
	_ = json.Unmarshal(raw, &out)
	return resp.StatusCode, out
}

func TestUserRoutes(t *testing.T) {
	app := newTestApp(t)

	code, _ := call{method: "GET", path: "/user/progress"}.do(t, app)
	assert.Equal(t, fiber.StatusUnauthorized, code)

	code, body := call{method: "GET", path: "/user/progress", user: "u1"}.do(t, app)
	require.Equal(t, fiber.StatusOK, code)
	assert.Equal(t, float64(1), body["level"])

	code, body = call{method: "POST", path: "/user/activity", user: "u1", body: `{"type":"message_sent"}`}.do(t, app)
	require.Equal(t, fiber.StatusOK, code)
	xp := body["xp"].(map[string]interface{})
	assert.Equal(t, float64(10), xp["awarded"])

	code, _ = call{method: "POST", path: "/user/activity", user: "u1", body: `{"type":"teleport"}`}.do(t, app)
	assert.Equal(t, fiber.StatusBadRequest, code)

	code, body = call{method: "POST", path: "/user/streak/login", user: "u1"}.do(t, app)
	require.Equal(t, fiber.StatusOK, code)
	assert.Equal(t, "login", body["action"])

	code, body = call{method: "GET", path: "/user/streak", user: "u1"}.do(t, app)
	require.Equal(t, fiber.StatusOK, code)
	assert.Equal(t, float64(2), body["days_until_next_milestone"])

	code, body = call{method: "GET", path: "/user/progress/history?limit=1", user: "u1"}.do(t, app)
	require.Equal(t, fiber.StatusOK, code)
	assert.Equal(t, float64(1), body["total"])

	code, body = call{method: "GET", path: "/leaderboard/streaks", user: "u1"}.do(t, app)
	require.Equal(t, fiber.StatusOK, code)
	assert.Equal(t, float64(1), body["total"])
}

func TestFreezeRoutes(t *testing.T) {
	app := newTestApp(t)

	code, _ := call{method: "POST", path: "/user/streak/freeze/use", user: "u2"}.do(t, app)
	assert.Equal(t, fiber.StatusConflict, code)

	grant := `{"user_id":"u2","amount":2}`
	code, _ = call{method: "POST", path: "/s/admin/streak/freeze", user: "mod", roles: "gamer", body: grant}.do(t, app)
	assert.Equal(t, fiber.StatusForbidden, code)
	code, body := call{method: "POST", path: "/s/admin/streak/freeze", user: "mod", roles: "admin", body: grant}.do(t, app)
	require.Equal(t, fiber.StatusOK, code)
	assert.Equal(t, float64(2), body["freeze_item_count"])

	code, _ = call{method: "POST", path: "/s/admin/streak/freeze", user: "mod", roles: "admin", body: `{"user_id":"u2","amount":0}`}.do(t, app)
	assert.Equal(t, fiber.StatusBadRequest, code)

	// nothing missed yet
	code, _ = call{method: "POST", path: "/user/streak/freeze/use", user: "u2"}.do(t, app)
	assert.Equal(t, fiber.StatusBadRequest, code)
}

func TestAdminRoutes(t *testing.T) {
	app := newTestApp(t)
	admin := func(method, path, body string) (int, map[string]interface{}) {
		return call{method: method, path: path, user: "ops", roles: "admin", body: body}.do(t, app)
	}

	code, _ := admin("POST", "/s/admin/xp/grant", `{"user_id":"ghost","action":"quest_completed"}`)
	assert.Equal(t, fiber.StatusNotFound, code)

	code, _ = call{method: "GET", path: "/user/progress", user: "u3"}.do(t, app)
	require.Equal(t, fiber.StatusOK, code)
	code, body := admin("POST", "/s/admin/xp/grant", `{"user_id":"u3","action":"quest_completed","description":"tutorial"}`)
	require.Equal(t, fiber.StatusOK, code)
	assert.Equal(t, float64(75), body["new_xp"])

	code, _ = admin("POST", "/s/admin/xp/grant", `{"user_id":"u3","action":"streak_reward"}`)
	assert.Equal(t, fiber.StatusBadRequest, code)

	code, _ = admin("PUT", "/s/admin/xp/multiplier", `{"value":"zero"}`)
	assert.Equal(t, fiber.StatusBadRequest, code)
	code, _ = admin("PUT", "/s/admin/xp/multiplier", `{"value":"2"}`)
	require.Equal(t, fiber.StatusOK, code)
	_, body = admin("POST", "/s/admin/xp/grant", `{"user_id":"u3","action":"message_sent"}`)
	assert.Equal(t, float64(20), body["awarded"])

	code, body = admin("POST", "/s/admin/xp/boosts", `{"name":"Spring Boost","multiplier":2,"start_at":"2026-03-01T00:00:00Z","end_at":"2026-03-09T00:00:00Z"}`)
	require.Equal(t, fiber.StatusCreated, code)
	assert.Equal(t, "spring-boost-20260301", body["slug"])
	assert.Equal(t, true, body["is_active"])

	code, _ = admin("POST", "/s/admin/xp/boosts", `{"name":"","multiplier":2}`)
	assert.Equal(t, fiber.StatusBadRequest, code)
}

func TestAdminBoostLifecycleRoutes(t *testing.T) {
	app := newTestApp(t)
	admin := func(method, path, body string) (int, map[string]interface{}) {
		return call{method: method, path: path, user: "ops", roles: "admin", body: body}.do(t, app)
	}

	code, body := admin("POST", "/s/admin/xp/boosts", `{"name":"Runaway","multiplier":5,"start_at":"2026-03-02T00:00:00Z","end_at":"2026-03-05T00:00:00Z"}`)
	require.Equal(t, fiber.StatusCreated, code)
	id := body["id"].(string)

	code, body = admin("GET", "/s/admin/xp/boosts/active", "")
	require.Equal(t, fiber.StatusOK, code)
	assert.Equal(t, id, body["id"])

	code, body = admin("PATCH", "/s/admin/xp/boosts/"+id, `{"multiplier":3}`)
	require.Equal(t, fiber.StatusOK, code)
	assert.Equal(t, float64(3), body["multiplier"])

	code, _ = call{method: "GET", path: "/user/progress", user: "u6"}.do(t, app)
	require.Equal(t, fiber.StatusOK, code)
	_, body = admin("POST", "/s/admin/xp/grant", `{"user_id":"u6","action":"message_sent"}`)
	assert.Equal(t, float64(30), body["awarded"])

	code, body = admin("DELETE", "/s/admin/xp/boosts/"+id, "")
	require.Equal(t, fiber.StatusOK, code)
	assert.Equal(t, false, body["is_active"])
	assert.NotNil(t, body["cancelled_at"])

	code, body = admin("GET", "/s/admin/xp/boosts/active", "")
	require.Equal(t, fiber.StatusOK, code)
	assert.Empty(t, body)

	_, body = admin("POST", "/s/admin/xp/grant", `{"user_id":"u6","action":"message_sent"}`)
	assert.Equal(t, float64(10), body["awarded"])

	code, _ = admin("DELETE", "/s/admin/xp/boosts/"+id, "")
	assert.Equal(t, fiber.StatusBadRequest, code)
	code, _ = admin("PATCH", "/s/admin/xp/boosts/"+uuid.NewString(), `{"multiplier":2}`)
	assert.Equal(t, fiber.StatusNotFound, code)
}

func TestAdminAnalyticsRoutes(t *testing.T) {
	app := newTestApp(t)
	admin := func(path string) (int, map[string]interface{}) {
		return call{method: "GET", path: path, user: "ops", roles: "admin"}.do(t, app)
	}

	for i := 0; i < 2; i++ {
		code, _ := call{method: "POST", path: "/user/activity", user: "u7", body: `{"type":"message_sent"}`}.do(t, app)
		require.Equal(t, fiber.StatusOK, code)
	}
	code, _ := call{method: "POST", path: "/user/streak/login", user: "u7"}.do(t, app)
	require.Equal(t, fiber.StatusOK, code)

	code, body := admin("/s/admin/analytics/xp?user_id=u7")
	require.Equal(t, fiber.StatusOK, code)
	assert.Equal(t, float64(20), body["total_xp"])
	weekly := body["weekly"].(map[string]interface{})
	assert.Equal(t, float64(20), weekly["weekly_total"])
	assert.Len(t, weekly["daily_breakdown"], 7)
	byAction := body["by_action"].([]interface{})
	require.Len(t, byAction, 1)
	row := byAction[0].(map[string]interface{})
	assert.Equal(t, "MESSAGE_SENT", row["action"])
	assert.Equal(t, float64(2), row["count"])

	code, body = admin("/s/admin/analytics/streaks")
	require.Equal(t, fiber.StatusOK, code)
	assert.Equal(t, float64(1), body["total_users_with_streaks"])
	assert.Equal(t, float64(1), body["average_current_streak"])
	ranges := body["users_by_streak_range"].([]interface{})
	first := ranges[0].(map[string]interface{})
	assert.Equal(t, "0-2 days", first["range"])
	assert.Equal(t, float64(1), first["count"])

	code, _ = call{method: "GET", path: "/s/admin/analytics/streaks", user: "u7", roles: "gamer"}.do(t, app)
	assert.Equal(t, fiber.StatusForbidden, code)
}

func TestMetricsRoute(t *testing.T) {
	app := newTestApp(t)
	_, _ = call{method: "POST", path: "/user/activity", user: "u4", body: `{"type":"room_joined"}`}.do(t, app)

	resp, err := app.Test(httptest.NewRequest("GET", "/metrics", nil), -1)
	require.NoError(t, err)
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Contains(t, string(raw), `progression_xp_awarded_total{action="ROOM_JOINED"} 5`)
}
