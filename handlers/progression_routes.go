// handlers/progression_routes.go
package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"progression-engine/middleware"
	"progression-engine/models"
	"progression-engine/services"
	"progression-engine/workers"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
)

// ProgressionHandlers serves the progression API. Dispatcher, Boosts, Config
// and Board are optional; their routes are skipped when nil.
type ProgressionHandlers struct {
	Engine     *services.Engine
	Dispatcher *workers.ActivityDispatcher
	Boosts     *services.BoostScheduler
	Config     *services.ConfigStore
	Board      *services.LeaderboardStore
	Log        *slog.Logger
}

// SetupPublicRoutes registers the routes that do not go through the gateway:
// the Prometheus endpoint and the notification stream, which authenticates by query token.
func SetupPublicRoutes(app *fiber.App, metrics http.Handler, streamer *services.NotificationStreamer, sseAuth fiber.Handler) {
	if metrics != nil {
		app.Get("/metrics", adaptor.HTTPHandler(metrics))
	}
	if streamer != nil {
		app.Get("/user/notifications/stream", sseAuth, streamer.StreamUserNotificationsSSE)
	}
}

func SetupProgressionRoutes(app *fiber.App, h *ProgressionHandlers) {
	// the gateway forwards paths like /api/v1/progression/user/progress -> /user/progress
	secured := app.Group("/", middleware.UserContextMiddleware(h.Log), middleware.RequireUser())

	secured.Get("/user/progress", h.getProgress)
	secured.Get("/user/progress/history", h.getXPHistory)
	secured.Post("/user/activity", h.postActivity)
	secured.Post("/user/streak/login", h.postStreakLogin)
	secured.Get("/user/streak", h.getStreak)
	secured.Get("/user/streak/history", h.getStreakHistory)
	secured.Post("/user/streak/freeze/use", h.postUseFreeze)
	secured.Get("/leaderboard/streaks", h.getStreakLeaderboard)
	if h.Board != nil {
		secured.Get("/leaderboard/xp", h.getXPLeaderboard)
	}

	admin := app.Group("/s/admin", middleware.RequireAdmin())
	admin.Post("/xp/grant", h.adminGrantXP)
	admin.Post("/streak/freeze", h.adminAddFreeze)
	if h.Boosts != nil {
		admin.Post("/xp/boosts", h.adminCreateBoost)
		admin.Get("/xp/boosts", h.adminListBoosts)
		admin.Get("/xp/boosts/active", h.adminActiveBoost)
		admin.Patch("/xp/boosts/:id", h.adminUpdateBoost)
		admin.Delete("/xp/boosts/:id", h.adminCancelBoost)
	}
	admin.Get("/analytics/streaks", h.adminStreakAnalytics)
	admin.Get("/analytics/xp", h.adminXPAnalytics)
	if h.Config != nil {
		admin.Put("/xp/multiplier", h.adminSetMultiplier)
	}
}

func userID(c *fiber.Ctx) string {
	id, _ := c.Locals(middleware.LocalUserID).(string)
	return id
}

// statusFor maps service errors onto HTTP statuses.
func statusFor(err error) int {
	switch {
	case errors.Is(err, services.ErrUserNotFound), errors.Is(err, services.ErrBoostNotFound):
		return fiber.StatusNotFound
	case errors.Is(err, services.ErrInsufficientResource):
		return fiber.StatusConflict
	case errors.Is(err, services.ErrInvalidOperation),
		errors.Is(err, services.ErrUnknownAction),
		errors.Is(err, services.ErrUnknownActivity):
		return fiber.StatusBadRequest
	case errors.Is(err, workers.ErrInboxFull), errors.Is(err, workers.ErrDispatcherClosed):
		return fiber.StatusServiceUnavailable
	default:
		return fiber.StatusInternalServerError
	}
}

func (h *ProgressionHandlers) fail(c *fiber.Ctx, err error, msg string) error {
	status := statusFor(err)
	if status == fiber.StatusInternalServerError {
		h.Log.Error(msg, "path", c.Path(), "user_id", userID(c), "error", err)
	}
	return c.Status(status).JSON(fiber.Map{
		"error": msg,
		"cause": err.Error(),
	})
}

func badRequest(c *fiber.Ctx, msg string, err error) error {
	body := fiber.Map{"error": msg}
	if err != nil {
		body["cause"] = err.Error()
	}
	return c.Status(fiber.StatusBadRequest).JSON(body)
}

func (h *ProgressionHandlers) getProgress(c *fiber.Ctx) error {
	id := userID(c)
	if err := h.Engine.EnsureUser(c.UserContext(), id); err != nil {
		return h.fail(c, err, "failed to create progress record")
	}
	stats, err := h.Engine.Progression.GetUserXPStats(c.UserContext(), id)
	if err != nil {
		return h.fail(c, err, "failed to get progress")
	}
	return c.JSON(stats)
}

func (h *ProgressionHandlers) getXPHistory(c *fiber.Ctx) error {
	page, err := h.Engine.Progression.GetXPHistory(c.UserContext(), userID(c), c.QueryInt("page", 1), c.QueryInt("limit", 20))
	if err != nil {
		return h.fail(c, err, "failed to get history")
	}
	return c.JSON(page)
}

func (h *ProgressionHandlers) postActivity(c *fiber.Ctx) error {
	var req struct {
		Type string `json:"type"`
	}
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid JSON", err)
	}
	if strings.TrimSpace(req.Type) == "" {
		return badRequest(c, "type is required", nil)
	}

	ev := services.ActivityEvent{UserID: userID(c), Type: services.ActivityType(req.Type), OccurredAt: time.Now().UTC()}
	var (
		out *services.ActivityOutcome
		err error
	)
	if h.Dispatcher != nil {
		out, err = h.Dispatcher.SubmitWait(c.UserContext(), ev)
	} else {
		out, err = h.Engine.Activities.ProcessActivity(c.UserContext(), ev)
	}
	if err != nil {
		return h.fail(c, err, "activity rejected")
	}
	return c.JSON(out)
}

func (h *ProgressionHandlers) postStreakLogin(c *fiber.Ctx) error {
	res, err := h.Engine.Streaks.TrackDailyLogin(c.UserContext(), userID(c))
	if err != nil {
		return h.fail(c, err, "failed to track login")
	}
	return c.JSON(res)
}

func (h *ProgressionHandlers) getStreak(c *fiber.Ctx) error {
	info, err := h.Engine.Streaks.GetUserStreak(c.UserContext(), userID(c))
	if err != nil {
		return h.fail(c, err, "failed to get streak")
	}
	return c.JSON(info)
}

func (h *ProgressionHandlers) getStreakHistory(c *fiber.Ctx) error {
	page, err := h.Engine.Streaks.GetStreakHistory(c.UserContext(), userID(c), c.QueryInt("page", 1), c.QueryInt("limit", 20))
	if err != nil {
		return h.fail(c, err, "failed to get streak history")
	}
	return c.JSON(page)
}

func (h *ProgressionHandlers) postUseFreeze(c *fiber.Ctx) error {
	st, err := h.Engine.Streaks.UseFreezeItem(c.UserContext(), userID(c))
	if err != nil {
		return h.fail(c, err, "freeze item not applied")
	}
	return c.JSON(st)
}

func (h *ProgressionHandlers) getStreakLeaderboard(c *fiber.Ctx) error {
	page, err := h.Engine.Streaks.GetStreakLeaderboard(c.UserContext(), c.QueryInt("page", 1), c.QueryInt("limit", 20))
	if err != nil {
		return h.fail(c, err, "failed to get leaderboard")
	}
	return c.JSON(page)
}

func (h *ProgressionHandlers) getXPLeaderboard(c *fiber.Ctx) error {
	timeframe := c.Query("timeframe", services.TimeframeWeekly)
	switch timeframe {
	case services.TimeframeDaily, services.TimeframeWeekly, services.TimeframeAllTime:
	default:
		return badRequest(c, "timeframe must be daily, weekly or all_time", nil)
	}
	limit := c.QueryInt("limit", 20)
	if limit < 1 || limit > 100 {
		limit = 20
	}
	rows, err := h.Board.Top(c.UserContext(), "xp", timeframe, limit)
	if err != nil {
		return h.fail(c, err, "failed to get leaderboard")
	}
	return c.JSON(fiber.Map{"timeframe": timeframe, "entries": rows})
}

func (h *ProgressionHandlers) adminGrantXP(c *fiber.Ctx) error {
	var req struct {
		UserID      string `json:"user_id"`
		Action      string `json:"action"`
		Description string `json:"description"`
	}
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid JSON", err)
	}
	if req.UserID == "" || req.Action == "" {
		return badRequest(c, "user_id and action are required", nil)
	}

	action := models.XPAction(strings.ToUpper(req.Action))
	if action == models.ActionStreakReward {
		return badRequest(c, "streak rewards are granted through milestones", nil)
	}
	res, err := h.Engine.Progression.AddXP(c.UserContext(), req.UserID, action, req.Description)
	if err != nil {
		return h.fail(c, err, "XP award failed")
	}
	h.Log.Info("🛠️ admin XP grant", "admin", userID(c), "user_id", req.UserID, "action", action, "awarded", res.Awarded)
	return c.JSON(res)
}

func (h *ProgressionHandlers) adminAddFreeze(c *fiber.Ctx) error {
	var req struct {
		UserID string `json:"user_id"`
		Amount int    `json:"amount"`
	}
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid JSON", err)
	}
	if req.UserID == "" {
		return badRequest(c, "user_id is required", nil)
	}
	st, err := h.Engine.Streaks.AddFreezeItems(c.UserContext(), req.UserID, req.Amount)
	if err != nil {
		return h.fail(c, err, "failed to add freeze items")
	}
	return c.JSON(st)
}

func (h *ProgressionHandlers) adminCreateBoost(c *fiber.Ctx) error {
	var req services.NewBoostRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid JSON", err)
	}
	ev, err := h.Boosts.CreateBoost(c.UserContext(), req)
	if err != nil {
		return h.fail(c, err, "failed to create boost")
	}
	return c.Status(fiber.StatusCreated).JSON(ev)
}

func (h *ProgressionHandlers) adminListBoosts(c *fiber.Ctx) error {
	events, err := h.Boosts.ListBoosts(c.UserContext())
	if err != nil {
		return h.fail(c, err, "failed to list boosts")
	}
	return c.JSON(events)
}

func (h *ProgressionHandlers) adminActiveBoost(c *fiber.Ctx) error {
	ev, err := h.Boosts.ActiveBoost(c.UserContext())
	if err != nil {
		return h.fail(c, err, "failed to load active boost")
	}
	// null when nothing runs
	return c.JSON(ev)
}

func (h *ProgressionHandlers) adminUpdateBoost(c *fiber.Ctx) error {
	var req services.UpdateBoostRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid JSON", err)
	}
	ev, err := h.Boosts.UpdateBoost(c.UserContext(), c.Params("id"), req)
	if err != nil {
		return h.fail(c, err, "failed to update boost")
	}
	h.Log.Info("🛠️ admin boost update", "admin", userID(c), "slug", ev.Slug)
	return c.JSON(ev)
}

func (h *ProgressionHandlers) adminCancelBoost(c *fiber.Ctx) error {
	ev, err := h.Boosts.CancelBoost(c.UserContext(), c.Params("id"))
	if err != nil {
		return h.fail(c, err, "failed to cancel boost")
	}
	h.Log.Info("🛠️ admin boost cancel", "admin", userID(c), "slug", ev.Slug)
	return c.JSON(ev)
}

func (h *ProgressionHandlers) adminStreakAnalytics(c *fiber.Ctx) error {
	out, err := h.Engine.Analytics.StreakAnalytics(c.UserContext())
	if err != nil {
		return h.fail(c, err, "streak analytics failed")
	}
	return c.JSON(out)
}

// adminXPAnalytics reports the weekly totals plus the per-action breakdown,
// optionally for one user (?user_id=).
func (h *ProgressionHandlers) adminXPAnalytics(c *fiber.Ctx) error {
	ctx := c.UserContext()
	weekly, err := h.Engine.Analytics.WeeklyXP(ctx)
	if err != nil {
		return h.fail(c, err, "weekly xp failed")
	}
	byAction, err := h.Engine.Analytics.XPByAction(ctx, c.Query("user_id"))
	if err != nil {
		return h.fail(c, err, "xp by action failed")
	}
	total, err := h.Engine.Analytics.TotalXP(ctx)
	if err != nil {
		return h.fail(c, err, "total xp failed")
	}
	return c.JSON(fiber.Map{
		"total_xp":  total,
		"weekly":    weekly,
		"by_action": byAction,
	})
}

func (h *ProgressionHandlers) adminSetMultiplier(c *fiber.Ctx) error {
	var req struct {
		Value string `json:"value"`
	}
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid JSON", err)
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(req.Value), 64)
	if err != nil || v <= 0 {
		return badRequest(c, "value must be a positive number", err)
	}
	if err := h.Config.SetConfig(c.UserContext(), services.GlobalMultiplierKey, req.Value); err != nil {
		return h.fail(c, err, "failed to set multiplier")
	}
	return c.JSON(fiber.Map{"key": services.GlobalMultiplierKey, "value": req.Value})
}
